package oerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassificationSurvivesWrapping(t *testing.T) {
	contention := fmt.Errorf("rebuild: %w", &ContentionError{LockPath: "/x/.lock", HolderPID: "42"})
	require.True(t, IsContention(contention))
	assert.False(t, IsBuildInvariant(contention))
	assert.Equal(t, Contention, CodeOf(contention))

	invariant := fmt.Errorf("aggregate: %w", &BuildInvariantError{Kind: DanglingEdge, Detail: "edge target missing", Items: []string{"a->b"}})
	require.True(t, IsBuildInvariant(invariant))
	assert.Equal(t, BuildInvariant, CodeOf(invariant))
	assert.Contains(t, invariant.Error(), "dangling_edge")

	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestContentionIsRetryable(t *testing.T) {
	err := &ContentionError{LockPath: "/x/.lock"}
	assert.True(t, err.Retryable())
	assert.NotContains(t, err.Error(), "PID")
}

func TestCorruptArtifactUnwraps(t *testing.T) {
	inner := errors.New("unexpected end of JSON input")
	err := &CorruptArtifactError{Path: "registry.json", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, CorruptStore, CodeOf(err))
}
