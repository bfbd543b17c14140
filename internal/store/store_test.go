package store

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skelly-dev/context-oracle/internal/oerrors"
	"github.com/skelly-dev/context-oracle/internal/state"
)

type doc struct {
	Version     string `json:"version"`
	GeneratedAt string `json:"generated_at"`
	Count       int    `json:"count"`
}

func commit(t *testing.T, s *Store, docs map[string]any) CommitResult {
	t.Helper()
	prev, err := s.Manifest()
	require.NoError(t, err)

	st, err := s.Begin(prev)
	require.NoError(t, err)
	for name, d := range docs {
		require.NoError(t, st.WriteArtifact(name, d))
	}
	next := prev.Clone()
	next.SourceTimestamp = "2024-05-01T10:00:00Z"
	res, err := st.Commit(next)
	require.NoError(t, err)
	return res
}

func TestLockContention(t *testing.T) {
	s := New(t.TempDir(), 0, nil)

	first, err := s.Lock()
	require.NoError(t, err)

	_, err = s.Lock()
	require.Error(t, err)
	var contention *oerrors.ContentionError
	require.True(t, errors.As(err, &contention))
	assert.Equal(t, strconv.Itoa(os.Getpid()), contention.HolderPID)
	assert.True(t, contention.Retryable())

	first.Release()
	second, err := s.Lock()
	require.NoError(t, err)
	second.Release()
}

func TestOpenBeforeFirstCommit(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	_, err := s.Open()
	assert.ErrorIs(t, err, ErrNoGeneration)
}

func TestCommitAndRead(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	res := commit(t, s, map[string]any{RegistryFile: doc{Version: "v1", GeneratedAt: "2024-05-01T10:00:00Z", Count: 3}})
	require.True(t, res.NewGeneration)
	assert.Equal(t, []string{RegistryFile}, res.Rewritten)

	snap, err := s.Open()
	require.NoError(t, err)
	assert.Equal(t, res.Generation, snap.Manifest.Generation)

	got, err := ReadJSON[doc](snap, RegistryFile)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Count)

	info, err := os.Stat(snap.Path(RegistryFile))
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T10:00:00Z", state.FormatTimestamp(info.ModTime()))
}

func TestTimestampOnlyChangeKeepsGeneration(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	first := commit(t, s, map[string]any{RegistryFile: doc{GeneratedAt: "2024-05-01T10:00:00Z", Count: 1}})

	manifestPath := filepath.Join(s.Dir(), state.ManifestFile)
	before, err := os.ReadFile(manifestPath)
	require.NoError(t, err)

	second := commit(t, s, map[string]any{RegistryFile: doc{GeneratedAt: "2025-01-01T00:00:00Z", Count: 1}})
	assert.False(t, second.NewGeneration)
	assert.Equal(t, first.Generation, second.Generation)
	assert.Empty(t, second.Rewritten)

	after, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	gens, err := s.Generations()
	require.NoError(t, err)
	assert.Len(t, gens, 1)

	entries, err := os.ReadDir(filepath.Join(s.Dir(), GenerationsDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging directory must be discarded")
}

func TestUnchangedArtifactIsLinked(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	commit(t, s, map[string]any{
		RegistryFile: doc{Count: 1},
		GraphFile:    doc{Count: 1},
	})
	old, err := s.Open()
	require.NoError(t, err)

	res := commit(t, s, map[string]any{
		RegistryFile: doc{Count: 2},
		GraphFile:    doc{Count: 1},
	})
	require.True(t, res.NewGeneration)
	assert.Equal(t, []string{RegistryFile}, res.Rewritten)

	cur, err := s.Open()
	require.NoError(t, err)
	a, err := os.Stat(old.Path(GraphFile))
	require.NoError(t, err)
	b, err := os.Stat(cur.Path(GraphFile))
	require.NoError(t, err)
	assert.True(t, os.SameFile(a, b), "unchanged artifact should be hard linked")
}

func TestCarryAndRemovedArtifacts(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	commit(t, s, map[string]any{
		"skeletons/scripts/a.skeleton.py": doc{Count: 1},
		"skeletons/scripts/b.skeleton.py": doc{Count: 1},
	})

	prev, err := s.Manifest()
	require.NoError(t, err)
	st, err := s.Begin(prev)
	require.NoError(t, err)
	require.NoError(t, st.Carry("skeletons/scripts/a.skeleton.py"))
	assert.True(t, st.Has("skeletons/scripts/a.skeleton.py"))
	assert.Error(t, st.Carry("skeletons/scripts/missing.skeleton.py"))

	res, err := st.Commit(prev.Clone())
	require.NoError(t, err)
	assert.True(t, res.NewGeneration)
	assert.Equal(t, []string{"skeletons/scripts/b.skeleton.py"}, res.Removed)
}

func TestPruneKeepsNewestGenerations(t *testing.T) {
	s := New(t.TempDir(), 2, nil)
	for i := 1; i <= 4; i++ {
		commit(t, s, map[string]any{RegistryFile: doc{Count: i}})
	}

	gens, err := s.Generations()
	require.NoError(t, err)
	require.Len(t, gens, 2)

	m, err := s.Manifest()
	require.NoError(t, err)
	assert.Equal(t, gens[1], m.Generation)
}

func TestAbortLeavesCommittedStateAlone(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	res := commit(t, s, map[string]any{RegistryFile: doc{Count: 1}})

	prev, err := s.Manifest()
	require.NoError(t, err)
	st, err := s.Begin(prev)
	require.NoError(t, err)
	require.NoError(t, st.WriteArtifact(RegistryFile, doc{Count: 99}))
	st.Abort()
	st.Abort()

	snap, err := s.Open()
	require.NoError(t, err)
	assert.Equal(t, res.Generation, snap.Manifest.Generation)
	got, err := ReadJSON[doc](snap, RegistryFile)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)

	entries, err := os.ReadDir(filepath.Join(s.Dir(), GenerationsDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecordFailureKeepsGeneration(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	res := commit(t, s, map[string]any{RegistryFile: doc{Count: 1}})

	require.NoError(t, s.RecordFailure("build invariant violated (dangling_edge)"))

	m, err := s.Manifest()
	require.NoError(t, err)
	assert.Equal(t, res.Generation, m.Generation)
	assert.Equal(t, "build invariant violated (dangling_edge)", m.LastFailure)
}

func TestCorruptArtifact(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	commit(t, s, map[string]any{RegistryFile: doc{Count: 1}})
	snap, err := s.Open()
	require.NoError(t, err)

	require.NoError(t, os.Remove(snap.Path(RegistryFile)))
	require.NoError(t, os.WriteFile(snap.Path(RegistryFile), []byte("{"), 0644))

	_, err = ReadJSON[doc](snap, RegistryFile)
	assert.Equal(t, oerrors.CorruptStore, oerrors.CodeOf(err))
}

func TestFingerprintIgnoresGeneratedAt(t *testing.T) {
	a := Fingerprint([]byte(`{"generated_at": "2024-01-01T00:00:00Z", "x": 1}`))
	b := Fingerprint([]byte(`{"generated_at": "2030-01-01T00:00:00Z", "x": 1}`))
	c := Fingerprint([]byte(`{"generated_at": "2030-01-01T00:00:00Z", "x": 2}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, b, c)
	assert.Len(t, a, 16)
}
