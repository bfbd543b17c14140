// Package oerrors holds the failure taxonomy shared by the builder, the
// artifact store and the query engine.
package oerrors

import (
	"errors"
	"fmt"
)

// Code is a stable identifier for a failure mode.
type Code string

const (
	Extraction     Code = "EXTRACTION_FAILED"
	BuildInvariant Code = "BUILD_INVARIANT"
	Contention     Code = "CONTENTION"
	CorruptStore   Code = "CORRUPT_ARTIFACT"
)

// Invariant kinds carried by BuildInvariantError.
const (
	DanglingEdge      = "dangling_edge"
	DuplicateIdentity = "duplicate_identity"
)

// ExtractionError records that a single source file failed to parse. It is
// stored as a fact next to the file, never raised past the builder.
type ExtractionError struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: extraction failed: %s", e.File, e.Reason)
}

func (e *ExtractionError) Code() Code { return Extraction }

// BuildInvariantError aborts a rebuild. The prior generation stays in place.
type BuildInvariantError struct {
	Kind   string   `json:"kind"`
	Detail string   `json:"detail"`
	Items  []string `json:"items,omitempty"`
}

func (e *BuildInvariantError) Error() string {
	if len(e.Items) == 0 {
		return fmt.Sprintf("build invariant violated (%s): %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("build invariant violated (%s): %s (%d offending)", e.Kind, e.Detail, len(e.Items))
}

func (e *BuildInvariantError) Code() Code { return BuildInvariant }

// ContentionError means another process holds the artifact store lock.
type ContentionError struct {
	LockPath  string
	HolderPID string
}

func (e *ContentionError) Error() string {
	if e.HolderPID != "" {
		return fmt.Sprintf("artifact store is locked by another process (PID %s): %s", e.HolderPID, e.LockPath)
	}
	return fmt.Sprintf("artifact store is locked by another process: %s", e.LockPath)
}

func (e *ContentionError) Code() Code { return Contention }

// Retryable reports that the caller may try again once the holder is done.
func (e *ContentionError) Retryable() bool { return true }

// CorruptArtifactError wraps a failure to read or decode a committed artifact.
type CorruptArtifactError struct {
	Path string
	Err  error
}

func (e *CorruptArtifactError) Error() string {
	return fmt.Sprintf("corrupt artifact %s: %v", e.Path, e.Err)
}

func (e *CorruptArtifactError) Unwrap() error { return e.Err }

func (e *CorruptArtifactError) Code() Code { return CorruptStore }

// IsContention reports whether err (or anything it wraps) is a ContentionError.
func IsContention(err error) bool {
	var target *ContentionError
	return errors.As(err, &target)
}

// IsBuildInvariant reports whether err (or anything it wraps) is a BuildInvariantError.
func IsBuildInvariant(err error) bool {
	var target *BuildInvariantError
	return errors.As(err, &target)
}

// CodeOf returns the taxonomy code for err, or "" for untyped errors.
func CodeOf(err error) Code {
	var coded interface{ Code() Code }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}
