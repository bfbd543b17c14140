package builder

import (
	"github.com/skelly-dev/context-oracle/internal/state"
)

// Summary reports one rebuild run.
type Summary struct {
	Mode               string   `json:"mode"`
	Generation         string   `json:"generation"`
	NewGeneration      bool     `json:"new_generation"`
	Scanned            int      `json:"scanned"`
	Changed            int      `json:"changed"`
	Added              int      `json:"added"`
	Removed            int      `json:"removed"`
	Extracted          int      `json:"extracted"`
	ExtractionErrors   int      `json:"extraction_errors"`
	Rewritten          int      `json:"rewritten"`
	DurationMS         int64    `json:"duration_ms"`
	ChangedFiles       []string `json:"changed_files,omitempty"`
	AddedFiles         []string `json:"added_files,omitempty"`
	RemovedFiles       []string `json:"removed_files,omitempty"`
	RewrittenArtifacts []string `json:"rewritten_artifacts,omitempty"`
}

func newSummary(diff state.Diff, scanned int) Summary {
	return Summary{
		Scanned:      scanned,
		Changed:      len(diff.Changed),
		Added:        len(diff.Added),
		Removed:      len(diff.Removed),
		ChangedFiles: diff.Changed,
		AddedFiles:   diff.Added,
		RemovedFiles: diff.Removed,
	}
}
