package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skelly-dev/context-oracle/internal/builder"
	"github.com/skelly-dev/context-oracle/internal/fileutil"
	"github.com/skelly-dev/context-oracle/internal/patterns"
	"github.com/skelly-dev/context-oracle/internal/state"
	"github.com/skelly-dev/context-oracle/internal/validate"
)

type DoctorSummary struct {
	Mode        string       `json:"mode"`
	RootPath    string       `json:"root_path"`
	ArtifactDir string       `json:"artifact_dir"`
	Healthy     bool         `json:"healthy"`
	Status      state.Status `json:"status"`
	Generation  string       `json:"generation,omitempty"`
	Patterns    int          `json:"pattern_definitions"`
	SchemaLock  bool         `json:"schema_lock"`
	Problems    []string     `json:"problems,omitempty"`
	Suggestions []string     `json:"suggestions,omitempty"`
}

// RunDoctor checks that the repository is set up for the oracle: config,
// pattern definitions, ignore rules, artifact store and schema lock. Problems
// are reported, not returned as errors.
func RunDoctor(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	summary := DoctorSummary{
		Mode:        "doctor",
		RootPath:    s.root,
		ArtifactDir: s.cfg.ArtifactPath(s.root),
	}

	defs, err := patterns.LoadDefinitions(s.cfg.PatternsPath(s.root))
	if err != nil {
		summary.Problems = append(summary.Problems, fmt.Sprintf("pattern definitions: %v", err))
		summary.Suggestions = append(summary.Suggestions, "fix "+s.cfg.Patterns.File)
	}
	summary.Patterns = len(defs)

	if _, err := builder.LoadIgnoreRules(s.root); err != nil {
		summary.Problems = append(summary.Problems, err.Error())
	}

	m, diff, err := s.builder.Check()
	if err != nil {
		summary.Problems = append(summary.Problems, fmt.Sprintf("artifact store: %v", err))
		summary.Suggestions = append(summary.Suggestions, "run oracle generate --force")
	} else {
		summary.Status = state.Evaluate(m, diff)
		summary.Generation = m.Generation
		switch {
		case m.Generation == "":
			summary.Problems = append(summary.Problems, "no committed generation")
			summary.Suggestions = append(summary.Suggestions, "run oracle generate")
		case m.LastFailure != "":
			summary.Problems = append(summary.Problems, "last rebuild failed: "+m.LastFailure)
			summary.Suggestions = append(summary.Suggestions, "run oracle update --verbose")
		case summary.Status != state.StatusFresh:
			summary.Suggestions = append(summary.Suggestions, "run oracle update")
		}
		for _, e := range m.ExtractionErrors {
			summary.Problems = append(summary.Problems, fmt.Sprintf("extraction failed: %s", e.File))
		}
	}

	lock, err := validate.ReadLock(filepath.Join(s.root, validate.LockFile))
	switch {
	case err != nil:
		summary.Problems = append(summary.Problems, err.Error())
	case lock == nil:
		summary.Suggestions = append(summary.Suggestions, "run oracle validate schema --update")
	default:
		summary.SchemaLock = true
	}

	summary.Problems = fileutil.DedupeStrings(summary.Problems)
	sort.Strings(summary.Problems)
	summary.Suggestions = fileutil.DedupeStrings(summary.Suggestions)
	sort.Strings(summary.Suggestions)
	summary.Healthy = len(summary.Problems) == 0

	asJSON, err := OptionalBoolFlag(cmd, "json")
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if asJSON {
		return fileutil.PrintJSON(w, summary)
	}

	status := "issues"
	if summary.Healthy {
		status = "ok"
	}
	fmt.Fprintf(w, "doctor: %s\n", status)
	fmt.Fprintf(w, "artifacts: %s status=%s generation=%s\n", summary.ArtifactDir, summary.Status, summary.Generation)
	fmt.Fprintf(w, "patterns: definitions=%d schema_lock=%t\n", summary.Patterns, summary.SchemaLock)
	if len(summary.Problems) > 0 {
		fmt.Fprintf(w, "problems (%d): %s\n", len(summary.Problems), strings.Join(summary.Problems, "; "))
	}
	for _, suggestion := range summary.Suggestions {
		fmt.Fprintf(w, "next: %s\n", suggestion)
	}
	return nil
}
