package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/skelly-dev/context-oracle/internal/builder"
	"github.com/skelly-dev/context-oracle/internal/fileutil"
)

func PrintRunSummary(w io.Writer, summary builder.Summary, asJSON bool) error {
	if asJSON {
		return fileutil.PrintJSON(w, summary)
	}

	if !summary.NewGeneration && summary.Changed+summary.Added+summary.Removed == 0 && summary.Extracted == 0 {
		fmt.Fprintf(w, "%s: up to date (generation %s, %d files)\n", summary.Mode, summary.Generation, summary.Scanned)
		return nil
	}

	fmt.Fprintf(w, "%s complete in %dms\n", summary.Mode, summary.DurationMS)
	fmt.Fprintf(w, "generation: %s (new=%t)\n", summary.Generation, summary.NewGeneration)
	fmt.Fprintf(w, "files: scanned=%d extracted=%d extraction_errors=%d\n", summary.Scanned, summary.Extracted, summary.ExtractionErrors)
	fmt.Fprintf(w, "changes: changed=%d added=%d removed=%d rewritten=%d\n", summary.Changed, summary.Added, summary.Removed, summary.Rewritten)
	if len(summary.ChangedFiles) > 0 {
		fmt.Fprintf(w, "changed files (%d): %s\n", len(summary.ChangedFiles), SummarizePaths(summary.ChangedFiles, 8))
	}
	if len(summary.AddedFiles) > 0 {
		fmt.Fprintf(w, "added files (%d): %s\n", len(summary.AddedFiles), SummarizePaths(summary.AddedFiles, 8))
	}
	if len(summary.RemovedFiles) > 0 {
		fmt.Fprintf(w, "removed files (%d): %s\n", len(summary.RemovedFiles), SummarizePaths(summary.RemovedFiles, 8))
	}
	if len(summary.RewrittenArtifacts) > 0 {
		fmt.Fprintf(w, "rewritten artifacts (%d): %s\n", len(summary.RewrittenArtifacts), SummarizePaths(summary.RewrittenArtifacts, 8))
	}
	return nil
}

func SummarizePaths(paths []string, max int) string {
	if len(paths) <= max {
		return strings.Join(paths, ", ")
	}
	return fmt.Sprintf("%s ... (+%d more)", strings.Join(paths[:max], ", "), len(paths)-max)
}
