package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/skelly-dev/context-oracle/internal/lineage"
	"github.com/skelly-dev/context-oracle/internal/patterns"
	"github.com/skelly-dev/context-oracle/internal/query"
	"github.com/skelly-dev/context-oracle/internal/registry"
	"github.com/skelly-dev/context-oracle/internal/validate"
)

// Renderers for --text. Each returns a closure so commands can hand it to
// emit without rendering when JSON is requested.

func textVerify(res registry.VerifyResult) func(io.Writer) {
	return func(w io.Writer) {
		if !res.Found {
			fmt.Fprintf(w, "%s: not found\n", res.Name)
			if res.Suggestion != "" {
				fmt.Fprintf(w, "did you mean: %s\n", res.Suggestion)
			}
			return
		}
		fmt.Fprintf(w, "%s (%s) at %s\n", res.Name, res.Kind, res.Location)
		if res.Signature != "" {
			fmt.Fprintf(w, "  %s\n", res.Signature)
		}
		if res.Docstring != "" {
			fmt.Fprintf(w, "  %s\n", firstLine(res.Docstring))
		}
		if len(res.Matches) > 1 {
			fmt.Fprintf(w, "also defined at: %s\n", SummarizePaths(res.Matches[1:], 5))
		}
	}
}

func textImpact(res lineage.TieredImpact) func(io.Writer) {
	return func(w io.Writer) {
		if !res.Found {
			fmt.Fprintf(w, "%s: no such script\n", res.Script)
			return
		}
		fmt.Fprintf(w, "impact of %s: risk=%s\n", res.Script, res.RiskLevel)
		printList(w, "writes", res.Writes)
		printList(w, "outputs", res.Outputs)
		printList(w, "direct writers", res.DirectWriters)
		printList(w, "column readers", res.ColumnReaders)
		printList(w, "file consumers", res.FileConsumers)
		if res.Recommendation != "" {
			fmt.Fprintf(w, "next: %s\n", res.Recommendation)
		}
	}
}

func textWho(res registry.WhoResult) func(io.Writer) {
	return func(w io.Writer) {
		if !res.Found {
			fmt.Fprintf(w, "%s: no column by that name\n", res.Column)
			if res.Suggestion != "" {
				fmt.Fprintf(w, "did you mean: %s\n", res.Suggestion)
			}
			return
		}
		fmt.Fprintf(w, "%s (coverage=%s)\n", res.Column, res.Coverage)
		for _, site := range res.Writers {
			fmt.Fprintf(w, "  write %s %s\n", site.Script, site.Location)
		}
		for _, site := range res.Readers {
			fmt.Fprintf(w, "  read  %s %s\n", site.Script, site.Location)
		}
	}
}

func textTrace(res lineage.TraceResult) func(io.Writer) {
	return func(w io.Writer) {
		if !res.Found {
			fmt.Fprintf(w, "%s: not in the lineage graph\n", res.Target)
			return
		}
		fmt.Fprintf(w, "trace %s\n", res.Target)
		for _, hop := range res.Upstream {
			fmt.Fprintf(w, "  %s<- %s [%s]\n", strings.Repeat("  ", max(hop.Depth-1, 0)), hop.From, hop.EdgeType)
		}
		for _, hop := range res.Downstream {
			fmt.Fprintf(w, "  %s-> %s [%s]\n", strings.Repeat("  ", max(hop.Depth-1, 0)), hop.To, hop.EdgeType)
		}
		printList(w, "critical files", res.CriticalFiles)
	}
}

func textSearch(res query.SearchResult) func(io.Writer) {
	return func(w io.Writer) {
		if !res.Found {
			fmt.Fprintf(w, "no matches for %q\n", res.Query)
			return
		}
		for _, hit := range res.Results {
			fmt.Fprintf(w, "%.2f %-8s %s %s\n", hit.Score, hit.Kind, hit.Name, hit.Location)
		}
	}
}

func textPattern(res patterns.PatternResult) func(io.Writer) {
	return func(w io.Writer) {
		if !res.Found {
			fmt.Fprintf(w, "%s: unknown pattern (available: %s)\n", res.Name, strings.Join(res.Available, ", "))
			return
		}
		fmt.Fprintf(w, "%s: %s\n", res.Name, res.Description)
		printList(w, "structure", res.Structure)
		for _, c := range res.Conventions {
			fmt.Fprintf(w, "  - %s\n", c)
		}
		printList(w, "examples", res.Examples)
	}
}

func textSimilar(res patterns.SimilarResult) func(io.Writer) {
	return func(w io.Writer) {
		if !res.Found {
			fmt.Fprintf(w, "nothing similar to %q\n", res.Description)
			return
		}
		for _, m := range res.Matches {
			fmt.Fprintf(w, "%.3f %s %s\n", m.Score, m.Name, m.Location)
		}
	}
}

func textSkeleton(res query.SkeletonResult) func(io.Writer) {
	return func(w io.Writer) {
		switch {
		case res.Failure != "":
			fmt.Fprintf(w, "%s: extraction failed: %s\n", res.Path, res.Failure)
		case !res.Found:
			fmt.Fprintf(w, "%s: no skeleton\n", res.Path)
		default:
			fmt.Fprint(w, res.Skeleton)
		}
	}
}

func textHealth(res query.HealthResult) func(io.Writer) {
	return func(w io.Writer) {
		fmt.Fprintf(w, "health: %s\n", res.Status)
		if res.Generation != "" {
			fmt.Fprintf(w, "generation: %s (sources as of %s)\n", res.Generation, res.SourceTimestamp)
		}
		fmt.Fprintf(w, "registry: files=%d functions=%d constants=%d columns=%d tables=%d\n",
			res.Counts.Files, res.Counts.Functions, res.Counts.Constants, res.Counts.Columns, res.Counts.Tables)
		fmt.Fprintf(w, "lineage: nodes=%d edges=%d skeletons=%d patterns=%d\n",
			res.Counts.Nodes, res.Counts.Edges, res.Counts.Skeletons, res.Counts.Patterns)
		printList(w, "changed", res.Changed)
		printList(w, "added", res.Added)
		printList(w, "removed", res.Removed)
		for _, e := range res.ExtractionErrors {
			fmt.Fprintf(w, "extraction error: %s: %s\n", e.File, e.Reason)
		}
		if res.LastFailure != "" {
			fmt.Fprintf(w, "last failure: %s\n", res.LastFailure)
		}
	}
}

func textOrder(res validate.OrderReport) func(io.Writer) {
	return func(w io.Writer) {
		fmt.Fprintf(w, "pipeline order: passed=%t scripts=%d dependencies=%d\n", res.Passed, res.Scripts, res.Dependencies)
		for _, cycle := range res.Cycles {
			fmt.Fprintf(w, "cycle: %s\n", strings.Join(cycle, " -> "))
		}
		for _, issue := range res.Issues {
			fmt.Fprintf(w, "warning: %s\n", issue)
		}
		printList(w, "order", res.Order)
	}
}

func textSchema(res validate.SchemaReport) func(io.Writer) {
	return func(w io.Writer) {
		if res.LockMissing {
			fmt.Fprintf(w, "schema: no %s; run with --update to create it\n", validate.LockFile)
			return
		}
		fmt.Fprintf(w, "schema: passed=%t scripts=%d\n", res.Passed, res.Scripts)
		printList(w, "new", res.New)
		printList(w, "removed", res.Removed)
		for _, c := range res.Changed {
			fmt.Fprintf(w, "changed %s: +[%s] -[%s]\n", c.Script, strings.Join(c.Added, ", "), strings.Join(c.Removed, ", "))
		}
	}
}

func printList(w io.Writer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s (%d): %s\n", label, len(items), SummarizePaths(items, 8))
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
