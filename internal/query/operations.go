package query

import (
	"context"
	"fmt"
	"maps"
	"path"
	"strings"

	"github.com/skelly-dev/context-oracle/internal/lineage"
	"github.com/skelly-dev/context-oracle/internal/oerrors"
	"github.com/skelly-dev/context-oracle/internal/patterns"
	"github.com/skelly-dev/context-oracle/internal/registry"
	"github.com/skelly-dev/context-oracle/internal/search"
	"github.com/skelly-dev/context-oracle/internal/skeleton"
	"github.com/skelly-dev/context-oracle/internal/state"
	"github.com/skelly-dev/context-oracle/internal/store"
)

func (e *Engine) Verify(ctx context.Context, name, kind string) (registry.VerifyResult, error) {
	a, err := e.ensureFresh(ctx)
	if err != nil {
		return registry.VerifyResult{}, err
	}
	return a.lookup.Verify(name, kind), nil
}

func (e *Engine) Impact(ctx context.Context, script string) (lineage.TieredImpact, error) {
	a, err := e.ensureFresh(ctx)
	if err != nil {
		return lineage.TieredImpact{}, err
	}
	return a.graph.Impact(script), nil
}

func (e *Engine) Who(ctx context.Context, column string) (registry.WhoResult, error) {
	a, err := e.ensureFresh(ctx)
	if err != nil {
		return registry.WhoResult{}, err
	}
	return a.lookup.Who(column), nil
}

func (e *Engine) Trace(ctx context.Context, target, direction string, depth int) (lineage.TraceResult, error) {
	switch direction {
	case "":
		direction = lineage.DirectionBoth
	case lineage.DirectionUp, lineage.DirectionDown, lineage.DirectionBoth:
	default:
		return lineage.TraceResult{}, fmt.Errorf("invalid direction %q (want up, down or both)", direction)
	}
	a, err := e.ensureFresh(ctx)
	if err != nil {
		return lineage.TraceResult{}, err
	}
	return a.graph.Trace(target, direction, depth), nil
}

// Graph returns the lineage graph of a fresh generation, for validators that
// walk the whole pipeline.
func (e *Engine) Graph(ctx context.Context) (*lineage.Graph, error) {
	a, err := e.ensureFresh(ctx)
	if err != nil {
		return nil, err
	}
	return a.graph, nil
}

type SearchResult struct {
	Found   bool         `json:"found"`
	Query   string       `json:"query"`
	Kind    string       `json:"kind,omitempty"`
	Results []search.Hit `json:"results"`
}

func (e *Engine) Search(ctx context.Context, query, kind string, limit int) (SearchResult, error) {
	a, err := e.ensureFresh(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	if limit <= 0 {
		limit = e.cfg.Search.Limit
	}
	hits := a.lookup.Search(query, kind, limit)
	return SearchResult{Found: len(hits) > 0, Query: query, Kind: kind, Results: hits}, nil
}

func (e *Engine) Pattern(ctx context.Context, name string) (patterns.PatternResult, error) {
	a, err := e.ensureFresh(ctx)
	if err != nil {
		return patterns.PatternResult{}, err
	}
	return a.library.Get(name), nil
}

func (e *Engine) Similar(ctx context.Context, description string, limit int) (patterns.SimilarResult, error) {
	a, err := e.ensureFresh(ctx)
	if err != nil {
		return patterns.SimilarResult{}, err
	}
	if limit <= 0 {
		limit = e.cfg.Search.Limit
	}
	return patterns.FindSimilar(description, a.registry, limit), nil
}

type SkeletonResult struct {
	Found    bool                `json:"found"`
	Path     string              `json:"path"`
	Skeleton string              `json:"skeleton,omitempty"`
	Stats    *skeleton.FileStats `json:"stats,omitempty"`
	Failure  string              `json:"failure,omitempty"`
}

// Skeleton returns the stored skeleton text of one source file.
func (e *Engine) Skeleton(ctx context.Context, file string) (SkeletonResult, error) {
	a, err := e.ensureFresh(ctx)
	if err != nil {
		return SkeletonResult{}, err
	}
	file = strings.TrimPrefix(path.Clean(strings.ReplaceAll(file, "\\", "/")), "./")
	result := SkeletonResult{Path: file}
	if reason, failed := a.index.Failed[file]; failed {
		result.Failure = reason
		return result, nil
	}
	stats, ok := a.index.Files[file]
	if !ok {
		return result, nil
	}
	data, err := a.snapshot.ReadFile(path.Join(store.SkeletonDir, stats.Skeleton))
	if err != nil {
		return SkeletonResult{}, err
	}
	result.Found = true
	result.Skeleton = string(data)
	result.Stats = &stats
	return result, nil
}

type Counts struct {
	Files          int            `json:"files"`
	Functions      int            `json:"functions"`
	Constants      int            `json:"constants"`
	Columns        int            `json:"columns"`
	PartialColumns int            `json:"partial_columns"`
	Tables         int            `json:"tables"`
	Nodes          int            `json:"nodes"`
	Edges          int            `json:"edges"`
	NodesByType    map[string]int `json:"nodes_by_type"`
	EdgesByType    map[string]int `json:"edges_by_type"`
	Skeletons      int            `json:"skeletons"`
	Patterns       int            `json:"patterns"`
}

type HealthResult struct {
	Status           state.Status              `json:"status"`
	Fresh            bool                      `json:"fresh"`
	Generation       string                    `json:"generation,omitempty"`
	SourceTimestamp  string                    `json:"source_timestamp,omitempty"`
	Changed          []string                  `json:"changed"`
	Added            []string                  `json:"added"`
	Removed          []string                  `json:"removed"`
	ExtractionErrors []oerrors.ExtractionError `json:"extraction_errors"`
	LastFailure      string                    `json:"last_failure,omitempty"`
	Generations      []string                  `json:"generations"`
	Counts           Counts                    `json:"counts"`
}

// Health reports freshness without rebuilding.
func (e *Engine) Health(ctx context.Context) (HealthResult, error) {
	if err := ctx.Err(); err != nil {
		return HealthResult{}, err
	}
	m, diff, err := e.observe()
	if err != nil {
		return HealthResult{}, err
	}
	status := state.Evaluate(m, diff)

	result := HealthResult{
		Status:           status,
		Fresh:            status == state.StatusFresh,
		Generation:       m.Generation,
		SourceTimestamp:  m.SourceTimestamp,
		Changed:          diff.Changed,
		Added:            diff.Added,
		Removed:          diff.Removed,
		ExtractionErrors: m.ExtractionErrors,
		LastFailure:      m.LastFailure,
		Counts:           Counts{NodesByType: map[string]int{}, EdgesByType: map[string]int{}},
	}
	if result.ExtractionErrors == nil {
		result.ExtractionErrors = []oerrors.ExtractionError{}
	}
	if result.Generations, err = e.store.Generations(); err != nil {
		return HealthResult{}, err
	}

	a, err := e.loadCommitted()
	if err != nil {
		return HealthResult{}, err
	}
	if a == nil {
		return result, nil
	}
	stats := a.registry.Stats
	result.Counts.Files = stats.Files
	result.Counts.Functions = stats.Functions
	result.Counts.Constants = stats.Constants
	result.Counts.Columns = stats.Columns
	result.Counts.PartialColumns = stats.PartialColumns
	result.Counts.Tables = stats.Tables
	result.Counts.Nodes = a.graph.Stats.Nodes
	result.Counts.Edges = a.graph.Stats.Edges
	maps.Copy(result.Counts.NodesByType, a.graph.Stats.NodesByType)
	maps.Copy(result.Counts.EdgesByType, a.graph.Stats.EdgesByType)
	result.Counts.Skeletons = a.index.Totals.Files
	result.Counts.Patterns = len(a.library.Patterns)
	return result, nil
}
