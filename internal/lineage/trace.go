package lineage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/skelly-dev/context-oracle/internal/fileutil"
	"github.com/skelly-dev/context-oracle/internal/parser"
)

const (
	DirectionUp   = "up"
	DirectionDown = "down"
	DirectionBoth = "both"

	DefaultTraceDepth = 10
)

// Hop is one traversed edge.
type Hop struct {
	From       string            `json:"from"`
	To         string            `json:"to"`
	EdgeType   string            `json:"edge_type"`
	Depth      int               `json:"depth"`
	Provenance string            `json:"provenance,omitempty"`
	Operation  string            `json:"operation,omitempty"`
	Confidence parser.Confidence `json:"confidence,omitempty"`
}

type TraceResult struct {
	Found         bool     `json:"found"`
	Target        string   `json:"target"`
	Upstream      []Hop    `json:"upstream"`
	Downstream    []Hop    `json:"downstream"`
	CriticalFiles []string `json:"critical_files"`
}

var (
	columnEdges = map[string]bool{EdgeTransforms: true, EdgeRenamed: true, EdgeMapsTo: true}
	fileEdges   = map[string]bool{EdgeInput: true, EdgeOutput: true}
)

// Resolve maps a full node id or a bare name to a node id. Bare names are
// tried as column, db_column, table, script and then file.
func (g *Graph) Resolve(target string) (string, bool) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", false
	}
	if _, ok := g.Nodes[target]; ok {
		return target, true
	}
	candidates := []string{
		ColumnID(target),
		NodeDBColumn + ":" + target,
		TableID(target),
		ScriptID(target),
		FileID(target),
	}
	for _, id := range candidates {
		if _, ok := g.Nodes[id]; ok {
			return id, true
		}
	}
	return "", false
}

// Trace walks column edges (TRANSFORMS, RENAMED, MAPS_TO) from target. Script
// and file targets walk INPUT/OUTPUT instead. A table target starts from all
// of its db columns. maxDepth <= 0 means DefaultTraceDepth.
func (g *Graph) Trace(target, direction string, maxDepth int) TraceResult {
	result := TraceResult{
		Target:        target,
		Upstream:      []Hop{},
		Downstream:    []Hop{},
		CriticalFiles: []string{},
	}
	id, ok := g.Resolve(target)
	if !ok {
		return result
	}
	g.index()
	result.Found = true
	result.Target = id
	if maxDepth <= 0 {
		maxDepth = DefaultTraceDepth
	}
	if direction == "" {
		direction = DirectionBoth
	}

	starts := []string{id}
	allowed := columnEdges
	switch g.Nodes[id].Type {
	case NodeTable:
		starts = starts[:0]
		for _, col := range g.Nodes[id].Attrs.Columns {
			starts = append(starts, DBColumnID(g.Nodes[id].Attrs.Name, col))
		}
	case NodeScript, NodeFile:
		allowed = fileEdges
	}

	files := make([]string, 0)
	if direction == DirectionUp || direction == DirectionBoth {
		result.Upstream = g.walk(starts, allowed, maxDepth, true)
		files = append(files, provenances(result.Upstream)...)
	}
	if direction == DirectionDown || direction == DirectionBoth {
		result.Downstream = g.walk(starts, allowed, maxDepth, false)
		files = append(files, provenances(result.Downstream)...)
	}
	if critical := fileutil.SortedUnique(files); critical != nil {
		result.CriticalFiles = critical
	}
	return result
}

// walk is a depth-first traversal; each node is expanded once.
func (g *Graph) walk(starts []string, allowed map[string]bool, maxDepth int, upstream bool) []Hop {
	hops := make([]Hop, 0)
	visited := make(map[string]bool, len(starts))
	for _, s := range starts {
		visited[s] = true
	}

	var visit func(id string, depth int)
	visit = func(id string, depth int) {
		if depth > maxDepth {
			return
		}
		for _, idx := range g.adjacent(id, upstream) {
			e := g.Edges[idx]
			if !allowed[e.Type] {
				continue
			}
			next := e.Target
			if upstream {
				next = e.Source
			}
			hop := Hop{
				From:       e.Source,
				To:         e.Target,
				EdgeType:   e.Type,
				Depth:      depth,
				Operation:  e.Operation,
				Confidence: e.Confidence,
			}
			if e.Provenance != nil {
				hop.Provenance = e.Provenance.String()
			}
			hops = append(hops, hop)
			if visited[next] {
				continue
			}
			visited[next] = true
			visit(next, depth+1)
		}
	}
	for _, s := range starts {
		visit(s, 1)
	}
	return hops
}

func (g *Graph) adjacent(id string, upstream bool) []int {
	var idxs []int
	if upstream {
		idxs = append(idxs, g.in[id]...)
	} else {
		idxs = append(idxs, g.out[id]...)
	}
	sort.Slice(idxs, func(i, j int) bool {
		a, b := g.Edges[idxs[i]], g.Edges[idxs[j]]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Type < b.Type
	})
	return idxs
}

func provenances(hops []Hop) []string {
	out := make([]string, 0, len(hops))
	for _, h := range hops {
		if h.Provenance != "" {
			out = append(out, h.Provenance)
		}
	}
	return out
}

// String renders a hop for the text output of the trace command.
func (h Hop) String() string {
	arrow := fmt.Sprintf("%s -[%s]-> %s", h.From, h.EdgeType, h.To)
	if h.Provenance != "" {
		arrow += " @ " + h.Provenance
	}
	if h.Confidence != "" {
		arrow += " (" + string(h.Confidence) + ")"
	}
	return arrow
}
