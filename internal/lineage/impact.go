package lineage

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/skelly-dev/context-oracle/internal/naming"
)

const (
	RiskHigh   = "high"
	RiskMedium = "medium"
	RiskLow    = "low"
)

// TieredImpact groups the scripts affected by a change to one script. Tiers
// are exclusive: a script is listed only in the highest tier it qualifies for.
type TieredImpact struct {
	Found          bool     `json:"found"`
	Script         string   `json:"script"`
	Writes         []string `json:"writes"`
	Outputs        []string `json:"outputs"`
	DirectWriters  []string `json:"direct_writers"`
	ColumnReaders  []string `json:"column_readers"`
	FileConsumers  []string `json:"file_consumers"`
	RiskLevel      string   `json:"risk_level,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// Impact returns the tiered impact of changing script. The name may be the
// script id, its node id or its file path.
func (g *Graph) Impact(script string) TieredImpact {
	name := strings.TrimPrefix(strings.TrimSpace(script), NodeScript+":")
	if strings.Contains(name, "/") || strings.HasSuffix(name, ".py") {
		name = naming.ScriptID(name)
	}
	if cached, ok := g.Impacts[name]; ok && cached != nil {
		return *cached
	}
	id := ScriptID(name)
	if n, ok := g.Nodes[id]; !ok || n.Type != NodeScript {
		return TieredImpact{
			Script:        name,
			Writes:        []string{},
			Outputs:       []string{},
			DirectWriters: []string{},
			ColumnReaders: []string{},
			FileConsumers: []string{},
		}
	}
	return *g.computeImpact(id)
}

func (g *Graph) computeImpact(id string) *TieredImpact {
	g.index()
	self := g.Nodes[id].Attrs.Name
	impact := &TieredImpact{Found: true, Script: self}

	writers := make(map[string]bool)
	readers := make(map[string]bool)
	for _, colID := range sortedNodeIDs(g.Nodes, NodeColumn) {
		attrs := g.Nodes[colID].Attrs
		if !slices.Contains(attrs.WrittenBy, self) {
			continue
		}
		impact.Writes = append(impact.Writes, attrs.Name)
		for _, w := range attrs.WrittenBy {
			writers[w] = true
		}
		for _, r := range attrs.ReadBy {
			readers[r] = true
		}
	}

	for _, idx := range g.out[id] {
		if e := g.Edges[idx]; e.Type == EdgeOutput {
			impact.Outputs = append(impact.Outputs, g.Nodes[e.Target].Attrs.Path)
		}
	}

	claimed := map[string]bool{self: true}
	impact.DirectWriters = claim(writers, claimed)
	impact.ColumnReaders = claim(readers, claimed)
	// consumers of any co-writer's files break along with this script's
	consumers := g.downstreamScripts(id)
	for w := range writers {
		for name := range g.downstreamScripts(ScriptID(w)) {
			consumers[name] = true
		}
	}
	impact.FileConsumers = claim(consumers, claimed)

	impact.Writes = nonNil(impact.Writes)
	sort.Strings(impact.Outputs)
	impact.Outputs = nonNil(impact.Outputs)
	impact.RiskLevel = riskLevel(impact)
	impact.Recommendation = recommend(impact)
	return impact
}

// downstreamScripts is the transitive DEPENDS_ON closure below id.
func (g *Graph) downstreamScripts(id string) map[string]bool {
	found := make(map[string]bool)
	queue := []string{id}
	visited := map[string]bool{id: true}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, idx := range g.out[current] {
			e := g.Edges[idx]
			if e.Type != EdgeDependsOn || visited[e.Target] {
				continue
			}
			visited[e.Target] = true
			found[g.Nodes[e.Target].Attrs.Name] = true
			queue = append(queue, e.Target)
		}
	}
	return found
}

// claim returns the scripts in set not yet claimed by a higher tier and
// marks them claimed.
func claim(set map[string]bool, claimed map[string]bool) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		if !claimed[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	for _, name := range out {
		claimed[name] = true
	}
	return out
}

func riskLevel(impact *TieredImpact) string {
	switch {
	case len(impact.DirectWriters) > 0:
		return RiskHigh
	case len(impact.ColumnReaders) > 0 || len(impact.FileConsumers) > 0:
		return RiskMedium
	default:
		return RiskLow
	}
}

func recommend(impact *TieredImpact) string {
	tiers := []struct {
		name    string
		scripts []string
	}{
		{"direct_writers", impact.DirectWriters},
		{"column_readers", impact.ColumnReaders},
		{"file_consumers", impact.FileConsumers},
	}
	largest := tiers[0]
	for _, tier := range tiers[1:] {
		if len(tier.scripts) > len(largest.scripts) {
			largest = tier
		}
	}
	if len(largest.scripts) == 0 {
		return fmt.Sprintf("low risk: no other script depends on %s; re-test %s only", impact.Script, impact.Script)
	}

	retest := []string{impact.Script}
	for _, tier := range tiers {
		retest = append(retest, tier.scripts...)
	}
	return fmt.Sprintf("%s risk: largest affected set is %s (%d scripts); re-test %s",
		impact.RiskLevel, largest.name, len(largest.scripts), strings.Join(retest, ", "))
}

func sortedNodeIDs(nodes map[string]*Node, typ string) []string {
	ids := make([]string, 0)
	for id, n := range nodes {
		if n.Type == typ {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
