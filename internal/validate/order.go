// Package validate checks pipeline-level properties on top of a committed
// lineage graph: script ordering and the written-column schema lock.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/skelly-dev/context-oracle/internal/fileutil"
	"github.com/skelly-dev/context-oracle/internal/lineage"
	"github.com/skelly-dev/context-oracle/internal/naming"
)

// OrderReport is the result of PipelineOrder. Order is empty when the
// dependency graph has a cycle.
type OrderReport struct {
	Passed       bool       `json:"passed"`
	Cycles       [][]string `json:"cycles"`
	Order        []string   `json:"order"`
	Issues       []string   `json:"issues"`
	Scripts      int        `json:"scripts_analyzed"`
	Dependencies int        `json:"dependency_count"`
}

// dependencies maps each script to the scripts whose outputs it reads.
func dependencies(g *lineage.Graph) map[string]map[string]bool {
	deps := make(map[string]map[string]bool)
	for id, node := range g.Nodes {
		if node.Type == lineage.NodeScript {
			deps[strings.TrimPrefix(id, lineage.NodeScript+":")] = make(map[string]bool)
		}
	}
	for _, e := range g.Edges {
		if e.Type != lineage.EdgeDependsOn {
			continue
		}
		producer := strings.TrimPrefix(e.Source, lineage.NodeScript+":")
		consumer := strings.TrimPrefix(e.Target, lineage.NodeScript+":")
		if deps[consumer] == nil {
			deps[consumer] = make(map[string]bool)
		}
		deps[consumer][producer] = true
	}
	return deps
}

// PipelineOrder checks that the DEPENDS_ON graph is acyclic, proposes a run
// order and flags numeric prefixes that contradict it. Prefix issues are
// warnings; only cycles fail the check.
func PipelineOrder(g *lineage.Graph) OrderReport {
	deps := dependencies(g)
	report := OrderReport{
		Cycles:  findCycles(deps),
		Order:   topoOrder(deps),
		Issues:  prefixIssues(deps),
		Scripts: len(deps),
	}
	for _, d := range deps {
		report.Dependencies += len(d)
	}
	report.Passed = len(report.Cycles) == 0
	return report
}

func findCycles(deps map[string]map[string]bool) [][]string {
	cycles := make([][]string, 0)
	visited := make(map[string]bool, len(deps))
	onStack := make(map[string]bool)
	path := make([]string, 0)

	var visit func(node string)
	visit = func(node string) {
		visited[node] = true
		onStack[node] = true
		path = append(path, node)
		for _, next := range fileutil.MapKeysSorted(deps[node]) {
			if !visited[next] {
				visit(next)
				continue
			}
			if onStack[next] {
				start := 0
				for i, p := range path {
					if p == next {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), next)
				cycles = append(cycles, cycle)
			}
		}
		path = path[:len(path)-1]
		onStack[node] = false
	}

	for _, node := range fileutil.MapKeysSorted(deps) {
		if !visited[node] {
			visit(node)
		}
	}
	return cycles
}

// topoOrder is Kahn's algorithm with ties broken by name.
func topoOrder(deps map[string]map[string]bool) []string {
	dependents := make(map[string][]string, len(deps))
	inDegree := make(map[string]int, len(deps))
	for node, ds := range deps {
		inDegree[node] = len(ds)
		for d := range ds {
			dependents[d] = append(dependents[d], node)
		}
	}

	queue := make([]string, 0)
	for _, node := range fileutil.MapKeysSorted(deps) {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}
	order := make([]string, 0, len(deps))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		next := dependents[node]
		sort.Strings(next)
		for _, dep := range next {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(order) != len(deps) {
		return []string{}
	}
	return order
}

func prefixIssues(deps map[string]map[string]bool) []string {
	issues := make([]string, 0)
	for _, script := range fileutil.MapKeysSorted(deps) {
		scriptNum := naming.NumericPrefix(script)
		if scriptNum < 0 {
			continue
		}
		for _, dep := range fileutil.MapKeysSorted(deps[script]) {
			depNum := naming.NumericPrefix(dep)
			if depNum < 0 || depNum < scriptNum {
				continue
			}
			issues = append(issues, fmt.Sprintf(
				"%s (#%d) depends on %s (#%d), but %s has a higher or equal prefix",
				script, scriptNum, dep, depNum, dep,
			))
		}
	}
	return issues
}
