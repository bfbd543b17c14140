// Package lineage builds the data-flow graph (file -> script -> column ->
// table) and answers trace and impact questions over it.
package lineage

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/skelly-dev/context-oracle/internal/fileutil"
	"github.com/skelly-dev/context-oracle/internal/naming"
	"github.com/skelly-dev/context-oracle/internal/oerrors"
	"github.com/skelly-dev/context-oracle/internal/parser"
	"github.com/skelly-dev/context-oracle/internal/registry"
)

const Version = "lineage-v1"

// Node types.
const (
	NodeFile     = "file"
	NodeScript   = "script"
	NodeColumn   = "column"
	NodeTable    = "table"
	NodeDBColumn = "db_column"
)

// Edge types.
const (
	EdgeInput      = "INPUT"
	EdgeOutput     = "OUTPUT"
	EdgeTransforms = "TRANSFORMS"
	EdgeMapsTo     = "MAPS_TO"
	EdgeDependsOn  = "DEPENDS_ON"
	EdgeRenamed    = "RENAMED"
)

var folderStages = map[string]string{
	"raw":          "source",
	"intermediate": "intermediate",
	"import-ready": "output",
}

// NodeAttrs is the attribute bag; which fields are set depends on the node type.
type NodeAttrs struct {
	Name        string   `json:"name,omitempty"`
	Path        string   `json:"path,omitempty"`
	Folder      string   `json:"folder,omitempty"`
	Stage       string   `json:"stage,omitempty"`
	CreatedBy   []string `json:"created_by,omitempty"`
	WrittenBy   []string `json:"written_by,omitempty"`
	ReadBy      []string `json:"read_by,omitempty"`
	UsedInJoins bool     `json:"used_in_joins,omitempty"`
	Coverage    string   `json:"coverage,omitempty"`
	Dtype       string   `json:"dtype,omitempty"`
	Table       string   `json:"table,omitempty"`
	Column      string   `json:"column,omitempty"`
	DataType    string   `json:"data_type,omitempty"`
	PrimaryKey  bool     `json:"primary_key,omitempty"`
	NotNull     bool     `json:"not_null,omitempty"`
	References  string   `json:"references,omitempty"`
	Columns     []string `json:"columns,omitempty"`
}

type Node struct {
	ID    string    `json:"id"`
	Type  string    `json:"type"`
	Attrs NodeAttrs `json:"attrs"`
}

type Edge struct {
	Source     string            `json:"source"`
	Target     string            `json:"target"`
	Type       string            `json:"type"`
	Provenance *parser.Location  `json:"provenance,omitempty"`
	Operation  string            `json:"operation,omitempty"`
	Confidence parser.Confidence `json:"confidence,omitempty"`
	Script     string            `json:"script,omitempty"`
}

func (e Edge) key() string {
	return e.Source + "\x00" + e.Target + "\x00" + e.Type
}

type Stats struct {
	Nodes       int            `json:"nodes"`
	Edges       int            `json:"edges"`
	NodesByType map[string]int `json:"nodes_by_type"`
	EdgesByType map[string]int `json:"edges_by_type"`
}

// Graph is the graph.json document.
type Graph struct {
	Version     string                   `json:"version"`
	GeneratedAt string                   `json:"generated_at"`
	Nodes       map[string]*Node         `json:"nodes"`
	Edges       []Edge                   `json:"edges"`
	Impacts     map[string]*TieredImpact `json:"impacts"`
	Stats       Stats                    `json:"stats"`

	indexOnce sync.Once
	out       map[string][]int
	in        map[string][]int
}

// NewGraph creates a new empty graph
func NewGraph() *Graph {
	return &Graph{
		Version: Version,
		Nodes:   make(map[string]*Node),
		Edges:   make([]Edge, 0),
		Impacts: make(map[string]*TieredImpact),
	}
}

func FileID(p string) string { return NodeFile + ":" + p }

func ScriptID(s string) string { return NodeScript + ":" + s }

func ColumnID(c string) string { return NodeColumn + ":" + c }

func TableID(t string) string { return NodeTable + ":" + t }

func DBColumnID(t, c string) string { return NodeDBColumn + ":" + t + "." + c }

type builder struct {
	g        *Graph
	seen     map[string]int
	scripts  map[string]string // script id -> defining file
	producer map[string][]parser.FileRef
	consumer map[string][]parser.FileRef
}

// Build constructs the full graph from every non-failed fact set and the
// registry built from the same facts. It fails with a BuildInvariantError on
// duplicate script identity or a dangling edge.
func Build(facts []*parser.FactSet, reg *registry.Registry) (*Graph, error) {
	if reg == nil {
		reg = registry.New()
	}
	b := &builder{
		g:        NewGraph(),
		seen:     make(map[string]int),
		scripts:  make(map[string]string),
		producer: make(map[string][]parser.FileRef),
		consumer: make(map[string][]parser.FileRef),
	}

	ordered := make([]*parser.FactSet, 0, len(facts))
	for _, fs := range facts {
		if fs != nil && !fs.Failed() {
			ordered = append(ordered, fs)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Path < ordered[j].Path })

	if err := b.addScripts(ordered); err != nil {
		return nil, err
	}
	b.addColumns(ordered, reg)
	b.addTables(reg)
	b.addMappings(ordered, reg)
	b.addNameMatches(reg)
	b.addDependencies()

	if err := b.g.Validate(); err != nil {
		return nil, err
	}
	b.g.finalize()
	return b.g, nil
}

func (b *builder) node(id, typ string) *Node {
	n, ok := b.g.Nodes[id]
	if !ok {
		n = &Node{ID: id, Type: typ}
		b.g.Nodes[id] = n
	}
	return n
}

func (b *builder) fileNode(p string) string {
	id := FileID(p)
	n := b.node(id, NodeFile)
	n.Attrs.Path = p
	parts := strings.SplitN(p, "/", 3)
	if len(parts) == 3 {
		n.Attrs.Folder = parts[1]
		n.Attrs.Stage = folderStages[parts[1]]
		if n.Attrs.Stage == "" {
			n.Attrs.Stage = parts[1]
		}
	}
	return id
}

func (b *builder) columnNode(name string) string {
	id := ColumnID(name)
	n := b.node(id, NodeColumn)
	n.Attrs.Name = name
	if n.Attrs.Coverage == "" {
		n.Attrs.Coverage = registry.CoverageComplete
	}
	return id
}

// addEdge keeps one edge per (source, target, type); a repeat only raises
// the confidence of the kept edge.
func (b *builder) addEdge(e Edge) {
	if idx, ok := b.seen[e.key()]; ok {
		kept := &b.g.Edges[idx]
		kept.Confidence = parser.StrongestConfidence(kept.Confidence, e.Confidence)
		return
	}
	b.seen[e.key()] = len(b.g.Edges)
	b.g.Edges = append(b.g.Edges, e)
}

func (b *builder) addScripts(facts []*parser.FactSet) error {
	dupes := make([]string, 0)
	for _, fs := range facts {
		if fs.Script == "" {
			continue
		}
		id := ScriptID(fs.Script)
		if prev, ok := b.scripts[id]; ok {
			dupes = append(dupes, fmt.Sprintf("%s (%s, %s)", id, prev, fs.Path))
			continue
		}
		b.scripts[id] = fs.Path

		n := b.node(id, NodeScript)
		n.Attrs.Name = fs.Script
		n.Attrs.Path = fs.Path
		n.Attrs.Stage = path.Base(path.Dir(fs.Path))

		for _, ref := range fs.Inputs {
			fileID := b.fileNode(ref.Path)
			b.addEdge(Edge{
				Source:     fileID,
				Target:     id,
				Type:       EdgeInput,
				Provenance: &parser.Location{File: fs.Path, Line: ref.Line},
				Confidence: ref.Confidence,
				Script:     fs.Script,
			})
			b.consumer[ref.Path] = append(b.consumer[ref.Path], withBinding(ref, fs.Script))
		}
		for _, ref := range fs.Outputs {
			fileID := b.fileNode(ref.Path)
			b.addEdge(Edge{
				Source:     id,
				Target:     fileID,
				Type:       EdgeOutput,
				Provenance: &parser.Location{File: fs.Path, Line: ref.Line},
				Confidence: ref.Confidence,
				Script:     fs.Script,
			})
			b.producer[ref.Path] = append(b.producer[ref.Path], withBinding(ref, fs.Script))
		}
	}
	if len(dupes) > 0 {
		return &oerrors.BuildInvariantError{
			Kind:   oerrors.DuplicateIdentity,
			Detail: "two pipeline scripts share a script id",
			Items:  dupes,
		}
	}
	return nil
}

// withBinding reuses Binding to carry the owning script through the
// producer/consumer maps.
func withBinding(ref parser.FileRef, script string) parser.FileRef {
	ref.Binding = script
	return ref
}

func (b *builder) addColumns(facts []*parser.FactSet, reg *registry.Registry) {
	for name, col := range reg.Columns {
		n := b.node(b.columnNode(name), NodeColumn)
		n.Attrs.Coverage = col.Coverage
		n.Attrs.Dtype = col.Dtype
		n.Attrs.UsedInJoins = len(col.Joins) > 0
		for _, w := range col.Writers {
			n.Attrs.CreatedBy = append(n.Attrs.CreatedBy, w.Location())
		}
		n.Attrs.CreatedBy = fileutil.SortedUnique(n.Attrs.CreatedBy)
	}

	for _, fs := range facts {
		script := fs.Script
		for _, w := range fs.ColumnWrites {
			target := b.columnNode(w.Column)
			if script != "" {
				n := b.g.Nodes[target]
				n.Attrs.WrittenBy = append(n.Attrs.WrittenBy, script)
			}
			for _, src := range w.Sources {
				if src.Column == w.Column {
					continue
				}
				confidence := src.Confidence
				if w.Incomplete {
					confidence = parser.ConfidenceUnknown
				}
				b.addEdge(Edge{
					Source:     b.columnNode(src.Column),
					Target:     target,
					Type:       EdgeTransforms,
					Provenance: &parser.Location{File: fs.Path, Line: w.Line},
					Operation:  w.Operation,
					Confidence: confidence,
					Script:     scriptOrStem(fs),
				})
			}
		}
		if script != "" {
			for _, refs := range [][]parser.ColumnRef{fs.ColumnReads, fs.Joins} {
				for _, ref := range refs {
					n := b.g.Nodes[b.columnNode(ref.Column)]
					n.Attrs.ReadBy = append(n.Attrs.ReadBy, script)
				}
			}
		}
		for _, rn := range fs.Renames {
			b.addEdge(Edge{
				Source:     b.columnNode(rn.From),
				Target:     b.columnNode(rn.To),
				Type:       EdgeRenamed,
				Provenance: &parser.Location{File: fs.Path, Line: rn.Line},
				Operation:  fmt.Sprintf("rename %q -> %q", rn.From, rn.To),
				Confidence: parser.ConfidenceStatic,
				Script:     scriptOrStem(fs),
			})
		}
	}
}

func (b *builder) addTables(reg *registry.Registry) {
	for _, t := range reg.Tables {
		n := b.node(TableID(t.Name), NodeTable)
		n.Attrs.Name = t.Name
		n.Attrs.Path = t.File
		n.Attrs.Columns = t.ColumnNames()

		refs := make(map[string]string, len(t.ForeignKeys))
		for _, fk := range t.ForeignKeys {
			if fk.Table != "" {
				refs[fk.Column] = fk.Table + "." + fk.References
			}
		}
		for _, col := range t.Columns {
			dn := b.node(DBColumnID(t.Name, col.Name), NodeDBColumn)
			dn.Attrs.Table = t.Name
			dn.Attrs.Column = col.Name
			dn.Attrs.DataType = col.Type
			dn.Attrs.PrimaryKey = col.PrimaryKey
			dn.Attrs.NotNull = col.NotNull
			dn.Attrs.References = refs[col.Name]
		}
	}
}

// addMappings turns NAME_MAPPING dict entries into MAPS_TO edges. The table
// is the one whose name matches NAME; failing that, the only table that has
// the target column.
func (b *builder) addMappings(facts []*parser.FactSet, reg *registry.Registry) {
	byNorm := make(map[string]registry.TableSymbol, len(reg.Tables))
	for _, t := range reg.Tables {
		byNorm[naming.Normalize(t.Name)] = t
	}

	for _, fs := range facts {
		for _, m := range fs.Mappings {
			table, ok := byNorm[naming.Normalize(strings.TrimSuffix(m.Mapping, "_MAPPING"))]
			if !ok || !hasColumn(table, m.Target) {
				table, ok = onlyTableWith(reg, m.Target)
			}
			if !ok {
				continue
			}
			b.addEdge(Edge{
				Source:     b.columnNode(m.Source),
				Target:     DBColumnID(table.Name, m.Target),
				Type:       EdgeMapsTo,
				Provenance: &parser.Location{File: fs.Path, Line: m.Line},
				Operation:  "mapped by " + m.Mapping,
				Confidence: parser.ConfidenceStatic,
			})
		}
	}
}

// addNameMatches links pipeline columns to schema fields with the same
// normalized name.
func (b *builder) addNameMatches(reg *registry.Registry) {
	type field struct {
		table string
		col   registry.TableColumn
		file  string
	}
	byNorm := make(map[string][]field)
	for _, t := range reg.Tables {
		for _, col := range t.Columns {
			key := naming.Normalize(col.Name)
			if key == "" {
				continue
			}
			byNorm[key] = append(byNorm[key], field{table: t.Name, col: col, file: t.File})
		}
	}

	columns := make([]string, 0)
	for id, n := range b.g.Nodes {
		if n.Type == NodeColumn {
			columns = append(columns, id)
		}
	}
	sort.Strings(columns)
	for _, id := range columns {
		name := b.g.Nodes[id].Attrs.Name
		for _, f := range byNorm[naming.Normalize(name)] {
			b.addEdge(Edge{
				Source:     id,
				Target:     DBColumnID(f.table, f.col.Name),
				Type:       EdgeMapsTo,
				Provenance: &parser.Location{File: f.file, Line: f.col.Line},
				Operation:  "name match",
				Confidence: parser.ConfidenceStatic,
			})
		}
	}
}

// addDependencies links producer -> consumer when one script's output file
// is another's input.
func (b *builder) addDependencies() {
	files := fileutil.MapKeysSorted(b.consumer)
	for _, file := range files {
		for _, out := range b.producer[file] {
			for _, in := range b.consumer[file] {
				if out.Binding == in.Binding {
					continue
				}
				b.addEdge(Edge{
					Source:     ScriptID(out.Binding),
					Target:     ScriptID(in.Binding),
					Type:       EdgeDependsOn,
					Provenance: &parser.Location{File: b.scripts[ScriptID(in.Binding)], Line: in.Line},
					Operation:  "via " + file,
					Confidence: parser.WeakestConfidence(out.Confidence, in.Confidence),
				})
			}
		}
	}
}

// Validate enforces that every edge endpoint is a node.
func (g *Graph) Validate() error {
	dangling := make([]string, 0)
	for _, e := range g.Edges {
		_, okSource := g.Nodes[e.Source]
		_, okTarget := g.Nodes[e.Target]
		if !okSource || !okTarget {
			dangling = append(dangling, fmt.Sprintf("%s %s -> %s", e.Type, e.Source, e.Target))
		}
	}
	if len(dangling) > 0 {
		sort.Strings(dangling)
		return &oerrors.BuildInvariantError{
			Kind:   oerrors.DanglingEdge,
			Detail: "edge endpoint missing from graph",
			Items:  dangling,
		}
	}
	return nil
}

func (g *Graph) finalize() {
	for _, n := range g.Nodes {
		n.Attrs.WrittenBy = fileutil.SortedUnique(n.Attrs.WrittenBy)
		n.Attrs.ReadBy = fileutil.SortedUnique(n.Attrs.ReadBy)
	}

	sort.SliceStable(g.Edges, func(i, j int) bool {
		a, b := g.Edges[i], g.Edges[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Target < b.Target
	})

	g.Stats = Stats{
		Nodes:       len(g.Nodes),
		Edges:       len(g.Edges),
		NodesByType: make(map[string]int),
		EdgesByType: make(map[string]int),
	}
	for _, n := range g.Nodes {
		g.Stats.NodesByType[n.Type]++
	}
	for _, e := range g.Edges {
		g.Stats.EdgesByType[e.Type]++
	}

	g.Impacts = make(map[string]*TieredImpact)
	for id, n := range g.Nodes {
		if n.Type == NodeScript {
			g.Impacts[n.Attrs.Name] = g.computeImpact(id)
		}
	}
}

// index builds adjacency lists on first use. Graphs decoded from disk get
// theirs the same way.
func (g *Graph) index() {
	g.indexOnce.Do(func() {
		g.out = make(map[string][]int)
		g.in = make(map[string][]int)
		for i, e := range g.Edges {
			g.out[e.Source] = append(g.out[e.Source], i)
			g.in[e.Target] = append(g.in[e.Target], i)
		}
	})
}

func scriptOrStem(fs *parser.FactSet) string {
	if fs.Script != "" {
		return fs.Script
	}
	return naming.ScriptID(fs.Path)
}

func hasColumn(t registry.TableSymbol, column string) bool {
	for _, col := range t.Columns {
		if col.Name == column {
			return true
		}
	}
	return false
}

func onlyTableWith(reg *registry.Registry, column string) (registry.TableSymbol, bool) {
	var found registry.TableSymbol
	count := 0
	for _, t := range reg.Tables {
		if hasColumn(t, column) {
			found = t
			count++
		}
	}
	return found, count == 1
}
