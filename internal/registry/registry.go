// Package registry aggregates per-file facts into the symbol registry:
// functions, constants, columns and tables, with a reverse call index.
package registry

import (
	"fmt"
	"sort"

	"github.com/skelly-dev/context-oracle/internal/fileutil"
	"github.com/skelly-dev/context-oracle/internal/naming"
	"github.com/skelly-dev/context-oracle/internal/oerrors"
	"github.com/skelly-dev/context-oracle/internal/parser"
)

const Version = "registry-v1"

const (
	KindFunction = "function"
	KindConstant = "constant"
	KindColumn   = "column"
	KindTable    = "table"
)

// Kinds lists symbol kinds in verify precedence order.
var Kinds = []string{KindFunction, KindTable, KindConstant, KindColumn}

const (
	CoverageComplete = "complete"
	CoveragePartial  = "partial"
)

type FunctionSymbol struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Class      string   `json:"class,omitempty"`
	File       string   `json:"file"`
	Line       int      `json:"line"`
	Signature  string   `json:"signature"`
	Docstring  string   `json:"docstring,omitempty"`
	ReturnType string   `json:"return_type,omitempty"`
	Calls      []string `json:"calls,omitempty"`
	CalledBy   []string `json:"called_by,omitempty"`
}

// QualifiedName is Class.name for methods and name otherwise.
func (f FunctionSymbol) QualifiedName() string {
	if f.Class != "" {
		return f.Class + "." + f.Name
	}
	return f.Name
}

func (f FunctionSymbol) Location() string {
	return fmt.Sprintf("%s:%d", f.File, f.Line)
}

type ConstantSymbol struct {
	Name      string `json:"name"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	ValueKind string `json:"value_kind"`
	Preview   string `json:"preview"`
}

// ColumnSite is one place a column is read, written or joined on.
type ColumnSite struct {
	Script     string `json:"script"`
	File       string `json:"file"`
	Line       int    `json:"line"`
	Function   string `json:"function,omitempty"`
	Dtype      string `json:"dtype,omitempty"`
	Incomplete bool   `json:"incomplete,omitempty"`
}

func (s ColumnSite) Location() string {
	return fmt.Sprintf("%s:%d", s.File, s.Line)
}

// ColumnSymbol is keyed by name only and merged across files.
type ColumnSymbol struct {
	Name      string       `json:"name"`
	Writers   []ColumnSite `json:"writers"`
	Readers   []ColumnSite `json:"readers"`
	Joins     []ColumnSite `json:"joins,omitempty"`
	CreatedBy string       `json:"created_by,omitempty"`
	Dtype     string       `json:"dtype,omitempty"`
	Coverage  string       `json:"coverage"`
}

func (c *ColumnSymbol) empty() bool {
	return len(c.Writers) == 0 && len(c.Readers) == 0 && len(c.Joins) == 0
}

type TableColumn struct {
	Name       string `json:"name"`
	Key        string `json:"key"`
	Type       string `json:"type,omitempty"`
	Line       int    `json:"line"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
	NotNull    bool   `json:"not_null,omitempty"`
	Unique     bool   `json:"unique,omitempty"`
}

// ForeignKey links a column to another table. Table and References stay
// empty when the referenced variable is not a known table.
type ForeignKey struct {
	Column     string `json:"column"`
	Variable   string `json:"variable"`
	Field      string `json:"field"`
	Table      string `json:"table,omitempty"`
	References string `json:"references,omitempty"`
}

type TableSymbol struct {
	Name        string        `json:"name"`
	Variable    string        `json:"variable,omitempty"`
	File        string        `json:"file"`
	Line        int           `json:"line"`
	Columns     []TableColumn `json:"columns"`
	PrimaryKey  []string      `json:"primary_key"`
	ForeignKeys []ForeignKey  `json:"foreign_keys,omitempty"`
}

// ColumnNames returns the db column names in declaration order.
func (t TableSymbol) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		names = append(names, col.Name)
	}
	return names
}

type Stats struct {
	Files          int `json:"files"`
	Functions      int `json:"functions"`
	Constants      int `json:"constants"`
	Columns        int `json:"columns"`
	PartialColumns int `json:"partial_columns"`
	Tables         int `json:"tables"`
}

// Registry is the registry.json document.
type Registry struct {
	Version     string                   `json:"version"`
	GeneratedAt string                   `json:"generated_at"`
	Files       []string                 `json:"files"`
	Functions   []FunctionSymbol         `json:"functions"`
	Constants   []ConstantSymbol         `json:"constants"`
	Columns     map[string]*ColumnSymbol `json:"columns"`
	Tables      []TableSymbol            `json:"tables"`
	Stats       Stats                    `json:"stats"`
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		Version:   Version,
		Files:     []string{},
		Functions: []FunctionSymbol{},
		Constants: []ConstantSymbol{},
		Columns:   map[string]*ColumnSymbol{},
		Tables:    []TableSymbol{},
	}
}

// Rebuild derives the next registry from prev. Every file in changed has its
// previous contributions removed and its new facts added; files in removed
// are purged. Failed fact sets contribute nothing. prev is not modified.
func Rebuild(prev *Registry, changed []*parser.FactSet, removed []string) (*Registry, error) {
	if prev == nil {
		prev = New()
	}

	drop := fileutil.ToSet(removed)
	for _, facts := range changed {
		drop[facts.Path] = true
	}

	next := prev.without(drop)
	next.GeneratedAt = prev.GeneratedAt

	ordered := append([]*parser.FactSet(nil), changed...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Path < ordered[j].Path })
	for _, facts := range ordered {
		if facts.Failed() {
			continue
		}
		next.add(facts)
	}

	if err := next.finalize(); err != nil {
		return nil, err
	}
	return next, nil
}

// without copies r minus every contribution from the given files.
func (r *Registry) without(drop map[string]bool) *Registry {
	next := New()
	for _, file := range r.Files {
		if !drop[file] {
			next.Files = append(next.Files, file)
		}
	}
	for _, fn := range r.Functions {
		if !drop[fn.File] {
			fn.Calls = append([]string(nil), fn.Calls...)
			fn.CalledBy = nil
			next.Functions = append(next.Functions, fn)
		}
	}
	for _, c := range r.Constants {
		if !drop[c.File] {
			next.Constants = append(next.Constants, c)
		}
	}
	for _, t := range r.Tables {
		if !drop[t.File] {
			next.Tables = append(next.Tables, t)
		}
	}
	for name, col := range r.Columns {
		kept := &ColumnSymbol{
			Name:    name,
			Writers: keepSites(col.Writers, drop),
			Readers: keepSites(col.Readers, drop),
			Joins:   keepSites(col.Joins, drop),
		}
		if !kept.empty() {
			next.Columns[name] = kept
		}
	}
	return next
}

func keepSites(sites []ColumnSite, drop map[string]bool) []ColumnSite {
	var out []ColumnSite
	for _, site := range sites {
		if !drop[site.File] {
			out = append(out, site)
		}
	}
	return out
}

func (r *Registry) add(facts *parser.FactSet) {
	r.Files = append(r.Files, facts.Path)
	script := facts.Script
	if script == "" {
		script = naming.ScriptID(facts.Path)
	}

	// last definition of a (file, name) pair wins
	byName := make(map[string]int)
	for _, fn := range facts.Functions {
		sym := FunctionSymbol{
			ID:         parser.StableFunctionID(facts.Path, fn),
			Name:       fn.Name,
			Class:      fn.Class,
			File:       facts.Path,
			Line:       fn.Line,
			Signature:  fn.Signature,
			Docstring:  fn.Docstring,
			ReturnType: fn.ReturnType,
		}
		for _, call := range fn.Calls {
			sym.Calls = append(sym.Calls, call.Name)
		}
		sym.Calls = fileutil.SortedUnique(sym.Calls)
		if idx, ok := byName[sym.QualifiedName()]; ok {
			r.Functions[idx] = sym
			continue
		}
		byName[sym.QualifiedName()] = len(r.Functions)
		r.Functions = append(r.Functions, sym)
	}

	for _, c := range facts.Constants {
		r.Constants = append(r.Constants, ConstantSymbol{
			Name:      c.Name,
			File:      facts.Path,
			Line:      c.Line,
			ValueKind: c.ValueKind,
			Preview:   c.Preview,
		})
	}

	for _, w := range facts.ColumnWrites {
		col := r.column(w.Column)
		col.Writers = append(col.Writers, ColumnSite{Script: script, File: facts.Path, Line: w.Line, Function: w.Function, Dtype: w.Dtype, Incomplete: w.Incomplete})
	}
	for _, ref := range facts.ColumnReads {
		col := r.column(ref.Column)
		col.Readers = append(col.Readers, ColumnSite{Script: script, File: facts.Path, Line: ref.Line, Function: ref.Function})
	}
	for _, ref := range facts.Joins {
		col := r.column(ref.Column)
		col.Joins = append(col.Joins, ColumnSite{Script: script, File: facts.Path, Line: ref.Line, Function: ref.Function})
	}

	for _, t := range facts.Tables {
		table := TableSymbol{
			Name:       t.Name,
			Variable:   t.Variable,
			File:       facts.Path,
			Line:       t.Line,
			Columns:    make([]TableColumn, 0, len(t.Fields)),
			PrimaryKey: t.PrimaryKey(),
		}
		for _, f := range t.Fields {
			table.Columns = append(table.Columns, TableColumn{
				Name:       f.Column,
				Key:        f.Key,
				Type:       f.Type,
				Line:       f.Line,
				PrimaryKey: f.PrimaryKey,
				NotNull:    f.NotNull,
				Unique:     f.Unique,
			})
			if f.References != nil {
				table.ForeignKeys = append(table.ForeignKeys, ForeignKey{
					Column:   f.Column,
					Variable: f.References.Variable,
					Field:    f.References.Field,
				})
			}
		}
		r.Tables = append(r.Tables, table)
	}
}

func (r *Registry) column(name string) *ColumnSymbol {
	col, ok := r.Columns[name]
	if !ok {
		col = &ColumnSymbol{Name: name}
		r.Columns[name] = col
	}
	return col
}

// finalize recomputes every derived field and sorts for stable output.
func (r *Registry) finalize() error {
	sort.Strings(r.Files)

	sort.Slice(r.Functions, func(i, j int) bool {
		a, b := r.Functions[i], r.Functions[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.QualifiedName() < b.QualifiedName()
	})
	r.computeCalledBy()

	sort.Slice(r.Constants, func(i, j int) bool {
		a, b := r.Constants[i], r.Constants[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})

	partial := 0
	for _, col := range r.Columns {
		sortSites(col.Writers)
		sortSites(col.Readers)
		sortSites(col.Joins)
		col.CreatedBy = ""
		if len(col.Writers) > 0 {
			col.CreatedBy = col.Writers[0].Location()
		}
		// dtype comes from the first writer that declares one
		col.Dtype = ""
		for _, w := range col.Writers {
			if w.Dtype != "" {
				col.Dtype = w.Dtype
				break
			}
		}
		col.Coverage = CoverageComplete
		for _, w := range col.Writers {
			if w.Incomplete {
				col.Coverage = CoveragePartial
				partial++
				break
			}
		}
		if col.Writers == nil {
			col.Writers = []ColumnSite{}
		}
		if col.Readers == nil {
			col.Readers = []ColumnSite{}
		}
	}

	sort.Slice(r.Tables, func(i, j int) bool { return r.Tables[i].Name < r.Tables[j].Name })
	if err := r.checkTableIdentity(); err != nil {
		return err
	}
	r.resolveForeignKeys()

	r.Stats = Stats{
		Files:          len(r.Files),
		Functions:      len(r.Functions),
		Constants:      len(r.Constants),
		Columns:        len(r.Columns),
		PartialColumns: partial,
		Tables:         len(r.Tables),
	}
	return nil
}

func (r *Registry) computeCalledBy() {
	byName := make(map[string][]int)
	for i := range r.Functions {
		r.Functions[i].CalledBy = nil
		byName[r.Functions[i].Name] = append(byName[r.Functions[i].Name], i)
	}
	for _, caller := range r.Functions {
		for _, callee := range caller.Calls {
			for _, idx := range byName[callee] {
				r.Functions[idx].CalledBy = append(r.Functions[idx].CalledBy, caller.QualifiedName())
			}
		}
	}
	for i := range r.Functions {
		r.Functions[i].CalledBy = fileutil.SortedUnique(r.Functions[i].CalledBy)
	}
}

func (r *Registry) checkTableIdentity() error {
	seen := make(map[string]string, len(r.Tables))
	dupes := make([]string, 0)
	for _, t := range r.Tables {
		if prev, ok := seen[t.Name]; ok {
			dupes = append(dupes, fmt.Sprintf("table:%s (%s, %s)", t.Name, prev, t.File))
			continue
		}
		seen[t.Name] = t.File
	}
	if len(dupes) > 0 {
		return &oerrors.BuildInvariantError{
			Kind:   oerrors.DuplicateIdentity,
			Detail: "table defined more than once",
			Items:  dupes,
		}
	}
	return nil
}

func (r *Registry) resolveForeignKeys() {
	byVariable := make(map[string]*TableSymbol, len(r.Tables))
	for i := range r.Tables {
		if r.Tables[i].Variable != "" {
			byVariable[r.Tables[i].Variable] = &r.Tables[i]
		}
	}
	for i := range r.Tables {
		for j := range r.Tables[i].ForeignKeys {
			fk := &r.Tables[i].ForeignKeys[j]
			fk.Table, fk.References = "", ""
			target, ok := byVariable[fk.Variable]
			if !ok {
				continue
			}
			for _, col := range target.Columns {
				if col.Key == fk.Field {
					fk.Table = target.Name
					fk.References = col.Name
					break
				}
			}
		}
	}
}

func sortSites(sites []ColumnSite) {
	sort.Slice(sites, func(i, j int) bool {
		if sites[i].File != sites[j].File {
			return sites[i].File < sites[j].File
		}
		if sites[i].Line != sites[j].Line {
			return sites[i].Line < sites[j].Line
		}
		return sites[i].Function < sites[j].Function
	})
}

// FunctionsNamed returns the functions named name (plain or Class.name).
func (r *Registry) FunctionsNamed(name string) []FunctionSymbol {
	out := make([]FunctionSymbol, 0, 1)
	for _, fn := range r.Functions {
		if fn.Name == name || fn.QualifiedName() == name {
			out = append(out, fn)
		}
	}
	return out
}

// Table returns the table with the given name.
func (r *Registry) Table(name string) (TableSymbol, bool) {
	for _, t := range r.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSymbol{}, false
}
