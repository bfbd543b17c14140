package parser

import (
	"fmt"
	"sort"

	"github.com/skelly-dev/context-oracle/internal/oerrors"
)

// Confidence grades how a lineage fact was derived.
type Confidence string

const (
	// ConfidenceStatic facts come straight from literals in the syntax tree.
	ConfidenceStatic Confidence = "static"
	// ConfidenceTraced facts went through one intermediate variable binding.
	ConfidenceTraced Confidence = "traced"
	// ConfidenceUnknown facts rest on a heuristic or an incomplete source set.
	ConfidenceUnknown Confidence = "unknown"
)

var confidenceRank = map[Confidence]int{
	ConfidenceStatic:  3,
	ConfidenceTraced:  2,
	ConfidenceUnknown: 1,
}

// WeakestConfidence returns the lower of a and b.
func WeakestConfidence(a, b Confidence) Confidence {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if confidenceRank[b] < confidenceRank[a] {
		return b
	}
	return a
}

// StrongestConfidence returns the higher of a and b.
func StrongestConfidence(a, b Confidence) Confidence {
	if confidenceRank[b] > confidenceRank[a] {
		return b
	}
	return a
}

// Location is a file:line provenance pointer.
type Location struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// CallSite captures a call expression discovered inside a function body.
type CallSite struct {
	Name      string `json:"name"`
	Qualifier string `json:"qualifier,omitempty"`
	Line      int    `json:"line,omitempty"`
}

type FunctionFact struct {
	Name       string     `json:"name"`
	Class      string     `json:"class,omitempty"`
	Signature  string     `json:"signature"`
	Docstring  string     `json:"docstring,omitempty"`
	ReturnType string     `json:"return_type,omitempty"`
	Line       int        `json:"line"`
	EndLine    int        `json:"end_line,omitempty"`
	Calls      []CallSite `json:"calls,omitempty"`
}

type ConstantFact struct {
	Name      string `json:"name"`
	Line      int    `json:"line"`
	ValueKind string `json:"value_kind"`
	Preview   string `json:"preview"`
}

// ColumnRef is a bracketed-name access on a table-like variable.
type ColumnRef struct {
	Column   string `json:"column"`
	Line     int    `json:"line"`
	Function string `json:"function,omitempty"`
}

// SourceColumn is one column feeding a write.
type SourceColumn struct {
	Column     string     `json:"column"`
	Confidence Confidence `json:"confidence"`
	Via        string     `json:"via,omitempty"`
}

// ColumnWrite is `table["name"] = expr`.
type ColumnWrite struct {
	Column     string         `json:"column"`
	Line       int            `json:"line"`
	Function   string         `json:"function,omitempty"`
	Sources    []SourceColumn `json:"sources,omitempty"`
	Operation  string         `json:"operation,omitempty"`
	Dtype      string         `json:"dtype,omitempty"`
	Incomplete bool           `json:"incomplete,omitempty"`
}

type Rename struct {
	From string `json:"from"`
	To   string `json:"to"`
	Line int    `json:"line"`
}

// FileRef is a data file a script reads or writes.
type FileRef struct {
	Path       string     `json:"path"`
	Line       int        `json:"line"`
	Confidence Confidence `json:"confidence"`
	Binding    string     `json:"binding,omitempty"`
}

// ColumnMapping is one entry of a `*_MAPPING = {"csv": "db"}` dict.
type ColumnMapping struct {
	Mapping string `json:"mapping"`
	Source  string `json:"source"`
	Target  string `json:"target"`
	Line    int    `json:"line"`
}

type FieldRef struct {
	Variable string `json:"variable"`
	Field    string `json:"field"`
}

type TableField struct {
	Key        string    `json:"key"`
	Column     string    `json:"column"`
	Type       string    `json:"type,omitempty"`
	Line       int       `json:"line"`
	PrimaryKey bool      `json:"primary_key,omitempty"`
	NotNull    bool      `json:"not_null,omitempty"`
	Unique     bool      `json:"unique,omitempty"`
	References *FieldRef `json:"references,omitempty"`
}

type TableDef struct {
	Name     string       `json:"name"`
	Variable string       `json:"variable,omitempty"`
	Line     int          `json:"line"`
	Fields   []TableField `json:"fields"`
}

// PrimaryKey returns the db column names flagged as primary key.
func (t TableDef) PrimaryKey() []string {
	keys := make([]string, 0, 1)
	for _, field := range t.Fields {
		if field.PrimaryKey {
			keys = append(keys, field.Column)
		}
	}
	return keys
}

// CallEdge is a caller -> callee pair by syntactic name.
type CallEdge struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
	Line   int    `json:"line"`
}

// FactSet is everything one extractor run learned about one file. A non-nil
// Error means the file failed to parse; an empty FactSet without Error means
// the file simply has nothing to report.
type FactSet struct {
	Path      string `json:"path"`
	Language  string `json:"language"`
	Hash      string `json:"hash"`
	Script    string `json:"script,omitempty"`
	Docstring string `json:"docstring,omitempty"`

	Functions    []FunctionFact  `json:"functions,omitempty"`
	Constants    []ConstantFact  `json:"constants,omitempty"`
	ColumnReads  []ColumnRef     `json:"column_reads,omitempty"`
	ColumnWrites []ColumnWrite   `json:"column_writes,omitempty"`
	Joins        []ColumnRef     `json:"joins,omitempty"`
	Renames      []Rename        `json:"renames,omitempty"`
	DynamicRefs  []ColumnRef     `json:"dynamic_refs,omitempty"`
	Inputs       []FileRef       `json:"inputs,omitempty"`
	Outputs      []FileRef       `json:"outputs,omitempty"`
	Mappings     []ColumnMapping `json:"mappings,omitempty"`
	Tables       []TableDef      `json:"tables,omitempty"`

	Error *oerrors.ExtractionError `json:"error,omitempty"`
}

// Failed reports whether extraction of this file failed.
func (f *FactSet) Failed() bool {
	return f != nil && f.Error != nil
}

// CallEdges flattens function call sites into caller -> callee pairs.
func (f *FactSet) CallEdges() []CallEdge {
	edges := make([]CallEdge, 0)
	for _, fn := range f.Functions {
		for _, call := range fn.Calls {
			edges = append(edges, CallEdge{Caller: fn.Name, Callee: call.Name, Line: call.Line})
		}
	}
	return edges
}

// WrittenColumns returns the distinct columns this file writes, sorted.
func (f *FactSet) WrittenColumns() []string {
	seen := make(map[string]bool, len(f.ColumnWrites))
	out := make([]string, 0, len(f.ColumnWrites))
	for _, write := range f.ColumnWrites {
		if seen[write.Column] {
			continue
		}
		seen[write.Column] = true
		out = append(out, write.Column)
	}
	sort.Strings(out)
	return out
}

// Failure builds the FactSet recorded for a file that could not be parsed.
func Failure(path, language, hash, reason string) *FactSet {
	return &FactSet{
		Path:     path,
		Language: language,
		Hash:     hash,
		Error:    &oerrors.ExtractionError{File: path, Reason: reason},
	}
}
