package registry

import (
	"fmt"
	"sort"

	"github.com/skelly-dev/context-oracle/internal/search"
)

type VerifyResult struct {
	Found      bool     `json:"found"`
	Name       string   `json:"name"`
	Kind       string   `json:"kind,omitempty"`
	Location   string   `json:"location,omitempty"`
	Signature  string   `json:"signature,omitempty"`
	Docstring  string   `json:"docstring,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
	Matches    []string `json:"matches,omitempty"`
}

type WhoSite struct {
	Script   string `json:"script"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Location string `json:"location"`
	Function string `json:"function,omitempty"`
}

type WhoResult struct {
	Found      bool      `json:"found"`
	Column     string    `json:"column"`
	Writers    []WhoSite `json:"writers"`
	Readers    []WhoSite `json:"readers"`
	Coverage   string    `json:"coverage,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
}

// Lookup answers verify, search and who against one registry snapshot.
type Lookup struct {
	reg       *Registry
	threshold float64
}

// NewLookup binds reg with a similarity threshold; zero means the default.
func NewLookup(reg *Registry, threshold float64) *Lookup {
	if reg == nil {
		reg = New()
	}
	if threshold <= 0 {
		threshold = search.DefaultThreshold
	}
	return &Lookup{reg: reg, threshold: threshold}
}

// Verify looks name up exactly. Without a kind, kinds are tried in the order
// function, table, constant, column. A miss carries the closest known name.
//
// A function defined in several files reports the first definition in path
// order as Location and lists every definition, that one included, in
// Matches. Callers must check Matches before treating Location as the only
// definition.
func (l *Lookup) Verify(name, kind string) VerifyResult {
	kinds, ok := kindsFor(kind)
	if !ok {
		return VerifyResult{Name: name, Kind: kind}
	}

	for _, k := range kinds {
		if result, found := l.exact(name, k); found {
			return result
		}
	}

	result := VerifyResult{Name: name, Kind: kind}
	if hits := search.Rank(name, l.candidates(kinds), l.threshold, 1); len(hits) > 0 {
		result.Suggestion = hits[0].Name
	}
	return result
}

func (l *Lookup) exact(name, kind string) (VerifyResult, bool) {
	result := VerifyResult{Found: true, Name: name, Kind: kind}
	switch kind {
	case KindFunction:
		fns := l.reg.FunctionsNamed(name)
		if len(fns) == 0 {
			return VerifyResult{}, false
		}
		result.Location = fns[0].Location()
		result.Signature = fns[0].Signature
		result.Docstring = fns[0].Docstring
		if len(fns) > 1 {
			for _, fn := range fns {
				result.Matches = append(result.Matches, fn.Location())
			}
		}
	case KindTable:
		table, ok := l.reg.Table(name)
		if !ok {
			return VerifyResult{}, false
		}
		result.Location = fmt.Sprintf("%s:%d", table.File, table.Line)
	case KindConstant:
		matches := make([]ConstantSymbol, 0, 1)
		for _, c := range l.reg.Constants {
			if c.Name == name {
				matches = append(matches, c)
			}
		}
		if len(matches) == 0 {
			return VerifyResult{}, false
		}
		result.Location = fmt.Sprintf("%s:%d", matches[0].File, matches[0].Line)
		if len(matches) > 1 {
			for _, c := range matches {
				result.Matches = append(result.Matches, fmt.Sprintf("%s:%d", c.File, c.Line))
			}
		}
	case KindColumn:
		col, ok := l.reg.Columns[name]
		if !ok {
			return VerifyResult{}, false
		}
		result.Location = columnLocation(col)
	default:
		return VerifyResult{}, false
	}
	return result, true
}

// Search ranks every known name of the requested kind against query.
func (l *Lookup) Search(query, kind string, limit int) []search.Hit {
	kinds, ok := kindsFor(kind)
	if !ok {
		return []search.Hit{}
	}
	hits := search.Rank(query, l.candidates(kinds), l.threshold, limit)
	if hits == nil {
		hits = []search.Hit{}
	}
	return hits
}

// Who lists the scripts writing and reading column.
func (l *Lookup) Who(column string) WhoResult {
	col, ok := l.reg.Columns[column]
	if !ok {
		result := WhoResult{Column: column, Writers: []WhoSite{}, Readers: []WhoSite{}}
		if hits := search.Rank(column, l.candidates([]string{KindColumn}), l.threshold, 1); len(hits) > 0 {
			result.Suggestion = hits[0].Name
		}
		return result
	}
	return WhoResult{
		Found:    true,
		Column:   column,
		Writers:  whoSites(col.Writers),
		Readers:  whoSites(col.Readers),
		Coverage: col.Coverage,
	}
}

func (l *Lookup) candidates(kinds []string) []search.Candidate {
	out := make([]search.Candidate, 0)
	for _, kind := range kinds {
		switch kind {
		case KindFunction:
			for _, fn := range l.reg.Functions {
				out = append(out, search.Candidate{Name: fn.Name, Kind: kind, Location: fn.Location()})
			}
		case KindConstant:
			for _, c := range l.reg.Constants {
				out = append(out, search.Candidate{Name: c.Name, Kind: kind, Location: fmt.Sprintf("%s:%d", c.File, c.Line)})
			}
		case KindColumn:
			names := make([]string, 0, len(l.reg.Columns))
			for name := range l.reg.Columns {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				out = append(out, search.Candidate{Name: name, Kind: kind, Location: columnLocation(l.reg.Columns[name])})
			}
		case KindTable:
			for _, t := range l.reg.Tables {
				out = append(out, search.Candidate{Name: t.Name, Kind: kind, Location: fmt.Sprintf("%s:%d", t.File, t.Line)})
			}
		}
	}
	return out
}

func kindsFor(kind string) ([]string, bool) {
	if kind == "" {
		return Kinds, true
	}
	for _, k := range Kinds {
		if k == kind {
			return []string{kind}, true
		}
	}
	return nil, false
}

// columnLocation is the creator, or the first read when nothing writes it.
func columnLocation(col *ColumnSymbol) string {
	if col.CreatedBy != "" {
		return col.CreatedBy
	}
	if len(col.Readers) > 0 {
		return col.Readers[0].Location()
	}
	if len(col.Joins) > 0 {
		return col.Joins[0].Location()
	}
	return ""
}

func whoSites(sites []ColumnSite) []WhoSite {
	out := make([]WhoSite, 0, len(sites))
	for _, site := range sites {
		out = append(out, WhoSite{
			Script:   site.Script,
			File:     site.File,
			Line:     site.Line,
			Location: site.Location(),
			Function: site.Function,
		})
	}
	return out
}
