package patterns

import (
	"math"

	"github.com/skelly-dev/context-oracle/internal/fileutil"
	"github.com/skelly-dev/context-oracle/internal/registry"
	"github.com/skelly-dev/context-oracle/internal/search"
)

type PatternResult struct {
	Found       bool              `json:"found"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Structure   []string          `json:"structure"`
	Templates   map[string]string `json:"templates"`
	Conventions []string          `json:"conventions"`
	Examples    []string          `json:"examples"`
	Available   []string          `json:"available,omitempty"`
}

// Get looks a pattern up by name. A miss lists the available names.
func (l *Library) Get(name string) PatternResult {
	res := PatternResult{
		Name:        name,
		Structure:   []string{},
		Templates:   map[string]string{},
		Conventions: []string{},
		Examples:    []string{},
	}
	if l == nil {
		return res
	}
	p, ok := l.Patterns[name]
	if !ok {
		res.Available = l.Names()
		return res
	}
	res.Found = true
	res.Description = p.Description
	if p.Structure != nil {
		res.Structure = p.Structure
	}
	if p.Templates != nil {
		res.Templates = p.Templates
	}
	if p.Conventions != nil {
		res.Conventions = p.Conventions
	}
	if p.Examples != nil {
		res.Examples = p.Examples
	}
	return res
}

func (l *Library) Names() []string {
	if l == nil {
		return []string{}
	}
	return fileutil.MapKeysSorted(l.Patterns)
}

type SimilarMatch struct {
	Name      string   `json:"name"`
	Location  string   `json:"location"`
	Signature string   `json:"signature,omitempty"`
	Docstring string   `json:"docstring,omitempty"`
	Score     float64  `json:"score"`
	Matched   []string `json:"matched"`
}

type SimilarResult struct {
	Found       bool           `json:"found"`
	Description string         `json:"description"`
	Matches     []SimilarMatch `json:"matches"`
}

// FindSimilar is a keyword match of description against function names and
// docstrings. It reports found:false unless at least one non-stopword term
// overlaps; it never guesses.
func FindSimilar(description string, reg *registry.Registry, limit int) SimilarResult {
	res := SimilarResult{Description: description, Matches: []SimilarMatch{}}
	if reg == nil || len(search.Keywords(description)) == 0 {
		return res
	}

	docs := make([]search.Document, 0, len(reg.Functions))
	byID := make(map[string]registry.FunctionSymbol, len(reg.Functions))
	for _, fn := range reg.Functions {
		docs = append(docs, search.Document{
			ID:        fn.ID,
			Name:      fn.Name,
			Signature: fn.Signature,
			File:      fn.File,
			Line:      fn.Line,
			Doc:       fn.Docstring,
		})
		byID[fn.ID] = fn
	}

	for _, hit := range search.Search(search.Build(docs), description, limit) {
		if len(hit.Matched) == 0 {
			continue
		}
		fn := byID[hit.ID]
		res.Matches = append(res.Matches, SimilarMatch{
			Name:      fn.QualifiedName(),
			Location:  fn.Location(),
			Signature: fn.Signature,
			Docstring: fn.Docstring,
			Score:     math.Round(hit.Score*1000) / 1000,
			Matched:   hit.Matched,
		})
	}
	res.Found = len(res.Matches) > 0
	return res
}
