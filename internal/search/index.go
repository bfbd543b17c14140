package search

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "data": true, "df": true, "for": true, "from": true,
	"in": true, "into": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "the": true, "this": true, "to": true, "with": true,
}

// Document is one searchable function: its name, signature and docstring.
type Document struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Signature string         `json:"signature,omitempty"`
	File      string         `json:"file"`
	Line      int            `json:"line"`
	Doc       string         `json:"doc,omitempty"`
	Length    int            `json:"length"`
	Terms     map[string]int `json:"terms"`
}

// Index is a BM25 keyword index over documents.
type Index struct {
	DocumentCount int            `json:"document_count"`
	AvgDocLength  float64        `json:"avg_doc_length"`
	DocFreq       map[string]int `json:"doc_freq"`
	Documents     []Document     `json:"documents"`
}

type Result struct {
	ID      string
	Score   float64
	Matched []string
}

// Build indexes documents. Terms and Length are computed here.
func Build(docs []Document) *Index {
	documents := make([]Document, 0, len(docs))
	docFreq := make(map[string]int)
	totalLength := 0

	for _, doc := range docs {
		terms := buildTerms(doc.Name, doc.Signature, doc.Doc)
		length := 0
		for _, count := range terms {
			length += count
		}
		if length == 0 {
			continue
		}
		doc.Terms = terms
		doc.Length = length
		documents = append(documents, doc)
		totalLength += length

		for term := range terms {
			docFreq[term]++
		}
	}

	sort.Slice(documents, func(i, j int) bool {
		return documents[i].ID < documents[j].ID
	})

	avgDocLength := 0.0
	if len(documents) > 0 {
		avgDocLength = float64(totalLength) / float64(len(documents))
	}

	return &Index{
		DocumentCount: len(documents),
		AvgDocLength:  avgDocLength,
		DocFreq:       docFreq,
		Documents:     documents,
	}
}

// Search returns documents sharing at least one keyword with query.
func Search(index *Index, query string, limit int) []Result {
	if index == nil || len(index.Documents) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = 10
	}

	uniqueTerms := Keywords(query)
	if len(uniqueTerms) == 0 {
		return nil
	}

	k1 := 1.2
	b := 0.75
	n := float64(index.DocumentCount)
	avgLen := index.AvgDocLength
	if avgLen <= 0 {
		avgLen = 1
	}

	results := make([]Result, 0)
	for _, doc := range index.Documents {
		score := 0.0
		matched := make([]string, 0)
		docLen := float64(doc.Length)
		for _, term := range uniqueTerms {
			tf := float64(doc.Terms[term])
			if tf <= 0 {
				continue
			}
			df := float64(index.DocFreq[term])
			if df <= 0 {
				continue
			}
			matched = append(matched, term)
			idf := math.Log(1.0 + ((n - df + 0.5) / (df + 0.5)))
			numerator := tf * (k1 + 1.0)
			denominator := tf + k1*(1.0-b+b*(docLen/avgLen))
			score += idf * (numerator / denominator)
		}
		if score > 0 {
			results = append(results, Result{ID: doc.ID, Score: score, Matched: matched})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Keywords lowercases text, splits identifiers on underscores and drops
// stopwords. The result is deduplicated in first-seen order.
func Keywords(text string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, token := range tokenize(text) {
		if stopwords[token] || seen[token] {
			continue
		}
		seen[token] = true
		out = append(out, token)
	}
	return out
}

func buildTerms(name, signature, doc string) map[string]int {
	terms := make(map[string]int)
	addWeighted(terms, name, 4)
	addWeighted(terms, signature, 2)
	addWeighted(terms, doc, 1)
	return terms
}

func addWeighted(terms map[string]int, value string, weight int) {
	if weight <= 0 {
		return
	}
	for _, token := range tokenize(value) {
		if stopwords[token] {
			continue
		}
		terms[token] += weight
	}
}

func tokenize(value string) []string {
	value = strings.ToLower(value)
	if value == "" {
		return nil
	}
	return tokenPattern.FindAllString(value, -1)
}
