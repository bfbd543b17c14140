package search

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultThreshold is the score a candidate must exceed to be reported.
const DefaultThreshold = 0.3

const containmentScore = 0.8

// Candidate is any named thing a fuzzy lookup can return.
type Candidate struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Location string `json:"location,omitempty"`
}

// Hit is a scored candidate.
type Hit struct {
	Candidate
	Score float64 `json:"score"`
}

// Similarity is the case-insensitive sequence-matcher ratio of a and b,
// raised to 0.8 when one contains the other.
func Similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == "" || b == "" {
		return 0
	}
	matcher := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	ratio := matcher.Ratio()
	if strings.Contains(a, b) || strings.Contains(b, a) {
		if ratio < containmentScore {
			ratio = containmentScore
		}
	}
	return ratio
}

// Rank scores every candidate against query and returns those above
// threshold, best first. Ties break by name, then kind.
func Rank(query string, candidates []Candidate, threshold float64, limit int) []Hit {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	if limit <= 0 {
		limit = 10
	}

	hits := make([]Hit, 0)
	for _, c := range candidates {
		score := Similarity(query, c.Name)
		if score <= threshold {
			continue
		}
		hits = append(hits, Hit{Candidate: c, Score: roundScore(score)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Name != hits[j].Name {
			return hits[i].Name < hits[j].Name
		}
		if hits[i].Kind != hits[j].Kind {
			return hits[i].Kind < hits[j].Kind
		}
		return hits[i].Location < hits[j].Location
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func roundScore(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
