package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarityIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("PO_Number", "po_number"))
	assert.Equal(t, 0.0, Similarity("", "po_number"))
}

func TestSimilarityBoostsContainment(t *testing.T) {
	assert.GreaterOrEqual(t, Similarity("vendor", "main_vendor_category_code"), 0.8)
}

func TestRankFiltersAndBreaksTies(t *testing.T) {
	candidates := []Candidate{
		{Name: "po_number", Kind: "column"},
		{Name: "po_number", Kind: "constant"},
		{Name: "zzz", Kind: "function"},
		{Name: "PO Number", Kind: "column"},
	}
	hits := Rank("po_number", candidates, DefaultThreshold, 10)
	require.Len(t, hits, 3)
	assert.Equal(t, "po_number", hits[0].Name)
	assert.Equal(t, "column", hits[0].Kind)
	assert.Equal(t, "constant", hits[1].Kind)
	assert.Equal(t, "PO Number", hits[2].Name)
}

func TestRankEmptyQuery(t *testing.T) {
	assert.Empty(t, Rank("  ", []Candidate{{Name: "x"}}, DefaultThreshold, 5))
}
