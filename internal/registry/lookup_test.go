package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skelly-dev/context-oracle/internal/parser"
)

func sampleRegistry(t *testing.T) *Registry {
	t.Helper()
	script := &parser.FactSet{
		Path:   "scripts/stage1_clean/01_po.py",
		Script: "01_po",
		Functions: []parser.FunctionFact{
			{Name: "filter_valuation_classes", Signature: "def filter_valuation_classes(df)", Line: 12, Docstring: "Drop excluded classes."},
			{Name: "main", Signature: "def main()", Line: 30},
		},
		Constants:    []parser.ConstantFact{{Name: "EXCLUDED_CLASSES", Line: 5, ValueKind: "list"}},
		ColumnWrites: []parser.ColumnWrite{{Column: "Unit Price", Line: 18, Function: "main"}},
		ColumnReads:  []parser.ColumnRef{{Column: "Valuation Class", Line: 14, Function: "filter_valuation_classes"}},
	}
	schema := &parser.FactSet{
		Path:   "src/schema/po.ts",
		Tables: []parser.TableDef{{Name: "po_line_items", Line: 4, Fields: []parser.TableField{{Key: "unitPrice", Column: "unit_price"}}}},
	}
	reg, err := Rebuild(nil, []*parser.FactSet{script, schema}, nil)
	require.NoError(t, err)
	return reg
}

func TestVerifyFindsEverySymbol(t *testing.T) {
	reg := sampleRegistry(t)
	lookup := NewLookup(reg, 0)

	for _, fn := range reg.Functions {
		result := lookup.Verify(fn.Name, "")
		assert.True(t, result.Found, fn.Name)
		assert.Equal(t, fn.File+":"+itoa(fn.Line), result.Location)
	}
	for name, col := range reg.Columns {
		result := lookup.Verify(name, "")
		assert.True(t, result.Found, name)
		assert.Equal(t, KindColumn, result.Kind)
		assert.Equal(t, columnLocation(col), result.Location)
	}
	for _, table := range reg.Tables {
		result := lookup.Verify(table.Name, "")
		assert.True(t, result.Found)
		assert.Equal(t, table.File+":"+itoa(table.Line), result.Location)
	}

	fn := lookup.Verify("filter_valuation_classes", KindFunction)
	assert.Equal(t, "def filter_valuation_classes(df)", fn.Signature)
	assert.Equal(t, "Drop excluded classes.", fn.Docstring)
}

func TestVerifySuggestsClosestName(t *testing.T) {
	lookup := NewLookup(sampleRegistry(t), 0)

	result := lookup.Verify("filter_valuatio", "")
	assert.False(t, result.Found)
	assert.Equal(t, "filter_valuation_classes", result.Suggestion)

	scoped := lookup.Verify("filter_valuation_classes", KindColumn)
	assert.False(t, scoped.Found)

	none := lookup.Verify("qqqqqqqqqqqq", "")
	assert.False(t, none.Found)
	assert.Empty(t, none.Suggestion)
}

func TestSearchRanksAcrossKinds(t *testing.T) {
	lookup := NewLookup(sampleRegistry(t), 0)

	hits := lookup.Search("price", "", 5)
	require.NotEmpty(t, hits)
	assert.Equal(t, "Unit Price", hits[0].Name)
	assert.Equal(t, KindColumn, hits[0].Kind)

	assert.Empty(t, lookup.Search("price", "bogus", 5))
}

func TestWhoListsWritersAndReaders(t *testing.T) {
	lookup := NewLookup(sampleRegistry(t), 0)

	who := lookup.Who("Unit Price")
	require.True(t, who.Found)
	require.Len(t, who.Writers, 1)
	assert.Equal(t, "01_po", who.Writers[0].Script)
	assert.Equal(t, "scripts/stage1_clean/01_po.py:18", who.Writers[0].Location)
	assert.Empty(t, who.Readers)

	miss := lookup.Who("Unit Prices")
	assert.False(t, miss.Found)
	assert.Equal(t, "Unit Price", miss.Suggestion)
	assert.NotNil(t, miss.Writers)
}

func itoa(n int) string {
	return fmt.Sprint(n)
}

func TestVerifyListsEveryDefinitionOfSharedName(t *testing.T) {
	a := &parser.FactSet{Path: "scripts/02_load.py", Functions: []parser.FunctionFact{{Name: "clean_amounts", Signature: "def clean_amounts(df)", Line: 7}}}
	b := &parser.FactSet{Path: "scripts/01_po.py", Functions: []parser.FunctionFact{{Name: "clean_amounts", Signature: "def clean_amounts(df, cols)", Line: 21}}}
	reg, err := Rebuild(nil, []*parser.FactSet{a, b}, nil)
	require.NoError(t, err)

	result := NewLookup(reg, 0).Verify("clean_amounts", "function")
	require.True(t, result.Found)
	assert.Equal(t, "scripts/01_po.py:21", result.Location)
	assert.Equal(t, "def clean_amounts(df, cols)", result.Signature)
	assert.Equal(t, []string{"scripts/01_po.py:21", "scripts/02_load.py:7"}, result.Matches)
}
