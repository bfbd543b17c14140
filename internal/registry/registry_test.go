package registry

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skelly-dev/context-oracle/internal/oerrors"
	"github.com/skelly-dev/context-oracle/internal/parser"
)

func scriptFacts(path string, writes []parser.ColumnWrite, reads []parser.ColumnRef, fns ...parser.FunctionFact) *parser.FactSet {
	return &parser.FactSet{
		Path:         path,
		Language:     "python",
		Functions:    fns,
		ColumnWrites: writes,
		ColumnReads:  reads,
	}
}

func schemaFacts(path string, tables ...parser.TableDef) *parser.FactSet {
	return &parser.FactSet{Path: path, Language: "typescript", Tables: tables}
}

func TestRebuildAggregatesFunctionsAndCallers(t *testing.T) {
	a := scriptFacts("scripts/a.py", nil, nil,
		parser.FunctionFact{Name: "main", Signature: "def main()", Line: 10, Calls: []parser.CallSite{{Name: "filter_valuation_classes"}}},
		parser.FunctionFact{Name: "filter_valuation_classes", Signature: "def filter_valuation_classes(df)", Line: 3, Docstring: "Keep valid classes."},
	)

	reg, err := Rebuild(nil, []*parser.FactSet{a}, nil)
	require.NoError(t, err)

	require.Len(t, reg.Functions, 2)
	assert.Equal(t, "filter_valuation_classes", reg.Functions[0].Name)
	assert.Equal(t, []string{"main"}, reg.Functions[0].CalledBy)
	assert.Equal(t, []string{"filter_valuation_classes"}, reg.Functions[1].Calls)
	assert.Equal(t, 2, reg.Stats.Functions)
}

func TestRebuildRemovesStaleColumnWriter(t *testing.T) {
	a := scriptFacts("scripts/a.py", []parser.ColumnWrite{{Column: "Unit Price", Line: 4}}, nil)
	b := scriptFacts("scripts/b.py", nil, []parser.ColumnRef{{Column: "Unit Price", Line: 7}})

	first, err := Rebuild(nil, []*parser.FactSet{a, b}, nil)
	require.NoError(t, err)
	require.Contains(t, first.Columns, "Unit Price")
	assert.Equal(t, "scripts/a.py:4", first.Columns["Unit Price"].CreatedBy)

	aChanged := scriptFacts("scripts/a.py", nil, nil)
	second, err := Rebuild(first, []*parser.FactSet{aChanged}, nil)
	require.NoError(t, err)

	col := second.Columns["Unit Price"]
	require.NotNil(t, col)
	assert.Empty(t, col.Writers)
	assert.Empty(t, col.CreatedBy)
	assert.Len(t, col.Readers, 1)

	// the previous snapshot is untouched
	assert.Len(t, first.Columns["Unit Price"].Writers, 1)

	third, err := Rebuild(second, nil, []string{"scripts/b.py"})
	require.NoError(t, err)
	assert.NotContains(t, third.Columns, "Unit Price")
	assert.Equal(t, []string{"scripts/a.py"}, third.Files)
}

func TestRebuildFailedFileContributesNothing(t *testing.T) {
	a := scriptFacts("scripts/a.py", []parser.ColumnWrite{{Column: "X", Line: 1}}, nil,
		parser.FunctionFact{Name: "f", Line: 1})
	first, err := Rebuild(nil, []*parser.FactSet{a}, nil)
	require.NoError(t, err)

	broken := parser.Failure("scripts/a.py", "python", "abc", "syntax error near line 2")
	second, err := Rebuild(first, []*parser.FactSet{broken}, nil)
	require.NoError(t, err)
	assert.Empty(t, second.Functions)
	assert.Empty(t, second.Columns)
}

func TestRebuildMarksPartialCoverage(t *testing.T) {
	a := scriptFacts("scripts/a.py", []parser.ColumnWrite{
		{Column: "total", Line: 3, Dtype: "float"},
		{Column: "total", Line: 9, Incomplete: true},
	}, nil)
	reg, err := Rebuild(nil, []*parser.FactSet{a}, nil)
	require.NoError(t, err)

	col := reg.Columns["total"]
	assert.Equal(t, CoveragePartial, col.Coverage)
	assert.Equal(t, "float", col.Dtype)
	assert.Equal(t, 1, reg.Stats.PartialColumns)
}

func TestIncrementalRebuildMatchesFullRebuild(t *testing.T) {
	a := scriptFacts("scripts/01_po.py", []parser.ColumnWrite{{Column: "Posting Date", Line: 5, Dtype: "datetime64"}}, nil)
	b := scriptFacts("scripts/02_load.py", nil, []parser.ColumnRef{{Column: "Posting Date", Line: 3}})

	first, err := Rebuild(nil, []*parser.FactSet{a, b}, nil)
	require.NoError(t, err)

	bChanged := scriptFacts("scripts/02_load.py", nil, []parser.ColumnRef{{Column: "Posting Date", Line: 8}})
	incremental, err := Rebuild(first, []*parser.FactSet{bChanged}, nil)
	require.NoError(t, err)
	full, err := Rebuild(nil, []*parser.FactSet{a, bChanged}, nil)
	require.NoError(t, err)

	assert.Equal(t, "datetime64", incremental.Columns["Posting Date"].Dtype)
	if diff := cmp.Diff(full, incremental); diff != "" {
		t.Fatalf("incremental rebuild differs from full rebuild (-full +incremental):\n%s", diff)
	}
}

func TestRebuildResolvesForeignKeys(t *testing.T) {
	projects := parser.TableDef{Name: "projects", Variable: "projects", Line: 3, Fields: []parser.TableField{
		{Key: "id", Column: "id", PrimaryKey: true},
	}}
	items := parser.TableDef{Name: "po_line_items", Variable: "poLineItems", Line: 8, Fields: []parser.TableField{
		{Key: "id", Column: "id", PrimaryKey: true},
		{Key: "projectId", Column: "project_id", References: &parser.FieldRef{Variable: "projects", Field: "id"}},
	}}
	reg, err := Rebuild(nil, []*parser.FactSet{schemaFacts("src/schema/projects.ts", projects), schemaFacts("src/schema/po.ts", items)}, nil)
	require.NoError(t, err)

	table, ok := reg.Table("po_line_items")
	require.True(t, ok)
	want := []ForeignKey{{Column: "project_id", Variable: "projects", Field: "id", Table: "projects", References: "id"}}
	if diff := cmp.Diff(want, table.ForeignKeys); diff != "" {
		t.Fatalf("foreign keys mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"id"}, table.PrimaryKey)
}

func TestRebuildRejectsDuplicateTables(t *testing.T) {
	def := parser.TableDef{Name: "projects", Line: 1}
	_, err := Rebuild(nil, []*parser.FactSet{schemaFacts("src/schema/a.ts", def), schemaFacts("src/schema/b.ts", def)}, nil)

	var invariant *oerrors.BuildInvariantError
	require.True(t, errors.As(err, &invariant))
	assert.Equal(t, oerrors.DuplicateIdentity, invariant.Kind)
}
