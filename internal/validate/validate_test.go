package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skelly-dev/context-oracle/internal/lineage"
)

func pipeline(scripts []string, deps [][2]string) *lineage.Graph {
	g := lineage.NewGraph()
	for _, s := range scripts {
		g.Nodes[lineage.ScriptID(s)] = &lineage.Node{ID: lineage.ScriptID(s), Type: lineage.NodeScript, Attrs: lineage.NodeAttrs{Name: s}}
	}
	for _, d := range deps {
		g.Edges = append(g.Edges, lineage.Edge{
			Source: lineage.ScriptID(d[0]),
			Target: lineage.ScriptID(d[1]),
			Type:   lineage.EdgeDependsOn,
		})
	}
	return g
}

func addColumn(g *lineage.Graph, name string, writers ...string) {
	g.Nodes[lineage.ColumnID(name)] = &lineage.Node{
		ID:    lineage.ColumnID(name),
		Type:  lineage.NodeColumn,
		Attrs: lineage.NodeAttrs{Name: name, WrittenBy: writers},
	}
}

func TestPipelineOrderAcyclic(t *testing.T) {
	g := pipeline(
		[]string{"01_po", "02_vendors", "03_load"},
		[][2]string{{"01_po", "03_load"}, {"02_vendors", "03_load"}},
	)

	report := PipelineOrder(g)
	assert.True(t, report.Passed)
	assert.Empty(t, report.Cycles)
	assert.Empty(t, report.Issues)
	assert.Equal(t, []string{"01_po", "02_vendors", "03_load"}, report.Order)
	assert.Equal(t, 3, report.Scripts)
	assert.Equal(t, 2, report.Dependencies)
}

func TestPipelineOrderDetectsCycle(t *testing.T) {
	g := pipeline(
		[]string{"01_a", "02_b", "03_c"},
		[][2]string{{"01_a", "02_b"}, {"02_b", "03_c"}, {"03_c", "01_a"}},
	)

	report := PipelineOrder(g)
	assert.False(t, report.Passed)
	require.Len(t, report.Cycles, 1)
	assert.Len(t, report.Cycles[0], 4)
	assert.Equal(t, report.Cycles[0][0], report.Cycles[0][3])
	assert.Empty(t, report.Order)
}

func TestPipelineOrderFlagsPrefixInversion(t *testing.T) {
	// 05_enrich produces what 02_load reads.
	g := pipeline(
		[]string{"02_load", "05_enrich", "helpers"},
		[][2]string{{"05_enrich", "02_load"}, {"helpers", "02_load"}},
	)

	report := PipelineOrder(g)
	assert.True(t, report.Passed)
	require.Len(t, report.Issues, 1)
	assert.Contains(t, report.Issues[0], "02_load (#2) depends on 05_enrich (#5)")
	assert.Equal(t, []string{"05_enrich", "helpers", "02_load"}, report.Order)
}

func TestSchemaHashMatchesLockFormat(t *testing.T) {
	tests := []struct {
		columns []string
		want    string
	}{
		{[]string{"Qty", "Amount "}, "d6bad887fcfe6d92"},
		{[]string{"Größe", "a<b"}, "63686dc4e264d2b0"},
		{[]string{"b", "a"}, "3554d2b8a1e34099"},
		{[]string{"A"}, "0eb5b8d6f81bc677"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SchemaHash(tt.columns), "%v", tt.columns)
	}
}

func TestComputeGroupsColumnsByWriter(t *testing.T) {
	g := pipeline([]string{"01_po", "02_load"}, nil)
	addColumn(g, "Amount", "01_po")
	addColumn(g, "Qty", "01_po", "02_load")
	addColumn(g, "Price")

	got := Compute(g)
	want := map[string]ScriptSchema{
		"01_po":   {Columns: []string{"Amount", "Qty"}, Hash: SchemaHash([]string{"Amount", "Qty"}), Count: 2},
		"02_load": {Columns: []string{"Qty"}, Hash: SchemaHash([]string{"Qty"}), Count: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Compute() mismatch (-want +got):\n%s", diff)
	}
}

func TestSchemaCheckAndUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), LockFile)
	g := pipeline([]string{"01_po", "02_load"}, nil)
	g.GeneratedAt = "2026-01-02T03:04:05Z"
	addColumn(g, "Amount", "01_po")
	addColumn(g, "Exported", "02_load")

	report, err := Check(g, path)
	require.NoError(t, err)
	assert.True(t, report.LockMissing)
	assert.False(t, report.Passed)

	lock, err := Update(g, path)
	require.NoError(t, err)
	assert.Equal(t, 2, lock.TotalScripts)
	assert.Equal(t, 2, lock.TotalColumns)
	assert.Equal(t, "2026-01-02T03:04:05Z", lock.GeneratedAt)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	report, err = Check(g, path)
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, 2, report.Scripts)

	_, err = Update(g, path)
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	changed := pipeline([]string{"01_po", "03_new"}, nil)
	addColumn(changed, "Total", "01_po")
	addColumn(changed, "Flag", "03_new")

	report, err = Check(changed, path)
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, []string{"03_new"}, report.New)
	assert.Equal(t, []string{"02_load"}, report.Removed)
	require.Len(t, report.Changed, 1)
	assert.Equal(t, SchemaChange{Script: "01_po", Added: []string{"Total"}, Removed: []string{"Amount"}}, report.Changed[0])
}

func TestReadLockRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), LockFile)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err := ReadLock(path)
	assert.Error(t, err)
}
