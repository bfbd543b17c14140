package builder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skelly-dev/context-oracle/internal/config"
	"github.com/skelly-dev/context-oracle/internal/fileutil"
	"github.com/skelly-dev/context-oracle/internal/lineage"
	"github.com/skelly-dev/context-oracle/internal/logging"
	"github.com/skelly-dev/context-oracle/internal/oerrors"
	"github.com/skelly-dev/context-oracle/internal/registry"
	"github.com/skelly-dev/context-oracle/internal/skeleton"
	"github.com/skelly-dev/context-oracle/internal/state"
	"github.com/skelly-dev/context-oracle/internal/store"
)

const cleanScript = `"""Stage 1: clean PO line items."""
import pandas as pd

INPUT_FILE = PROJECT_ROOT / "data" / "raw" / "po.csv"
OUTPUT_FILE = PROJECT_ROOT / "data" / "intermediate" / "po_line_items.csv"


def load_data():
    """Load raw file."""
    return pd.read_csv(INPUT_FILE)


def calculate_amount(df):
    """Multiply quantity by price."""
    df["Amount"] = df["Qty"] * df["Price"]
    return df


def save(df):
    df.to_csv(OUTPUT_FILE, index=False)
`

const loadScript = `"""Stage 2: hand PO lines to the importer."""
import pandas as pd

INPUT_FILE = PROJECT_ROOT / "data" / "intermediate" / "po_line_items.csv"
OUTPUT_FILE = PROJECT_ROOT / "data" / "import-ready" / "po.csv"


def load_data():
    return pd.read_csv(INPUT_FILE)


def save(df):
    df.to_csv(OUTPUT_FILE, index=False)
`

const (
	cleanPath = "scripts/stage1_clean/01_po.py"
	loadPath  = "scripts/stage2_load/02_load.py"
)

func writeSource(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newPipeline(t *testing.T) (*Builder, string) {
	t.Helper()
	root := t.TempDir()
	writeSource(t, root, cleanPath, cleanScript)
	writeSource(t, root, loadPath, loadScript)

	cfg := config.DefaultConfig()
	cfg.Extract.Workers = 2
	require.NoError(t, cfg.Validate())
	return New(root, cfg, logging.Nop()), root
}

func openSnapshot(t *testing.T, b *Builder) *store.Snapshot {
	t.Helper()
	snap, err := b.Store().Open()
	require.NoError(t, err)
	return snap
}

func readTree(t *testing.T, b *Builder) map[string]string {
	t.Helper()
	snap := openSnapshot(t, b)
	out := make(map[string]string)
	err := filepath.Walk(snap.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(snap.Dir, path)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	manifest, err := os.ReadFile(filepath.Join(b.Store().Dir(), state.ManifestFile))
	require.NoError(t, err)
	out[state.ManifestFile] = string(manifest)
	return out
}

func TestRebuildCommitsEveryArtifact(t *testing.T) {
	b, _ := newPipeline(t)

	summary, err := b.Rebuild(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, ModeGenerate, summary.Mode)
	assert.True(t, summary.NewGeneration)
	assert.NotEmpty(t, summary.Generation)
	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 2, summary.Extracted)
	assert.Zero(t, summary.ExtractionErrors)

	snap := openSnapshot(t, b)
	for _, name := range []string{store.RegistryFile, store.GraphFile, store.SkeletonIndexFile, store.PatternsFile, store.FactsFile} {
		assert.FileExists(t, snap.Path(name))
	}

	graph, err := store.ReadJSON[lineage.Graph](snap, store.GraphFile)
	require.NoError(t, err)
	impact := graph.Impact("01_po")
	assert.True(t, impact.Found)
	assert.Equal(t, []string{"02_load"}, impact.FileConsumers)

	index, err := store.ReadJSON[skeleton.Index](snap, store.SkeletonIndexFile)
	require.NoError(t, err)
	assert.Equal(t, 2, index.Totals.Files)
	skel, err := snap.ReadFile(skeletonArtifact(cleanPath))
	require.NoError(t, err)
	assert.Contains(t, string(skel), "def calculate_amount(df):")
	assert.NotContains(t, string(skel), `df["Amount"]`)

	assert.Equal(t, summary.Generation, snap.Manifest.Generation)
	assert.Contains(t, snap.Manifest.Files, cleanPath)
	assert.Equal(t, "python", snap.Manifest.Files[cleanPath].Language)
}

func TestRebuildTwiceIsByteIdentical(t *testing.T) {
	b, _ := newPipeline(t)

	first, err := b.Rebuild(context.Background(), Options{})
	require.NoError(t, err)
	before := readTree(t, b)

	second, err := b.Rebuild(context.Background(), Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, first.Generation, second.Generation)
	assert.False(t, second.NewGeneration)
	assert.Zero(t, second.Rewritten)
	assert.Equal(t, before, readTree(t, b))
}

func TestUpdateWithoutChangesDoesNothing(t *testing.T) {
	b, _ := newPipeline(t)
	first, err := b.Rebuild(context.Background(), Options{})
	require.NoError(t, err)

	second, err := b.Rebuild(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, ModeUpdate, second.Mode)
	assert.Equal(t, first.Generation, second.Generation)
	assert.Zero(t, second.Extracted)
}

func TestUpdateDropsStaleColumnOwnership(t *testing.T) {
	b, root := newPipeline(t)
	_, err := b.Rebuild(context.Background(), Options{})
	require.NoError(t, err)

	reg, err := store.ReadJSON[registry.Registry](openSnapshot(t, b), store.RegistryFile)
	require.NoError(t, err)
	require.Contains(t, reg.Columns, "Amount")

	writeSource(t, root, cleanPath, strings.Replace(cleanScript, `df["Amount"]`, `df["Total"]`, 1))
	summary, err := b.Rebuild(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, ModeUpdate, summary.Mode)
	assert.Equal(t, []string{cleanPath}, summary.ChangedFiles)
	assert.Equal(t, 1, summary.Extracted)
	assert.True(t, summary.NewGeneration)

	reg, err = store.ReadJSON[registry.Registry](openSnapshot(t, b), store.RegistryFile)
	require.NoError(t, err)
	if col, ok := reg.Columns["Amount"]; ok {
		for _, w := range col.Writers {
			assert.NotEqual(t, cleanPath, w.File)
		}
	}
	require.Contains(t, reg.Columns, "Total")
	assert.Equal(t, cleanPath, reg.Columns["Total"].Writers[0].File)
}

func TestExtractionFailureIsIsolated(t *testing.T) {
	b, root := newPipeline(t)
	writeSource(t, root, "scripts/stage3_bad/03_bad.py", "def broken(:\n    pass\n")

	summary, err := b.Rebuild(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ExtractionErrors)

	snap := openSnapshot(t, b)
	require.Len(t, snap.Manifest.ExtractionErrors, 1)
	assert.Equal(t, "scripts/stage3_bad/03_bad.py", snap.Manifest.ExtractionErrors[0].File)

	index, err := store.ReadJSON[skeleton.Index](snap, store.SkeletonIndexFile)
	require.NoError(t, err)
	assert.Contains(t, index.Failed, "scripts/stage3_bad/03_bad.py")
	assert.Equal(t, 2, index.Totals.Files)
}

func TestInvariantFailureKeepsPriorGeneration(t *testing.T) {
	b, root := newPipeline(t)
	first, err := b.Rebuild(context.Background(), Options{})
	require.NoError(t, err)

	// same stem as cleanPath, so two files claim script:01_po
	dup := "scripts/stage3_copy/01_po.py"
	writeSource(t, root, dup, loadScript)
	_, err = b.Rebuild(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, oerrors.IsBuildInvariant(err))

	m, err := b.Store().Manifest()
	require.NoError(t, err)
	assert.Equal(t, first.Generation, m.Generation)
	assert.NotEmpty(t, m.LastFailure)
	assert.NotContains(t, m.Files, dup)

	_, diff, err := b.Check()
	require.NoError(t, err)
	assert.Equal(t, []string{dup}, diff.Added)

	require.NoError(t, os.Remove(filepath.Join(root, filepath.FromSlash(dup))))
	_, err = b.Rebuild(context.Background(), Options{})
	require.NoError(t, err)
	m, err = b.Store().Manifest()
	require.NoError(t, err)
	assert.Empty(t, m.LastFailure)
}

func TestCancelledRebuildFails(t *testing.T) {
	b, _ := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Rebuild(ctx, Options{})
	require.ErrorIs(t, err, context.Canceled)

	m, err := b.Store().Manifest()
	require.NoError(t, err)
	assert.Empty(t, m.Generation)
	assert.NotEmpty(t, m.LastFailure)
	assert.Empty(t, m.Files)
}

func TestRebuildReportsContention(t *testing.T) {
	b, _ := newPipeline(t)
	lock, err := b.Store().Lock()
	require.NoError(t, err)
	defer lock.Release()

	_, err = b.Rebuild(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, oerrors.IsContention(err))
}

func TestScanHonorsIgnoreFileAndExcludes(t *testing.T) {
	b, root := newPipeline(t)
	writeSource(t, root, config.IgnoreFile, "# local scratch\nscripts/scratch/\n")
	writeSource(t, root, "scripts/scratch/tmp.py", "x = 1\n")
	writeSource(t, root, "scripts/_archive/old.py", "y = 2\n")
	writeSource(t, root, "notes/readme.py", "z = 3\n")

	scanned, err := b.scan()
	require.NoError(t, err)
	assert.Equal(t, []string{cleanPath, loadPath}, fileutil.MapKeysSorted(scanned))
}
