package skeleton

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skelly-dev/context-oracle/internal/oerrors"
)

const pipelineScript = `"""Stage 1: clean PO line items."""
import pandas as pd

INPUT_FILE = "data/raw/po.csv"


def load_data(path):
    """Load the raw CSV file."""
    df = pd.read_csv(path)
    return df


@staticmethod
def filter_zero(df):
    df = df[df["Qty"] > 0]
    return df


class Cleaner:
    """Wraps the cleaning steps."""

    def run(self, df):
        """Run every step."""
        def inner(x):
            return x
        return inner(df)


if __name__ == "__main__":
    load_data(INPUT_FILE)
`

func TestSkeletonizeReplacesBodies(t *testing.T) {
	res, err := Skeletonize(context.Background(), "scripts/01_po.py", []byte(pipelineScript))
	require.NoError(t, err)

	want := `"""Stage 1: clean PO line items."""
import pandas as pd

INPUT_FILE = "data/raw/po.csv"


def load_data(path):
    """Load the raw CSV file."""
    ...


@staticmethod
def filter_zero(df):
    ...


class Cleaner:
    """Wraps the cleaning steps."""

    def run(self, df):
        """Run every step."""
        ...


if __name__ == "__main__":
    load_data(INPUT_FILE)
`
	assert.Equal(t, want, res.Text)
	assert.Less(t, res.SkeletonTokens, res.OriginalTokens)
	assert.Equal(t, Ratio(res.OriginalTokens, res.SkeletonTokens), res.Ratio)
	assert.Equal(t, strings.Count(want, "\n"), res.SkeletonLines)
}

func TestSkeletonizeInlineBody(t *testing.T) {
	res, err := Skeletonize(context.Background(), "a.py", []byte("def f(x): return x + 1\n"))
	require.NoError(t, err)
	assert.Equal(t, "def f(x): ...\n", res.Text)
}

func TestSkeletonizeKeepsAlreadyElidedBody(t *testing.T) {
	src := "def f(x):\n    ...\n"
	res, err := Skeletonize(context.Background(), "a.py", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, src, res.Text)
	assert.Equal(t, 1.0, res.Ratio)
}

func TestSkeletonizeRejectsBrokenSource(t *testing.T) {
	_, err := Skeletonize(context.Background(), "bad.py", []byte("def broken(:\n    pass\n"))
	require.Error(t, err)
	assert.Equal(t, oerrors.Extraction, oerrors.CodeOf(err))
}

func TestCountTokens(t *testing.T) {
	// df , [ "Qty" ] = 42 -> df [ " Qty " ] = 42
	assert.Equal(t, 8, CountTokens([]byte(`df["Qty"] = 42`)))
	assert.Equal(t, 0, CountTokens(nil))
}

func TestRatioRoundsToTwoDecimals(t *testing.T) {
	assert.Equal(t, 3.33, Ratio(10, 3))
	assert.Equal(t, 0.0, Ratio(10, 0))
}

func TestIndexTotals(t *testing.T) {
	idx := NewIndex()
	idx.Add("scripts/a.py", &Result{OriginalLines: 10, SkeletonLines: 4, OriginalTokens: 100, SkeletonTokens: 40, Ratio: 2.5})
	idx.Add("scripts/b.py", &Result{OriginalLines: 6, SkeletonLines: 2, OriginalTokens: 50, SkeletonTokens: 10, Ratio: 5})
	idx.Fail("scripts/c.py", "source does not parse")
	idx.Finalize()

	assert.Equal(t, 2, idx.Totals.Files)
	assert.Equal(t, 150, idx.Totals.OriginalTokens)
	assert.Equal(t, 3.0, idx.Totals.Ratio)
	assert.Equal(t, "scripts/a.skeleton.py", idx.Files["scripts/a.py"].Skeleton)
	assert.Contains(t, idx.Failed, "scripts/c.py")

	idx.Remove("scripts/c.py")
	idx.Finalize()
	assert.Nil(t, idx.Failed)
}
