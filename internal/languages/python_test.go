package languages

import (
	"strings"
	"testing"

	"github.com/skelly-dev/context-oracle/internal/parser"
)

const cleanScript = `"""Stage 1: clean PO line items."""
import pandas as pd

INPUT_FILE = PROJECT_ROOT / "data" / "raw" / "po.csv"
OUTPUT_FILE = PROJECT_ROOT / "data" / "intermediate" / "po_line_items.csv"
THRESHOLD = 100


def load_data() -> pd.DataFrame:
    """Load raw file."""
    return pd.read_csv(INPUT_FILE)


def transform(df):
    total = df["Qty"] * df["Price"]
    df["Amount"] = total.round(2)
    df["Net"] = df["Amount"] - df["Tax"]
    df["Posted"] = pd.to_datetime(df["Posting Date"])
    df = df.rename(columns={"Vendor": "Vendor Name"})
    return df


def save(df):
    df.to_csv(OUTPUT_FILE, index=False)
`

func extractPython(t *testing.T, src string) *parser.FactSet {
	t.Helper()
	facts, err := NewPythonExtractor().Extract("scripts/stage1_clean/01_po.py", []byte(src))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	return facts
}

func findWrite(facts *parser.FactSet, column string) *parser.ColumnWrite {
	for i := range facts.ColumnWrites {
		if facts.ColumnWrites[i].Column == column {
			return &facts.ColumnWrites[i]
		}
	}
	return nil
}

func TestPythonExtractsFunctionsAndConstants(t *testing.T) {
	facts := extractPython(t, cleanScript)

	if facts.Docstring != "Stage 1: clean PO line items." {
		t.Fatalf("unexpected module docstring %q", facts.Docstring)
	}
	if len(facts.Functions) != 3 {
		t.Fatalf("expected 3 functions, got %#v", facts.Functions)
	}
	load := facts.Functions[0]
	if load.Name != "load_data" || load.Signature != "def load_data() -> pd.DataFrame" {
		t.Fatalf("unexpected load function %#v", load)
	}
	if load.Docstring != "Load raw file." || load.ReturnType != "pd.DataFrame" {
		t.Fatalf("unexpected docstring/return type %#v", load)
	}
	foundRead := false
	for _, call := range load.Calls {
		if call.Name == "read_csv" && call.Qualifier == "pd" {
			foundRead = true
		}
	}
	if !foundRead {
		t.Fatalf("expected pd.read_csv call, got %#v", load.Calls)
	}

	kinds := map[string]string{}
	for _, c := range facts.Constants {
		kinds[c.Name] = c.ValueKind
	}
	if kinds["THRESHOLD"] != "int" || kinds["INPUT_FILE"] != "expr" {
		t.Fatalf("unexpected constants %#v", facts.Constants)
	}
}

func TestPythonTracksColumnWritesThroughOneBinding(t *testing.T) {
	facts := extractPython(t, cleanScript)

	amount := findWrite(facts, "Amount")
	if amount == nil {
		t.Fatalf("expected Amount write, got %#v", facts.ColumnWrites)
	}
	if amount.Function != "transform" || amount.Operation != "total.round(2)" {
		t.Fatalf("unexpected Amount write %#v", amount)
	}
	if len(amount.Sources) != 2 {
		t.Fatalf("expected Qty and Price as traced sources, got %#v", amount.Sources)
	}
	for _, src := range amount.Sources {
		if src.Confidence != parser.ConfidenceTraced || src.Via != "total" {
			t.Fatalf("expected traced source via total, got %#v", src)
		}
	}

	net := findWrite(facts, "Net")
	if net == nil || len(net.Sources) != 2 || net.Sources[0].Confidence != parser.ConfidenceStatic {
		t.Fatalf("expected static sources for Net, got %#v", net)
	}

	posted := findWrite(facts, "Posted")
	if posted == nil || posted.Dtype != "datetime64" {
		t.Fatalf("expected datetime dtype for Posted, got %#v", posted)
	}

	if len(facts.Renames) != 1 || facts.Renames[0].From != "Vendor" || facts.Renames[0].To != "Vendor Name" {
		t.Fatalf("unexpected renames %#v", facts.Renames)
	}
}

func TestPythonClassifiesDataFiles(t *testing.T) {
	facts := extractPython(t, cleanScript)

	if len(facts.Inputs) == 0 || facts.Inputs[0].Path != "data/raw/po.csv" || facts.Inputs[0].Confidence != parser.ConfidenceStatic {
		t.Fatalf("unexpected inputs %#v", facts.Inputs)
	}
	outputs := map[string]parser.Confidence{}
	for _, ref := range facts.Outputs {
		outputs[ref.Path] = ref.Confidence
	}
	if outputs["data/intermediate/po_line_items.csv"] != parser.ConfidenceStatic {
		t.Fatalf("unexpected outputs %#v", facts.Outputs)
	}
}

func TestPythonIntermediateFileFallsBackToHeuristic(t *testing.T) {
	facts := extractPython(t, `
def main():
    # LOAD step
    path = "data/intermediate/cost.csv"
    print(path)
`)
	if len(facts.Inputs) != 1 || facts.Inputs[0].Confidence != parser.ConfidenceUnknown {
		t.Fatalf("expected one unknown-confidence input, got %#v", facts.Inputs)
	}
	if len(facts.Outputs) != 0 {
		t.Fatalf("did not expect outputs, got %#v", facts.Outputs)
	}
}

func TestPythonDynamicColumnMarksWriteIncomplete(t *testing.T) {
	facts := extractPython(t, `
def combine(df, cols):
    for c in cols:
        df["out"] = df[c] + df["base"]
    df["label"] = df[f"{cols[0]}_name"]
`)

	out := findWrite(facts, "out")
	if out == nil || !out.Incomplete {
		t.Fatalf("expected incomplete write for out, got %#v", out)
	}
	if len(out.Sources) != 1 || out.Sources[0].Column != "base" || out.Sources[0].Confidence != parser.ConfidenceUnknown {
		t.Fatalf("expected base with unknown confidence, got %#v", out.Sources)
	}
	label := findWrite(facts, "label")
	if label == nil || !label.Incomplete {
		t.Fatalf("expected f-string subscript to mark label incomplete, got %#v", label)
	}
	if len(facts.DynamicRefs) < 2 {
		t.Fatalf("expected dynamic refs, got %#v", facts.DynamicRefs)
	}
}

func TestPythonBindingIsSingleHop(t *testing.T) {
	facts := extractPython(t, `
def f(df):
    a = df["A"]
    b = a * 2
    df["C"] = b
    a = 3
    df["D"] = a
`)
	c := findWrite(facts, "C")
	if c == nil || len(c.Sources) != 0 {
		t.Fatalf("bindings must not chain, got %#v", c)
	}
	d := findWrite(facts, "D")
	if d == nil || len(d.Sources) != 0 {
		t.Fatalf("rebinding must clear columns, got %#v", d)
	}
}

func TestPythonJoinsAndMappings(t *testing.T) {
	facts := extractPython(t, `
PO_LINE_ITEMS_MAPPING = {
    "PO Number": "po_number",
    "Vendor Name": "vendor_name",
}

def enrich(a, b):
    return a.merge(b, on=["PO Number", "PO Line"], how="left")
`)
	if len(facts.Joins) != 2 || facts.Joins[0].Column != "PO Number" {
		t.Fatalf("unexpected joins %#v", facts.Joins)
	}
	if len(facts.Mappings) != 2 {
		t.Fatalf("expected 2 mapping entries, got %#v", facts.Mappings)
	}
	m := facts.Mappings[1]
	if m.Mapping != "PO_LINE_ITEMS_MAPPING" || m.Source != "Vendor Name" || m.Target != "vendor_name" {
		t.Fatalf("unexpected mapping %#v", m)
	}
}

func TestPythonSyntaxErrorYieldsExtractionError(t *testing.T) {
	facts := extractPython(t, "x = 1\ndef broken(:\n    pass\n")
	if !facts.Failed() {
		t.Fatalf("expected extraction failure")
	}
	if !strings.HasPrefix(facts.Error.Reason, "syntax error near line") {
		t.Fatalf("unexpected reason %q", facts.Error.Reason)
	}
	if len(facts.Functions) != 0 {
		t.Fatalf("failed file must not carry facts")
	}
}

func TestPythonAsyncSignatureKeepsPrefix(t *testing.T) {
	facts := extractPython(t, "async def fetch_rates(client, day: str) -> dict:\n    return await client.get(day)\n\ndef plain(x):\n    return x\n")
	if len(facts.Functions) != 2 {
		t.Fatalf("expected 2 functions, got %#v", facts.Functions)
	}
	if got := facts.Functions[0].Signature; got != "async def fetch_rates(client, day: str) -> dict" {
		t.Fatalf("unexpected async signature %q", got)
	}
	if got := facts.Functions[1].Signature; got != "def plain(x)" {
		t.Fatalf("unexpected signature %q", got)
	}
}
