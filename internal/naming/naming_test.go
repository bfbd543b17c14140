package naming

import "testing"

func TestNormalizeCollapsesCaseAndSeparators(t *testing.T) {
	for _, in := range []string{"Unit Price", "unit_price", "unit-price", "UnitPrice", " UNIT.PRICE "} {
		if got := Normalize(in); got != "unitprice" {
			t.Fatalf("Normalize(%q) = %q", in, got)
		}
	}
	if Equivalent("", "_") {
		t.Fatalf("empty names must not match")
	}
	if !Equivalent("PO Number", "po_number") {
		t.Fatalf("expected PO Number ~ po_number")
	}
}

func TestScriptIDAndNumericPrefix(t *testing.T) {
	if got := ScriptID("scripts/stage3_prepare/06_prepare_po_line_items.py"); got != "06_prepare_po_line_items" {
		t.Fatalf("unexpected script id %q", got)
	}
	if got := NumericPrefix("06_prepare_po_line_items"); got != 6 {
		t.Fatalf("expected prefix 6, got %d", got)
	}
	if got := NumericPrefix("clean_gr_table"); got != -1 {
		t.Fatalf("expected no prefix, got %d", got)
	}
}

func TestIsConstantName(t *testing.T) {
	cases := map[string]bool{
		"PROJECT_ROOT":          true,
		"PO_LINE_ITEMS_MAPPING": true,
		"V2":                    true,
		"_":                     false,
		"df":                    false,
		"InputFile":             false,
	}
	for name, want := range cases {
		if got := IsConstantName(name); got != want {
			t.Fatalf("IsConstantName(%q) = %v, want %v", name, got, want)
		}
	}
}
