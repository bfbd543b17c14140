// Package naming holds the single identity rule used to match pipeline
// columns against schema fields across languages.
package naming

import (
	"strings"
	"unicode"
)

// Normalize case-folds name and strips separators, so "Unit Price",
// "unit_price", "unit-price" and "UnitPrice" all collapse to "unitprice".
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Equivalent reports whether a and b name the same field under Normalize.
// Names that normalize to empty never match.
func Equivalent(a, b string) bool {
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}

// ScriptID derives a script node name from a file path: the base name
// without its extension.
func ScriptID(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		path = path[idx+1:]
	}
	if idx := strings.LastIndex(path, "."); idx > 0 {
		path = path[:idx]
	}
	return path
}

// NumericPrefix returns the leading integer of a script name such as
// "06_prepare_po_line_items", or -1 when there is none.
func NumericPrefix(name string) int {
	head, _, _ := strings.Cut(name, "_")
	if head == "" {
		return -1
	}
	n := 0
	for _, r := range head {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// IsConstantName reports whether a python identifier follows the
// UPPER_CASE constant convention.
func IsConstantName(name string) bool {
	hasLetter := false
	for _, r := range name {
		switch {
		case unicode.IsUpper(r):
			hasLetter = true
		case unicode.IsDigit(r) || r == '_':
		default:
			return false
		}
	}
	return hasLetter
}
