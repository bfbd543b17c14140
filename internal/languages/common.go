package languages

import (
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

const previewLimit = 100

func splitQualifiedName(raw string) (qualifier, name string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}
	if idx := strings.LastIndex(raw, "."); idx != -1 {
		qualifier = strings.TrimSpace(raw[:idx])
		name = strings.TrimSpace(raw[idx+1:])
		return qualifier, name
	}
	return "", raw
}

// collapseSpace folds runs of whitespace into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

func preview(s string) string {
	return truncate(collapseSpace(s), previewLimit)
}

func lineOf(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

// firstErrorLine returns the 1-based line of the first ERROR or MISSING node.
func firstErrorLine(node *sitter.Node) int {
	if node == nil || !node.HasError() {
		return 0
	}
	if node.Type() == "ERROR" || node.IsMissing() {
		return lineOf(node)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		if child.Type() == "ERROR" || child.IsMissing() {
			return lineOf(child)
		}
		if line := firstErrorLine(child); line > 0 {
			return line
		}
	}
	return lineOf(node)
}

// unquote strips string prefixes and quotes from a python or typescript
// string literal.
func unquote(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimLeft(raw, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`, "`"} {
		if len(raw) >= 2*len(q) && strings.HasPrefix(raw, q) && strings.HasSuffix(raw, q) {
			return raw[len(q) : len(raw)-len(q)]
		}
	}
	return raw
}
