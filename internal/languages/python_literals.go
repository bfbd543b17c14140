package languages

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// stringLiteral returns the value of a plain (non-interpolated) string.
func stringLiteral(node *sitter.Node, content []byte) (string, bool) {
	if node == nil {
		return "", false
	}
	switch node.Type() {
	case "string":
		if isFString(node) {
			return "", false
		}
		return unquote(node.Content(content)), true
	case "concatenated_string":
		var b strings.Builder
		for i := 0; i < int(node.NamedChildCount()); i++ {
			part, ok := stringLiteral(node.NamedChild(i), content)
			if !ok {
				return "", false
			}
			b.WriteString(part)
		}
		return b.String(), true
	}
	return "", false
}

// stringList returns the values of a list or tuple made only of string literals.
func stringList(node *sitter.Node, content []byte) ([]string, bool) {
	if node == nil || (node.Type() != "list" && node.Type() != "tuple") {
		return nil, false
	}
	values := make([]string, 0, node.NamedChildCount())
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		value, ok := stringLiteral(child, content)
		if !ok {
			return nil, false
		}
		values = append(values, value)
	}
	return values, len(values) > 0
}

// stringDict returns the string-to-string pairs of a dict literal in source
// order. Pairs with other key or value kinds are skipped.
func stringDict(node *sitter.Node, content []byte) ([][2]string, bool) {
	if node == nil || node.Type() != "dictionary" {
		return nil, false
	}
	pairs := make([][2]string, 0, node.NamedChildCount())
	for i := 0; i < int(node.NamedChildCount()); i++ {
		pair := node.NamedChild(i)
		if pair.Type() != "pair" {
			continue
		}
		key, okKey := stringLiteral(pair.ChildByFieldName("key"), content)
		value, okValue := stringLiteral(pair.ChildByFieldName("value"), content)
		if !okKey || !okValue {
			continue
		}
		pairs = append(pairs, [2]string{key, value})
	}
	return pairs, len(pairs) > 0
}

func isFString(node *sitter.Node) bool {
	if node == nil || node.Type() != "string" {
		return false
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if node.NamedChild(i).Type() == "interpolation" {
			return true
		}
	}
	return false
}

// buildsString reports expressions that compute a string at runtime.
func buildsString(node *sitter.Node, content []byte) bool {
	if node == nil {
		return false
	}
	switch node.Type() {
	case "string":
		return isFString(node)
	case "binary_operator":
		op := node.ChildByFieldName("operator")
		if op == nil || (op.Content(content) != "+" && op.Content(content) != "%") {
			return false
		}
		left := node.ChildByFieldName("left")
		right := node.ChildByFieldName("right")
		return isStringish(left, content) || isStringish(right, content)
	case "call":
		fn := node.ChildByFieldName("function")
		if fn == nil || fn.Type() != "attribute" {
			return false
		}
		attr := fn.ChildByFieldName("attribute")
		object := fn.ChildByFieldName("object")
		if attr == nil || object == nil {
			return false
		}
		switch attr.Content(content) {
		case "format", "join":
			return object.Type() == "string"
		}
	}
	return false
}

func isStringish(node *sitter.Node, content []byte) bool {
	if node == nil {
		return false
	}
	if node.Type() == "string" || node.Type() == "concatenated_string" {
		return true
	}
	return buildsString(node, content)
}
