package languages

import (
	"context"
	"fmt"
	"strings"

	"github.com/skelly-dev/context-oracle/internal/naming"
	"github.com/skelly-dev/context-oracle/internal/parser"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// PythonExtractor extracts functions, constants, column lineage and data file
// I/O from pipeline scripts.
type PythonExtractor struct{}

// NewPythonExtractor creates a new Python extractor
func NewPythonExtractor() *PythonExtractor {
	return &PythonExtractor{}
}

func (p *PythonExtractor) Language() string {
	return LanguagePython
}

func (p *PythonExtractor) Extensions() []string {
	return []string{".py"}
}

// ParsePython parses content with the python grammar. Callers own the tree.
func ParsePython(ctx context.Context, content []byte) (*sitter.Tree, error) {
	// sitter.Parser is not safe for concurrent use, so each parse gets its own.
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(python.GetLanguage())
	return p.ParseCtx(ctx, nil, content)
}

func (p *PythonExtractor) Extract(filename string, content []byte) (*parser.FactSet, error) {
	tree, err := ParsePython(context.Background(), content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return parser.Failure(filename, p.Language(), "", fmt.Sprintf("syntax error near line %d", firstErrorLine(root))), nil
	}

	result := &parser.FactSet{
		Path:      filename,
		Language:  p.Language(),
		Docstring: ModuleDocstring(root, content),
	}

	p.extractSymbols(root, content, result)
	newColumnAnalyzer(root, content, result).run()
	newIOAnalyzer(root, content, result).run()
	extractMappings(root, content, result)

	return result, nil
}

func (p *PythonExtractor) extractSymbols(root *sitter.Node, content []byte, result *parser.FactSet) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := unwrapDecorated(root.NamedChild(i))
		switch node.Type() {
		case "function_definition":
			if fn := p.extractFunction(node, content, ""); fn != nil {
				result.Functions = append(result.Functions, *fn)
			}
		case "class_definition":
			p.extractMethods(node, content, result)
		case "expression_statement":
			if c := p.extractConstant(node, content); c != nil {
				result.Constants = append(result.Constants, *c)
			}
		}
	}
}

func (p *PythonExtractor) extractMethods(node *sitter.Node, content []byte, result *parser.FactSet) {
	nameNode := node.ChildByFieldName("name")
	bodyNode := node.ChildByFieldName("body")
	if nameNode == nil || bodyNode == nil {
		return
	}
	className := nameNode.Content(content)
	for i := 0; i < int(bodyNode.NamedChildCount()); i++ {
		child := unwrapDecorated(bodyNode.NamedChild(i))
		if child.Type() != "function_definition" {
			continue
		}
		if fn := p.extractFunction(child, content, className); fn != nil {
			result.Functions = append(result.Functions, *fn)
		}
	}
}

func (p *PythonExtractor) extractFunction(node *sitter.Node, content []byte, className string) *parser.FunctionFact {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	returnType := ""
	if returnNode := node.ChildByFieldName("return_type"); returnNode != nil {
		returnType = returnNode.Content(content)
	}

	bodyNode := node.ChildByFieldName("body")
	return &parser.FunctionFact{
		Name:       nameNode.Content(content),
		Class:      className,
		Signature:  buildFunctionSignature(node, content),
		Docstring:  BlockDocstring(bodyNode, content),
		ReturnType: returnType,
		Line:       lineOf(node),
		EndLine:    int(node.EndPoint().Row) + 1,
		Calls:      extractCalls(bodyNode, content),
	}
}

func (p *PythonExtractor) extractConstant(stmt *sitter.Node, content []byte) *parser.ConstantFact {
	assign := firstNamedChild(stmt)
	if assign == nil || assign.Type() != "assignment" {
		return nil
	}
	left := assign.ChildByFieldName("left")
	right := assign.ChildByFieldName("right")
	if left == nil || right == nil || left.Type() != "identifier" {
		return nil
	}
	name := left.Content(content)
	if !naming.IsConstantName(name) {
		return nil
	}
	return &parser.ConstantFact{
		Name:      name,
		Line:      lineOf(assign),
		ValueKind: valueKind(right),
		Preview:   preview(right.Content(content)),
	}
}

func buildFunctionSignature(node *sitter.Node, content []byte) string {
	nameNode := node.ChildByFieldName("name")
	paramsNode := node.ChildByFieldName("parameters")
	returnNode := node.ChildByFieldName("return_type")

	sig := "def"
	if first := node.Child(0); first != nil && first.Type() == "async" {
		sig = "async def"
	}
	if nameNode != nil {
		sig += " " + nameNode.Content(content)
	}
	if paramsNode != nil {
		sig += collapseSpace(paramsNode.Content(content))
	}
	if returnNode != nil {
		sig += " -> " + returnNode.Content(content)
	}

	return sig
}

func extractCalls(bodyNode *sitter.Node, content []byte) []parser.CallSite {
	if bodyNode == nil {
		return nil
	}

	calls := make([]parser.CallSite, 0)
	collectCalls(bodyNode, content, &calls)
	return calls
}

func collectCalls(node *sitter.Node, content []byte, calls *[]parser.CallSite) {
	if node == nil {
		return
	}

	if node.Type() == "call" {
		name, qualifier := extractCallName(node.ChildByFieldName("function"), content)
		if name != "" {
			*calls = append(*calls, parser.CallSite{
				Name:      name,
				Qualifier: qualifier,
				Line:      lineOf(node),
			})
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		collectCalls(node.Child(i), content, calls)
	}
}

func extractCallName(node *sitter.Node, content []byte) (name, qualifier string) {
	if node == nil {
		return "", ""
	}

	switch node.Type() {
	case "identifier":
		return node.Content(content), ""
	case "attribute":
		object := node.ChildByFieldName("object")
		attr := node.ChildByFieldName("attribute")
		if attr != nil {
			qualifierValue := ""
			if object != nil {
				qualifierValue = collapseSpace(object.Content(content))
			}
			return attr.Content(content), qualifierValue
		}
	case "parenthesized_expression":
		if inner := firstNamedChild(node); inner != nil {
			return extractCallName(inner, content)
		}
	case "subscript", "call":
		// x[i]() and f()() have no stable syntactic name
		return "", ""
	}

	qualifierValue, nameValue := splitQualifiedName(node.Content(content))
	return nameValue, qualifierValue
}

// ModuleDocstring returns the module's leading string literal, if any.
func ModuleDocstring(root *sitter.Node, content []byte) string {
	return leadingString(root, content)
}

// BlockDocstring returns the docstring of a function or class body.
func BlockDocstring(body *sitter.Node, content []byte) string {
	return leadingString(body, content)
}

// DocstringNode returns the expression statement holding the docstring of a
// body, or nil.
func DocstringNode(body *sitter.Node) *sitter.Node {
	if body == nil {
		return nil
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		if stmt.Type() == "comment" {
			continue
		}
		if stmt.Type() != "expression_statement" {
			return nil
		}
		expr := firstNamedChild(stmt)
		if expr != nil && expr.Type() == "string" {
			return stmt
		}
		return nil
	}
	return nil
}

func leadingString(body *sitter.Node, content []byte) string {
	stmt := DocstringNode(body)
	if stmt == nil {
		return ""
	}
	return cleanDocstring(firstNamedChild(stmt).Content(content))
}

func cleanDocstring(s string) string {
	s = strings.TrimSpace(unquote(s))
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func valueKind(node *sitter.Node) string {
	switch node.Type() {
	case "dictionary", "dictionary_comprehension":
		return "dict"
	case "list", "list_comprehension":
		return "list"
	case "tuple":
		return "tuple"
	case "set", "set_comprehension":
		return "set"
	case "string", "concatenated_string":
		return "str"
	case "integer":
		return "int"
	case "float":
		return "float"
	case "true", "false":
		return "bool"
	case "none":
		return "none"
	case "call":
		return "call"
	}
	return "expr"
}

func unwrapDecorated(node *sitter.Node) *sitter.Node {
	if node != nil && node.Type() == "decorated_definition" {
		if def := node.ChildByFieldName("definition"); def != nil {
			return def
		}
	}
	return node
}

func firstNamedChild(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != "comment" {
			return child
		}
	}
	return nil
}
