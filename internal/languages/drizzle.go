package languages

import (
	"context"
	"fmt"
	"strings"

	"github.com/skelly-dev/context-oracle/internal/parser"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// DrizzleExtractor reads table declarations out of Drizzle ORM schema files.
type DrizzleExtractor struct{}

// NewDrizzleExtractor creates a new schema extractor
func NewDrizzleExtractor() *DrizzleExtractor {
	return &DrizzleExtractor{}
}

func (d *DrizzleExtractor) Language() string {
	return LanguageTypeScript
}

func (d *DrizzleExtractor) Extensions() []string {
	return []string{".ts"}
}

// ParseTypeScript parses content with the typescript grammar. Callers own the tree.
func ParseTypeScript(ctx context.Context, content []byte) (*sitter.Tree, error) {
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(typescript.GetLanguage())
	return p.ParseCtx(ctx, nil, content)
}

func (d *DrizzleExtractor) Extract(filename string, content []byte) (*parser.FactSet, error) {
	tree, err := ParseTypeScript(context.Background(), content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return parser.Failure(filename, d.Language(), "", fmt.Sprintf("syntax error near line %d", firstErrorLine(root))), nil
	}

	result := &parser.FactSet{
		Path:     filename,
		Language: d.Language(),
	}
	d.extractTables(root, content, result)
	return result, nil
}

func (d *DrizzleExtractor) extractTables(node *sitter.Node, content []byte, result *parser.FactSet) {
	switch node.Type() {
	case "lexical_declaration", "variable_declaration":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			declarator := node.NamedChild(i)
			if declarator.Type() != "variable_declarator" {
				continue
			}
			if table := d.extractTable(declarator, content); table != nil {
				result.Tables = append(result.Tables, *table)
			}
		}
		return
	case "function_declaration", "class_declaration", "arrow_function":
		return
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		d.extractTables(node.NamedChild(i), content, result)
	}
}

func (d *DrizzleExtractor) extractTable(declarator *sitter.Node, content []byte) *parser.TableDef {
	nameNode := declarator.ChildByFieldName("name")
	value := declarator.ChildByFieldName("value")
	if nameNode == nil || value == nil || value.Type() != "call_expression" {
		return nil
	}
	if !isTableConstructor(value.ChildByFieldName("function"), content) {
		return nil
	}

	args := namedArgs(value.ChildByFieldName("arguments"))
	if len(args) < 2 {
		return nil
	}
	tableName, ok := tsString(args[0], content)
	if !ok || args[1].Type() != "object" {
		return nil
	}

	table := &parser.TableDef{
		Name:     tableName,
		Variable: nameNode.Content(content),
		Line:     lineOf(declarator),
		Fields:   make([]parser.TableField, 0),
	}
	columns := args[1]
	for i := 0; i < int(columns.NamedChildCount()); i++ {
		pair := columns.NamedChild(i)
		if pair.Type() != "pair" {
			continue
		}
		if field, ok := d.extractField(pair, content); ok {
			table.Fields = append(table.Fields, field)
		}
	}
	return table
}

// extractField unwinds a builder chain like
// varchar('po_number', { length: 50 }).notNull().references(() => t.id).
func (d *DrizzleExtractor) extractField(pair *sitter.Node, content []byte) (parser.TableField, bool) {
	keyNode := pair.ChildByFieldName("key")
	value := pair.ChildByFieldName("value")
	if keyNode == nil || value == nil {
		return parser.TableField{}, false
	}
	key := keyNode.Content(content)
	if s, ok := tsString(keyNode, content); ok {
		key = s
	}

	field := parser.TableField{Key: key, Column: key, Line: lineOf(pair)}
	current := value
	for current != nil && current.Type() == "call_expression" {
		fn := current.ChildByFieldName("function")
		args := namedArgs(current.ChildByFieldName("arguments"))
		if fn == nil {
			break
		}
		if fn.Type() == "identifier" {
			field.Type = fn.Content(content)
			if len(args) > 0 {
				if col, ok := tsString(args[0], content); ok {
					field.Column = col
				}
			}
			return field, true
		}
		if fn.Type() != "member_expression" {
			break
		}
		property := fn.ChildByFieldName("property")
		if property != nil {
			switch property.Content(content) {
			case "primaryKey":
				field.PrimaryKey = true
				field.NotNull = true
			case "notNull":
				field.NotNull = true
			case "unique":
				field.Unique = true
			case "references":
				if len(args) > 0 {
					field.References = referenceTarget(args[0], content)
				}
			}
		}
		current = fn.ChildByFieldName("object")
	}
	return parser.TableField{}, false
}

// referenceTarget reads `() => other.id`.
func referenceTarget(node *sitter.Node, content []byte) *parser.FieldRef {
	var member *sitter.Node
	var find func(n *sitter.Node)
	find = func(n *sitter.Node) {
		if n == nil || member != nil {
			return
		}
		if n.Type() == "member_expression" {
			member = n
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			find(n.NamedChild(i))
		}
	}
	find(node)
	if member == nil {
		return nil
	}
	object := member.ChildByFieldName("object")
	property := member.ChildByFieldName("property")
	if object == nil || property == nil {
		return nil
	}
	return &parser.FieldRef{
		Variable: object.Content(content),
		Field:    property.Content(content),
	}
}

func isTableConstructor(fn *sitter.Node, content []byte) bool {
	if fn == nil {
		return false
	}
	switch fn.Type() {
	case "identifier":
		return strings.HasSuffix(fn.Content(content), "Table")
	case "member_expression":
		property := fn.ChildByFieldName("property")
		return property != nil && property.Content(content) == "table"
	}
	return false
}

func namedArgs(args *sitter.Node) []*sitter.Node {
	if args == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, args.NamedChildCount())
	for i := 0; i < int(args.NamedChildCount()); i++ {
		child := args.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		out = append(out, child)
	}
	return out
}

func tsString(node *sitter.Node, content []byte) (string, bool) {
	if node == nil {
		return "", false
	}
	switch node.Type() {
	case "string":
		return unquote(node.Content(content)), true
	case "template_string":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			if node.NamedChild(i).Type() == "template_substitution" {
				return "", false
			}
		}
		return unquote(node.Content(content)), true
	}
	return "", false
}
