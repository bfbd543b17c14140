package languages

import (
	"github.com/skelly-dev/context-oracle/internal/naming"
	"github.com/skelly-dev/context-oracle/internal/parser"
	sitter "github.com/smacker/go-tree-sitter"
)

// binding is what a plain variable holds after `name = <expr>`: the literal
// columns the expression referenced. Bindings are one hop only.
type binding struct {
	columns []string
	dynamic bool
}

type pyScope struct {
	function string
	bindings map[string]binding
	// names that hold a computed column name (loop variables, built strings)
	dynamicNames map[string]bool
}

func newScope(function string) *pyScope {
	return &pyScope{
		function:     function,
		bindings:     make(map[string]binding),
		dynamicNames: make(map[string]bool),
	}
}

type columnAnalyzer struct {
	root    *sitter.Node
	content []byte
	result  *parser.FactSet

	// module-level NAME = "literal"
	strConsts map[string]string
	// module-level NAME = {"a": "b", ...}
	dicts map[string][][2]string
}

func newColumnAnalyzer(root *sitter.Node, content []byte, result *parser.FactSet) *columnAnalyzer {
	return &columnAnalyzer{
		root:      root,
		content:   content,
		result:    result,
		strConsts: make(map[string]string),
		dicts:     make(map[string][][2]string),
	}
}

func (a *columnAnalyzer) run() {
	for i := 0; i < int(a.root.NamedChildCount()); i++ {
		assign := firstNamedChild(a.root.NamedChild(i))
		if assign == nil || assign.Type() != "assignment" {
			continue
		}
		left := assign.ChildByFieldName("left")
		right := assign.ChildByFieldName("right")
		if left == nil || right == nil || left.Type() != "identifier" {
			continue
		}
		name := left.Content(a.content)
		if lit, ok := stringLiteral(right, a.content); ok {
			a.strConsts[name] = lit
		}
		if pairs, ok := stringDict(right, a.content); ok {
			a.dicts[name] = pairs
		}
	}
	a.walkBlock(a.root, newScope(""))
}

func (a *columnAnalyzer) walkBlock(block *sitter.Node, sc *pyScope) {
	for i := 0; i < int(block.NamedChildCount()); i++ {
		a.visit(block.NamedChild(i), sc)
	}
}

func (a *columnAnalyzer) visit(node *sitter.Node, sc *pyScope) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "function_definition":
		nameNode := node.ChildByFieldName("name")
		body := node.ChildByFieldName("body")
		if nameNode != nil && body != nil {
			a.walkBlock(body, newScope(nameNode.Content(a.content)))
		}
		return
	case "assignment":
		a.assign(node, sc)
		return
	case "augmented_assignment":
		a.augmentedAssign(node, sc)
		return
	case "for_statement", "for_in_clause":
		if left := node.ChildByFieldName("left"); left != nil {
			for _, name := range identifiersIn(left, a.content) {
				sc.dynamicNames[name] = true
			}
		}
	case "subscript":
		a.read(node, sc)
	case "call":
		a.call(node, sc)
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		a.visit(node.NamedChild(i), sc)
	}
}

func (a *columnAnalyzer) read(node *sitter.Node, sc *pyScope) {
	key := a.columnKey(node, sc)
	if key == nil {
		return
	}
	if key.dynamic {
		a.result.DynamicRefs = append(a.result.DynamicRefs, parser.ColumnRef{
			Column:   collapseSpace(key.node.Content(a.content)),
			Line:     lineOf(node),
			Function: sc.function,
		})
		return
	}
	for _, col := range key.columns {
		a.result.ColumnReads = append(a.result.ColumnReads, parser.ColumnRef{
			Column:   col,
			Line:     lineOf(node),
			Function: sc.function,
		})
	}
}

func (a *columnAnalyzer) assign(node *sitter.Node, sc *pyScope) {
	targets, rhs := flattenAssignment(node)
	if rhs == nil {
		return
	}

	refs := a.exprRefs(rhs, sc)
	a.visit(rhs, sc)

	for _, target := range targets {
		switch target.Type() {
		case "subscript":
			a.visitTargetContext(target, sc)
			key := a.columnKey(target, sc)
			if key == nil {
				continue
			}
			if key.dynamic {
				a.read(target, sc)
				continue
			}
			for _, col := range key.columns {
				a.result.ColumnWrites = append(a.result.ColumnWrites, a.newWrite(col, target, rhs, preview(rhs.Content(a.content)), refs, sc))
			}
		case "identifier":
			name := target.Content(a.content)
			if len(refs.literal) > 0 || refs.dynamic {
				sc.bindings[name] = binding{columns: refs.literal, dynamic: refs.dynamic}
			} else {
				delete(sc.bindings, name)
			}
			if buildsString(rhs, a.content) {
				sc.dynamicNames[name] = true
			} else {
				delete(sc.dynamicNames, name)
			}
		default:
			for _, name := range identifiersIn(target, a.content) {
				delete(sc.bindings, name)
			}
			a.visitTargetContext(target, sc)
		}
	}
}

func (a *columnAnalyzer) augmentedAssign(node *sitter.Node, sc *pyScope) {
	target := node.ChildByFieldName("left")
	rhs := node.ChildByFieldName("right")
	if target == nil || rhs == nil {
		return
	}
	refs := a.exprRefs(rhs, sc)
	a.visit(rhs, sc)

	if target.Type() != "subscript" {
		return
	}
	a.visitTargetContext(target, sc)
	key := a.columnKey(target, sc)
	if key == nil || key.dynamic {
		return
	}
	op := ""
	if opNode := node.ChildByFieldName("operator"); opNode != nil {
		op = opNode.Content(a.content) + " "
	}
	for _, col := range key.columns {
		a.result.ColumnWrites = append(a.result.ColumnWrites, a.newWrite(col, target, rhs, preview(op+rhs.Content(a.content)), refs, sc))
	}
}

func (a *columnAnalyzer) newWrite(col string, target, rhs *sitter.Node, operation string, refs exprRefs, sc *pyScope) parser.ColumnWrite {
	write := parser.ColumnWrite{
		Column:     col,
		Line:       lineOf(target),
		Function:   sc.function,
		Operation:  operation,
		Dtype:      dtypeOf(rhs, a.content),
		Incomplete: refs.dynamic,
	}
	for _, src := range refs.literal {
		if src == col {
			continue
		}
		write.Sources = append(write.Sources, parser.SourceColumn{Column: src, Confidence: parser.ConfidenceStatic})
	}
	for _, src := range refs.traced {
		if src.Column == col {
			continue
		}
		write.Sources = append(write.Sources, src)
	}
	if write.Incomplete {
		for i := range write.Sources {
			write.Sources[i].Confidence = parser.ConfidenceUnknown
		}
	}
	return write
}

// visitTargetContext records reads inside an assignment target, like the
// mask in df.loc[df["a"] > 0, "b"], without counting the target column.
func (a *columnAnalyzer) visitTargetContext(target *sitter.Node, sc *pyScope) {
	if target.Type() != "subscript" {
		a.visit(target, sc)
		return
	}
	if value := target.ChildByFieldName("value"); value != nil {
		a.visit(value, sc)
	}
	keys := subscriptKeys(target)
	for i := 0; i < len(keys)-1; i++ {
		a.visit(keys[i], sc)
	}
}

type exprRefs struct {
	literal []string
	traced  []parser.SourceColumn
	dynamic bool
}

func (a *columnAnalyzer) exprRefs(node *sitter.Node, sc *pyScope) exprRefs {
	var refs exprRefs
	seen := make(map[string]bool)
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		switch n.Type() {
		case "subscript":
			if key := a.columnKey(n, sc); key != nil {
				if key.dynamic {
					refs.dynamic = true
				}
				for _, col := range key.columns {
					if !seen[col] {
						seen[col] = true
						refs.literal = append(refs.literal, col)
					}
				}
			}
			// the subscripted frame itself is not a column binding
			if value := n.ChildByFieldName("value"); value != nil && value.Type() != "identifier" {
				walk(value)
			}
			for _, key := range subscriptKeys(n) {
				walk(key)
			}
			return
		case "identifier":
			name := n.Content(a.content)
			if b, ok := sc.bindings[name]; ok {
				for _, col := range b.columns {
					refs.traced = append(refs.traced, parser.SourceColumn{
						Column:     col,
						Confidence: parser.ConfidenceTraced,
						Via:        name,
					})
				}
				if b.dynamic {
					refs.dynamic = true
				}
			}
			return
		case "attribute":
			walk(n.ChildByFieldName("object"))
			return
		case "keyword_argument":
			walk(n.ChildByFieldName("value"))
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(node)
	return refs
}

type columnKey struct {
	node    *sitter.Node
	columns []string
	dynamic bool
}

// columnKey interprets a subscript as a column access. It returns nil when the
// subscript is not one (row masks, integer indexes, slices).
func (a *columnAnalyzer) columnKey(node *sitter.Node, sc *pyScope) *columnKey {
	keys := subscriptKeys(node)
	if len(keys) == 0 {
		return nil
	}
	key := keys[0]
	if value := node.ChildByFieldName("value"); value != nil && isIndexer(value, a.content) {
		key = keys[len(keys)-1]
	} else if len(keys) != 1 {
		return nil
	}

	if lit, ok := stringLiteral(key, a.content); ok {
		return &columnKey{node: key, columns: []string{lit}}
	}
	if lits, ok := stringList(key, a.content); ok {
		return &columnKey{node: key, columns: lits}
	}
	switch key.Type() {
	case "string":
		if isFString(key) {
			return &columnKey{node: key, dynamic: true}
		}
	case "binary_operator":
		if buildsString(key, a.content) {
			return &columnKey{node: key, dynamic: true}
		}
	case "identifier":
		name := key.Content(a.content)
		if lit, ok := a.strConsts[name]; ok && naming.IsConstantName(name) {
			return &columnKey{node: key, columns: []string{lit}}
		}
		if sc.dynamicNames[name] {
			return &columnKey{node: key, dynamic: true}
		}
	}
	return nil
}

func (a *columnAnalyzer) call(node *sitter.Node, sc *pyScope) {
	name, _ := extractCallName(node.ChildByFieldName("function"), a.content)
	args := node.ChildByFieldName("arguments")
	if args == nil {
		return
	}
	switch name {
	case "merge", "join":
		for _, kw := range []string{"on", "left_on", "right_on"} {
			value := keywordArg(args, kw, a.content)
			if value == nil {
				continue
			}
			cols, ok := stringList(value, a.content)
			if !ok {
				if lit, isLit := stringLiteral(value, a.content); isLit {
					cols = []string{lit}
				}
			}
			for _, col := range cols {
				a.result.Joins = append(a.result.Joins, parser.ColumnRef{Column: col, Line: lineOf(node), Function: sc.function})
			}
		}
	case "rename":
		value := keywordArg(args, "columns", a.content)
		if value == nil {
			return
		}
		pairs, ok := stringDict(value, a.content)
		if !ok && value.Type() == "identifier" {
			pairs, ok = a.dicts[value.Content(a.content)]
		}
		if !ok {
			return
		}
		for _, pair := range pairs {
			a.result.Renames = append(a.result.Renames, parser.Rename{From: pair[0], To: pair[1], Line: lineOf(node)})
		}
	}
}

func flattenAssignment(node *sitter.Node) ([]*sitter.Node, *sitter.Node) {
	targets := make([]*sitter.Node, 0, 1)
	current := node
	for current != nil && current.Type() == "assignment" {
		if left := current.ChildByFieldName("left"); left != nil {
			targets = append(targets, left)
		}
		current = current.ChildByFieldName("right")
	}
	return targets, current
}

func subscriptKeys(node *sitter.Node) []*sitter.Node {
	keys := make([]*sitter.Node, 0, 1)
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.FieldNameForChild(i) == "subscript" {
			keys = append(keys, node.Child(i))
		}
	}
	return keys
}

// isIndexer reports df.loc / df.at style accessors whose last key is the column.
func isIndexer(value *sitter.Node, content []byte) bool {
	if value.Type() != "attribute" {
		return false
	}
	attr := value.ChildByFieldName("attribute")
	if attr == nil {
		return false
	}
	switch attr.Content(content) {
	case "loc", "at":
		return true
	}
	return false
}

func dtypeOf(rhs *sitter.Node, content []byte) string {
	switch rhs.Type() {
	case "string":
		if !isFString(rhs) {
			return "str"
		}
	case "integer":
		return "int"
	case "float":
		return "float"
	case "true", "false":
		return "bool"
	case "call":
		name, _ := extractCallName(rhs.ChildByFieldName("function"), content)
		switch name {
		case "to_datetime":
			return "datetime64"
		case "to_numeric":
			return "numeric"
		case "astype":
			args := rhs.ChildByFieldName("arguments")
			arg := firstNamedChild(args)
			if arg == nil {
				return ""
			}
			if lit, ok := stringLiteral(arg, content); ok {
				return lit
			}
			_, last := splitQualifiedName(arg.Content(content))
			return last
		}
	}
	return ""
}

func keywordArg(args *sitter.Node, name string, content []byte) *sitter.Node {
	for i := 0; i < int(args.NamedChildCount()); i++ {
		child := args.NamedChild(i)
		if child.Type() != "keyword_argument" {
			continue
		}
		nameNode := child.ChildByFieldName("name")
		if nameNode != nil && nameNode.Content(content) == name {
			return child.ChildByFieldName("value")
		}
	}
	return nil
}

func identifiersIn(node *sitter.Node, content []byte) []string {
	if node == nil {
		return nil
	}
	if node.Type() == "identifier" {
		return []string{node.Content(content)}
	}
	names := make([]string, 0)
	for i := 0; i < int(node.NamedChildCount()); i++ {
		names = append(names, identifiersIn(node.NamedChild(i), content)...)
	}
	return names
}
