package languages

import (
	"sort"
	"strings"

	"github.com/skelly-dev/context-oracle/internal/parser"
	sitter "github.com/smacker/go-tree-sitter"
)

const (
	folderRaw         = "raw"
	folderImportReady = "import-ready"
	unresolvedPart    = "?"
)

type pathVar struct {
	parts []string
	line  int
}

// ioAnalyzer finds the data/<folder>/<file> paths a script reads and writes.
type ioAnalyzer struct {
	root    *sitter.Node
	content []byte
	result  *parser.FactSet
	vars    map[string]pathVar
	decided map[string]bool
	upper   string
}

func newIOAnalyzer(root *sitter.Node, content []byte, result *parser.FactSet) *ioAnalyzer {
	return &ioAnalyzer{
		root:    root,
		content: content,
		result:  result,
		vars:    make(map[string]pathVar),
		decided: make(map[string]bool),
		upper:   strings.ToUpper(string(content)),
	}
}

func (a *ioAnalyzer) run() {
	a.collectVars(a.root)

	names := make([]string, 0, len(a.vars))
	for name := range a.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := a.vars[name]
		path, ok := dataPath(v.parts)
		if !ok {
			continue
		}
		upper := strings.ToUpper(name)
		switch {
		case strings.Contains(upper, "INPUT"):
			a.addInput(path, v.line, parser.ConfidenceStatic, name)
		case strings.Contains(upper, "OUTPUT"):
			a.addOutput(path, v.line, parser.ConfidenceStatic, name)
		}
	}

	a.walkCalls(a.root)
	a.walkRefs(a.root)
}

func (a *ioAnalyzer) addInput(path string, line int, confidence parser.Confidence, binding string) {
	if confidence == parser.ConfidenceStatic {
		a.decided[path] = true
	}
	a.result.Inputs = append(a.result.Inputs, parser.FileRef{Path: path, Line: line, Confidence: confidence, Binding: binding})
}

func (a *ioAnalyzer) addOutput(path string, line int, confidence parser.Confidence, binding string) {
	if confidence == parser.ConfidenceStatic {
		a.decided[path] = true
	}
	a.result.Outputs = append(a.result.Outputs, parser.FileRef{Path: path, Line: line, Confidence: confidence, Binding: binding})
}

// collectVars records NAME = <path expression> in source order, so a later
// RAW_DIR / "x.csv" resolves through an earlier RAW_DIR.
func (a *ioAnalyzer) collectVars(node *sitter.Node) {
	if node == nil {
		return
	}
	if node.Type() == "assignment" {
		left := node.ChildByFieldName("left")
		right := node.ChildByFieldName("right")
		if left != nil && right != nil && left.Type() == "identifier" {
			parts := a.partsOf(right)
			if hasDataPrefix(parts) {
				a.vars[left.Content(a.content)] = pathVar{parts: parts, line: lineOf(node)}
			}
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		a.collectVars(node.NamedChild(i))
	}
}

func (a *ioAnalyzer) walkCalls(node *sitter.Node) {
	if node == nil {
		return
	}
	if node.Type() == "call" {
		name, _ := extractCallName(node.ChildByFieldName("function"), a.content)
		isRead := strings.HasPrefix(name, "read_")
		isWrite := strings.HasPrefix(name, "to_") && name != "to_datetime" && name != "to_numeric"
		if isRead || isWrite {
			if arg := pathArgument(node.ChildByFieldName("arguments"), a.content); arg != nil {
				if path, ok := dataPath(a.partsOf(arg)); ok {
					binding := ""
					if arg.Type() == "identifier" {
						binding = arg.Content(a.content)
					}
					if isRead {
						a.addInput(path, lineOf(node), parser.ConfidenceStatic, binding)
					} else {
						a.addOutput(path, lineOf(node), parser.ConfidenceStatic, binding)
					}
				}
			}
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		a.walkCalls(node.NamedChild(i))
	}
}

// walkRefs classifies every path expression not already decided by a
// binding name or an I/O call.
func (a *ioAnalyzer) walkRefs(node *sitter.Node) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "comment":
		return
	case "expression_statement":
		if expr := firstNamedChild(node); expr != nil && expr.Type() == "string" {
			return
		}
	case "string", "binary_operator", "call":
		parts := a.partsOf(node)
		if path, ok := dataPath(parts); ok {
			a.fallback(path, lineOf(node))
			return
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		a.walkRefs(node.NamedChild(i))
	}
}

func (a *ioAnalyzer) fallback(path string, line int) {
	if a.decided[path] {
		return
	}
	switch folderOf(path) {
	case folderRaw:
		a.addInput(path, line, parser.ConfidenceStatic, "")
		return
	case folderImportReady:
		a.addOutput(path, line, parser.ConfidenceStatic, "")
		return
	}
	if strings.Contains(a.upper, "INPUT") || strings.Contains(a.upper, "LOAD") {
		a.addInput(path, line, parser.ConfidenceUnknown, "")
	}
	if strings.Contains(a.upper, "OUTPUT") || strings.Contains(a.upper, "SAVE") {
		a.addOutput(path, line, parser.ConfidenceUnknown, "")
	}
}

// partsOf flattens a path expression into its segments. Segments that cannot
// be resolved statically become "?".
func (a *ioAnalyzer) partsOf(node *sitter.Node) []string {
	if node == nil {
		return []string{unresolvedPart}
	}
	if lit, ok := stringLiteral(node, a.content); ok {
		parts := make([]string, 0, 4)
		for _, part := range strings.Split(lit, "/") {
			if part != "" && part != "." {
				parts = append(parts, part)
			}
		}
		return parts
	}
	switch node.Type() {
	case "binary_operator":
		op := node.ChildByFieldName("operator")
		if op != nil && op.Content(a.content) == "/" {
			return append(a.partsOf(node.ChildByFieldName("left")), a.partsOf(node.ChildByFieldName("right"))...)
		}
	case "identifier":
		if v, ok := a.vars[node.Content(a.content)]; ok {
			return append([]string(nil), v.parts...)
		}
	case "parenthesized_expression":
		return a.partsOf(firstNamedChild(node))
	case "call":
		name, _ := extractCallName(node.ChildByFieldName("function"), a.content)
		if name == "Path" || name == "join" {
			args := node.ChildByFieldName("arguments")
			parts := make([]string, 0, 4)
			for i := 0; args != nil && i < int(args.NamedChildCount()); i++ {
				parts = append(parts, a.partsOf(args.NamedChild(i))...)
			}
			return parts
		}
	}
	return []string{unresolvedPart}
}

func hasDataPrefix(parts []string) bool {
	for _, part := range parts {
		if part == "data" {
			return true
		}
	}
	return false
}

// dataPath renders segments as data/<folder>/<file> when everything after the
// last "data" segment is known.
func dataPath(parts []string) (string, bool) {
	idx := -1
	for i, part := range parts {
		if part == "data" {
			idx = i
		}
	}
	if idx == -1 || len(parts)-idx < 3 {
		return "", false
	}
	tail := parts[idx+1:]
	for _, part := range tail {
		if part == unresolvedPart {
			return "", false
		}
	}
	return "data/" + strings.Join(tail, "/"), true
}

func folderOf(path string) string {
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

func pathArgument(args *sitter.Node, content []byte) *sitter.Node {
	if args == nil {
		return nil
	}
	for _, kw := range []string{"filepath_or_buffer", "path_or_buf", "io", "path"} {
		if value := keywordArg(args, kw, content); value != nil {
			return value
		}
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		child := args.NamedChild(i)
		if child.Type() != "keyword_argument" && child.Type() != "comment" {
			return child
		}
	}
	return nil
}

// extractMappings records module-level NAME_MAPPING = {"csv": "db"} dicts.
func extractMappings(root *sitter.Node, content []byte, result *parser.FactSet) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		assign := firstNamedChild(root.NamedChild(i))
		if assign == nil || assign.Type() != "assignment" {
			continue
		}
		left := assign.ChildByFieldName("left")
		right := assign.ChildByFieldName("right")
		if left == nil || right == nil || left.Type() != "identifier" {
			continue
		}
		name := left.Content(content)
		if !strings.HasSuffix(name, "_MAPPING") || right.Type() != "dictionary" {
			continue
		}
		for j := 0; j < int(right.NamedChildCount()); j++ {
			pair := right.NamedChild(j)
			if pair.Type() != "pair" {
				continue
			}
			source, okKey := stringLiteral(pair.ChildByFieldName("key"), content)
			target, okValue := stringLiteral(pair.ChildByFieldName("value"), content)
			if !okKey || !okValue {
				continue
			}
			result.Mappings = append(result.Mappings, parser.ColumnMapping{
				Mapping: name,
				Source:  source,
				Target:  target,
				Line:    lineOf(pair),
			})
		}
	}
}
