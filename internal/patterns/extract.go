package patterns

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"

	"github.com/skelly-dev/context-oracle/internal/ignore"
	"github.com/skelly-dev/context-oracle/internal/languages"
	"github.com/skelly-dev/context-oracle/internal/logging"
	"github.com/skelly-dev/context-oracle/internal/naming"
)

const LibraryVersion = "patterns-v1"

// Section labels for python exemplars.
const (
	SectionModuleDocstring    = "module docstring"
	SectionImports            = "imports"
	SectionPathConstants      = "path constants"
	SectionConstants          = "constants"
	SectionLoadFunction       = "load function"
	SectionTransformFunctions = "transform functions"
	SectionSaveFunction       = "save function"
	SectionMainFunction       = "main function"
	SectionOtherFunctions     = "other functions"
	SectionMainGuard          = "main guard"
)

// Section labels for typescript exemplars.
const (
	SectionDrizzleImports  = "drizzle imports"
	SectionSchemaImport    = "schema import"
	SectionTableDefinition = "table definition"
	SectionTypeExports     = "type exports"
)

var transformPrefixes = []string{
	"filter_", "calculate_", "map_", "clean_", "add_", "compute_", "convert_",
	"enrich_", "merge_", "normalize_", "prepare_", "rename_", "transform_",
}

type Pattern struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	FileType    string            `json:"file_type"`
	Structure   []string          `json:"structure"`
	Templates   map[string]string `json:"templates"`
	Conventions []string          `json:"conventions"`
	Examples    []string          `json:"examples"`
}

// Library is the patterns.json document.
type Library struct {
	Version     string              `json:"version"`
	GeneratedAt string              `json:"generated_at"`
	Definitions string              `json:"definitions"`
	Patterns    map[string]*Pattern `json:"patterns"`
}

// Extractor mines patterns from the files of one repository.
type Extractor struct {
	root   string
	files  []string
	logger *zap.Logger
}

// NewExtractor takes the root-relative source paths exemplar globs are
// matched against.
func NewExtractor(root string, files []string, logger *zap.Logger) *Extractor {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	return &Extractor{root: root, files: sorted, logger: logging.OrNop(logger)}
}

// Extract builds a pattern for every definition. Exemplars that fail to
// parse are skipped; only I/O errors abort.
func (e *Extractor) Extract(ctx context.Context, defs []Definition) (*Library, error) {
	lib := &Library{
		Version:     LibraryVersion,
		Definitions: DefinitionsHash(defs),
		Patterns:    make(map[string]*Pattern, len(defs)),
	}
	for _, def := range defs {
		p, err := e.extractOne(ctx, def)
		if err != nil {
			return nil, err
		}
		lib.Patterns[def.Name] = p
	}
	return lib, nil
}

type exemplar struct {
	path    string
	content []byte
	root    *sitter.Node
}

func (e *Extractor) extractOne(ctx context.Context, def Definition) (*Pattern, error) {
	p := &Pattern{
		Name:        def.Name,
		Description: def.Description,
		FileType:    def.FileType,
		Structure:   []string{},
		Templates:   make(map[string]string),
		Conventions: append([]string{}, def.Conventions...),
		Examples:    []string{},
	}

	parse := languages.ParsePython
	if def.FileType == FileTypeTypeScript {
		parse = languages.ParseTypeScript
	}

	exemplars := make([]exemplar, 0)
	for _, rel := range e.files {
		if !ignore.MatchAny(def.Exemplars, rel) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("read exemplar %s: %w", rel, err)
		}
		tree, err := parse(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("parse exemplar %s: %w", rel, err)
		}
		defer tree.Close()
		if tree.RootNode().HasError() {
			e.logger.Warn("skipping exemplar with syntax errors", zap.String("pattern", def.Name), zap.String("file", rel))
			continue
		}
		exemplars = append(exemplars, exemplar{path: rel, content: content, root: tree.RootNode()})
		p.Examples = append(p.Examples, rel)
	}

	structures := make([][]string, 0, len(exemplars))
	for _, ex := range exemplars {
		if def.FileType == FileTypeTypeScript {
			structures = append(structures, typescriptSections(ex.root, ex.content))
		} else {
			structures = append(structures, pythonSections(ex.root, ex.content))
		}
	}
	p.Structure = mostCommon(structures)

	if def.FileType != FileTypeTypeScript {
		for _, family := range def.Families {
			if tmpl, ok := familyTemplate(exemplars, family); ok {
				p.Templates[family+"{what}"] = tmpl
			}
		}
	}
	for name, tmpl := range def.Templates {
		p.Templates[name] = tmpl
	}
	return p, nil
}

// pythonSections labels top-level statements in order, collapsing runs of
// the same label.
func pythonSections(root *sitter.Node, content []byte) []string {
	labels := make([]string, 0)
	push := func(label string) {
		if label != "" && (len(labels) == 0 || labels[len(labels)-1] != label) {
			labels = append(labels, label)
		}
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		switch stmt.Type() {
		case "expression_statement":
			if doc := languages.DocstringNode(root); doc != nil && doc.StartByte() == stmt.StartByte() {
				push(SectionModuleDocstring)
				continue
			}
			push(assignmentSection(stmt, content))
		case "import_statement", "import_from_statement", "future_import_statement":
			push(SectionImports)
		case "function_definition", "decorated_definition":
			fn := stmt
			if fn.Type() == "decorated_definition" {
				fn = stmt.ChildByFieldName("definition")
			}
			if fn == nil || fn.Type() != "function_definition" {
				continue
			}
			push(functionSection(fn.ChildByFieldName("name").Content(content)))
		case "if_statement":
			if cond := stmt.ChildByFieldName("condition"); cond != nil && strings.Contains(cond.Content(content), "__name__") {
				push(SectionMainGuard)
			}
		}
	}
	return labels
}

func assignmentSection(stmt *sitter.Node, content []byte) string {
	if stmt.NamedChildCount() == 0 {
		return ""
	}
	assign := stmt.NamedChild(0)
	if assign.Type() != "assignment" {
		return ""
	}
	left := assign.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return ""
	}
	name := left.Content(content)
	if !naming.IsConstantName(name) {
		return ""
	}
	right := ""
	if r := assign.ChildByFieldName("right"); r != nil {
		right = r.Content(content)
	}
	if isPathConstant(name, right) {
		return SectionPathConstants
	}
	return SectionConstants
}

func isPathConstant(name, value string) bool {
	for _, suffix := range []string{"_DIR", "_FILE", "_PATH", "ROOT"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return strings.Contains(value, "Path(") || strings.Contains(value, "__file__") || strings.Contains(value, "PROJECT_ROOT")
}

func functionSection(name string) string {
	switch {
	case name == "main":
		return SectionMainFunction
	case strings.HasPrefix(name, "load") || strings.HasPrefix(name, "read_"):
		return SectionLoadFunction
	case strings.HasPrefix(name, "save") || strings.HasPrefix(name, "write_"):
		return SectionSaveFunction
	}
	for _, prefix := range transformPrefixes {
		if strings.HasPrefix(name, prefix) {
			return SectionTransformFunctions
		}
	}
	return SectionOtherFunctions
}

func typescriptSections(root *sitter.Node, content []byte) []string {
	labels := make([]string, 0)
	push := func(label string) {
		if label != "" && (len(labels) == 0 || labels[len(labels)-1] != label) {
			labels = append(labels, label)
		}
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		text := stmt.Content(content)
		switch stmt.Type() {
		case "import_statement":
			src := stmt.ChildByFieldName("source")
			if src != nil && strings.Contains(src.Content(content), "drizzle-orm") {
				push(SectionDrizzleImports)
			} else {
				push(SectionSchemaImport)
			}
		case "export_statement", "lexical_declaration":
			switch {
			case strings.Contains(text, "export type") || strings.Contains(text, "$infer"):
				push(SectionTypeExports)
			case strings.Contains(text, ".table(") || strings.Contains(text, "Table("):
				push(SectionTableDefinition)
			}
		case "type_alias_declaration":
			push(SectionTypeExports)
		}
	}
	return labels
}

// mostCommon returns the structure shared by the most exemplars. Ties go to
// the structure seen first.
func mostCommon(structures [][]string) []string {
	counts := make(map[string]int)
	order := make([]string, 0)
	byKey := make(map[string][]string)
	for _, s := range structures {
		key := strings.Join(s, "\x00")
		if _, ok := byKey[key]; !ok {
			byKey[key] = s
			order = append(order, key)
		}
		counts[key]++
	}
	if len(order) == 0 {
		return []string{}
	}
	best := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[best] {
			best = key
		}
	}
	return byKey[best]
}
