// Package skeleton reduces python sources to their interface: signatures,
// docstrings and module-level code, with function bodies elided.
package skeleton

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/skelly-dev/context-oracle/internal/languages"
	"github.com/skelly-dev/context-oracle/internal/oerrors"
)

const Ellipsis = "..."

var tokenPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*|\d+|\S`)

// Result is the skeleton of one file plus its compression numbers.
type Result struct {
	Text           string  `json:"-"`
	OriginalLines  int     `json:"original_lines"`
	SkeletonLines  int     `json:"skeleton_lines"`
	OriginalTokens int     `json:"original_tokens"`
	SkeletonTokens int     `json:"skeleton_tokens"`
	Ratio          float64 `json:"ratio"`
}

type edit struct {
	start, end  uint32
	replacement []byte
}

// Skeletonize replaces every function and method body in content with its
// docstring (when present) and a single "...". Everything outside function
// bodies is kept byte for byte. Both the input and the output must parse.
func Skeletonize(ctx context.Context, path string, content []byte) (*Result, error) {
	tree, err := languages.ParsePython(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, &oerrors.ExtractionError{File: path, Reason: "source does not parse"}
	}

	edits := make([]edit, 0)
	collectEdits(root, content, &edits)
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var out bytes.Buffer
	out.Grow(len(content))
	cursor := uint32(0)
	for _, e := range edits {
		out.Write(content[cursor:e.start])
		out.Write(e.replacement)
		cursor = e.end
	}
	out.Write(content[cursor:])
	skeleton := out.Bytes()

	check, err := languages.ParsePython(ctx, skeleton)
	if err != nil {
		return nil, fmt.Errorf("re-parse skeleton of %s: %w", path, err)
	}
	defer check.Close()
	if check.RootNode().HasError() {
		return nil, &oerrors.ExtractionError{File: path, Reason: "skeleton does not parse"}
	}

	result := &Result{
		Text:           string(skeleton),
		OriginalLines:  CountLines(content),
		SkeletonLines:  CountLines(skeleton),
		OriginalTokens: CountTokens(content),
		SkeletonTokens: CountTokens(skeleton),
	}
	result.Ratio = Ratio(result.OriginalTokens, result.SkeletonTokens)
	return result, nil
}

// collectEdits finds the outermost function bodies. Nested functions vanish
// with their parent's body; classes are descended into for methods.
func collectEdits(node *sitter.Node, content []byte, edits *[]edit) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "function_definition":
			if e, ok := bodyEdit(child, content); ok {
				*edits = append(*edits, e)
			}
		case "decorated_definition":
			collectEdits(child, content, edits)
		case "class_definition":
			if body := child.ChildByFieldName("body"); body != nil {
				collectEdits(body, content, edits)
			}
		default:
			// if/try blocks at module level can still define functions
			if child.Type() != "expression_statement" && child.Type() != "comment" {
				collectEdits(child, content, edits)
			}
		}
	}
}

func bodyEdit(fn *sitter.Node, content []byte) (edit, bool) {
	body := fn.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return edit{}, false
	}
	e := edit{start: body.StartByte(), end: body.EndByte()}

	doc := languages.DocstringNode(body)
	inline := body.StartPoint().Row == fn.StartPoint().Row
	switch {
	case doc == nil:
		e.replacement = []byte(Ellipsis)
	case inline:
		e.replacement = append(append([]byte(nil), content[doc.StartByte():doc.EndByte()]...), []byte("; "+Ellipsis)...)
	default:
		indent := strings.Repeat(" ", int(body.StartPoint().Column))
		e.replacement = append(append([]byte(nil), content[body.StartByte():doc.EndByte()]...), []byte("\n"+indent+Ellipsis)...)
	}

	if bytes.Equal(e.replacement, content[e.start:e.end]) {
		return edit{}, false
	}
	return e, true
}

// CountTokens counts identifiers, digit runs and single punctuation marks.
func CountTokens(content []byte) int {
	return len(tokenPattern.FindAllIndex(content, -1))
}

func CountLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := bytes.Count(content, []byte("\n"))
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}

// Ratio is original/skeleton rounded to two decimals; zero when the
// skeleton is empty.
func Ratio(original, skeleton int) float64 {
	if skeleton == 0 {
		return 0
	}
	return math.Round(float64(original)/float64(skeleton)*100) / 100
}

// OutputPath maps a source path to its skeleton artifact name, e.g.
// scripts/a.py -> scripts/a.skeleton.py.
func OutputPath(rel string) string {
	return strings.TrimSuffix(rel, ".py") + ".skeleton.py"
}
