package patterns

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/skelly-dev/context-oracle/internal/languages"
)

type familyMember struct {
	ex      exemplar
	fn      *sitter.Node
	opening string
}

// familyTemplate renders the most common shape of the functions named
// family+"...": the header with the suffix as {what}, the docstring as
// {description} and the body cut after the opening statement most members
// share.
func familyTemplate(exemplars []exemplar, family string) (string, bool) {
	members := make([]familyMember, 0)
	for _, ex := range exemplars {
		for i := 0; i < int(ex.root.NamedChildCount()); i++ {
			fn := ex.root.NamedChild(i)
			if fn.Type() == "decorated_definition" {
				fn = fn.ChildByFieldName("definition")
			}
			if fn == nil || fn.Type() != "function_definition" {
				continue
			}
			name := fn.ChildByFieldName("name").Content(ex.content)
			if !strings.HasPrefix(name, family) || len(name) == len(family) {
				continue
			}
			members = append(members, familyMember{ex: ex, fn: fn, opening: openingStatement(fn, ex.content)})
		}
	}
	if len(members) == 0 {
		return "", false
	}

	counts := make(map[string]int)
	best := members[0]
	for _, m := range members {
		counts[m.opening]++
	}
	for _, m := range members {
		if counts[m.opening] > counts[best.opening] {
			best = m
		}
	}
	return renderTemplate(best, family), true
}

func openingStatement(fn *sitter.Node, content []byte) string {
	body := fn.ChildByFieldName("body")
	if body == nil {
		return ""
	}
	doc := languages.DocstringNode(body)
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		if stmt.Type() == "comment" || (doc != nil && stmt.StartByte() == doc.StartByte()) {
			continue
		}
		return stmt.Content(content)
	}
	return ""
}

func renderTemplate(m familyMember, family string) string {
	content := m.ex.content
	name := m.fn.ChildByFieldName("name")
	body := m.fn.ChildByFieldName("body")

	var b strings.Builder
	b.Write(content[m.fn.StartByte():name.StartByte()])
	b.WriteString(family + "{what}")
	header := string(content[name.EndByte():body.StartByte()])
	b.WriteString(strings.TrimRight(header, " \t\r\n"))

	indent := strings.Repeat(" ", int(body.StartPoint().Column))
	b.WriteString("\n" + indent + `"""{description}"""`)
	if m.opening != "" {
		b.WriteString("\n" + indent + m.opening)
	}
	b.WriteString("\n" + indent + "...")
	return b.String()
}
