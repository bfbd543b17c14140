package languages

import "github.com/skelly-dev/context-oracle/internal/parser"

const (
	LanguagePython     = "python"
	LanguageTypeScript = "typescript"
)

// NewDefaultRegistry creates a registry with all supported extractors
func NewDefaultRegistry() *parser.Registry {
	r := parser.NewRegistry()

	r.Register(NewPythonExtractor())
	r.Register(NewDrizzleExtractor())

	return r
}
