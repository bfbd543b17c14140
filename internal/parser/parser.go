package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/skelly-dev/context-oracle/internal/fileutil"
)

// Extractor turns one file's text into facts. Implementations must be safe to
// call from several goroutines at once.
type Extractor interface {
	// Language returns the language name (e.g., "python", "typescript")
	Language() string

	// Extensions returns file extensions this extractor handles
	Extensions() []string

	// Extract returns the facts of one file. A syntax failure is reported
	// through FactSet.Error, not through the error return.
	Extract(path string, content []byte) (*FactSet, error)
}

// Registry holds all registered extractors
type Registry struct {
	extractors map[string]Extractor // language name -> extractor
	extToLang  map[string]string    // extension -> language name
}

// NewRegistry creates a new extractor registry
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[string]Extractor),
		extToLang:  make(map[string]string),
	}
}

// Register adds an extractor to the registry
func (r *Registry) Register(e Extractor) {
	lang := e.Language()
	r.extractors[lang] = e
	for _, ext := range e.Extensions() {
		r.extToLang[strings.ToLower(ext)] = lang
	}
}

// ExtractorFor returns the extractor responsible for a file
func (r *Registry) ExtractorFor(filename string) (Extractor, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	lang, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	e, ok := r.extractors[lang]
	return e, ok
}

// Supports reports whether some extractor handles filename.
func (r *Registry) Supports(filename string) bool {
	_, ok := r.ExtractorFor(filename)
	return ok
}

// SupportedExtensions returns all supported file extensions, sorted
func (r *Registry) SupportedExtensions() []string {
	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ExtractFile reads root/relPath and extracts it. The returned error covers
// I/O only; parse failures come back as a FactSet with Error set.
func (r *Registry) ExtractFile(root, relPath string) (*FactSet, error) {
	e, ok := r.ExtractorFor(relPath)
	if !ok {
		return nil, fmt.Errorf("no extractor for %s", relPath)
	}

	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, err
	}
	hash := fileutil.HashBytes(content)

	facts, err := e.Extract(relPath, content)
	if err != nil {
		return Failure(relPath, e.Language(), hash, err.Error()), nil
	}
	facts.Path = relPath
	facts.Language = e.Language()
	facts.Hash = hash
	normalizeFacts(facts)
	return facts, nil
}

func normalizeFacts(f *FactSet) {
	if f.Failed() {
		return
	}
	for i := range f.Functions {
		f.Functions[i].Calls = normalizeCallSites(f.Functions[i].Calls)
	}
	for i := range f.ColumnWrites {
		f.ColumnWrites[i].Sources = normalizeSources(f.ColumnWrites[i].Sources)
	}
	f.Inputs = normalizeFileRefs(f.Inputs)
	f.Outputs = normalizeFileRefs(f.Outputs)
}

func normalizeCallSites(values []CallSite) []CallSite {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(values))
	out := make([]CallSite, 0, len(values))
	for _, value := range values {
		value.Name = strings.TrimSpace(value.Name)
		value.Qualifier = strings.TrimSpace(value.Qualifier)
		if value.Name == "" {
			continue
		}
		key := fmt.Sprintf("%s|%s|%d", value.Name, value.Qualifier, value.Line)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, value)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		if out[i].Qualifier != out[j].Qualifier {
			return out[i].Qualifier < out[j].Qualifier
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// normalizeSources keeps one entry per column, at its strongest confidence.
func normalizeSources(values []SourceColumn) []SourceColumn {
	if len(values) == 0 {
		return nil
	}
	byColumn := make(map[string]SourceColumn, len(values))
	for _, value := range values {
		existing, ok := byColumn[value.Column]
		if !ok {
			byColumn[value.Column] = value
			continue
		}
		if StrongestConfidence(existing.Confidence, value.Confidence) != existing.Confidence {
			byColumn[value.Column] = value
		}
	}
	out := make([]SourceColumn, 0, len(byColumn))
	for _, value := range byColumn {
		out = append(out, value)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Column < out[j].Column })
	return out
}

// normalizeFileRefs keeps the first mention of each path, at its strongest
// confidence.
func normalizeFileRefs(values []FileRef) []FileRef {
	if len(values) == 0 {
		return nil
	}
	index := make(map[string]int, len(values))
	out := make([]FileRef, 0, len(values))
	for _, value := range values {
		if i, ok := index[value.Path]; ok {
			out[i].Confidence = StrongestConfidence(out[i].Confidence, value.Confidence)
			if out[i].Binding == "" {
				out[i].Binding = value.Binding
			}
			continue
		}
		index[value.Path] = len(out)
		out = append(out, value)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
