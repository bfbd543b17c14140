package parser

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type mockExtractor struct {
	lang string
	exts []string
	fail bool
}

func (m mockExtractor) Language() string {
	return m.lang
}

func (m mockExtractor) Extensions() []string {
	return m.exts
}

func (m mockExtractor) Extract(filename string, content []byte) (*FactSet, error) {
	if m.fail {
		return nil, errors.New("boom")
	}
	return &FactSet{
		Functions: []FunctionFact{
			{
				Name:      "mock",
				Signature: "def mock()",
				Line:      1,
				Calls:     []CallSite{{Name: "b", Line: 3}, {Name: "a", Line: 2}, {Name: "a", Line: 2}},
			},
		},
		ColumnWrites: []ColumnWrite{{
			Column: "B",
			Sources: []SourceColumn{
				{Column: "A", Confidence: ConfidenceTraced, Via: "x"},
				{Column: "A", Confidence: ConfidenceStatic},
			},
		}},
	}, nil
}

func TestRegistryExtractorForIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Register(mockExtractor{lang: "mock", exts: []string{".mock"}})

	e, ok := r.ExtractorFor("demo.MOCK")
	if !ok {
		t.Fatalf("expected extractor for .MOCK extension")
	}
	if e.Language() != "mock" {
		t.Fatalf("expected language mock, got %s", e.Language())
	}
	if r.Supports("demo.txt") {
		t.Fatalf("did not expect .txt support")
	}
}

func TestExtractFileNormalizesFacts(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "pkg", "a.mock"), "ok")

	r := NewRegistry()
	r.Register(mockExtractor{lang: "mock", exts: []string{".mock"}})

	facts, err := r.ExtractFile(root, "pkg/a.mock")
	if err != nil {
		t.Fatalf("ExtractFile failed: %v", err)
	}
	if facts.Path != "pkg/a.mock" || facts.Language != "mock" || facts.Hash == "" {
		t.Fatalf("expected path/language/hash to be stamped, got %#v", facts)
	}
	calls := facts.Functions[0].Calls
	if len(calls) != 2 || calls[0].Name != "a" || calls[1].Name != "b" {
		t.Fatalf("expected deduped calls sorted by line, got %#v", calls)
	}
	sources := facts.ColumnWrites[0].Sources
	if len(sources) != 1 || sources[0].Confidence != ConfidenceStatic {
		t.Fatalf("expected one static source, got %#v", sources)
	}
}

func TestExtractFileTurnsExtractorErrorIntoFailureFact(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "bad.mock"), "??")

	r := NewRegistry()
	r.Register(mockExtractor{lang: "mock", exts: []string{".mock"}, fail: true})

	facts, err := r.ExtractFile(root, "bad.mock")
	if err != nil {
		t.Fatalf("expected no I/O error, got %v", err)
	}
	if !facts.Failed() || facts.Error.File != "bad.mock" {
		t.Fatalf("expected failure fact for bad.mock, got %#v", facts)
	}
}

func TestConfidenceOrdering(t *testing.T) {
	if WeakestConfidence(ConfidenceStatic, ConfidenceTraced) != ConfidenceTraced {
		t.Fatalf("traced is weaker than static")
	}
	if WeakestConfidence(ConfidenceTraced, ConfidenceUnknown) != ConfidenceUnknown {
		t.Fatalf("unknown is weakest")
	}
	if StrongestConfidence(ConfidenceUnknown, ConfidenceStatic) != ConfidenceStatic {
		t.Fatalf("static is strongest")
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
