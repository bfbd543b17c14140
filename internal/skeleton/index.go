package skeleton

import (
	"github.com/skelly-dev/context-oracle/internal/fileutil"
)

const IndexVersion = "skeletons-v1"

type FileStats struct {
	Skeleton       string  `json:"skeleton"`
	OriginalLines  int     `json:"original_lines"`
	SkeletonLines  int     `json:"skeleton_lines"`
	OriginalTokens int     `json:"original_tokens"`
	SkeletonTokens int     `json:"skeleton_tokens"`
	Ratio          float64 `json:"ratio"`
}

type Totals struct {
	Files          int     `json:"files"`
	OriginalLines  int     `json:"original_lines"`
	SkeletonLines  int     `json:"skeleton_lines"`
	OriginalTokens int     `json:"original_tokens"`
	SkeletonTokens int     `json:"skeleton_tokens"`
	Ratio          float64 `json:"ratio"`
}

// Index is skeletons/index.json.
type Index struct {
	Version     string               `json:"version"`
	GeneratedAt string               `json:"generated_at"`
	Files       map[string]FileStats `json:"files"`
	Failed      map[string]string    `json:"failed,omitempty"`
	Totals      Totals               `json:"totals"`
}

func NewIndex() *Index {
	return &Index{
		Version: IndexVersion,
		Files:   make(map[string]FileStats),
	}
}

// Add records the result for one source file.
func (idx *Index) Add(path string, r *Result) {
	idx.Files[path] = FileStats{
		Skeleton:       OutputPath(path),
		OriginalLines:  r.OriginalLines,
		SkeletonLines:  r.SkeletonLines,
		OriginalTokens: r.OriginalTokens,
		SkeletonTokens: r.SkeletonTokens,
		Ratio:          r.Ratio,
	}
	delete(idx.Failed, path)
}

// Fail records a file that could not be skeletonized.
func (idx *Index) Fail(path, reason string) {
	if idx.Failed == nil {
		idx.Failed = make(map[string]string)
	}
	idx.Failed[path] = reason
	delete(idx.Files, path)
}

// Remove drops every trace of path.
func (idx *Index) Remove(path string) {
	delete(idx.Files, path)
	delete(idx.Failed, path)
}

// Finalize recomputes totals. Call it after the last Add/Fail/Remove.
func (idx *Index) Finalize() {
	t := Totals{}
	for _, path := range fileutil.MapKeysSorted(idx.Files) {
		fs := idx.Files[path]
		t.Files++
		t.OriginalLines += fs.OriginalLines
		t.SkeletonLines += fs.SkeletonLines
		t.OriginalTokens += fs.OriginalTokens
		t.SkeletonTokens += fs.SkeletonTokens
	}
	t.Ratio = Ratio(t.OriginalTokens, t.SkeletonTokens)
	idx.Totals = t
	if len(idx.Failed) == 0 {
		idx.Failed = nil
	}
}
