package builder

import (
	"github.com/skelly-dev/context-oracle/internal/fileutil"
	"github.com/skelly-dev/context-oracle/internal/oerrors"
	"github.com/skelly-dev/context-oracle/internal/parser"
	"github.com/skelly-dev/context-oracle/internal/patterns"
	"github.com/skelly-dev/context-oracle/internal/registry"
	"github.com/skelly-dev/context-oracle/internal/skeleton"
	"github.com/skelly-dev/context-oracle/internal/store"
)

// previous is what an incremental rebuild reuses from the committed
// generation.
type previous struct {
	facts    map[string]*parser.FactSet
	registry *registry.Registry
	index    *skeleton.Index
	library  *patterns.Library
}

func emptyPrevious() *previous {
	return &previous{
		facts: make(map[string]*parser.FactSet),
		index: skeleton.NewIndex(),
	}
}

// loadPrevious reads the cached facts and documents of the committed
// generation. A missing pattern library is tolerated; it is re-mined.
func (b *Builder) loadPrevious() (*previous, error) {
	snap, err := b.store.Open()
	if err != nil {
		return nil, err
	}

	data, err := snap.ReadFile(store.FactsFile)
	if err != nil {
		return nil, err
	}
	decoded, err := fileutil.DecodeJSONL[parser.FactSet](data)
	if err != nil {
		return nil, &oerrors.CorruptArtifactError{Path: snap.Path(store.FactsFile), Err: err}
	}

	old := emptyPrevious()
	for i := range decoded {
		fs := &decoded[i]
		old.facts[fs.Path] = fs
	}

	if old.registry, err = store.ReadJSON[registry.Registry](snap, store.RegistryFile); err != nil {
		return nil, err
	}
	index, err := store.ReadJSON[skeleton.Index](snap, store.SkeletonIndexFile)
	if err != nil {
		return nil, err
	}
	if index.Files == nil {
		index.Files = make(map[string]skeleton.FileStats)
	}
	old.index = index

	if lib, err := store.ReadJSON[patterns.Library](snap, store.PatternsFile); err == nil {
		old.library = lib
	}
	return old, nil
}
