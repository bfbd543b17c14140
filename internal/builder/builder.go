// Package builder turns the source tree into a committed artifact generation.
// Extraction fans out per file; everything after it runs on one goroutine so
// the registry's remove-then-add ownership rule holds.
package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skelly-dev/context-oracle/internal/config"
	"github.com/skelly-dev/context-oracle/internal/fileutil"
	"github.com/skelly-dev/context-oracle/internal/ignore"
	"github.com/skelly-dev/context-oracle/internal/languages"
	"github.com/skelly-dev/context-oracle/internal/lineage"
	"github.com/skelly-dev/context-oracle/internal/logging"
	"github.com/skelly-dev/context-oracle/internal/naming"
	"github.com/skelly-dev/context-oracle/internal/oerrors"
	"github.com/skelly-dev/context-oracle/internal/parser"
	"github.com/skelly-dev/context-oracle/internal/patterns"
	"github.com/skelly-dev/context-oracle/internal/registry"
	"github.com/skelly-dev/context-oracle/internal/skeleton"
	"github.com/skelly-dev/context-oracle/internal/state"
	"github.com/skelly-dev/context-oracle/internal/store"
)

const (
	ModeGenerate = "generate"
	ModeUpdate   = "update"
)

type Options struct {
	// Force re-extracts every file instead of only the changed ones.
	Force bool
	// Progress, when set, is called once per processed file. Calls are
	// serialized.
	Progress func(file string, done, total int)
}

type Builder struct {
	root    string
	cfg     *config.Config
	store   *store.Store
	parsers *parser.Registry
	sources sourceSet
	logger  *zap.Logger
}

func New(root string, cfg *config.Config, logger *zap.Logger) *Builder {
	logger = logging.OrNop(logger)
	parsers := languages.NewDefaultRegistry()
	return &Builder{
		root:    root,
		cfg:     cfg,
		store:   store.New(cfg.ArtifactPath(root), cfg.Rebuild.KeepGenerations, logger),
		parsers: parsers,
		sources: newSourceSet(cfg, parsers),
		logger:  logger,
	}
}

func (b *Builder) Config() *config.Config { return b.cfg }

func (b *Builder) Store() *store.Store { return b.store }

// Rebuild brings the artifact set in line with the sources and commits a
// generation. Any failure leaves the committed generation in place and
// records last_failure on the manifest; file hashes are not advanced, so the
// next attempt sees the same changes again.
func (b *Builder) Rebuild(ctx context.Context, opts Options) (Summary, error) {
	start := time.Now()
	lock, err := b.store.Lock()
	if err != nil {
		return Summary{}, err
	}
	defer lock.Release()

	if b.cfg.Rebuild.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Rebuild.Timeout)
		defer cancel()
	}

	summary, err := b.rebuild(ctx, opts, start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("rebuild timed out after %s: %w", b.cfg.Rebuild.Timeout, err)
		}
		if recErr := b.store.RecordFailure(err.Error()); recErr != nil {
			b.logger.Warn("failed to record rebuild failure", zap.Error(recErr))
		}
		b.logger.Error("rebuild failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return summary, err
	}
	return summary, nil
}

type job struct {
	path     string
	extract  bool
	skeleton bool
}

type jobResult struct {
	facts    *parser.FactSet
	skeleton *skeleton.Result
	skelErr  *oerrors.ExtractionError
}

func (b *Builder) rebuild(ctx context.Context, opts Options, start time.Time) (Summary, error) {
	prev, err := b.store.Manifest()
	if err != nil {
		var corrupt *oerrors.CorruptArtifactError
		if !errors.As(err, &corrupt) {
			return Summary{}, err
		}
		b.logger.Warn("corrupt manifest, rebuilding every artifact", zap.Error(err))
		prev = state.NewManifest()
	}
	force := opts.Force || prev.Generation == "" || prev.ParserVersion != state.CurrentParserVersion

	scanned, err := b.scan()
	if err != nil {
		return Summary{}, err
	}
	diff := prev.Diff(hashes(scanned))
	summary := newSummary(diff, len(scanned))
	b.logger.Info("scan",
		zap.Int("scanned", len(scanned)),
		zap.Int("changed", len(diff.Changed)+len(diff.Added)),
		zap.Int("removed", len(diff.Removed)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if !force && diff.Empty() && prev.LastFailure == "" {
		summary.Mode = ModeUpdate
		summary.Generation = prev.Generation
		summary.DurationMS = time.Since(start).Milliseconds()
		return summary, nil
	}

	var old *previous
	if !force {
		old, err = b.loadPrevious()
		if err != nil {
			b.logger.Warn("previous generation unreadable, re-extracting every file", zap.Error(err))
			force = true
		}
	}
	if force {
		old = emptyPrevious()
		summary.Mode = ModeGenerate
	} else {
		summary.Mode = ModeUpdate
	}

	jobs := b.plan(scanned, diff, old, force)
	results, err := b.process(ctx, jobs, opts.Progress)
	if err != nil {
		return summary, err
	}
	b.logger.Info("extract",
		zap.Int("changed", len(jobs)),
		zap.Int("removed", len(diff.Removed)),
		zap.Duration("elapsed", time.Since(start)),
	)

	// Aggregation: single writer from here on.
	ts := state.FormatTimestamp(fileutil.LatestModTime(scanned))
	facts := make(map[string]*parser.FactSet, len(scanned))
	for p, fs := range old.facts {
		if _, ok := scanned[p]; ok {
			facts[p] = fs
		}
	}
	changed := make([]*parser.FactSet, 0)
	for i, j := range jobs {
		fs := results[i].facts
		if fs == nil {
			continue
		}
		facts[j.path] = fs
		changed = append(changed, fs)
		summary.Extracted++
		if fs.Failed() {
			b.logger.Warn("extraction failed", zap.String("file", j.path), zap.Error(fs.Error))
		}
	}
	all := make([]*parser.FactSet, 0, len(facts))
	extractionErrors := make([]oerrors.ExtractionError, 0)
	for _, p := range fileutil.MapKeysSorted(facts) {
		all = append(all, facts[p])
		if facts[p].Failed() {
			extractionErrors = append(extractionErrors, *facts[p].Error)
		}
	}
	summary.ExtractionErrors = len(extractionErrors)

	var reg *registry.Registry
	if old.registry == nil {
		reg, err = registry.Rebuild(nil, all, nil)
	} else {
		reg, err = registry.Rebuild(old.registry, changed, diff.Removed)
	}
	if err != nil {
		return summary, fmt.Errorf("failed to build registry: %w", err)
	}
	reg.GeneratedAt = ts

	graph, err := lineage.Build(all, reg)
	if err != nil {
		return summary, fmt.Errorf("failed to build lineage graph: %w", err)
	}
	graph.GeneratedAt = ts
	b.logger.Info("aggregate",
		zap.Int("changed", len(changed)),
		zap.Int("removed", len(diff.Removed)),
		zap.Int("nodes", graph.Stats.Nodes),
		zap.Int("edges", graph.Stats.Edges),
		zap.Duration("elapsed", time.Since(start)),
	)

	staging, err := b.store.Begin(prev)
	if err != nil {
		return summary, fmt.Errorf("failed to open staging generation: %w", err)
	}
	defer staging.Abort()

	index, err := b.stageSkeletons(ctx, staging, scanned, jobs, results, old.index)
	if err != nil {
		return summary, err
	}
	index.GeneratedAt = ts

	if err := b.stagePatterns(ctx, staging, scanned, diff, old.library, force, ts); err != nil {
		return summary, err
	}

	encodedFacts, err := fileutil.EncodeJSONL(all)
	if err != nil {
		return summary, fmt.Errorf("failed to encode facts: %w", err)
	}
	if err := staging.WriteRaw(store.FactsFile, encodedFacts); err != nil {
		return summary, err
	}
	if err := staging.WriteArtifact(store.RegistryFile, reg); err != nil {
		return summary, err
	}
	if err := staging.WriteArtifact(store.GraphFile, graph); err != nil {
		return summary, err
	}
	if err := staging.WriteArtifact(store.SkeletonIndexFile, index); err != nil {
		return summary, err
	}
	b.logger.Info("validate",
		zap.Int("changed", len(changed)),
		zap.Int("removed", len(diff.Removed)),
		zap.Int("extraction_errors", len(extractionErrors)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	next := prev.Clone()
	next.Version = state.CurrentManifestVersion
	next.ParserVersion = state.CurrentParserVersion
	next.SourceTimestamp = ts
	next.Files = make(map[string]state.FileState, len(scanned))
	for p, file := range scanned {
		next.SetFile(p, state.FileState{Hash: file.Hash, Language: b.sources.language(p), Size: file.Size})
	}
	next.ExtractionErrors = extractionErrors
	next.LastFailure = ""

	res, err := staging.Commit(next)
	if err != nil {
		return summary, fmt.Errorf("failed to commit generation: %w", err)
	}
	summary.Generation = res.Generation
	summary.NewGeneration = res.NewGeneration
	summary.Rewritten = len(res.Rewritten)
	summary.RewrittenArtifacts = res.Rewritten
	summary.DurationMS = time.Since(start).Milliseconds()
	b.logger.Info("commit",
		zap.Int("changed", len(changed)),
		zap.Int("removed", len(diff.Removed)),
		zap.String("generation", res.Generation),
		zap.Int("rewritten", len(res.Rewritten)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return summary, nil
}

// plan lists the files to extract and to skeletonize. Without force only
// touched files are extracted, plus any file the cached facts lack.
func (b *Builder) plan(scanned map[string]fileutil.ScannedFile, diff state.Diff, old *previous, force bool) []job {
	touched := fileutil.ToSet(diff.Touched())
	jobs := make([]job, 0)
	for _, p := range fileutil.MapKeysSorted(scanned) {
		_, cached := old.facts[p]
		extract := force || touched[p] || !cached

		skel := false
		if b.sources.language(p) == languages.LanguagePython {
			_, indexed := old.index.Files[p]
			_, failed := old.index.Failed[p]
			skel = extract || !(indexed || failed)
		}
		if extract || skel {
			jobs = append(jobs, job{path: p, extract: extract, skeleton: skel})
		}
	}
	return jobs
}

// process runs the per-file work on extract.workers goroutines. Only I/O
// and cancellation abort; parse failures are recorded per file.
func (b *Builder) process(ctx context.Context, jobs []job, progress func(string, int, int)) ([]jobResult, error) {
	results := make([]jobResult, len(jobs))
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Extract.Workers)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := b.processOne(gctx, j)
			if err != nil {
				return err
			}
			results[i] = res
			if progress != nil {
				mu.Lock()
				done++
				progress(j.path, done, len(jobs))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to extract sources: %w", err)
	}
	return results, nil
}

func (b *Builder) processOne(ctx context.Context, j job) (jobResult, error) {
	var res jobResult
	if j.extract {
		fs, err := b.parsers.ExtractFile(b.root, j.path)
		if err != nil {
			return res, fmt.Errorf("failed to read %s: %w", j.path, err)
		}
		if b.sources.isScript(j.path) {
			fs.Script = naming.ScriptID(j.path)
		}
		if !b.sources.isConfig(j.path) {
			fs.Mappings = nil
		}
		res.facts = fs
	}
	if j.skeleton {
		r, err := b.skeletonize(ctx, j.path)
		if err != nil {
			var extractionErr *oerrors.ExtractionError
			if !errors.As(err, &extractionErr) {
				return res, err
			}
			res.skelErr = extractionErr
		}
		res.skeleton = r
	}
	return res, nil
}

func (b *Builder) skeletonize(ctx context.Context, rel string) (*skeleton.Result, error) {
	content, err := os.ReadFile(filepath.Join(b.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return skeleton.Skeletonize(ctx, rel, content)
}

func skeletonArtifact(rel string) string {
	return path.Join(store.SkeletonDir, skeleton.OutputPath(rel))
}

// stageSkeletons writes fresh skeletons, carries the unchanged ones and
// returns the finalized index.
func (b *Builder) stageSkeletons(ctx context.Context, staging *store.Staging, scanned map[string]fileutil.ScannedFile, jobs []job, results []jobResult, index *skeleton.Index) (*skeleton.Index, error) {
	for _, p := range fileutil.MapKeysSorted(index.Files) {
		if _, ok := scanned[p]; !ok {
			index.Remove(p)
		}
	}
	for _, p := range fileutil.MapKeysSorted(index.Failed) {
		if _, ok := scanned[p]; !ok {
			index.Remove(p)
		}
	}

	redone := make(map[string]bool)
	for i, j := range jobs {
		if !j.skeleton {
			continue
		}
		redone[j.path] = true
		if err := stageSkeleton(staging, index, j.path, results[i].skeleton, results[i].skelErr); err != nil {
			return nil, err
		}
	}

	for _, p := range fileutil.MapKeysSorted(index.Files) {
		if redone[p] {
			continue
		}
		if err := staging.Carry(skeletonArtifact(p)); err == nil {
			continue
		}
		b.logger.Debug("skeleton missing from previous generation, regenerating", zap.String("file", p))
		r, err := b.skeletonize(ctx, p)
		var extractionErr *oerrors.ExtractionError
		if err != nil && !errors.As(err, &extractionErr) {
			return nil, err
		}
		if err := stageSkeleton(staging, index, p, r, extractionErr); err != nil {
			return nil, err
		}
	}

	index.Finalize()
	return index, nil
}

func stageSkeleton(staging *store.Staging, index *skeleton.Index, rel string, r *skeleton.Result, failure *oerrors.ExtractionError) error {
	if failure != nil || r == nil {
		reason := "skeleton not produced"
		if failure != nil {
			reason = failure.Reason
		}
		index.Fail(rel, reason)
		return nil
	}
	if err := staging.WriteRaw(skeletonArtifact(rel), []byte(r.Text)); err != nil {
		return err
	}
	index.Add(rel, r)
	return nil
}

// stagePatterns re-mines the pattern library only when an exemplar or the
// definitions changed; otherwise the previous library is carried.
func (b *Builder) stagePatterns(ctx context.Context, staging *store.Staging, scanned map[string]fileutil.ScannedFile, diff state.Diff, prevLib *patterns.Library, force bool, ts string) error {
	defs, err := patterns.LoadDefinitions(b.cfg.PatternsPath(b.root))
	if err != nil {
		return err
	}

	stale := force || prevLib == nil || prevLib.Definitions != patterns.DefinitionsHash(defs)
	if !stale {
		moved := append(diff.Touched(), diff.Removed...)
		for _, def := range defs {
			for _, p := range moved {
				if ignore.MatchAny(def.Exemplars, p) {
					stale = true
					break
				}
			}
		}
	}
	if !stale {
		if err := staging.Carry(store.PatternsFile); err == nil {
			return nil
		}
	}

	lib, err := patterns.NewExtractor(b.root, fileutil.MapKeysSorted(scanned), b.logger).Extract(ctx, defs)
	if err != nil {
		return fmt.Errorf("failed to extract patterns: %w", err)
	}
	lib.GeneratedAt = ts
	return staging.WriteArtifact(store.PatternsFile, lib)
}
