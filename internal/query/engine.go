// Package query answers agent questions from the committed artifact
// generation. Every answering entry point first makes sure the generation
// matches the sources, rebuilding synchronously when it does not.
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/skelly-dev/context-oracle/internal/builder"
	"github.com/skelly-dev/context-oracle/internal/config"
	"github.com/skelly-dev/context-oracle/internal/lineage"
	"github.com/skelly-dev/context-oracle/internal/logging"
	"github.com/skelly-dev/context-oracle/internal/oerrors"
	"github.com/skelly-dev/context-oracle/internal/patterns"
	"github.com/skelly-dev/context-oracle/internal/registry"
	"github.com/skelly-dev/context-oracle/internal/skeleton"
	"github.com/skelly-dev/context-oracle/internal/state"
	"github.com/skelly-dev/context-oracle/internal/store"
)

// Rebuilder produces a new generation. *builder.Builder is the production
// implementation.
type Rebuilder interface {
	Rebuild(ctx context.Context, opts builder.Options) (builder.Summary, error)
}

// Checker reports the committed manifest and its diff against the sources.
type Checker interface {
	Check() (*state.Manifest, state.Diff, error)
}

type Engine struct {
	checker   Checker
	rebuilder Rebuilder
	store     *store.Store
	cfg       *config.Config
	retries   int
	backoff   time.Duration
	logger    *zap.Logger

	tracker  *state.Tracker
	flight   singleflight.Group
	rebuilds atomic.Int64

	mu     sync.Mutex
	loaded *artifacts
}

// Option configures an Engine.
type Option func(*Engine)

// WithRebuilder replaces the rebuild step, e.g. to observe how often it runs.
func WithRebuilder(r Rebuilder) Option {
	return func(e *Engine) {
		e.rebuilder = r
	}
}

// WithRetries sets how often a rebuild blocked by another writer is retried
// and how long to wait between attempts.
func WithRetries(n int, backoff time.Duration) Option {
	return func(e *Engine) {
		e.retries = n
		e.backoff = backoff
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logging.OrNop(logger)
	}
}

// New binds an engine to the artifact store of b.
func New(b *builder.Builder, opts ...Option) *Engine {
	cfg := b.Config()
	e := &Engine{
		checker:   b,
		rebuilder: b,
		store:     b.Store(),
		cfg:       cfg,
		retries:   cfg.Query.RebuildRetries,
		backoff:   cfg.Query.RetryBackoff,
		logger:    logging.Nop(),
		tracker:   state.NewTracker(state.StatusStale),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rebuilds counts the rebuilds this engine triggered.
func (e *Engine) Rebuilds() int64 {
	return e.rebuilds.Load()
}

// Status is the freshness last observed by this engine.
func (e *Engine) Status() state.Status {
	return e.tracker.Status()
}

func (e *Engine) observe() (*state.Manifest, state.Diff, error) {
	m, diff, err := e.checker.Check()
	if err != nil {
		return nil, state.Diff{}, err
	}
	e.tracker.Observe(state.Evaluate(m, diff))
	return m, diff, nil
}

// ensureFresh returns the artifacts of a generation matching the sources.
// Concurrent stale callers share one rebuild.
func (e *Engine) ensureFresh(ctx context.Context) (*artifacts, error) {
	if _, _, err := e.observe(); err != nil {
		return nil, err
	}
	if !e.tracker.Fresh() {
		_, err, _ := e.flight.Do("rebuild", func() (any, error) {
			return nil, e.rebuild(ctx)
		})
		if err != nil {
			return nil, err
		}
	}
	return e.load()
}

func (e *Engine) rebuild(ctx context.Context) error {
	// A caller that lost the race may arrive after the rebuild finished.
	if _, _, err := e.observe(); err != nil {
		return err
	}
	if e.tracker.Fresh() {
		return nil
	}
	if err := e.tracker.Transition(state.StatusRebuilding); err != nil {
		return err
	}

	var err error
	for attempt := 0; ; attempt++ {
		e.rebuilds.Add(1)
		var summary builder.Summary
		summary, err = e.rebuilder.Rebuild(ctx, builder.Options{})
		if err == nil {
			e.logger.Info("rebuilt stale artifacts",
				zap.String("generation", summary.Generation),
				zap.Int("changed", summary.Changed+summary.Added),
				zap.Int("removed", summary.Removed),
			)
			return e.tracker.Transition(state.StatusFresh)
		}
		if !oerrors.IsContention(err) || attempt >= e.retries {
			break
		}
		e.logger.Debug("artifact store locked, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
		if waitErr := sleep(ctx, e.backoff); waitErr != nil {
			err = waitErr
			break
		}
		// The holder may have produced exactly what we need.
		m, diff, checkErr := e.checker.Check()
		if checkErr == nil && state.Evaluate(m, diff) == state.StatusFresh {
			return e.tracker.Transition(state.StatusFresh)
		}
	}

	if tErr := e.tracker.Transition(state.StatusFailed); tErr != nil {
		e.logger.Warn("freshness transition failed", zap.Error(tErr))
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// artifacts is one generation decoded into memory.
type artifacts struct {
	snapshot *store.Snapshot
	registry *registry.Registry
	graph    *lineage.Graph
	index    *skeleton.Index
	library  *patterns.Library
	lookup   *registry.Lookup
}

// load decodes the committed generation, reusing the previous decode when
// the generation did not move.
func (e *Engine) load() (*artifacts, error) {
	snap, err := e.store.Open()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded != nil && e.loaded.snapshot.Manifest.Generation == snap.Manifest.Generation {
		e.loaded.snapshot = snap
		return e.loaded, nil
	}

	a := &artifacts{snapshot: snap}
	if a.registry, err = store.ReadJSON[registry.Registry](snap, store.RegistryFile); err != nil {
		return nil, err
	}
	if a.graph, err = store.ReadJSON[lineage.Graph](snap, store.GraphFile); err != nil {
		return nil, err
	}
	if a.index, err = store.ReadJSON[skeleton.Index](snap, store.SkeletonIndexFile); err != nil {
		return nil, err
	}
	if a.library, err = store.ReadJSON[patterns.Library](snap, store.PatternsFile); err != nil {
		return nil, err
	}
	a.lookup = registry.NewLookup(a.registry, e.cfg.Search.Threshold)
	e.loaded = a
	return a, nil
}

// loadCommitted is load without the freshness gate, for health.
func (e *Engine) loadCommitted() (*artifacts, error) {
	a, err := e.load()
	if errors.Is(err, store.ErrNoGeneration) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read committed generation: %w", err)
	}
	return a, nil
}
