// Package store persists artifact generations under the artifact directory.
// A generation is an immutable directory; manifest.json names the current
// one and writing it is the commit point.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/minio/highwayhash"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/skelly-dev/context-oracle/internal/fileutil"
	"github.com/skelly-dev/context-oracle/internal/logging"
	"github.com/skelly-dev/context-oracle/internal/oerrors"
	"github.com/skelly-dev/context-oracle/internal/state"
)

const (
	GenerationsDir = "generations"
	stagingPrefix  = ".staging-"
	DefaultKeep    = 2
)

// Artifact names inside a generation.
const (
	RegistryFile      = "registry.json"
	GraphFile         = "graph.json"
	SkeletonIndexFile = "skeletons/index.json"
	SkeletonDir       = "skeletons"
	PatternsFile      = "patterns.json"
	FactsFile         = "facts.jsonl"
)

var (
	fingerprintKey = []byte("context-oracle/artifact-finger01")
	generatedAt    = regexp.MustCompile(`"generated_at":\s*"[^"]*"`)
)

// ErrNoGeneration is returned by Open before the first successful commit.
var ErrNoGeneration = errors.New("no committed generation")

type Store struct {
	dir    string
	keep   int
	logger *zap.Logger
}

func New(artifactDir string, keep int, logger *zap.Logger) *Store {
	if keep < 1 {
		keep = DefaultKeep
	}
	return &Store{dir: artifactDir, keep: keep, logger: logging.OrNop(logger)}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) generationPath(id string) string {
	return filepath.Join(s.dir, GenerationsDir, id)
}

// Fingerprint hashes an encoded artifact with any generated_at value blanked,
// so a rebuild that only moves the timestamp is recognized as unchanged.
func Fingerprint(data []byte) string {
	h, err := highwayhash.New64(fingerprintKey)
	if err != nil {
		panic(err) // key length is fixed at 32 bytes
	}
	h.Write(generatedAt.ReplaceAll(data, []byte(`"generated_at": ""`)))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Manifest reads the committed manifest.
func (s *Store) Manifest() (*state.Manifest, error) {
	return state.Load(s.dir)
}

// Snapshot is a read-only view of one committed generation.
type Snapshot struct {
	Manifest *state.Manifest
	Dir      string
}

// Open returns the generation the manifest points at.
func (s *Store) Open() (*Snapshot, error) {
	m, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	if m.Generation == "" {
		return &Snapshot{Manifest: m}, ErrNoGeneration
	}
	dir := s.generationPath(m.Generation)
	if _, err := os.Stat(dir); err != nil {
		return nil, &oerrors.CorruptArtifactError{Path: dir, Err: err}
	}
	return &Snapshot{Manifest: m, Dir: dir}, nil
}

// Path resolves an artifact name inside the snapshot.
func (sn *Snapshot) Path(name string) string {
	return filepath.Join(sn.Dir, filepath.FromSlash(name))
}

// ReadFile returns the raw bytes of an artifact.
func (sn *Snapshot) ReadFile(name string) ([]byte, error) {
	if sn == nil || sn.Dir == "" {
		return nil, ErrNoGeneration
	}
	data, err := os.ReadFile(sn.Path(name))
	if err != nil {
		return nil, &oerrors.CorruptArtifactError{Path: sn.Path(name), Err: err}
	}
	return data, nil
}

// ReadJSON decodes a JSON artifact of the snapshot into a new T.
func ReadJSON[T any](sn *Snapshot, name string) (*T, error) {
	data, err := sn.ReadFile(name)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &oerrors.CorruptArtifactError{Path: sn.Path(name), Err: err}
	}
	return &out, nil
}

// Staging collects the artifacts of the next generation.
type Staging struct {
	store        *Store
	dir          string
	prev         *state.Manifest
	prevDir      string
	fingerprints map[string]string
	rewritten    []string
	done         bool
}

// Begin opens a staging directory. The caller must hold the lock; leftover
// staging directories of crashed writers are removed here.
func (s *Store) Begin(prev *state.Manifest) (*Staging, error) {
	if prev == nil {
		prev = state.NewManifest()
	}
	root := filepath.Join(s.dir, GenerationsDir)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), stagingPrefix) {
			_ = os.RemoveAll(filepath.Join(root, e.Name()))
		}
	}

	dir := filepath.Join(root, stagingPrefix+ulid.Make().String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	st := &Staging{
		store:        s,
		dir:          dir,
		prev:         prev,
		fingerprints: make(map[string]string),
	}
	if prev.Generation != "" {
		st.prevDir = s.generationPath(prev.Generation)
	}
	return st, nil
}

// WriteArtifact encodes doc as stable JSON and stages it.
func (st *Staging) WriteArtifact(name string, doc any) error {
	data, err := fileutil.MarshalStable(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return st.WriteRaw(name, data)
}

// WriteRaw stages already encoded bytes. When the fingerprint matches the
// previous generation the previous file is linked instead of rewritten.
func (st *Staging) WriteRaw(name string, data []byte) error {
	fp := Fingerprint(data)
	dst := filepath.Join(st.dir, filepath.FromSlash(name))
	st.fingerprints[name] = fp

	if prevFP, ok := st.prev.GetArtifact(name); ok && prevFP == fp && st.prevDir != "" {
		src := filepath.Join(st.prevDir, filepath.FromSlash(name))
		if err := fileutil.LinkOrCopy(src, dst); err == nil {
			return nil
		}
	}
	st.rewritten = append(st.rewritten, name)
	return fileutil.WriteAtomic(dst, data)
}

// Carry stages the previous generation's copy of name unchanged.
func (st *Staging) Carry(name string) error {
	fp, ok := st.prev.GetArtifact(name)
	if !ok || st.prevDir == "" {
		return fmt.Errorf("carry %s: not in previous generation", name)
	}
	src := filepath.Join(st.prevDir, filepath.FromSlash(name))
	if err := fileutil.LinkOrCopy(src, filepath.Join(st.dir, filepath.FromSlash(name))); err != nil {
		return &oerrors.CorruptArtifactError{Path: src, Err: err}
	}
	st.fingerprints[name] = fp
	return nil
}

// Has reports whether name is already staged.
func (st *Staging) Has(name string) bool {
	_, ok := st.fingerprints[name]
	return ok
}

type CommitResult struct {
	Generation    string   `json:"generation"`
	NewGeneration bool     `json:"new_generation"`
	Rewritten     []string `json:"rewritten"`
	Removed       []string `json:"removed"`
}

// Commit publishes the staged artifacts together with m. m.Generation and
// m.Artifacts are set here. When no artifact changed, staging is discarded
// and only the manifest is rewritten, and only if its bytes differ.
func (st *Staging) Commit(m *state.Manifest) (CommitResult, error) {
	if st.done {
		return CommitResult{}, errors.New("staging already finished")
	}
	st.done = true

	res := CommitResult{Rewritten: []string{}, Removed: []string{}}
	for name := range st.prev.Artifacts {
		if _, ok := st.fingerprints[name]; !ok {
			res.Removed = append(res.Removed, name)
		}
	}
	sort.Strings(res.Removed)
	res.Rewritten = append(res.Rewritten, st.rewritten...)
	sort.Strings(res.Rewritten)

	m.Artifacts = st.fingerprints
	if len(res.Rewritten) == 0 && len(res.Removed) == 0 && st.prev.Generation != "" {
		_ = os.RemoveAll(st.dir)
		m.Generation = st.prev.Generation
		res.Generation = m.Generation
		return res, st.store.writeManifest(m)
	}

	gen := ulid.Make().String()
	if err := os.Rename(st.dir, st.store.generationPath(gen)); err != nil {
		_ = os.RemoveAll(st.dir)
		return CommitResult{}, fmt.Errorf("publish generation: %w", err)
	}
	m.Generation = gen
	res.Generation = gen
	res.NewGeneration = true

	if ts, err := time.Parse(time.RFC3339, m.SourceTimestamp); err == nil {
		for _, name := range res.Rewritten {
			_ = os.Chtimes(filepath.Join(st.store.generationPath(gen), filepath.FromSlash(name)), ts, ts)
		}
	}

	if err := st.store.writeManifest(m); err != nil {
		return CommitResult{}, err
	}
	if err := st.store.prune(gen); err != nil {
		st.store.logger.Warn("pruning old generations failed", zap.Error(err))
	}
	return res, nil
}

// Abort discards staging. The committed generation and manifest are not
// touched. Safe to call after Commit.
func (st *Staging) Abort() {
	if st == nil || st.done {
		return
	}
	st.done = true
	_ = os.RemoveAll(st.dir)
}

// RecordFailure stores reason as last_failure on the committed manifest
// without touching hashes or the generation.
func (s *Store) RecordFailure(reason string) error {
	m, err := s.Manifest()
	if err != nil {
		return err
	}
	m.LastFailure = reason
	return s.writeManifest(m)
}

func (s *Store) writeManifest(m *state.Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, state.ManifestFile)
	if _, err := fileutil.WriteIfChangedTracked(path, data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// prune keeps the newest s.keep generations, never removing current.
func (s *Store) prune(current string) error {
	entries, err := os.ReadDir(filepath.Join(s.dir, GenerationsDir))
	if err != nil {
		return err
	}
	gens := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			gens = append(gens, e.Name())
		}
	}
	// ulids sort by creation time
	sort.Sort(sort.Reverse(sort.StringSlice(gens)))

	kept := 0
	var errs []error
	for _, gen := range gens {
		if gen == current || kept < s.keep-1 {
			if gen != current {
				kept++
			}
			continue
		}
		if err := os.RemoveAll(s.generationPath(gen)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Generations lists committed generation ids, oldest first.
func (s *Store) Generations() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, GenerationsDir))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	gens := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			gens = append(gens, e.Name())
		}
	}
	sort.Strings(gens)
	return gens, nil
}
