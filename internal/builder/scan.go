package builder

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/skelly-dev/context-oracle/internal/config"
	"github.com/skelly-dev/context-oracle/internal/fileutil"
	"github.com/skelly-dev/context-oracle/internal/ignore"
	"github.com/skelly-dev/context-oracle/internal/parser"
	"github.com/skelly-dev/context-oracle/internal/state"
)

// LoadIgnoreRules reads .oracleignore at the repository root.
func LoadIgnoreRules(rootPath string) ([]string, error) {
	ignorePath := filepath.Join(rootPath, config.IgnoreFile)
	f, err := os.Open(ignorePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", config.IgnoreFile, err)
	}
	defer f.Close()

	rules := make([]string, 0)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rules = append(rules, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", config.IgnoreFile, err)
	}

	return rules, nil
}

// sourceSet decides which files take part in a build and in which role.
type sourceSet struct {
	cfg     *config.Config
	parsers *parser.Registry
	globs   []string
}

func newSourceSet(cfg *config.Config, parsers *parser.Registry) sourceSet {
	globs := make([]string, 0)
	globs = append(globs, cfg.Sources.Python...)
	globs = append(globs, cfg.Sources.Scripts...)
	globs = append(globs, cfg.Sources.Config...)
	globs = append(globs, cfg.Sources.Schema...)
	return sourceSet{cfg: cfg, parsers: parsers, globs: fileutil.SortedUnique(globs)}
}

func (s sourceSet) includes(rel string) bool {
	if !ignore.MatchAny(s.globs, rel) || ignore.MatchAny(s.cfg.Sources.Exclude, rel) {
		return false
	}
	return s.parsers.Supports(rel)
}

func (s sourceSet) isScript(rel string) bool {
	return ignore.MatchAny(s.cfg.Sources.Scripts, rel)
}

func (s sourceSet) isConfig(rel string) bool {
	return ignore.MatchAny(s.cfg.Sources.Config, rel)
}

func (s sourceSet) language(rel string) string {
	if e, ok := s.parsers.ExtractorFor(rel); ok {
		return e.Language()
	}
	return ""
}

// scan hashes every source file under root.
func (b *Builder) scan() (map[string]fileutil.ScannedFile, error) {
	rules, err := LoadIgnoreRules(b.root)
	if err != nil {
		return nil, err
	}
	rules = append(rules, filepath.ToSlash(b.cfg.ArtifactDir)+"/")
	scanned, err := fileutil.ScanFiles(b.root, ignore.NewMatcher(rules), b.sources.includes)
	if err != nil {
		return nil, fmt.Errorf("failed to scan files: %w", err)
	}
	return scanned, nil
}

// Check compares the committed manifest against the sources on disk without
// taking the lock or writing anything.
func (b *Builder) Check() (*state.Manifest, state.Diff, error) {
	m, err := b.store.Manifest()
	if err != nil {
		return nil, state.Diff{}, err
	}
	scanned, err := b.scan()
	if err != nil {
		return nil, state.Diff{}, err
	}
	return m, m.Diff(hashes(scanned)), nil
}

func hashes(scanned map[string]fileutil.ScannedFile) map[string]string {
	out := make(map[string]string, len(scanned))
	for path, file := range scanned {
		out[path] = file.Hash
	}
	return out
}
