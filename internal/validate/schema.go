package validate

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/skelly-dev/context-oracle/internal/fileutil"
	"github.com/skelly-dev/context-oracle/internal/lineage"
)

const (
	LockFile    = "schema_lock.json"
	LockVersion = "1.0"
)

// ScriptSchema is the set of columns one script writes.
type ScriptSchema struct {
	Columns []string `json:"columns"`
	Hash    string   `json:"hash"`
	Count   int      `json:"count"`
}

// Lock is the schema_lock.json document.
type Lock struct {
	Version      string                  `json:"version"`
	GeneratedAt  string                  `json:"generated_at"`
	Schemas      map[string]ScriptSchema `json:"schemas"`
	TotalScripts int                     `json:"total_scripts"`
	TotalColumns int                     `json:"total_columns"`
}

type SchemaChange struct {
	Script  string   `json:"script"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

type SchemaReport struct {
	Passed      bool           `json:"passed"`
	LockMissing bool           `json:"lock_missing,omitempty"`
	New         []string       `json:"new"`
	Changed     []SchemaChange `json:"changed"`
	Removed     []string       `json:"removed"`
	Scripts     int            `json:"scripts_verified"`
}

// SchemaHash is the first 16 hex chars of sha256 over the JSON array of the
// lowercased, trimmed, sorted columns, rendered as Python's json.dumps does
// so existing lock files keep matching.
func SchemaHash(columns []string) string {
	normalized := make([]string, 0, len(columns))
	for _, c := range columns {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(c)))
	}
	sort.Strings(normalized)

	var b strings.Builder
	b.WriteByte('[')
	for i, c := range normalized {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(asciiJSONString(c))
	}
	b.WriteByte(']')
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// asciiJSONString quotes s with every non-ASCII rune escaped as \uXXXX.
func asciiJSONString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	quoted := strings.TrimSuffix(buf.String(), "\n")

	var b strings.Builder
	for _, r := range quoted {
		switch {
		case r < 0x80:
			b.WriteRune(r)
		case r > 0xFFFF:
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, r1, r2)
		default:
			fmt.Fprintf(&b, `\u%04x`, r)
		}
	}
	return b.String()
}

// Compute collects the columns every pipeline script writes. Scripts that
// write nothing are left out.
func Compute(g *lineage.Graph) map[string]ScriptSchema {
	written := make(map[string][]string)
	for _, node := range g.Nodes {
		if node.Type != lineage.NodeColumn {
			continue
		}
		for _, script := range node.Attrs.WrittenBy {
			written[script] = append(written[script], node.Attrs.Name)
		}
	}

	schemas := make(map[string]ScriptSchema, len(written))
	for script, cols := range written {
		cols = fileutil.SortedUnique(cols)
		schemas[script] = ScriptSchema{Columns: cols, Hash: SchemaHash(cols), Count: len(cols)}
	}
	return schemas
}

// ReadLock loads a lock file. A missing file returns (nil, nil).
func ReadLock(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if lock.Schemas == nil {
		lock.Schemas = make(map[string]ScriptSchema)
	}
	return &lock, nil
}

// Check compares the current written-column schemas against the lock file.
func Check(g *lineage.Graph, path string) (SchemaReport, error) {
	current := Compute(g)
	report := SchemaReport{
		New:     []string{},
		Changed: []SchemaChange{},
		Removed: []string{},
		Scripts: len(current),
	}

	lock, err := ReadLock(path)
	if err != nil {
		return report, err
	}
	if lock == nil {
		report.LockMissing = true
		return report, nil
	}

	for _, script := range fileutil.MapKeysSorted(current) {
		schema := current[script]
		locked, ok := lock.Schemas[script]
		switch {
		case !ok:
			report.New = append(report.New, script)
		case locked.Hash != schema.Hash:
			report.Changed = append(report.Changed, SchemaChange{
				Script:  script,
				Added:   difference(schema.Columns, locked.Columns),
				Removed: difference(locked.Columns, schema.Columns),
			})
		}
	}
	for _, script := range fileutil.MapKeysSorted(lock.Schemas) {
		if _, ok := current[script]; !ok {
			report.Removed = append(report.Removed, script)
		}
	}

	report.Passed = len(report.New) == 0 && len(report.Changed) == 0 && len(report.Removed) == 0
	return report, nil
}

// Update rewrites the lock file from the current graph. generated_at is the
// graph's source timestamp, so an unchanged tree yields identical bytes.
func Update(g *lineage.Graph, path string) (*Lock, error) {
	current := Compute(g)
	lock := &Lock{
		Version:      LockVersion,
		GeneratedAt:  g.GeneratedAt,
		Schemas:      current,
		TotalScripts: len(current),
	}
	for _, s := range current {
		lock.TotalColumns += s.Count
	}

	data, err := fileutil.MarshalStable(lock)
	if err != nil {
		return nil, err
	}
	if err := fileutil.WriteIfChanged(path, data); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return lock, nil
}

func difference(a, b []string) []string {
	in := fileutil.ToSet(b)
	out := make([]string, 0)
	for _, s := range a {
		if !in[s] {
			out = append(out, s)
		}
	}
	return out
}
