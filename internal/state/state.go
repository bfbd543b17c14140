package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/skelly-dev/context-oracle/internal/fileutil"
	"github.com/skelly-dev/context-oracle/internal/oerrors"
)

const (
	ManifestFile           = "manifest.json"
	CurrentManifestVersion = "3"
	CurrentParserVersion   = "tree-sitter-v2"
)

// FileState tracks the state of a single source file
type FileState struct {
	Hash     string `json:"hash"`
	Language string `json:"language,omitempty"`
	Size     int64  `json:"size"`
}

// Manifest is the commit point of the artifact store: it names the current
// generation and the source hashes that generation was built from. It holds
// no wall-clock times, so an unchanged rebuild leaves its bytes unchanged.
type Manifest struct {
	Version          string                    `json:"version"`
	ParserVersion    string                    `json:"parser_version,omitempty"`
	Generation       string                    `json:"generation,omitempty"`
	SourceTimestamp  string                    `json:"source_timestamp,omitempty"`
	Files            map[string]FileState      `json:"files"`
	Artifacts        map[string]string         `json:"artifacts"`
	ExtractionErrors []oerrors.ExtractionError `json:"extraction_errors"`
	LastFailure      string                    `json:"last_failure,omitempty"`
}

// Diff splits the difference between the manifest and the current sources
// into explicit categories. Every list is sorted.
type Diff struct {
	Changed []string `json:"changed"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Changed) == 0 && len(d.Added) == 0 && len(d.Removed) == 0
}

// Touched is changed plus added, the files that need extraction.
func (d Diff) Touched() []string {
	out := make([]string, 0, len(d.Changed)+len(d.Added))
	out = append(out, d.Changed...)
	out = append(out, d.Added...)
	sort.Strings(out)
	return out
}

// NewManifest creates a new empty manifest
func NewManifest() *Manifest {
	return &Manifest{
		Version:          CurrentManifestVersion,
		ParserVersion:    CurrentParserVersion,
		Files:            make(map[string]FileState),
		Artifacts:        make(map[string]string),
		ExtractionErrors: []oerrors.ExtractionError{},
	}
}

// Load reads the manifest from the artifact directory. A missing manifest is
// an empty one; an unreadable one is a CorruptArtifactError.
func Load(artifactDir string) (*Manifest, error) {
	path := filepath.Join(artifactDir, ManifestFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewManifest(), nil
		}
		return nil, &oerrors.CorruptArtifactError{Path: path, Err: err}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &oerrors.CorruptArtifactError{Path: path, Err: err}
	}

	migrateManifest(&m)

	return &m, nil
}

// Encode renders the manifest in its stable on-disk form.
func (m *Manifest) Encode() ([]byte, error) {
	migrateManifest(m)
	sort.Slice(m.ExtractionErrors, func(i, j int) bool {
		return m.ExtractionErrors[i].File < m.ExtractionErrors[j].File
	})
	return fileutil.MarshalStable(m)
}

// Clone returns a deep copy, so a failed rebuild can never leak into the
// committed manifest.
func (m *Manifest) Clone() *Manifest {
	out := *m
	out.Files = make(map[string]FileState, len(m.Files))
	for k, v := range m.Files {
		out.Files[k] = v
	}
	out.Artifacts = make(map[string]string, len(m.Artifacts))
	for k, v := range m.Artifacts {
		out.Artifacts[k] = v
	}
	out.ExtractionErrors = append([]oerrors.ExtractionError{}, m.ExtractionErrors...)
	return &out
}

// SetFile records the hash and metadata of a source file
func (m *Manifest) SetFile(path string, fs FileState) {
	m.Files[path] = fs
}

// GetFileHash returns the stored hash for a file
func (m *Manifest) GetFileHash(file string) (string, bool) {
	fs, ok := m.Files[file]
	if !ok {
		return "", false
	}
	return fs.Hash, true
}

// HasChanged returns true if the file hash differs from stored
func (m *Manifest) HasChanged(file, currentHash string) bool {
	storedHash, ok := m.GetFileHash(file)
	if !ok {
		return true // New file
	}
	return storedHash != currentHash
}

// RemoveFile removes a file from manifest tracking
func (m *Manifest) RemoveFile(file string) {
	delete(m.Files, file)
}

// Diff compares the manifest against current path->hash pairs.
func (m *Manifest) Diff(current map[string]string) Diff {
	d := Diff{Changed: []string{}, Added: []string{}, Removed: []string{}}

	for file, hash := range current {
		stored, ok := m.GetFileHash(file)
		switch {
		case !ok:
			d.Added = append(d.Added, file)
		case stored != hash:
			d.Changed = append(d.Changed, file)
		}
	}
	for file := range m.Files {
		if _, ok := current[file]; !ok {
			d.Removed = append(d.Removed, file)
		}
	}

	sort.Strings(d.Changed)
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	return d
}

// SetArtifact records the fingerprint of a generated artifact.
func (m *Manifest) SetArtifact(name, fingerprint string) {
	if m.Artifacts == nil {
		m.Artifacts = make(map[string]string)
	}
	m.Artifacts[name] = fingerprint
}

// GetArtifact returns the previously stored fingerprint of an artifact.
func (m *Manifest) GetArtifact(name string) (string, bool) {
	fp, ok := m.Artifacts[name]
	return fp, ok
}

// FormatTimestamp renders t the way generated_at fields carry it.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func migrateManifest(m *Manifest) {
	if m.Files == nil {
		m.Files = make(map[string]FileState)
	}
	if m.Artifacts == nil {
		m.Artifacts = make(map[string]string)
	}
	if m.ExtractionErrors == nil {
		m.ExtractionErrors = []oerrors.ExtractionError{}
	}
	if m.ParserVersion == "" {
		m.ParserVersion = CurrentParserVersion
	}

	switch m.Version {
	case "", "1", "2":
		m.Version = CurrentManifestVersion
	case CurrentManifestVersion:
		// no-op
	default:
		// Keep unknown versions untouched but ensure required maps are initialized.
	}
}
