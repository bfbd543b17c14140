// Package patterns mines structural conventions and code templates from a
// configured set of exemplar files.
package patterns

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/skelly-dev/context-oracle/internal/fileutil"
)

const (
	FileTypePython     = "python"
	FileTypeTypeScript = "typescript"
)

// Definition names a pattern and the exemplars it is mined from. Exemplars
// are root-relative globs.
type Definition struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description"`
	FileType    string            `yaml:"file_type" json:"file_type"`
	Exemplars   []string          `yaml:"exemplars" json:"exemplars"`
	Families    []string          `yaml:"families,omitempty" json:"families,omitempty"`
	Conventions []string          `yaml:"conventions,omitempty" json:"conventions,omitempty"`
	Templates   map[string]string `yaml:"templates,omitempty" json:"templates,omitempty"`
}

type definitionFile struct {
	Patterns []Definition `yaml:"patterns"`
}

// DefaultDefinitions describes the staged pipeline layout.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:        "pipeline_script",
			Description: "Structure of a staged data transformation script",
			FileType:    FileTypePython,
			Exemplars:   []string{"scripts/stage*/*.py"},
			Families:    []string{"filter_", "calculate_", "map_"},
			Conventions: []string{
				"Build every file path from PROJECT_ROOT",
				"Document dependencies, inputs and outputs in the module docstring",
				"Return a DataFrame from each transformation function",
				"Prefix script names with a number giving execution order",
			},
		},
		{
			Name:        "data_filtering",
			Description: "Function that drops DataFrame rows matching a condition",
			FileType:    FileTypePython,
			Exemplars:   []string{"scripts/stage*/*.py"},
			Families:    []string{"filter_"},
			Conventions: []string{
				"Use .copy() on the filtered frame",
				"Print how many rows were removed",
			},
		},
		{
			Name:        "column_mapping",
			Description: "CSV column to database column mapping dictionary",
			FileType:    FileTypePython,
			Exemplars:   []string{"scripts/config/*.py"},
			Conventions: []string{
				"Keys are source CSV column names, values are snake_case db columns",
				"One NAME_MAPPING dictionary per target table",
			},
			Templates: map[string]string{
				"mapping": "{TABLE_NAME}_MAPPING = {\n    \"{CSV Column}\": \"{db_column}\",\n}",
			},
		},
		{
			Name:        "drizzle_schema",
			Description: "Drizzle ORM table definition",
			FileType:    FileTypeTypeScript,
			Exemplars:   []string{"src/schema/*.ts"},
			Conventions: []string{
				"Import the shared schema object instead of creating a new pgSchema",
				"Use snake_case database column names and camelCase keys",
				"Export select and insert types for every table",
			},
		},
	}
}

// LoadDefinitions reads path and overlays its definitions onto the defaults
// by name. A missing file yields the defaults.
func LoadDefinitions(path string) ([]Definition, error) {
	defs := DefaultDefinitions()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pattern definitions: %w", err)
	}

	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	byName := make(map[string]int, len(defs))
	for i, d := range defs {
		byName[d.Name] = i
	}
	for _, d := range file.Patterns {
		if d.Name == "" {
			return nil, fmt.Errorf("parse %s: pattern without a name", path)
		}
		if d.FileType == "" {
			d.FileType = FileTypePython
		}
		if i, ok := byName[d.Name]; ok {
			defs[i] = d
			continue
		}
		byName[d.Name] = len(defs)
		defs = append(defs, d)
	}
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// DefinitionsHash identifies a definition set; a library mined from a
// different set must be re-extracted.
func DefinitionsHash(defs []Definition) string {
	data, err := json.Marshal(defs)
	if err != nil {
		return ""
	}
	return fileutil.HashBytes(data)
}

// SaveDefinitions writes defs as a patterns.yaml document.
func SaveDefinitions(path string, defs []Definition) error {
	data, err := yaml.Marshal(definitionFile{Patterns: defs})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
