package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultArtifactDir = ".oracle"
	ConfigName         = "config"
	IgnoreFile         = ".oracleignore"
)

// Config is the on-disk configuration found at <root>/.oracle/config.yaml.
type Config struct {
	ArtifactDir string        `mapstructure:"artifact_dir"`
	Sources     SourcesConfig `mapstructure:"sources"`
	Extract     ExtractConfig `mapstructure:"extract"`
	Query       QueryConfig   `mapstructure:"query"`
	Rebuild     RebuildConfig `mapstructure:"rebuild"`
	Patterns    PatternConfig `mapstructure:"patterns"`
	Search      SearchConfig  `mapstructure:"search"`
}

// SourcesConfig selects which files each extractor role sees. Globs are
// relative to the repository root and support "**".
type SourcesConfig struct {
	Scripts []string `mapstructure:"scripts"`
	Python  []string `mapstructure:"python"`
	Config  []string `mapstructure:"config"`
	Schema  []string `mapstructure:"schema"`
	Exclude []string `mapstructure:"exclude"`
}

type ExtractConfig struct {
	Workers int `mapstructure:"workers"`
}

type QueryConfig struct {
	RebuildRetries int           `mapstructure:"rebuild_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

type RebuildConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	KeepGenerations int           `mapstructure:"keep_generations"`
}

type PatternConfig struct {
	File string `mapstructure:"file"`
}

type SearchConfig struct {
	Threshold float64 `mapstructure:"threshold"`
	Limit     int     `mapstructure:"limit"`
}

// DefaultConfig returns the layout of the data pipeline repository the oracle
// was built for: staged python scripts plus drizzle schema files.
func DefaultConfig() *Config {
	return &Config{
		ArtifactDir: DefaultArtifactDir,
		Sources: SourcesConfig{
			Scripts: []string{"scripts/stage*/*.py"},
			Python:  []string{"scripts/**/*.py"},
			Config:  []string{"scripts/config/*.py"},
			Schema:  []string{"src/schema/*.ts"},
			Exclude: []string{
				"src/schema/_schema.ts",
				"src/schema/index.ts",
				"**/__pycache__/**",
				"**/_archive/**",
			},
		},
		Extract: ExtractConfig{Workers: runtime.NumCPU()},
		Query: QueryConfig{
			RebuildRetries: 3,
			RetryBackoff:   200 * time.Millisecond,
		},
		Rebuild: RebuildConfig{
			KeepGenerations: 2,
		},
		Patterns: PatternConfig{File: filepath.Join(DefaultArtifactDir, "patterns.yaml")},
		Search: SearchConfig{
			Threshold: 0.3,
			Limit:     10,
		},
	}
}

// Load reads <root>/.oracle/config.yaml, falling back to DefaultConfig when
// the file does not exist.
func Load(root string) (*Config, error) {
	defaults := DefaultConfig()

	v := viper.New()
	v.SetDefault("artifact_dir", defaults.ArtifactDir)
	v.SetDefault("sources.scripts", defaults.Sources.Scripts)
	v.SetDefault("sources.python", defaults.Sources.Python)
	v.SetDefault("sources.config", defaults.Sources.Config)
	v.SetDefault("sources.schema", defaults.Sources.Schema)
	v.SetDefault("sources.exclude", defaults.Sources.Exclude)
	v.SetDefault("extract.workers", defaults.Extract.Workers)
	v.SetDefault("query.rebuild_retries", defaults.Query.RebuildRetries)
	v.SetDefault("query.retry_backoff", defaults.Query.RetryBackoff)
	v.SetDefault("rebuild.timeout", defaults.Rebuild.Timeout)
	v.SetDefault("rebuild.keep_generations", defaults.Rebuild.KeepGenerations)
	v.SetDefault("patterns.file", defaults.Patterns.File)
	v.SetDefault("search.threshold", defaults.Search.Threshold)
	v.SetDefault("search.limit", defaults.Search.Limit)

	v.SetConfigName(ConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(root, DefaultArtifactDir))
	v.SetEnvPrefix("ORACLE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the builder cannot work with.
func (c *Config) Validate() error {
	if c.ArtifactDir == "" {
		return fmt.Errorf("config: artifact_dir must not be empty")
	}
	if filepath.IsAbs(c.ArtifactDir) {
		return fmt.Errorf("config: artifact_dir must be relative to the repository root")
	}
	if c.Extract.Workers < 1 {
		c.Extract.Workers = 1
	}
	if c.Query.RebuildRetries < 0 {
		return fmt.Errorf("config: query.rebuild_retries must be >= 0")
	}
	if c.Rebuild.KeepGenerations < 1 {
		c.Rebuild.KeepGenerations = 1
	}
	if c.Search.Threshold < 0 || c.Search.Threshold >= 1 {
		return fmt.Errorf("config: search.threshold must be in [0, 1)")
	}
	if c.Search.Limit < 1 {
		c.Search.Limit = 10
	}
	return nil
}

// ArtifactPath resolves the artifact directory against root.
func (c *Config) ArtifactPath(root string) string {
	return filepath.Join(root, c.ArtifactDir)
}

// PatternsPath resolves the pattern definition file against root.
func (c *Config) PatternsPath(root string) string {
	if filepath.IsAbs(c.Patterns.File) {
		return c.Patterns.File
	}
	return filepath.Join(root, c.Patterns.File)
}
