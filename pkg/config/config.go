// Package config defines the daemon configuration, its JSON persistence in
// the output root, and the merge of explicitly-set command-line flags over
// a loaded base configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/lockfile"
	"github.com/paulschiretz/pgl-mirror/pkg/mirrorpath"
	"github.com/paulschiretz/pgl-mirror/pkg/patharchive"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// ConfigFileName is the name of the configuration file inside the output
// root.
const ConfigFileName = "pgl-mirror.config.json"

// systemExcludeFilePatterns are file patterns always excluded from
// mirroring so the daemon never replicates its own bookkeeping.
var systemExcludeFilePatterns = []string{lockfile.LockFileName, ConfigFileName}

// systemExcludeDirPatterns are directory patterns always excluded from
// mirroring.
var systemExcludeDirPatterns = []string{}

type PerformanceConfig struct {
	// Workers is the seed-pass worker pool size. 0 means one per CPU.
	Workers int `json:"workers"`
	// BufferSizeKB is the I/O buffer size in kilobytes for file copies.
	BufferSizeKB int `json:"bufferSizeKB"`
}

type EngineConfig struct {
	Metrics bool `json:"metrics"`
	// RenameWindowMillis is how long the watcher waits for the second
	// endpoint of a rename before degrading it to a one-sided rename.
	RenameWindowMillis int               `json:"renameWindowMillis"`
	Performance        PerformanceConfig `json:"performance"`
}

type SeedConfig struct {
	Enabled bool `json:"enabled"`
}

type ArchiveConfig struct {
	Enabled bool   `json:"enabled"`
	Format  string `json:"format"`
	// Dir receives the archives. Empty means a "PGL_Mirror_Archive"
	// directory next to the output root, keeping archives out of the
	// mirrored tree.
	Dir string `json:"dir,omitempty"`
}

type SyncConfig struct {
	DefaultExcludeFiles []string `json:"defaultExcludeFiles,omitempty"`
	DefaultExcludeDirs  []string `json:"defaultExcludeDirs,omitempty"`
	// Intentionally no omitempty: the user-facing fields should appear in
	// a generated config file.
	UserExcludeFiles []string `json:"userExcludeFiles"`
	UserExcludeDirs  []string `json:"userExcludeDirs"`
}

type RuntimeConfig struct {
	DryRun bool
	Quiet  bool
}

type Config struct {
	Version string `json:"version"`
	// Source is the watched tree.
	Source string `json:"source"`
	// OutputBase is the mirrored tree. Never stored in the config file;
	// it is defined by where the file was loaded from.
	OutputBase string        `json:"-"`
	Runtime    RuntimeConfig `json:"-"`
	LogLevel   string        `json:"logLevel"`
	Engine     EngineConfig  `json:"engine"`
	Seed       SeedConfig    `json:"seed"`
	Archive    ArchiveConfig `json:"archive"`
	Sync       SyncConfig    `json:"sync"`
}

// NewDefault returns a Config with sensible defaults.
func NewDefault() Config {
	return Config{
		Version:  buildinfo.Version,
		Source:   "", // Intentionally empty to force user configuration.
		LogLevel: "info",
		Engine: EngineConfig{
			Metrics:            true,
			RenameWindowMillis: 50,
			Performance: PerformanceConfig{
				Workers:      0,
				BufferSizeKB: 256,
			},
		},
		Seed: SeedConfig{
			Enabled: true,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Format:  "tar.gz",
		},
		Sync: SyncConfig{
			UserExcludeFiles: []string{},
			UserExcludeDirs:  []string{},
		},
	}
}

// Load reads the config file from the output root. A missing file yields
// the defaults; loading always pins OutputBase to the directory the file
// came from.
func Load(outputBase string) (Config, error) {
	absOutputBase, err := filepath.Abs(outputBase)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for %s: %w", outputBase, err)
	}

	configPath := filepath.Join(absOutputBase, ConfigFileName)
	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := NewDefault()
			cfg.OutputBase = absOutputBase
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)

	// Start from defaults so missing fields in the file keep their default
	// values.
	cfg := NewDefault()
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}

	cfg.OutputBase = absOutputBase
	if cfg.Version != buildinfo.Version {
		cfg.Version = buildinfo.Version
	}
	return cfg, nil
}

// Generate writes the config as formatted JSON into its output root.
func Generate(cfg Config) error {
	configPath := filepath.Join(cfg.OutputBase, ConfigFileName)
	jsonData, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}
	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// Validate checks the configuration for logical errors and canonicalizes
// the two roots.
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source path cannot be empty")
	}
	if c.OutputBase == "" {
		return fmt.Errorf("output path cannot be empty")
	}

	var err error
	if c.Source, err = util.ExpandPath(c.Source); err != nil {
		return fmt.Errorf("invalid source path: %w", err)
	}
	if c.OutputBase, err = util.ExpandPath(c.OutputBase); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}

	info, err := os.Stat(c.Source)
	if err != nil {
		return fmt.Errorf("source path %s is not accessible: %w", c.Source, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source path %s is not a directory", c.Source)
	}

	// The two trees must be disjoint; mirroring into the watched tree
	// would feed the daemon its own writes.
	if c.Source == c.OutputBase {
		return fmt.Errorf("source and output paths are the same directory")
	}
	if mirrorpath.Contains(c.Source, c.OutputBase) {
		return fmt.Errorf("output path %s lies inside the source path %s", c.OutputBase, c.Source)
	}
	if mirrorpath.Contains(c.OutputBase, c.Source) {
		return fmt.Errorf("source path %s lies inside the output path %s", c.Source, c.OutputBase)
	}

	if c.Engine.Performance.BufferSizeKB < 0 {
		return fmt.Errorf("bufferSizeKB cannot be negative")
	}
	if c.Engine.Performance.Workers < 0 {
		return fmt.Errorf("workers cannot be negative")
	}
	if c.Engine.RenameWindowMillis < 0 {
		return fmt.Errorf("renameWindowMillis cannot be negative")
	}

	if _, err := patharchive.FormatFromString(c.Archive.Format); err != nil {
		return fmt.Errorf("invalid archive format: %w", err)
	}

	if err := validateGlobPatterns("userExcludeFiles", c.Sync.UserExcludeFiles); err != nil {
		return err
	}
	if err := validateGlobPatterns("userExcludeDirs", c.Sync.UserExcludeDirs); err != nil {
		return err
	}
	return nil
}

// ArchiveDir resolves the archive destination directory.
func (c *Config) ArchiveDir() string {
	if c.Archive.Dir != "" {
		return c.Archive.Dir
	}
	return filepath.Join(filepath.Dir(c.OutputBase), "PGL_Mirror_Archive")
}

// LogSummary prints the effective configuration.
func (c *Config) LogSummary() {
	plog.Info("Configuration",
		"version", c.Version,
		"source", c.Source,
		"output", c.OutputBase,
		"log_level", c.LogLevel,
		"dry_run", c.Runtime.DryRun,
		"metrics", c.Engine.Metrics,
		"rename_window_ms", c.Engine.RenameWindowMillis,
		"workers", c.Engine.Performance.Workers,
		"buffer_size_kb", c.Engine.Performance.BufferSizeKB,
		"seed", c.Seed.Enabled,
		"archive", c.Archive.Enabled,
		"archive_format", c.Archive.Format,
		"exclude_files", strings.Join(c.Sync.UserExcludeFiles, ","),
		"exclude_dirs", strings.Join(c.Sync.UserExcludeDirs, ","),
	)
}

func validateGlobPatterns(fieldName string, patterns []string) error {
	for _, p := range patterns {
		if _, err := filepath.Match(p, "probe"); err != nil {
			return fmt.Errorf("invalid pattern %q in %s: %w", p, fieldName, err)
		}
	}
	return nil
}

// ExcludeFiles returns the combined file exclusion patterns: system
// patterns, defaults, then user patterns, deduplicated.
func (s *SyncConfig) ExcludeFiles() []string {
	return util.MergeAndDeduplicate(systemExcludeFilePatterns, s.DefaultExcludeFiles, s.UserExcludeFiles)
}

// ExcludeDirs returns the combined directory exclusion patterns.
func (s *SyncConfig) ExcludeDirs() []string {
	return util.MergeAndDeduplicate(systemExcludeDirPatterns, s.DefaultExcludeDirs, s.UserExcludeDirs)
}

// MergeConfigWithFlags overlays explicitly-set command-line flags on top of
// a base configuration. setFlags holds only the flags the user actually
// provided.
func MergeConfigWithFlags(base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "source":
			merged.Source = value.(string)
		case "target":
			merged.OutputBase = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "quiet":
			merged.Runtime.Quiet = value.(bool)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "metrics":
			merged.Engine.Metrics = value.(bool)
		case "rename-window-ms":
			merged.Engine.RenameWindowMillis = value.(int)
		case "workers":
			merged.Engine.Performance.Workers = value.(int)
		case "buffer-size-kb":
			merged.Engine.Performance.BufferSizeKB = value.(int)
		case "seed":
			merged.Seed.Enabled = value.(bool)
		case "archive":
			merged.Archive.Enabled = value.(bool)
		case "archive-format":
			merged.Archive.Format = value.(string)
		case "archive-dir":
			merged.Archive.Dir = value.(string)
		case "user-exclude-files":
			merged.Sync.UserExcludeFiles = value.([]string)
		case "user-exclude-dirs":
			merged.Sync.UserExcludeDirs = value.([]string)
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}
