// Package config holds the engine's exhaustively enumerated options
// (spec.md §4.7 / §6) and the three ways to populate them: functional
// options in code (the gholt-valuestore OptXxx idiom), a JSON-with-comments
// file (tailscale/hujson, as calvinalkan-agent-task uses for its own
// config), or CLI flags (spf13/pflag, bound in cmd/lsmkv). Flags/file
// override code defaults; explicit functional options override both.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Config is the engine's full set of options.
type Config struct {
	SSTDir            string `json:"sst_dir"`
	CommitLogDir      string `json:"commitlog_dir"`
	MemtableThreshold int64  `json:"memtable_threshold"`
	IndexInterval     int    `json:"index_interval"`
	IndexFileSuffix   string `json:"index_file_suffix"` // not read by the engine: index files always use "idx"
	EnableCompaction  bool   `json:"enable_compaction"`
	FlushWorkers      int    `json:"flush_workers"`

	// Compaction tuning, size-tiered only (leveled is a non-goal).
	CompactionMinThreshold    float64 `json:"compaction_min_threshold"`
	CompactionMaxThreshold    float64 `json:"compaction_max_threshold"`
	CompactionBucketThreshold int     `json:"compaction_bucket_threshold"`
	CompactionIntervalMillis  int64   `json:"compaction_interval_millis"`
}

// Option mutates a Config under construction.
type Option func(*Config)

// Default returns the documented defaults. MemtableThreshold and
// IndexInterval are fixed at 4096 bytes here, since this package has no
// page-size collaborator of its own; engine.New substitutes page-size-derived
// values only for fields left at zero.
func Default() Config {
	return Config{
		SSTDir:                    "./.sst",
		CommitLogDir:              "./.commitlog",
		MemtableThreshold:         4096,
		IndexInterval:             4096,
		IndexFileSuffix:           "idx",
		EnableCompaction:          true,
		FlushWorkers:              100,
		CompactionMinThreshold:    0.5,
		CompactionMaxThreshold:    1.5,
		CompactionBucketThreshold: 4,
		CompactionIntervalMillis:  1000,
	}
}

// New builds a Config starting from Default and applying opts in order.
func New(opts ...Option) Config {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func WithSSTDir(dir string) Option             { return func(c *Config) { c.SSTDir = dir } }
func WithCommitLogDir(dir string) Option       { return func(c *Config) { c.CommitLogDir = dir } }
func WithMemtableThreshold(n int64) Option     { return func(c *Config) { c.MemtableThreshold = n } }
func WithIndexInterval(n int) Option           { return func(c *Config) { c.IndexInterval = n } }
func WithIndexFileSuffix(suffix string) Option { return func(c *Config) { c.IndexFileSuffix = suffix } }
func WithCompactionEnabled(enabled bool) Option {
	return func(c *Config) { c.EnableCompaction = enabled }
}
func WithFlushWorkers(n int) Option { return func(c *Config) { c.FlushWorkers = n } }

// LoadFile parses a JSON-with-comments config file (trailing commas and //
// and /* */ comments allowed) into Config, starting from Default for any
// field the file omits.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := json.Unmarshal(std, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	return cfg, nil
}
