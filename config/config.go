// Package config holds the tunable settings for the upload queue and the
// restore tracker. Settings come from tier presets, an optional YAML file,
// and CLI flags, applied in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier selects a named feature tier. The tier only picks default values;
// every field can still be overridden explicitly (except where Validate
// enforces Free-tier ceilings).
type Tier string

const (
	TierFree    Tier = "Free"
	TierPremium Tier = "Premium"
)

// UploadConfig controls the upload queue: concurrency ceilings, chunk sizing,
// retry budget and resumability. It is applied once at queue construction.
type UploadConfig struct {
	Bucket    string `yaml:"bucket"`
	KeyPrefix string `yaml:"key_prefix"`

	// MaxConcurrentUploads is a hard ceiling on jobs transferring at once.
	MaxConcurrentUploads int `yaml:"max_concurrent_uploads"`
	// MaxConcurrentParts is a hard ceiling on parts in flight within one job.
	MaxConcurrentParts int `yaml:"max_concurrent_parts"`

	ChunkSizeMB    int64 `yaml:"chunk_size_mb"`
	MinChunkSizeMB int64 `yaml:"min_chunk_size_mb"`
	MaxChunkSizeMB int64 `yaml:"max_chunk_size_mb"`
	// AdaptiveChunkSize scales the chunk with the file size so the part
	// count stays within the object store's limit.
	AdaptiveChunkSize bool `yaml:"adaptive_chunk_size"`

	RetryAttempts  int           `yaml:"retry_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// BandwidthLimitMBps caps transfer speed when > 0. Zero means unlimited.
	BandwidthLimitMBps float64 `yaml:"bandwidth_limit_mbps"`

	// EnableResume lets an interrupted job skip parts the store already has.
	EnableResume bool `yaml:"enable_resume"`

	Tier Tier `yaml:"tier"`
}

// RestoreConfig controls the restore tracker and its status poller.
type RestoreConfig struct {
	Bucket string `yaml:"bucket"`
	// PollInterval is how often outstanding restore jobs are re-checked.
	PollInterval time.Duration `yaml:"poll_interval"`
	// RestoreDays is how long a restored copy stays readable before it
	// reverts to archive-only.
	RestoreDays int    `yaml:"restore_days"`
	DefaultTier string `yaml:"default_tier"`
}

// AppConfig is the top-level file format loaded by Load.
type AppConfig struct {
	Region    string        `yaml:"region"`
	StatePath string        `yaml:"state_path"`
	Upload    UploadConfig  `yaml:"upload"`
	Restore   RestoreConfig `yaml:"restore"`
}

// TierDefaults returns the canonical settings for a tier. The Free tier is
// deliberately conservative: one file at a time, fixed 5 MiB chunks, no
// resume. Premium opens up parallelism and adaptive chunk sizing.
func TierDefaults(tier Tier) UploadConfig {
	switch tier {
	case TierPremium:
		return UploadConfig{
			MaxConcurrentUploads: 8,
			MaxConcurrentParts:   8,
			ChunkSizeMB:          10,
			MinChunkSizeMB:       5,
			MaxChunkSizeMB:       100,
			AdaptiveChunkSize:    true,
			RetryAttempts:        10,
			AttemptTimeout:       30 * time.Minute,
			EnableResume:         true,
			Tier:                 TierPremium,
		}
	default:
		return UploadConfig{
			MaxConcurrentUploads: 1,
			MaxConcurrentParts:   1,
			ChunkSizeMB:          5,
			MinChunkSizeMB:       5,
			MaxChunkSizeMB:       5,
			AdaptiveChunkSize:    false,
			RetryAttempts:        3,
			AttemptTimeout:       10 * time.Minute,
			EnableResume:         false,
			Tier:                 TierFree,
		}
	}
}

// DefaultRestore returns the stock restore settings: Standard tier, a 7 day
// restore window, and a 30 second poll interval.
func DefaultRestore() RestoreConfig {
	return RestoreConfig{
		PollInterval: 30 * time.Second,
		RestoreDays:  7,
		DefaultTier:  "Standard",
	}
}

// ChunkSize returns the configured chunk size in bytes.
func (c UploadConfig) ChunkSize() int64 { return c.ChunkSizeMB * 1024 * 1024 }

// MinChunkSize returns the minimum chunk size in bytes.
func (c UploadConfig) MinChunkSize() int64 { return c.MinChunkSizeMB * 1024 * 1024 }

// MaxChunkSize returns the maximum chunk size in bytes.
func (c UploadConfig) MaxChunkSize() int64 { return c.MaxChunkSizeMB * 1024 * 1024 }

// Validate checks internal consistency and enforces Free-tier ceilings.
func (c UploadConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("upload config: bucket is required")
	}
	if c.MaxConcurrentUploads < 1 {
		return fmt.Errorf("upload config: max_concurrent_uploads must be at least 1")
	}
	if c.MaxConcurrentParts < 1 {
		return fmt.Errorf("upload config: max_concurrent_parts must be at least 1")
	}
	if c.ChunkSizeMB < 1 {
		return fmt.Errorf("upload config: chunk_size_mb must be at least 1")
	}
	if c.MinChunkSizeMB > c.MaxChunkSizeMB {
		return fmt.Errorf("upload config: min_chunk_size_mb %d exceeds max_chunk_size_mb %d",
			c.MinChunkSizeMB, c.MaxChunkSizeMB)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("upload config: retry_attempts must not be negative")
	}
	if c.Tier == TierFree {
		if c.MaxConcurrentUploads > 1 {
			return fmt.Errorf("upload config: Free tier allows a single concurrent upload")
		}
		if c.MaxConcurrentParts > 1 {
			return fmt.Errorf("upload config: Free tier allows a single concurrent part")
		}
		if c.AdaptiveChunkSize {
			return fmt.Errorf("upload config: adaptive chunk size requires the Premium tier")
		}
		if c.EnableResume {
			return fmt.Errorf("upload config: resume requires the Premium tier")
		}
	}
	return nil
}

// Validate checks the restore settings.
func (c RestoreConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("restore config: bucket is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("restore config: poll_interval must be positive")
	}
	if c.RestoreDays < 1 {
		return fmt.Errorf("restore config: restore_days must be at least 1")
	}
	switch c.DefaultTier {
	case "Expedited", "Standard", "Bulk":
	default:
		return fmt.Errorf("restore config: invalid tier %q", c.DefaultTier)
	}
	return nil
}

// Load reads an AppConfig from a YAML file. Fields absent from the file keep
// their zero values; callers are expected to start from the tier defaults
// and overlay the file on top.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &AppConfig{
		Upload:  TierDefaults(TierFree),
		Restore: DefaultRestore(),
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Upload.Tier == "" {
		cfg.Upload.Tier = TierFree
	}
	if cfg.Restore.Bucket == "" {
		cfg.Restore.Bucket = cfg.Upload.Bucket
	}
	return cfg, nil
}
