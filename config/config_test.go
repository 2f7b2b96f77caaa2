package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierDefaults(t *testing.T) {
	free := TierDefaults(TierFree)
	assert.Equal(t, 1, free.MaxConcurrentUploads)
	assert.Equal(t, 1, free.MaxConcurrentParts)
	assert.Equal(t, int64(5), free.ChunkSizeMB)
	assert.False(t, free.AdaptiveChunkSize)
	assert.False(t, free.EnableResume)

	prem := TierDefaults(TierPremium)
	assert.Equal(t, 8, prem.MaxConcurrentUploads)
	assert.Equal(t, 8, prem.MaxConcurrentParts)
	assert.True(t, prem.AdaptiveChunkSize)
	assert.True(t, prem.EnableResume)
	assert.Equal(t, int64(100), prem.MaxChunkSizeMB)
}

func TestUploadConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*UploadConfig)
		wantErr string
	}{
		{
			name:   "valid free tier",
			mutate: func(c *UploadConfig) {},
		},
		{
			name:    "missing bucket",
			mutate:  func(c *UploadConfig) { c.Bucket = "" },
			wantErr: "bucket is required",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *UploadConfig) { c.MaxConcurrentUploads = 0 },
			wantErr: "max_concurrent_uploads",
		},
		{
			name:    "free tier concurrency ceiling",
			mutate:  func(c *UploadConfig) { c.MaxConcurrentUploads = 4 },
			wantErr: "single concurrent upload",
		},
		{
			name:    "free tier part ceiling",
			mutate:  func(c *UploadConfig) { c.MaxConcurrentParts = 2 },
			wantErr: "single concurrent part",
		},
		{
			name:    "free tier adaptive chunks",
			mutate:  func(c *UploadConfig) { c.AdaptiveChunkSize = true },
			wantErr: "Premium tier",
		},
		{
			name:    "min above max",
			mutate:  func(c *UploadConfig) { c.MinChunkSizeMB = 50; c.MaxChunkSizeMB = 10 },
			wantErr: "exceeds max_chunk_size_mb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := TierDefaults(TierFree)
			cfg.Bucket = "media-vault"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestRestoreConfigValidate(t *testing.T) {
	cfg := DefaultRestore()
	cfg.Bucket = "media-vault"
	assert.NoError(t, cfg.Validate())

	cfg.DefaultTier = "Instant"
	assert.Error(t, cfg.Validate())

	cfg = DefaultRestore()
	cfg.Bucket = "media-vault"
	cfg.PollInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vaultfast.yaml")
	data := `
region: ap-northeast-1
state_path: /var/lib/vaultfast/state.db
upload:
  bucket: media-vault
  key_prefix: uploads
  tier: Premium
  max_concurrent_uploads: 4
  max_concurrent_parts: 4
  chunk_size_mb: 16
  min_chunk_size_mb: 5
  max_chunk_size_mb: 64
  adaptive_chunk_size: true
  retry_attempts: 5
  enable_resume: true
restore:
  poll_interval: 15s
  restore_days: 3
  default_tier: Bulk
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ap-northeast-1", cfg.Region)
	assert.Equal(t, "media-vault", cfg.Upload.Bucket)
	assert.Equal(t, TierPremium, cfg.Upload.Tier)
	assert.Equal(t, 4, cfg.Upload.MaxConcurrentUploads)
	assert.Equal(t, int64(16), cfg.Upload.ChunkSizeMB)
	assert.Equal(t, 15*time.Second, cfg.Restore.PollInterval)
	assert.Equal(t, 3, cfg.Restore.RestoreDays)
	assert.Equal(t, "Bulk", cfg.Restore.DefaultTier)
	// restore bucket falls back to the upload bucket
	assert.Equal(t, "media-vault", cfg.Restore.Bucket)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
