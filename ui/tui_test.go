package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSpeed(t *testing.T) {
	tests := []struct {
		bytesPerSec float64
		want        string
	}{
		{500, "500 B/s"},
		{2048, "2.00 KB/s"},
		{5 * 1024 * 1024, "5.00 MB/s"},
		{3 * 1024 * 1024 * 1024, "3.00 GB/s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSpeed(tt.bytesPerSec))
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.50 KB", formatBytes(1536))
	assert.Equal(t, "2.00 GB", formatBytes(2*1024*1024*1024))
	assert.Equal(t, "1.00 TB", formatBytes(1024*1024*1024*1024))
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "5s", formatETA(0.5, 5))
	assert.Equal(t, "2m0s", formatETA(0.5, 120))

	// no estimate until the queue reports one
	assert.Equal(t, "Calculating...", formatETA(0, 0))
	assert.Equal(t, "Calculating...", formatETA(0.5, 0))
	assert.Equal(t, "0s", formatETA(1, 0))
	assert.Equal(t, "> 1d", formatETA(0.01, 200000))
}

func TestTruncatePath(t *testing.T) {
	assert.Equal(t, "short.mov", truncatePath("short.mov", 40))

	long := "/media/projects/2025/client/raw/footage/A001_C002_0814.mov"
	got := truncatePath(long, 40)
	assert.Len(t, got, 40)
	assert.Equal(t, "...", got[:3])
	assert.Contains(t, got, "A001_C002_0814.mov")
}
