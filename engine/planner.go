// Package engine is the upload side of the tool: part planning, the queue of
// upload jobs, the worker pool that drains it, and progress tracking.
package engine

import (
	"github.com/reelops/vaultfast/config"
)

const (
	// MinPartSize is the smallest part the object store accepts for any part
	// except the last one.
	MinPartSize = 5 * 1024 * 1024

	// MaxPartCount is the store's ceiling on parts per multipart upload.
	MaxPartCount = 10000

	mib = 1024 * 1024
)

// Part is one contiguous slice of the source file. Numbers start at 1 and
// offsets are byte positions into the file.
type Part struct {
	Number int32
	Offset int64
	Size   int64
}

// Plan splits a file of the given size into parts according to the chunk
// settings. The plan is a pure function of (size, cfg): planning the same
// file twice yields identical parts, which is what makes resume safe.
//
// Every part except the last has the same size, the sizes sum to size
// exactly, and a zero-byte file yields a single zero-length part.
//
// The configured maximum chunk size is advisory: for a file too large to fit
// in MaxPartCount parts of that size, parts grow past the configured maximum
// so the plan stays within the store's part limit.
func Plan(size int64, cfg config.UploadConfig) []Part {
	if size <= 0 {
		return []Part{{Number: 1, Offset: 0, Size: 0}}
	}

	chunk := partSize(size, cfg)

	n := (size + chunk - 1) / chunk
	parts := make([]Part, 0, n)
	var offset int64
	for i := int64(0); i < n; i++ {
		partLen := chunk
		if offset+partLen > size {
			partLen = size - offset
		}
		parts = append(parts, Part{
			Number: int32(i + 1),
			Offset: offset,
			Size:   partLen,
		})
		offset += partLen
	}
	return parts
}

// partSize picks the chunk size for a file. Adaptive sizing scales the chunk
// with the file within [min, max]; fixed sizing uses the configured chunk.
// Either way the part count must stay under the store's limit, so for very
// large files the limit wins over the configured ceiling.
func partSize(size int64, cfg config.UploadConfig) int64 {
	chunk := cfg.ChunkSize()

	if cfg.AdaptiveChunkSize {
		// Aim for parts an order of magnitude below the store limit so a
		// growing file stays plannable without reaching the ceiling.
		target := roundUpMiB(size / (MaxPartCount / 10))
		if target > chunk {
			chunk = target
		}
		if max := cfg.MaxChunkSize(); chunk > max {
			chunk = max
		}
		if min := cfg.MinChunkSize(); chunk < min {
			chunk = min
		}
	}

	if chunk < MinPartSize {
		chunk = MinPartSize
	}

	// The store limit is not negotiable.
	if floor := roundUpMiB((size + MaxPartCount - 1) / MaxPartCount); chunk < floor {
		chunk = floor
	}
	return chunk
}

func roundUpMiB(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + mib - 1) / mib * mib
}
