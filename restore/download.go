package restore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/reelops/vaultfast/notify"
	"github.com/reelops/vaultfast/store"
)

// Archive storage classes whose objects are unreadable until restored.
func needsRestore(storageClass string) bool {
	return storageClass == "GLACIER" || storageClass == "DEEP_ARCHIVE"
}

// DownloadResult summarizes a finished download.
type DownloadResult struct {
	Key      string
	DestPath string
	Bytes    int64
	Duration time.Duration
}

// Download writes a restored object to destPath. The object's restore state
// is re-verified against the store first; a stale Completed record does not
// make an expired copy readable again. Objects in non-archive storage
// classes download directly.
func (t *Tracker) Download(ctx context.Context, key, destPath string) (*DownloadResult, error) {
	status, err := t.objects.RestoreStatus(ctx, key)
	if err != nil {
		return nil, err
	}
	if needsRestore(status.StorageClass) && !status.Restored {
		return nil, fmt.Errorf("%w: %s", ErrNotRestored, key)
	}

	info, err := t.objects.Head(ctx, key)
	if err != nil {
		return nil, err
	}

	f, err := t.fs.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer f.Close()

	start := time.Now()
	pw := &progressWriter{
		w:     f,
		hub:   t.hub,
		key:   key,
		total: info.Size,
	}

	n, err := t.objects.Download(ctx, key, pw)
	if err != nil {
		return nil, err
	}
	if n != info.Size {
		return nil, fmt.Errorf("restore: short download of %s: %d of %d bytes", key, n, info.Size)
	}

	pw.finish()
	t.log.Info("download completed",
		slog.String("key", key),
		slog.String("dest", destPath),
		slog.Int64("bytes", n))

	return &DownloadResult{
		Key:      key,
		DestPath: destPath,
		Bytes:    n,
		Duration: time.Since(start),
	}, nil
}

// progressWriter counts bytes as the concurrent downloader writes them and
// publishes throttled progress events.
type progressWriter struct {
	w     io.WriterAt
	hub   *notify.Hub
	key   string
	total int64

	mu      sync.Mutex
	bytes   int64
	lastPub time.Time
}

func (p *progressWriter) WriteAt(b []byte, off int64) (int, error) {
	n, err := p.w.WriteAt(b, off)
	if n > 0 {
		p.mu.Lock()
		p.bytes += int64(n)
		due := time.Since(p.lastPub) >= 500*time.Millisecond
		bytes := p.bytes
		if due {
			p.lastPub = time.Now()
		}
		p.mu.Unlock()

		if due {
			p.publish(bytes, store.StateInProgress)
		}
	}
	return n, err
}

func (p *progressWriter) finish() {
	p.mu.Lock()
	bytes := p.bytes
	p.mu.Unlock()
	p.publish(bytes, store.StateCompleted)
}

func (p *progressWriter) publish(bytes int64, state store.JobState) {
	if p.hub == nil {
		return
	}
	p.hub.Publish(notify.Event{
		Kind:    notify.KindProgress,
		Subject: p.key,
		State:   state,
		Bytes:   bytes,
		Total:   p.total,
	})
}
