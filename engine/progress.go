package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/reelops/vaultfast/notify"
	"github.com/reelops/vaultfast/store"
)

// errOverridden reports that a queue-management transition (pause, cancel,
// remove) landed first, so this transition must not be applied.
var errOverridden = errors.New("engine: job state changed concurrently")

// CheckpointConfig sets how often a running job's progress is written back to
// the store and published to observers.
type CheckpointConfig struct {
	// BytesInterval triggers a checkpoint after this many new bytes.
	BytesInterval int64
	// TimeInterval triggers a checkpoint after this much time.
	TimeInterval time.Duration
}

// DefaultCheckpointConfig checkpoints every 10 MB or 2 seconds, whichever
// comes first.
var DefaultCheckpointConfig = CheckpointConfig{
	BytesInterval: 10 * 1024 * 1024,
	TimeInterval:  2 * time.Second,
}

// Tracker mediates between running jobs and the outside world: it persists
// state transitions, throttles progress writes, and publishes events. Every
// transition is applied atomically via the store, guarded by the record's
// current state, so a cancel or pause issued from another goroutine always
// wins over a worker writing back stale state.
type Tracker struct {
	store  store.Store
	hub    *notify.Hub
	config CheckpointConfig
}

// NewTracker creates a Tracker over the given store and hub.
func NewTracker(st store.Store, hub *notify.Hub, config CheckpointConfig) *Tracker {
	if config.BytesInterval <= 0 {
		config.BytesInterval = DefaultCheckpointConfig.BytesInterval
	}
	if config.TimeInterval <= 0 {
		config.TimeInterval = DefaultCheckpointConfig.TimeInterval
	}
	return &Tracker{store: st, hub: hub, config: config}
}

// MarkInProgress transitions a job to InProgress and stamps its start time.
// The job must still be Pending; any other state means a management call got
// there first and the worker must not run it.
func (t *Tracker) MarkInProgress(jobID string) error {
	var out store.UploadRecord
	err := t.store.UpdateUpload(jobID, func(rec *store.UploadRecord) error {
		if rec.State != store.StatePending {
			return errOverridden
		}
		now := time.Now().UTC()
		rec.State = store.StateInProgress
		rec.StartedAt = &now
		rec.Error = ""
		out = *rec
		return nil
	})
	if err != nil {
		return err
	}
	t.publishStatus(&out, "upload started")
	return nil
}

// MarkCompleted transitions a job to Completed. UploadedBytes is forced to
// the file size so observers always see 100% on completion. A job that
// reached a terminal state in the meantime stays there.
func (t *Tracker) MarkCompleted(jobID, checksum string) error {
	var out store.UploadRecord
	err := t.store.UpdateUpload(jobID, func(rec *store.UploadRecord) error {
		if rec.State.Terminal() {
			return errOverridden
		}
		now := time.Now().UTC()
		rec.State = store.StateCompleted
		rec.UploadedBytes = rec.FileSize
		rec.SpeedBps = 0
		rec.ETASeconds = 0
		rec.CompletedAt = &now
		rec.MultipartID = ""
		if checksum != "" {
			rec.Checksum = checksum
		}
		out = *rec
		return nil
	})
	if err != nil {
		return err
	}
	t.publishStatus(&out, "upload completed")
	return nil
}

// MarkFailed transitions a job to Failed, keeping the failure message
// verbatim so the operator sees what the store said. Terminal states stick.
func (t *Tracker) MarkFailed(jobID string, cause error) error {
	var out store.UploadRecord
	err := t.store.UpdateUpload(jobID, func(rec *store.UploadRecord) error {
		if rec.State.Terminal() {
			return errOverridden
		}
		rec.State = store.StateFailed
		rec.SpeedBps = 0
		rec.ETASeconds = 0
		if cause != nil {
			rec.Error = cause.Error()
		}
		out = *rec
		return nil
	})
	if err != nil {
		return err
	}
	t.publishStatus(&out, out.Error)
	return nil
}

// Requeue sends a transiently failed job back to Pending with its retry
// count bumped, so the queue can run it again after everything already
// waiting. Only an InProgress job can be requeued; a concurrent pause or
// cancel wins.
func (t *Tracker) Requeue(jobID string, cause error) error {
	return t.store.UpdateUpload(jobID, func(rec *store.UploadRecord) error {
		if rec.State != store.StateInProgress {
			return errOverridden
		}
		rec.State = store.StatePending
		rec.RetryCount++
		rec.SpeedBps = 0
		rec.ETASeconds = 0
		if cause != nil {
			rec.Error = cause.Error()
		}
		return nil
	})
}

func (t *Tracker) publishStatus(rec *store.UploadRecord, msg string) {
	if t.hub == nil {
		return
	}
	t.hub.Publish(notify.Event{
		Kind:    notify.KindStatus,
		Subject: rec.ID,
		Message: msg,
		State:   rec.State,
		Bytes:   rec.UploadedBytes,
		Total:   rec.FileSize,
	})
}

// Meter accumulates transferred bytes for one running job, checkpointing to
// the store and publishing progress on the configured intervals. UploadedBytes
// never decreases: resume seeds the meter with the bytes already confirmed.
type Meter struct {
	tracker *Tracker
	jobID   string
	total   int64

	mu         sync.Mutex
	bytes      int64
	startBytes int64
	startedAt  time.Time
	lastFlush  int64
	lastFlushT time.Time
}

// NewMeter creates a Meter for a job. startBytes is what previous runs
// already uploaded; total is the file size.
func (t *Tracker) NewMeter(jobID string, startBytes, total int64) *Meter {
	now := time.Now()
	return &Meter{
		tracker:    t,
		jobID:      jobID,
		total:      total,
		bytes:      startBytes,
		startBytes: startBytes,
		startedAt:  now,
		lastFlush:  startBytes,
		lastFlushT: now,
	}
}

// Add records n newly confirmed bytes and checkpoints when due.
func (m *Meter) Add(n int64) {
	m.mu.Lock()
	m.bytes += n
	due := m.bytes-m.lastFlush >= m.tracker.config.BytesInterval ||
		time.Since(m.lastFlushT) >= m.tracker.config.TimeInterval
	m.mu.Unlock()

	if due {
		m.Flush()
	}
}

// Bytes returns the confirmed byte count so far.
func (m *Meter) Bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes
}

// Flush writes the current progress to the store and publishes it. Only the
// progress fields are touched, and only while the record is still InProgress
// or Paused: a cancel that lands mid-flush must not be overwritten. Store
// write failures are swallowed; losing one checkpoint is harmless.
func (m *Meter) Flush() {
	m.mu.Lock()
	bytes := m.bytes
	speed := m.speedLocked()
	m.lastFlush = bytes
	m.lastFlushT = time.Now()
	m.mu.Unlock()

	var eta int64
	if speed > 0 && bytes < m.total {
		eta = int64(float64(m.total-bytes) / speed)
	}

	_ = m.tracker.store.UpdateUpload(m.jobID, func(rec *store.UploadRecord) error {
		if rec.State != store.StateInProgress && rec.State != store.StatePaused {
			return errOverridden
		}
		if bytes > rec.UploadedBytes {
			rec.UploadedBytes = bytes
		}
		rec.SpeedBps = speed
		rec.ETASeconds = eta
		return nil
	})

	if m.tracker.hub != nil {
		m.tracker.hub.Publish(notify.Event{
			Kind:    notify.KindProgress,
			Subject: m.jobID,
			State:   store.StateInProgress,
			Bytes:   bytes,
			Total:   m.total,
		})
	}
}

// speedLocked computes bytes/sec over this run, excluding bytes inherited
// from previous runs. Callers hold m.mu.
func (m *Meter) speedLocked() float64 {
	elapsed := time.Since(m.startedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.bytes-m.startBytes) / elapsed
}
