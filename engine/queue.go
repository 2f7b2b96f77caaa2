package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reelops/vaultfast/config"
	"github.com/reelops/vaultfast/notify"
	"github.com/reelops/vaultfast/provider"
	"github.com/reelops/vaultfast/store"
)

var (
	// ErrDuplicateSource rejects a submission whose source path already has
	// a job that is not finished.
	ErrDuplicateSource = errors.New("engine: source path already queued")

	// ErrNotFailed rejects a retry of a job that has not failed.
	ErrNotFailed = errors.New("engine: job is not in a failed state")

	// ErrNotPaused rejects resuming a job that is not paused.
	ErrNotPaused = errors.New("engine: job is not paused")

	// ErrNotActive rejects pausing a job that is neither pending nor
	// running.
	ErrNotActive = errors.New("engine: job is not pending or in progress")

	// ErrIsDirectory rejects submitting a directory as a single file.
	ErrIsDirectory = errors.New("engine: source path is a directory")

	// ErrInProgress rejects removing a job that is still transferring.
	ErrInProgress = errors.New("engine: job is in progress, cancel it first")

	// ErrTerminal rejects cancelling a job that already finished.
	ErrTerminal = errors.New("engine: job already finished")
)

// queueCapacity bounds the dispatch channel. Jobs beyond it stay Pending in
// the store and are re-seeded on the next Start.
const queueCapacity = 4096

// QueueOptions wires a Queue's collaborators.
type QueueOptions struct {
	Config     config.UploadConfig
	Store      store.Store
	Objects    provider.ObjectStore
	FS         provider.Filesystem
	Hub        *notify.Hub
	Keys       KeyBuilder
	Logger     *slog.Logger
	Checkpoint CheckpointConfig
}

// Queue is the upload queue: jobs go in by source path, workers drain them
// into the object store in submission order.
type Queue struct {
	cfg     config.UploadConfig
	st      store.Store
	objects provider.ObjectStore
	fs      provider.Filesystem
	hub     *notify.Hub
	tracker *Tracker
	keys    KeyBuilder
	log     *slog.Logger
	buffers *BufferPool

	mu      sync.Mutex
	jobs    chan string
	pool    *WorkerPool
	running bool
}

// NewQueue builds a Queue. Config must already be validated.
func NewQueue(opts QueueOptions) *Queue {
	if opts.FS == nil {
		opts.FS = provider.OSFilesystem{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Queue{
		cfg:     opts.Config,
		st:      opts.Store,
		objects: opts.Objects,
		fs:      opts.FS,
		hub:     opts.Hub,
		tracker: NewTracker(opts.Store, opts.Hub, opts.Checkpoint),
		keys:    opts.Keys,
		log:     opts.Logger,
		buffers: NewBufferPool(opts.Config.ChunkSize()),
	}
}

// Start spins up the worker pool and re-seeds every Pending job in
// submission order. Calling Start on a running queue is a no-op.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return nil
	}

	q.jobs = make(chan string, queueCapacity)
	q.pool = NewWorkerPool(ctx, q.jobs, q.run)
	q.pool.SetWorkerCount(q.cfg.MaxConcurrentUploads)
	q.running = true

	recs, err := q.st.ListUploads()
	if err != nil {
		return fmt.Errorf("failed to seed queue: %w", err)
	}
	for _, rec := range recs {
		if rec.State == store.StatePending {
			q.enqueueLocked(rec.ID)
		}
	}

	q.log.Info("upload queue started",
		slog.Int("workers", q.cfg.MaxConcurrentUploads),
		slog.String("tier", string(q.cfg.Tier)))
	return nil
}

// Stop halts the workers and waits for them to exit. Running jobs stop at
// their next part boundary and go back to Pending.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	pool := q.pool
	q.running = false
	q.mu.Unlock()

	pool.Stop()
	q.log.Info("upload queue stopped")
}

// Submit queues one file for upload and returns its record. A path that
// already has an unfinished job is rejected with ErrDuplicateSource.
func (q *Queue) Submit(sourcePath string) (*store.UploadRecord, error) {
	info, err := q.fs.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", sourcePath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrIsDirectory, sourcePath)
	}

	recs, err := q.st.ListUploads()
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec.SourcePath == sourcePath && !rec.State.Terminal() {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSource, sourcePath)
		}
	}

	now := time.Now().UTC()
	rec := &store.UploadRecord{
		ID:         uuid.NewString(),
		SourcePath: sourcePath,
		FileName:   info.Name(),
		FileSize:   info.Size(),
		Key:        q.keys.Build(sourcePath, now),
		CreatedAt:  now,
		State:      store.StatePending,
	}
	if err := q.st.SaveUpload(rec); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.running {
		q.enqueueLocked(rec.ID)
	}
	q.mu.Unlock()

	q.log.Info("upload queued",
		slog.String("job", rec.ID),
		slog.String("source", sourcePath),
		slog.String("key", rec.Key),
		slog.Int64("size", rec.FileSize))
	return rec, nil
}

// Retry sends a failed job back to the end of the queue with a fresh retry
// budget.
func (q *Queue) Retry(id string) error {
	err := q.st.UpdateUpload(id, func(rec *store.UploadRecord) error {
		if rec.State != store.StateFailed {
			return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, rec.State)
		}
		rec.State = store.StatePending
		rec.RetryCount = 0
		rec.Error = ""
		return nil
	})
	if err != nil {
		return err
	}

	q.mu.Lock()
	if q.running {
		q.enqueueLocked(id)
	}
	q.mu.Unlock()
	return nil
}

// Pause stops a pending or running job. A running job halts at its next part
// boundary; confirmed bytes are kept for resume.
func (q *Queue) Pause(id string) error {
	return q.st.UpdateUpload(id, func(rec *store.UploadRecord) error {
		if rec.State != store.StatePending && rec.State != store.StateInProgress {
			return fmt.Errorf("%w: %s is %s", ErrNotActive, id, rec.State)
		}
		rec.State = store.StatePaused
		return nil
	})
}

// Resume sends a paused job back to the end of the queue.
func (q *Queue) Resume(id string) error {
	err := q.st.UpdateUpload(id, func(rec *store.UploadRecord) error {
		if rec.State != store.StatePaused {
			return fmt.Errorf("%w: %s is %s", ErrNotPaused, id, rec.State)
		}
		rec.State = store.StatePending
		return nil
	})
	if err != nil {
		return err
	}

	q.mu.Lock()
	if q.running {
		q.enqueueLocked(id)
	}
	q.mu.Unlock()
	return nil
}

// Cancel terminates a job for good. A running job halts at its next part
// boundary and aborts its own multipart upload; for queued or paused jobs any
// leftover multipart upload is aborted here.
func (q *Queue) Cancel(id string) error {
	var out store.UploadRecord
	var abortKey, abortID string
	err := q.st.UpdateUpload(id, func(rec *store.UploadRecord) error {
		if rec.State.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrTerminal, id, rec.State)
		}
		wasRunning := rec.State == store.StateInProgress
		rec.State = store.StateCancelled
		now := time.Now().UTC()
		rec.CompletedAt = &now
		if !wasRunning && rec.MultipartID != "" {
			abortKey, abortID = rec.Key, rec.MultipartID
			rec.MultipartID = ""
		}
		out = *rec
		return nil
	})
	if err != nil {
		return err
	}
	// the abort call goes out after the record update; the store lock is
	// never held across a network round trip
	if abortID != "" {
		q.abortMultipart(abortKey, abortID)
	}
	q.tracker.publishStatus(&out, "upload cancelled")
	return nil
}

// Remove deletes a job that is not transferring. An InProgress job has to be
// cancelled first so its worker can stop cleanly.
func (q *Queue) Remove(id string) error {
	rec, err := q.st.GetUpload(id)
	if err != nil {
		return err
	}
	if rec.State == store.StateInProgress {
		return fmt.Errorf("%w: %s", ErrInProgress, id)
	}
	if err := q.st.DeleteUpload(id); err != nil {
		return err
	}
	if rec.MultipartID != "" {
		q.abortMultipart(rec.Key, rec.MultipartID)
	}
	return nil
}

// Clear removes every job that is not currently transferring and returns how
// many were removed. InProgress jobs are left alone.
func (q *Queue) Clear() (int, error) {
	recs, err := q.st.ListUploads()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, rec := range recs {
		if rec.State == store.StateInProgress {
			continue
		}
		if err := q.st.DeleteUpload(rec.ID); err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				continue
			}
			return removed, err
		}
		if rec.MultipartID != "" {
			q.abortMultipart(rec.Key, rec.MultipartID)
		}
		removed++
	}
	return removed, nil
}

// Jobs returns every upload record in submission order.
func (q *Queue) Jobs() ([]*store.UploadRecord, error) {
	return q.st.ListUploads()
}

// Stats is a point-in-time summary of the queue.
type Stats struct {
	Total      int
	Pending    int
	InProgress int
	Completed  int
	Failed     int
	Paused     int
	Cancelled  int

	TotalBytes    int64
	UploadedBytes int64
	// AverageSpeedBps averages over jobs currently transferring.
	AverageSpeedBps float64
	// ETASeconds estimates the time to drain the queue, from the remaining
	// bytes and the combined speed of the transferring jobs. Zero when
	// nothing is transferring.
	ETASeconds int64
}

// Stats computes a summary across all jobs.
func (q *Queue) Stats() (Stats, error) {
	recs, err := q.st.ListUploads()
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	var speedSum float64
	for _, rec := range recs {
		s.Total++
		s.TotalBytes += rec.FileSize
		s.UploadedBytes += rec.UploadedBytes

		switch rec.State {
		case store.StatePending:
			s.Pending++
		case store.StateInProgress:
			s.InProgress++
			speedSum += rec.SpeedBps
		case store.StateCompleted:
			s.Completed++
		case store.StateFailed:
			s.Failed++
		case store.StatePaused:
			s.Paused++
		case store.StateCancelled:
			s.Cancelled++
		}
	}
	if s.InProgress > 0 {
		s.AverageSpeedBps = speedSum / float64(s.InProgress)
	}
	if remaining := s.TotalBytes - s.UploadedBytes; speedSum > 0 && remaining > 0 {
		s.ETASeconds = int64(float64(remaining) / speedSum)
	}
	return s, nil
}

// enqueueLocked pushes a job id onto the dispatch channel. Callers hold
// q.mu. A full channel is not an error: the job stays Pending and the next
// Start picks it up.
func (q *Queue) enqueueLocked(id string) {
	select {
	case q.jobs <- id:
	default:
		q.log.Warn("dispatch channel full, job stays pending", slog.String("job", id))
	}
}

func (q *Queue) abortMultipart(key, uploadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := q.objects.AbortMultipart(ctx, key, uploadID); err != nil {
		q.log.Warn("failed to abort multipart upload",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}
