package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/reelops/vaultfast/provider"
	"github.com/reelops/vaultfast/store"
)

// Halt sentinels: the job stopped for a reason that is not a transfer
// failure. The state transition already happened elsewhere.
var (
	errHaltedPaused = errors.New("engine: job paused")
	errHaltedGone   = errors.New("engine: job removed")
)

// errLocal marks failures of the local file, which no amount of retrying the
// object store can fix.
var errLocal = errors.New("engine: local file error")

// run executes one queued job. It is the pool's JobHandler.
func (q *Queue) run(ctx context.Context, jobID string) {
	rec, err := q.st.GetUpload(jobID)
	if err != nil {
		// Removed while waiting in the channel.
		return
	}
	if rec.State != store.StatePending {
		// Paused or cancelled while waiting.
		return
	}

	if err := q.tracker.MarkInProgress(jobID); err != nil {
		// errOverridden means a pause/cancel/remove won the race; not an error
		if !errors.Is(err, errOverridden) && !errors.Is(err, store.ErrJobNotFound) {
			q.log.Error("failed to mark job in progress",
				slog.String("job", jobID), slog.String("error", err.Error()))
		}
		return
	}

	attemptCtx := ctx
	if q.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, q.cfg.AttemptTimeout)
		defer cancel()
	}

	err = q.upload(attemptCtx, jobID)
	switch {
	case err == nil:
	case errors.Is(err, errHaltedPaused), errors.Is(err, errHaltedGone),
		errors.Is(err, errOverridden):
		// Pause/Cancel/Remove already put the record where it belongs.
	case ctx.Err() != nil:
		// Shutdown: back to Pending, progress kept for the next run.
		q.requeueAfterShutdown(jobID)
	default:
		q.finishFailure(jobID, err)
	}
}

// finishFailure decides between retry-to-back and terminal failure.
func (q *Queue) finishFailure(jobID string, cause error) {
	rec, err := q.st.GetUpload(jobID)
	if err != nil {
		return
	}

	transient := provider.Transient(cause) && !errors.Is(cause, errLocal)
	if transient && rec.RetryCount < q.cfg.RetryAttempts {
		if rec.MultipartID != "" && !q.cfg.EnableResume {
			q.abortMultipart(rec.Key, rec.MultipartID)
			_ = q.st.UpdateUpload(jobID, func(r *store.UploadRecord) error {
				r.MultipartID = ""
				r.UploadedBytes = 0
				return nil
			})
		}
		if err := q.tracker.Requeue(jobID, cause); err != nil {
			if !errors.Is(err, errOverridden) {
				q.log.Error("failed to requeue job",
					slog.String("job", jobID), slog.String("error", err.Error()))
			}
			return
		}
		q.mu.Lock()
		if q.running {
			q.enqueueLocked(jobID)
		}
		q.mu.Unlock()
		q.log.Warn("upload attempt failed, requeued",
			slog.String("job", jobID),
			slog.Int("attempt", rec.RetryCount+1),
			slog.String("error", cause.Error()))
		return
	}

	if rec.MultipartID != "" {
		q.abortMultipart(rec.Key, rec.MultipartID)
		_ = q.st.UpdateUpload(jobID, func(r *store.UploadRecord) error {
			r.MultipartID = ""
			return nil
		})
	}
	if err := q.tracker.MarkFailed(jobID, cause); err != nil && !errors.Is(err, errOverridden) {
		q.log.Error("failed to mark job failed",
			slog.String("job", jobID), slog.String("error", err.Error()))
	}
	q.log.Error("upload failed",
		slog.String("job", jobID), slog.String("error", cause.Error()))
}

func (q *Queue) requeueAfterShutdown(jobID string) {
	_ = q.st.UpdateUpload(jobID, func(rec *store.UploadRecord) error {
		if rec.State != store.StateInProgress {
			return errOverridden
		}
		rec.State = store.StatePending
		rec.SpeedBps = 0
		rec.ETASeconds = 0
		return nil
	})
}

// upload transfers one file. The record is InProgress on entry; on success
// the tracker has marked it Completed.
func (q *Queue) upload(ctx context.Context, jobID string) error {
	rec, err := q.st.GetUpload(jobID)
	if err != nil {
		return errHaltedGone
	}

	info, err := q.fs.Stat(rec.SourcePath)
	if err != nil {
		return fmt.Errorf("%w: %v", errLocal, err)
	}
	if info.Size() != rec.FileSize {
		return fmt.Errorf("%w: %s changed size since submission (%d != %d)",
			errLocal, rec.SourcePath, info.Size(), rec.FileSize)
	}

	f, err := q.fs.Open(rec.SourcePath)
	if err != nil {
		return fmt.Errorf("%w: %v", errLocal, err)
	}
	defer f.Close()

	plan := Plan(rec.FileSize, q.cfg)
	if len(plan) == 1 {
		return q.uploadSingle(ctx, rec, f, plan[0])
	}
	return q.uploadMultipart(ctx, rec, f, plan)
}

// uploadSingle handles files that fit in one request, including zero-byte
// files.
func (q *Queue) uploadSingle(ctx context.Context, rec *store.UploadRecord, f provider.File, part Part) error {
	meter := q.tracker.NewMeter(rec.ID, 0, rec.FileSize)

	var checksum string
	op := func() error {
		if herr := q.halt(ctx, rec.ID); herr != nil {
			return backoff.Permanent(herr)
		}
		cr := NewChecksumReader(io.NewSectionReader(f, 0, part.Size))
		if err := q.objects.Put(ctx, rec.Key, cr, part.Size); err != nil {
			if provider.Transient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		checksum = cr.Sum()
		return nil
	}
	if err := backoff.Retry(op, q.partBackoff(ctx)); err != nil {
		return err
	}

	meter.Add(part.Size)
	meter.Flush()
	return q.tracker.MarkCompleted(rec.ID, checksum)
}

func (q *Queue) uploadMultipart(ctx context.Context, rec *store.UploadRecord, f provider.File, plan []Part) error {
	uploadID, done, err := q.openMultipart(ctx, rec, plan)
	if err != nil {
		return err
	}

	var startBytes int64
	completed := make([]provider.CompletedPart, 0, len(plan))
	for _, p := range done {
		startBytes += p.Size
		completed = append(completed, p)
	}
	meter := q.tracker.NewMeter(rec.ID, startBytes, rec.FileSize)

	partCtx, cancelParts := context.WithCancel(ctx)
	defer cancelParts()

	sem := make(chan struct{}, q.cfg.MaxConcurrentParts)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancelParts()
	}

dispatch:
	for _, part := range plan {
		if _, ok := done[part.Number]; ok {
			continue
		}
		// Part boundary: the only place pause/remove/shutdown takes effect.
		if herr := q.halt(partCtx, rec.ID); herr != nil {
			setErr(herr)
			break
		}

		select {
		case sem <- struct{}{}:
		case <-partCtx.Done():
			setErr(partCtx.Err())
			break dispatch
		}

		wg.Add(1)
		go func(part Part) {
			defer wg.Done()
			defer func() { <-sem }()

			p, err := q.uploadPart(partCtx, f, rec.Key, uploadID, part)
			if err != nil {
				setErr(err)
				return
			}
			mu.Lock()
			completed = append(completed, p)
			mu.Unlock()
			meter.Add(part.Size)
		}(part)
	}
	wg.Wait()

	if firstErr != nil {
		meter.Flush()
		return q.handleMultipartHalt(rec.ID, uploadID, firstErr)
	}

	sort.Slice(completed, func(i, j int) bool {
		return completed[i].Number < completed[j].Number
	})
	etag, err := q.objects.CompleteMultipart(ctx, rec.Key, uploadID, completed)
	if err != nil {
		return err
	}

	meter.Flush()
	return q.tracker.MarkCompleted(rec.ID, etag)
}

// openMultipart reuses the record's in-flight multipart upload when resume is
// on and the confirmed parts still match the plan; otherwise it starts fresh.
func (q *Queue) openMultipart(ctx context.Context, rec *store.UploadRecord, plan []Part) (string, map[int32]provider.CompletedPart, error) {
	if q.cfg.EnableResume && rec.MultipartID != "" {
		parts, err := q.objects.ListUploadedParts(ctx, rec.Key, rec.MultipartID)
		if err == nil && partsMatchPlan(parts, plan) {
			q.log.Info("resuming multipart upload",
				slog.String("job", rec.ID),
				slog.Int("confirmed_parts", len(parts)))
			return rec.MultipartID, parts, nil
		}
		// The upload id is stale or the plan no longer matches. Start over.
		q.abortMultipart(rec.Key, rec.MultipartID)
	}

	uploadID, err := q.objects.CreateMultipart(ctx, rec.Key)
	if err != nil {
		return "", nil, err
	}

	err = q.st.UpdateUpload(rec.ID, func(fresh *store.UploadRecord) error {
		fresh.MultipartID = uploadID
		fresh.UploadedBytes = 0
		return nil
	})
	if err != nil {
		q.abortMultipart(rec.Key, uploadID)
		if errors.Is(err, store.ErrJobNotFound) {
			return "", nil, errHaltedGone
		}
		return "", nil, err
	}
	return uploadID, map[int32]provider.CompletedPart{}, nil
}

// partsMatchPlan verifies every confirmed part lines up with the re-derived
// plan. Any mismatch means the source or config changed and resume is unsafe.
func partsMatchPlan(parts map[int32]provider.CompletedPart, plan []Part) bool {
	for n, p := range parts {
		i := int(n) - 1
		if i < 0 || i >= len(plan) || plan[i].Size != p.Size {
			return false
		}
	}
	return true
}

// handleMultipartHalt cleans up after an interrupted multipart upload
// depending on why it stopped.
func (q *Queue) handleMultipartHalt(jobID, uploadID string, cause error) error {
	switch {
	case errors.Is(cause, errHaltedGone):
		q.abortByRecordOrID(jobID, uploadID)
		_ = q.st.UpdateUpload(jobID, func(rec *store.UploadRecord) error {
			rec.MultipartID = ""
			return nil
		})
		return cause

	case errors.Is(cause, errHaltedPaused):
		if !q.cfg.EnableResume {
			q.abortByRecordOrID(jobID, uploadID)
			_ = q.st.UpdateUpload(jobID, func(rec *store.UploadRecord) error {
				rec.MultipartID = ""
				rec.UploadedBytes = 0
				return nil
			})
		}
		return cause

	default:
		return cause
	}
}

func (q *Queue) abortByRecordOrID(jobID, uploadID string) {
	key := ""
	if rec, err := q.st.GetUpload(jobID); err == nil {
		key = rec.Key
	}
	if key == "" {
		// Record already deleted; the periodic lifecycle rule on incomplete
		// uploads is the backstop.
		return
	}
	q.abortMultipart(key, uploadID)
}

// uploadPart reads one part into a pooled buffer and sends it, retrying
// transient failures with exponential backoff.
func (q *Queue) uploadPart(ctx context.Context, f provider.File, key, uploadID string, part Part) (provider.CompletedPart, error) {
	bufp := q.buffers.Get()
	defer q.buffers.Put(bufp)

	buf := *bufp
	if int64(cap(buf)) < part.Size {
		buf = make([]byte, part.Size)
	}
	buf = buf[:part.Size]

	if _, err := f.ReadAt(buf, part.Offset); err != nil && err != io.EOF {
		return provider.CompletedPart{}, fmt.Errorf("%w: failed to read part %d: %v", errLocal, part.Number, err)
	}

	start := time.Now()
	var out provider.CompletedPart
	op := func() error {
		res, err := q.objects.UploadPart(ctx, key, uploadID, part.Number, bytes.NewReader(buf), part.Size)
		if err != nil {
			if provider.Transient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = res
		return nil
	}
	if err := backoff.Retry(op, q.partBackoff(ctx)); err != nil {
		return provider.CompletedPart{}, err
	}

	q.throttle(start, part.Size)
	return out, nil
}

// partBackoff is the retry policy for a single part: exponential backoff,
// capped attempts, aborted by context cancellation.
func (q *Queue) partBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(q.cfg.RetryAttempts)), ctx)
}

// throttle sleeps long enough to keep this part's goroutine within its share
// of the bandwidth cap. With n concurrent parts each gets 1/n of the budget.
func (q *Queue) throttle(start time.Time, n int64) {
	if q.cfg.BandwidthLimitMBps <= 0 {
		return
	}
	share := q.cfg.BandwidthLimitMBps * mib / float64(q.cfg.MaxConcurrentParts)
	want := time.Duration(float64(n) / share * float64(time.Second))
	if d := want - time.Since(start); d > 0 {
		time.Sleep(d)
	}
}

// halt reports why a running job should stop at this part boundary, or nil
// to keep going.
func (q *Queue) halt(ctx context.Context, jobID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	rec, err := q.st.GetUpload(jobID)
	if err != nil {
		return errHaltedGone
	}
	switch rec.State {
	case store.StatePaused:
		return errHaltedPaused
	case store.StateCancelled:
		return errHaltedGone
	}
	return nil
}
