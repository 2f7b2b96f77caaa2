// Package restore tracks archive retrievals: requesting them, polling the
// object store until they finish, and downloading the restored copies.
package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/reelops/vaultfast/config"
	"github.com/reelops/vaultfast/notify"
	"github.com/reelops/vaultfast/provider"
	"github.com/reelops/vaultfast/store"
)

var (
	// ErrInvalidTier rejects a retrieval tier the store does not know.
	ErrInvalidTier = errors.New("restore: invalid retrieval tier")

	// ErrNotRestored rejects downloading an object that has no readable
	// copy yet.
	ErrNotRestored = errors.New("restore: object is not restored")
)

// Options wires a Tracker's collaborators.
type Options struct {
	Config  config.RestoreConfig
	Store   store.Store
	Objects provider.ObjectStore
	FS      provider.Filesystem
	Hub     *notify.Hub
	Logger  *slog.Logger
}

// Tracker owns the lifecycle of restore jobs. All state transitions go
// through it, serialized by one mutex, which is what makes the terminal
// notification fire exactly once.
type Tracker struct {
	cfg     config.RestoreConfig
	st      store.Store
	objects provider.ObjectStore
	fs      provider.Filesystem
	hub     *notify.Hub
	log     *slog.Logger

	mu sync.Mutex
}

// NewTracker builds a Tracker. Config must already be validated.
func NewTracker(opts Options) *Tracker {
	if opts.FS == nil {
		opts.FS = provider.OSFilesystem{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tracker{
		cfg:     opts.Config,
		st:      opts.Store,
		objects: opts.Objects,
		fs:      opts.FS,
		hub:     opts.Hub,
		log:     opts.Logger,
	}
}

// Request asks for an archived object to be retrieved. Requesting a key that
// already has an active restore returns the existing record unchanged, with
// its original request timestamp; a key whose previous restore finished gets
// a fresh record.
func (t *Tracker) Request(ctx context.Context, key string, tier store.RestoreTier) (*store.RestoreRecord, error) {
	if tier == "" {
		tier = store.RestoreTier(t.cfg.DefaultTier)
	}
	if !store.ValidRestoreTier(tier) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, err := t.st.GetRestore(key); err == nil && !existing.State.Terminal() {
		return existing, nil
	} else if err != nil && !errors.Is(err, store.ErrJobNotFound) {
		return nil, err
	}

	rec := &store.RestoreRecord{
		Key:         key,
		Tier:        tier,
		RequestedAt: time.Now().UTC(),
		State:       store.StateInProgress,
	}

	// The store may already be retrieving this object, or may already hold
	// a readable copy; both are answers, not failures.
	status, err := t.objects.RestoreStatus(ctx, key)
	if err != nil {
		return nil, err
	}
	switch {
	case status.Restored:
		now := time.Now().UTC()
		rec.State = store.StateCompleted
		rec.CompletedAt = &now
		rec.ExpiresAt = status.ExpiresAt
	case status.Ongoing:
		// Keep InProgress and let the poller pick it up.
	default:
		err := t.objects.Restore(ctx, key, tier, t.cfg.RestoreDays)
		if err != nil && !errors.Is(err, provider.ErrRestoreInProgress) {
			return nil, err
		}
	}

	if err := t.st.SaveRestore(rec); err != nil {
		return nil, err
	}

	t.log.Info("restore requested",
		slog.String("key", key),
		slog.String("tier", string(tier)),
		slog.String("state", string(rec.State)))

	if rec.State == store.StateCompleted {
		t.publishTerminal(rec, "object already restored")
	}
	return rec, nil
}

// Status returns the tracked record for a key. An unknown key is
// store.ErrJobNotFound, which is an answer rather than a fault.
func (t *Tracker) Status(key string) (*store.RestoreRecord, error) {
	return t.st.GetRestore(key)
}

// Jobs returns every restore record ordered by request time.
func (t *Tracker) Jobs() ([]*store.RestoreRecord, error) {
	return t.st.ListRestores()
}

// Cancel stops tracking an active restore and reports whether anything was
// cancelled. The store keeps retrieving the object server-side; cancelling
// only means this tool stops caring. Cancelling a terminal or unknown key
// returns false.
func (t *Tracker) Cancel(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.st.GetRestore(key)
	if err != nil || rec.State.Terminal() {
		return false
	}

	now := time.Now().UTC()
	rec.State = store.StateCancelled
	rec.CompletedAt = &now
	if err := t.st.SaveRestore(rec); err != nil {
		t.log.Error("failed to cancel restore",
			slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	t.publishTerminal(rec, "restore cancelled")
	return true
}

// ClearHistory removes finished restore records and returns how many were
// removed. Active ones stay.
func (t *Tracker) ClearHistory() (int, error) {
	recs, err := t.st.ListRestores()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, rec := range recs {
		if !rec.State.Terminal() {
			continue
		}
		if err := t.st.DeleteRestore(rec.Key); err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// pollOne re-checks a single in-progress restore against the store. State
// transitions happen at most once; polling errors are reported back so the
// caller can log and move on.
func (t *Tracker) pollOne(ctx context.Context, key string) error {
	status, err := t.objects.RestoreStatus(ctx, key)
	if err != nil {
		// A vanished object or a hard store error fails the job; anything
		// else is retried on the next tick.
		if errors.Is(err, provider.ErrObjectNotFound) || provider.Permanent(err) {
			t.failOne(key, err)
			return nil
		}
		return err
	}

	if status.Ongoing {
		return nil
	}
	if !status.Restored {
		// No restore marker yet. Either the request is still propagating
		// or the copy expired; keep polling rather than guessing.
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.st.GetRestore(key)
	if err != nil || rec.State != store.StateInProgress {
		// Cancelled or already completed by a concurrent path.
		return nil
	}

	now := time.Now().UTC()
	rec.State = store.StateCompleted
	rec.CompletedAt = &now
	rec.ExpiresAt = status.ExpiresAt
	if err := t.st.SaveRestore(rec); err != nil {
		return err
	}

	t.log.Info("restore completed", slog.String("key", key))
	t.publishTerminal(rec, "restore completed")
	return nil
}

// failOne transitions a still-active restore to Failed with the store's
// message kept verbatim.
func (t *Tracker) failOne(key string, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.st.GetRestore(key)
	if err != nil || rec.State != store.StateInProgress {
		return
	}

	now := time.Now().UTC()
	rec.State = store.StateFailed
	rec.CompletedAt = &now
	rec.Error = cause.Error()
	if err := t.st.SaveRestore(rec); err != nil {
		t.log.Error("failed to record restore failure",
			slog.String("key", key), slog.String("error", err.Error()))
		return
	}

	t.log.Warn("restore failed",
		slog.String("key", key), slog.String("error", cause.Error()))
	t.publishTerminal(rec, rec.Error)
}

func (t *Tracker) publishTerminal(rec *store.RestoreRecord, msg string) {
	if t.hub == nil {
		return
	}
	t.hub.Publish(notify.Event{
		Kind:    notify.KindStatus,
		Subject: rec.Key,
		Message: msg,
		State:   rec.State,
	})
}
