package restore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reelops/vaultfast/store"
)

// Poller periodically re-checks every in-progress restore. One poller per
// tracker; jobs in other states are never polled.
type Poller struct {
	tracker  *Tracker
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewPoller creates a poller ticking at the tracker's configured interval.
func NewPoller(tracker *Tracker) *Poller {
	return &Poller{
		tracker:  tracker,
		interval: tracker.cfg.PollInterval,
		log:      tracker.log,
	}
}

// Start launches the polling loop. An immediate first poll catches restores
// that finished while the process was down. Starting a running poller is a
// no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(ctx)
	p.log.Info("restore poller started", slog.Duration("interval", p.interval))
}

// Stop halts the polling loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce checks every in-progress restore exactly once. A failing key is
// logged and skipped; one bad object must not stall the rest.
func (p *Poller) PollOnce(ctx context.Context) {
	recs, err := p.tracker.Jobs()
	if err != nil {
		p.log.Error("failed to list restore jobs", slog.String("error", err.Error()))
		return
	}

	for _, rec := range recs {
		if rec.State != store.StateInProgress {
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := p.tracker.pollOne(ctx, rec.Key); err != nil {
			p.log.Warn("restore poll failed",
				slog.String("key", rec.Key),
				slog.String("error", err.Error()))
		}
	}
}
