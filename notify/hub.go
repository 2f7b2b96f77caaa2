// Package notify fans state-transition events out from the workers and the
// restore poller to any number of observers, so transfer logic never calls
// into a UI directly.
package notify

import (
	"sync"
	"time"

	"github.com/reelops/vaultfast/store"
)

// Kind distinguishes progress ticks from terminal/noteworthy transitions.
type Kind string

const (
	KindProgress Kind = "progress"
	KindStatus   Kind = "status"
)

// Event is an immutable notification. Subject is the upload job id or the
// restore object key.
type Event struct {
	Kind    Kind
	Subject string
	Message string
	State   store.JobState

	// Progress payload, meaningful when Kind == KindProgress.
	Bytes int64
	Total int64

	Time time.Time
}

// Percentage returns the progress as 0-100. A zero Total counts as complete,
// matching the zero-byte upload case.
func (e Event) Percentage() float64 {
	if e.Total <= 0 {
		return 100
	}
	return float64(e.Bytes) / float64(e.Total) * 100
}

const defaultBuffer = 64

// Hub is a publish/subscribe fan-out. Publishing never blocks: a subscriber
// whose buffer is full has its oldest event dropped, so a stalled observer
// cannot slow a worker down.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers an observer and returns its token and event channel.
// The channel is closed by Unsubscribe.
func (h *Hub) Subscribe() (int, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan Event, defaultBuffer)
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes an observer and closes its channel. Unknown tokens are
// ignored.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish delivers an event to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		for {
			select {
			case ch <- ev:
			default:
				// Drop the oldest event to make room, then retry once.
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- ev:
				default:
				}
			}
			break
		}
	}
}

// SubscriberCount returns the number of registered observers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
