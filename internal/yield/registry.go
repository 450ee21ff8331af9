package yield

import (
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/pai-portal/internal/platform/clock"
)

// Registry keeps one Tracker per user, created on first use from a
// template config whose UserID is ignored.
//
// With a positive idle timeout, trackers nobody used for that long are
// closed and forgotten once they have no subscriber and no save pending
// or in flight. The user's next request starts a fresh tracker.
type Registry struct {
	template TrackerConfig
	idle     time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	trackers map[string]*Tracker
	sweep    clock.Timer
	closed   bool
}

// NewRegistry creates an empty registry. An idle timeout of zero keeps
// trackers until Close.
func NewRegistry(template TrackerConfig, idle time.Duration) *Registry {
	c := template.Clock
	if c == nil {
		c = clock.Real{}
	}
	logger := template.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		template: template,
		idle:     idle,
		clock:    c,
		logger:   logger,
		trackers: make(map[string]*Tracker),
	}
}

// Tracker returns the user's tracker, creating it if needed.
func (r *Registry) Tracker(userID string) (*Tracker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if t, ok := r.trackers[userID]; ok {
		t.touch()
		return t, nil
	}

	cfg := r.template
	cfg.UserID = userID
	t, err := NewTracker(cfg)
	if err != nil {
		return nil, err
	}
	r.trackers[userID] = t
	r.armLocked()
	return t, nil
}

// Len returns the number of live trackers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}

// Close closes every tracker and waits for in-flight saves.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	if r.sweep != nil {
		r.sweep.Stop()
		r.sweep = nil
	}
	trackers := make([]*Tracker, 0, len(r.trackers))
	for id, t := range r.trackers {
		trackers = append(trackers, t)
		delete(r.trackers, id)
	}
	r.mu.Unlock()

	for _, t := range trackers {
		t.Close()
	}
	for _, t := range trackers {
		t.Wait()
	}
}

// armLocked schedules the next sweep while trackers remain.
func (r *Registry) armLocked() {
	if r.idle <= 0 || r.closed || r.sweep != nil || len(r.trackers) == 0 {
		return
	}
	r.sweep = r.clock.AfterFunc(r.idle, r.evictIdle)
}

func (r *Registry) evictIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweep = nil
	if r.closed {
		return
	}

	evicted := 0
	for id, t := range r.trackers {
		if t.closeIfIdle(r.idle) {
			delete(r.trackers, id)
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Debug("idle trackers evicted", "evicted", evicted, "live", len(r.trackers))
	}
	r.armLocked()
}
