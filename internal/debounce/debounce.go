// Package debounce coalesces bursts of calls into a single deferred call.
package debounce

import (
	"sync"
	"time"

	"github.com/p-n-ai/pai-portal/internal/platform/clock"
)

// Debouncer runs at most one scheduled function per quiet period.
// Scheduling again before the delay elapses replaces the pending function
// and restarts the delay.
type Debouncer struct {
	clock clock.Clock
	delay time.Duration

	mu    sync.Mutex
	timer clock.Timer
	gen   uint64
}

// New creates a Debouncer with the given delay.
func New(c clock.Clock, delay time.Duration) *Debouncer {
	if c == nil {
		c = clock.Real{}
	}
	return &Debouncer{clock: c, delay: delay}
}

// Schedule cancels any pending function and arranges for fn to run once
// after the delay. Values fn needs must be captured by the caller at
// schedule time.
func (d *Debouncer) Schedule(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A timer that was already firing when it got cancelled or replaced
		// must not run.
		if gen != d.gen || d.timer == nil {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()

		fn()
	})
}

// Cancel drops the pending function, if any. It reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending := d.timer != nil
	d.stopLocked()
	d.gen++
	return pending
}

// Pending reports whether a function is waiting to run.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
