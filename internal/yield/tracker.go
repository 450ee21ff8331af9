package yield

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/pai-portal/internal/curriculum"
	"github.com/p-n-ai/pai-portal/internal/debounce"
	"github.com/p-n-ai/pai-portal/internal/platform/clock"
)

const (
	// DefaultSaveDelay is the quiet period before a semester average is saved.
	DefaultSaveDelay   = 1500 * time.Millisecond
	defaultSaveTimeout = 10 * time.Second
)

var (
	ErrUnknownSubject = errors.New("unknown subject")
	ErrClosed         = errors.New("tracker closed")
)

// StructureSource resolves a semester to its structure.
type StructureSource interface {
	Get(key curriculum.SemesterKey) (curriculum.Structure, bool)
}

// TrackerConfig holds dependencies for a Tracker.
type TrackerConfig struct {
	UserID      string
	Curriculum  StructureSource
	Store       AverageSaver
	Semester    curriculum.SemesterKey // initial selection (default Y1S1)
	Clock       clock.Clock            // default real clock
	SaveDelay   time.Duration          // default 1.5s
	SaveTimeout time.Duration          // default 10s
	Logger      *slog.Logger
}

// State is a snapshot of a tracker.
type State struct {
	Semester curriculum.SemesterKey `json:"semester"`
	Result   Result                 `json:"result"`
	Scores   Scores                 `json:"scores"`
	Saving   bool                   `json:"saving"`
	SavedAt  *time.Time             `json:"saved_at,omitempty"`
}

// Tracker owns the yield state of one user: the selected semester, the
// entered scores and the latest result. Every edit recomputes the result
// synchronously and, when the average is persistable, restarts the save
// delay. Only the last average of a burst of edits is written.
type Tracker struct {
	userID      string
	source      StructureSource
	store       AverageSaver
	clock       clock.Clock
	debouncer   *debounce.Debouncer
	saveTimeout time.Duration
	logger      *slog.Logger

	mu        sync.Mutex
	key       curriculum.SemesterKey
	structure curriculum.Structure
	scores    Scores
	result    Result
	saveGen   uint64
	saving    int
	savedAt   *time.Time
	closed    bool
	subs      map[int]chan State
	nextSub   int
	lastUsed  time.Time
	written   map[curriculum.SemesterKey]uint64 // newest generation sent to the store

	// writeMu serializes store writes so an older average never lands
	// after a newer one.
	writeMu  sync.Mutex
	inflight sync.WaitGroup
}

// NewTracker creates a tracker with the initial semester selected.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if cfg.Curriculum == nil {
		return nil, fmt.Errorf("curriculum is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}
	delay := cfg.SaveDelay
	if delay <= 0 {
		delay = DefaultSaveDelay
	}
	timeout := cfg.SaveTimeout
	if timeout <= 0 {
		timeout = defaultSaveTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	key := cfg.Semester
	if key.IsZero() {
		key = curriculum.SemesterKey{Year: 1, Semester: 1}
	}

	t := &Tracker{
		userID:      cfg.UserID,
		source:      cfg.Curriculum,
		store:       cfg.Store,
		clock:       c,
		debouncer:   debounce.New(c, delay),
		saveTimeout: timeout,
		logger:      logger.With("user_id", cfg.UserID),
		scores:      make(Scores),
		subs:        make(map[int]chan State),
		lastUsed:    c.Now(),
		written:     make(map[curriculum.SemesterKey]uint64),
	}

	structure, ok := t.source.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", curriculum.ErrUnknownSemester, key)
	}
	t.key = key
	t.structure = structure
	t.result = Compute(structure, nil)
	return t, nil
}

// UserID returns the owner of the tracker.
func (t *Tracker) UserID() string {
	return t.userID
}

func (t *Tracker) touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastUsed = t.clock.Now()
}

// Snapshot returns the state together with the structure of the selected
// semester, taken atomically.
func (t *Tracker) Snapshot() (State, curriculum.Structure) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastUsed = t.clock.Now()
	return t.stateLocked(), t.structure
}

// Select switches to another semester. Any pending save for the previous
// semester is dropped and the scores are cleared. No save is scheduled until
// the next edit.
func (t *Tracker) Select(key curriculum.SemesterKey) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return State{}, ErrClosed
	}
	t.lastUsed = t.clock.Now()
	structure, ok := t.source.Get(key)
	if !ok {
		return State{}, fmt.Errorf("%w: %s", curriculum.ErrUnknownSemester, key)
	}

	t.saveGen++
	if t.debouncer.Cancel() {
		t.logger.Debug("pending save dropped on semester change",
			"from", t.key.String(),
			"to", key.String(),
		)
	}

	t.key = key
	t.structure = structure
	t.scores = make(Scores)
	t.result = Compute(structure, nil)
	return t.publishLocked(), nil
}

// SetScore parses one form field and applies it. Empty or unparseable input
// clears the component.
func (t *Tracker) SetScore(subjectID string, c Component, raw string) (State, error) {
	v, _ := ParseScore(raw)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return State{}, ErrClosed
	}
	t.lastUsed = t.clock.Now()
	if _, ok := t.structure.Subject(subjectID); !ok {
		return State{}, fmt.Errorf("%w: %s in %s", ErrUnknownSubject, subjectID, t.key)
	}

	in := t.scores[subjectID]
	in.Set(c, v)
	if in.IsEmpty() {
		delete(t.scores, subjectID)
	} else {
		t.scores[subjectID] = in
	}

	t.recomputeLocked()
	return t.publishLocked(), nil
}

// SetScores replaces the inputs of several subjects at once. Values are
// clamped; nothing is applied if any subject is unknown.
func (t *Tracker) SetScores(edits Scores) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return State{}, ErrClosed
	}
	t.lastUsed = t.clock.Now()
	for id := range edits {
		if _, ok := t.structure.Subject(id); !ok {
			return State{}, fmt.Errorf("%w: %s in %s", ErrUnknownSubject, id, t.key)
		}
	}

	for id, in := range edits {
		in = in.Clamped()
		if in.IsEmpty() {
			delete(t.scores, id)
			continue
		}
		t.scores[id] = in
	}

	t.recomputeLocked()
	return t.publishLocked(), nil
}

// State returns a snapshot of the tracker.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastUsed = t.clock.Now()
	return t.stateLocked()
}

// Subscribe returns a channel receiving a snapshot after every change and
// a function to stop the subscription. Slow receivers only see the latest
// snapshot. The channel is closed when the tracker closes.
func (t *Tracker) Subscribe() (<-chan State, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan State, 1)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	}
}

// Close drops any pending save and ends all subscriptions. Writes already
// in flight are allowed to finish.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}

// closeIfIdle closes the tracker if nothing used it for at least idle and
// it has no subscriber, no pending save and no write in flight.
func (t *Tracker) closeIfIdle(idle time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return true
	}
	if len(t.subs) > 0 || t.saving > 0 || t.debouncer.Pending() {
		return false
	}
	if t.clock.Now().Sub(t.lastUsed) < idle {
		return false
	}
	t.closeLocked()
	return true
}

func (t *Tracker) closeLocked() {
	if t.closed {
		return
	}
	t.closed = true
	t.saveGen++
	t.debouncer.Cancel()
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}

// Wait blocks until every in-flight save has finished.
func (t *Tracker) Wait() {
	t.inflight.Wait()
}

// recomputeLocked refreshes the result and, if it is persistable, restarts
// the save delay with the user, semester and average captured now. A result
// that is not persistable drops any pending save.
func (t *Tracker) recomputeLocked() {
	t.result = Compute(t.structure, t.scores)
	t.saveGen++
	if !t.result.Persistable() {
		t.debouncer.Cancel()
		return
	}

	gen, userID, key, avg := t.saveGen, t.userID, t.key, t.result.SemesterAverage
	t.debouncer.Schedule(func() {
		t.save(gen, userID, key, avg)
	})
}

// save starts the write unless the selection changed or another edit came
// in after the timer fired but before the lock was taken.
func (t *Tracker) save(gen uint64, userID string, key curriculum.SemesterKey, avg float64) {
	t.mu.Lock()
	if t.closed || gen != t.saveGen {
		t.mu.Unlock()
		return
	}
	t.saving++
	t.inflight.Add(1)
	t.publishLocked()
	t.mu.Unlock()

	go func() {
		defer t.inflight.Done()

		t.writeMu.Lock()
		defer t.writeMu.Unlock()

		t.mu.Lock()
		stale := gen <= t.written[key]
		if !stale {
			t.written[key] = gen
		}
		t.mu.Unlock()

		var err error
		if !stale {
			// Detached from any request: the save outlives the edit that caused it.
			ctx, cancel := context.WithTimeout(context.Background(), t.saveTimeout)
			err = t.store.SaveSemesterAverage(ctx, userID, key, avg)
			cancel()
		}

		t.mu.Lock()
		defer t.mu.Unlock()
		t.saving--
		switch {
		case stale:
			t.logger.Debug("newer semester average already written, skipping",
				"semester", key.String(),
				"average", avg,
			)
		case err != nil:
			t.logger.Error("failed to save semester average",
				"semester", key.String(),
				"error", err,
			)
		default:
			now := t.clock.Now()
			t.savedAt = &now
			t.logger.Debug("semester average saved",
				"semester", key.String(),
				"average", avg,
			)
		}
		t.publishLocked()
	}()
}

func (t *Tracker) stateLocked() State {
	return State{
		Semester: t.key,
		Result:   t.result,
		Scores:   t.scores.Clone(),
		Saving:   t.saving > 0,
		SavedAt:  t.savedAt,
	}
}

// publishLocked sends the current snapshot to subscribers, replacing any
// snapshot they have not read yet, and returns it.
func (t *Tracker) publishLocked() State {
	st := t.stateLocked()
	for _, ch := range t.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
	return st
}
