// Package studytimer runs focus/break study sessions.
//
// A session alternates Focus and ShortBreak phases and takes a LongBreak
// after every LongBreakInterval completed focus phases. Phases advance on
// their own when the phase duration elapses; transitions are reported to
// an EventLogger.
package studytimer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/pai-portal/internal/platform/clock"
)

var (
	ErrNotRunning     = errors.New("timer not running")
	ErrAlreadyRunning = errors.New("timer already running")
	ErrPaused         = errors.New("timer paused")
	ErrNotPaused      = errors.New("timer not paused")
)

// Phase is the current part of a study session.
type Phase int

const (
	Idle Phase = iota
	Focus
	ShortBreak
	LongBreak
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Focus:
		return "focus"
	case ShortBreak:
		return "short_break"
	case LongBreak:
		return "long_break"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Settings are the phase durations of a session.
type Settings struct {
	Focus             time.Duration
	ShortBreak        time.Duration
	LongBreak         time.Duration
	LongBreakInterval int
}

// DefaultSettings is the classic 25/5/15 cycle with a long break every
// fourth focus phase.
func DefaultSettings() Settings {
	return Settings{
		Focus:             25 * time.Minute,
		ShortBreak:        5 * time.Minute,
		LongBreak:         15 * time.Minute,
		LongBreakInterval: 4,
	}
}

// Validate checks that every duration is positive.
func (s Settings) Validate() error {
	if s.Focus <= 0 || s.ShortBreak <= 0 || s.LongBreak <= 0 {
		return fmt.Errorf("phase durations must be positive")
	}
	if s.LongBreakInterval < 1 {
		return fmt.Errorf("long break interval must be at least 1, got %d", s.LongBreakInterval)
	}
	return nil
}

func (s Settings) duration(p Phase) time.Duration {
	switch p {
	case Focus:
		return s.Focus
	case ShortBreak:
		return s.ShortBreak
	case LongBreak:
		return s.LongBreak
	}
	return 0
}

// Snapshot is the observable state of a session.
type Snapshot struct {
	Phase            Phase         `json:"phase"`
	Paused           bool          `json:"paused"`
	SubjectID        string        `json:"subject_id,omitempty"`
	Remaining        time.Duration `json:"-"`
	RemainingSeconds int64         `json:"remaining_seconds"`
	EndsAt           *time.Time    `json:"ends_at,omitempty"`
	CompletedFocus   int           `json:"completed_focus"`
}

// Session is the study timer of one user.
type Session struct {
	userID   string
	settings Settings
	clock    clock.Clock
	events   EventLogger
	logger   *slog.Logger

	mu             sync.Mutex
	phase          Phase
	subjectID      string
	paused         bool
	endsAt         time.Time
	remaining      time.Duration // valid while paused
	completedFocus int
	timer          clock.Timer
	gen            uint64
}

// NewSession creates an idle session.
func NewSession(userID string, settings Settings, c clock.Clock, events EventLogger, logger *slog.Logger) *Session {
	if c == nil {
		c = clock.Real{}
	}
	if events == nil {
		events = NopEventLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		userID:   userID,
		settings: settings,
		clock:    c,
		events:   events,
		logger:   logger.With("user_id", userID),
	}
}

// Start begins a focus phase. subjectID is optional.
func (s *Session) Start(subjectID string) (Snapshot, error) {
	s.mu.Lock()
	if s.phase != Idle {
		s.mu.Unlock()
		return Snapshot{}, ErrAlreadyRunning
	}
	s.subjectID = subjectID
	s.completedFocus = 0
	s.enterLocked(Focus)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(EventStarted, map[string]any{"phase": Focus.String(), "subject_id": subjectID})
	return snap, nil
}

// Pause freezes the remaining time of the current phase.
func (s *Session) Pause() (Snapshot, error) {
	s.mu.Lock()
	if s.phase == Idle {
		s.mu.Unlock()
		return Snapshot{}, ErrNotRunning
	}
	if s.paused {
		s.mu.Unlock()
		return Snapshot{}, ErrPaused
	}
	s.stopTimerLocked()
	s.remaining = s.endsAt.Sub(s.clock.Now())
	if s.remaining < 0 {
		s.remaining = 0
	}
	s.paused = true
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(EventPaused, map[string]any{"phase": snap.Phase.String(), "remaining_seconds": snap.RemainingSeconds})
	return snap, nil
}

// Resume continues a paused phase with the time that was left.
func (s *Session) Resume() (Snapshot, error) {
	s.mu.Lock()
	if s.phase == Idle {
		s.mu.Unlock()
		return Snapshot{}, ErrNotRunning
	}
	if !s.paused {
		s.mu.Unlock()
		return Snapshot{}, ErrNotPaused
	}
	s.paused = false
	s.scheduleLocked(s.remaining)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(EventResumed, map[string]any{"phase": snap.Phase.String()})
	return snap, nil
}

// Skip ends the current phase early. A skipped focus phase does not count
// towards the long break.
func (s *Session) Skip() (Snapshot, error) {
	s.mu.Lock()
	if s.phase == Idle {
		s.mu.Unlock()
		return Snapshot{}, ErrNotRunning
	}
	from := s.phase
	s.paused = false
	s.enterLocked(s.nextLocked(false))
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(EventSkipped, map[string]any{"from": from.String(), "to": snap.Phase.String()})
	return snap, nil
}

// Stop ends the session.
func (s *Session) Stop() (Snapshot, error) {
	s.mu.Lock()
	if s.phase == Idle {
		s.mu.Unlock()
		return Snapshot{}, ErrNotRunning
	}
	completed := s.completedFocus
	s.stopTimerLocked()
	s.phase = Idle
	s.paused = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(EventStopped, map[string]any{"completed_focus": completed})
	return snap, nil
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Close stops the phase timer without logging an event.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
}

// complete runs when a phase timer fires.
func (s *Session) complete(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.phase == Idle || s.paused {
		s.mu.Unlock()
		return
	}
	from := s.phase
	s.enterLocked(s.nextLocked(true))
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(EventPhaseCompleted, map[string]any{
		"phase":           from.String(),
		"next":            snap.Phase.String(),
		"completed_focus": snap.CompletedFocus,
	})
}

// nextLocked picks the phase after the current one. countFocus records a
// finished focus phase.
func (s *Session) nextLocked(countFocus bool) Phase {
	if s.phase != Focus {
		return Focus
	}
	if !countFocus {
		return ShortBreak
	}
	s.completedFocus++
	if s.completedFocus%s.settings.LongBreakInterval == 0 {
		return LongBreak
	}
	return ShortBreak
}

func (s *Session) enterLocked(p Phase) {
	s.phase = p
	s.scheduleLocked(s.settings.duration(p))
}

func (s *Session) scheduleLocked(d time.Duration) {
	s.stopTimerLocked()
	s.gen++
	gen := s.gen
	s.endsAt = s.clock.Now().Add(d)
	s.timer = s.clock.AfterFunc(d, func() { s.complete(gen) })
}

func (s *Session) stopTimerLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:          s.phase,
		Paused:         s.paused,
		SubjectID:      s.subjectID,
		CompletedFocus: s.completedFocus,
	}
	switch {
	case s.phase == Idle:
	case s.paused:
		snap.Remaining = s.remaining
	default:
		snap.Remaining = s.endsAt.Sub(s.clock.Now())
		if snap.Remaining < 0 {
			snap.Remaining = 0
		}
		endsAt := s.endsAt
		snap.EndsAt = &endsAt
	}
	snap.RemainingSeconds = int64(snap.Remaining.Round(time.Second) / time.Second)
	return snap
}

func (s *Session) emit(eventType string, data map[string]any) {
	err := s.events.LogEvent(context.Background(), Event{
		UserID:    s.userID,
		Type:      eventType,
		Data:      data,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		s.logger.Warn("failed to log study event", "type", eventType, "error", err)
	}
}
