package studytimer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/p-n-ai/pai-portal/internal/platform/clock"
)

// ErrNoHistory is returned by Events when the event logger cannot be read.
var ErrNoHistory = errors.New("event history is not available")

// Manager keeps one Session per user.
type Manager struct {
	settings Settings
	clock    clock.Clock
	events   EventLogger
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager validates settings and creates an empty manager.
func NewManager(settings Settings, c clock.Clock, events EventLogger, logger *slog.Logger) (*Manager, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if events == nil {
		events = NopEventLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		settings: settings,
		clock:    c,
		events:   events,
		logger:   logger,
		sessions: make(map[string]*Session),
	}, nil
}

// Session returns the user's session, creating an idle one if needed.
func (m *Manager) Session(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		s = NewSession(userID, m.settings, m.clock, m.events, m.logger)
		m.sessions[userID] = s
	}
	return s
}

// Settings returns the phase durations used for new sessions.
func (m *Manager) Settings() Settings {
	return m.settings
}

// Events returns the user's most recent events when the logger can read
// them back.
func (m *Manager) Events(ctx context.Context, userID string, limit int) ([]Event, error) {
	lister, ok := m.events.(EventLister)
	if !ok {
		return nil, ErrNoHistory
	}
	return lister.ListEvents(ctx, userID, limit)
}

// Close stops every session timer.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.Close()
		delete(m.sessions, id)
	}
}
