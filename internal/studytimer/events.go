package studytimer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// Event types written to the study_events table.
const (
	EventStarted        = "timer_started"
	EventPaused         = "timer_paused"
	EventResumed        = "timer_resumed"
	EventSkipped        = "phase_skipped"
	EventPhaseCompleted = "phase_completed"
	EventStopped        = "timer_stopped"
)

// Event is one study session transition.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventLogger records session events.
type EventLogger interface {
	LogEvent(ctx context.Context, event Event) error
}

// EventLister reads back a user's recent events.
type EventLister interface {
	ListEvents(ctx context.Context, userID string, limit int) ([]Event, error)
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(context.Context, Event) error {
	return nil
}

// MemoryEventLogger keeps events in memory.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []Event{},
	}
}

func (l *MemoryEventLogger) LogEvent(_ context.Context, event Event) error {
	event, err := normalize(event)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

// Events returns a copy of every event logged so far.
func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// Types returns the type of every event in order.
func (l *MemoryEventLogger) Types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

// ListEvents returns a user's most recent events, newest first.
func (l *MemoryEventLogger) ListEvents(_ context.Context, userID string, limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		if l.events[i].UserID == userID {
			out = append(out, l.events[i])
		}
	}
	return out, nil
}

// PostgresEventLogger inserts events into the study_events table.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	event, err := normalize(event)
	if err != nil {
		return err
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err = l.pool.Exec(ctx,
		`INSERT INTO study_events (id, user_id, event_type, data, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)`,
		event.ID,
		event.UserID,
		event.Type,
		string(data),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert study event: %w", err)
	}

	slog.Debug("study event logged",
		"type", event.Type,
		"user_id", event.UserID,
	)
	return nil
}

// ListEvents returns a user's most recent events, newest first.
func (l *PostgresEventLogger) ListEvents(ctx context.Context, userID string, limit int) ([]Event, error) {
	if l == nil || l.pool == nil {
		return nil, fmt.Errorf("event logger pool is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := l.pool.Query(ctx,
		`SELECT id, event_type, data, created_at
		 FROM study_events
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query study events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e := Event{UserID: userID}
		var raw []byte
		if err := rows.Scan(&e.ID, &e.Type, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan study event: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Data); err != nil {
				return nil, fmt.Errorf("decode study event data: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate study events: %w", err)
	}
	return out, nil
}

func normalize(event Event) (Event, error) {
	if event.Type == "" {
		return Event{}, fmt.Errorf("event type is required")
	}
	if event.UserID == "" {
		return Event{}, fmt.Errorf("user_id is required")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	return event, nil
}
