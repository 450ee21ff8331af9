package yield

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/p-n-ai/pai-portal/internal/curriculum"
)

// ErrNotFound is returned when no average has been saved for a semester.
var ErrNotFound = errors.New("semester average not found")

// Average is a persisted semester average.
type Average struct {
	UserID    string                 `json:"user_id"`
	Semester  curriculum.SemesterKey `json:"semester"`
	Average   float64                `json:"average"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// AverageSaver is the write side used by the debounced save.
type AverageSaver interface {
	// SaveSemesterAverage overwrites any previous value for the same key.
	SaveSemesterAverage(ctx context.Context, userID string, key curriculum.SemesterKey, avg float64) error
}

// AverageStore persists semester averages.
type AverageStore interface {
	AverageSaver
	GetSemesterAverage(ctx context.Context, userID string, key curriculum.SemesterKey) (Average, error)
	ListSemesterAverages(ctx context.Context, userID string) ([]Average, error)
}

// MemoryStore is an in-memory AverageStore. Setting Err makes every save
// fail, which tests use to exercise failure handling.
type MemoryStore struct {
	Err error

	mu       sync.RWMutex
	averages map[string]Average
	saves    []Average
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		averages: make(map[string]Average),
	}
}

func (s *MemoryStore) SaveSemesterAverage(_ context.Context, userID string, key curriculum.SemesterKey, avg float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := Average{UserID: userID, Semester: key, Average: avg, UpdatedAt: time.Now()}
	s.saves = append(s.saves, a)
	if s.Err != nil {
		return s.Err
	}
	s.averages[storeKey(userID, key)] = a
	return nil
}

func (s *MemoryStore) GetSemesterAverage(_ context.Context, userID string, key curriculum.SemesterKey) (Average, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.averages[storeKey(userID, key)]
	if !ok {
		return Average{}, fmt.Errorf("%w: %s %s", ErrNotFound, userID, key)
	}
	return a, nil
}

func (s *MemoryStore) ListSemesterAverages(_ context.Context, userID string) ([]Average, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Average
	for _, a := range s.averages {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Semester.String() < out[j].Semester.String()
	})
	return out, nil
}

// Saves returns every save attempt in call order, including failed ones.
func (s *MemoryStore) Saves() []Average {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Average{}, s.saves...)
}

func storeKey(userID string, key curriculum.SemesterKey) string {
	return userID + ":" + key.String()
}
