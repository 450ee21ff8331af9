package progress

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists progress records.
type Store interface {
	// Upsert replaces the record for (UserID, SubjectID).
	Upsert(ctx context.Context, p Progress) error
	Get(ctx context.Context, userID, subjectID string) (Progress, error)
	// List returns a user's records ordered by subject ID.
	List(ctx context.Context, userID string) ([]Progress, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]Progress // user -> subject -> progress
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]Progress)}
}

func (s *MemoryStore) Upsert(_ context.Context, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.records[p.UserID]
	if !ok {
		user = make(map[string]Progress)
		s.records[p.UserID] = user
	}
	user[p.SubjectID] = p
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID, subjectID string) (Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.records[userID][subjectID]
	if !ok {
		return Progress{}, fmt.Errorf("%w: %s", ErrNotFound, subjectID)
	}
	return p, nil
}

func (s *MemoryStore) List(_ context.Context, userID string) ([]Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Progress, 0, len(s.records[userID]))
	for _, p := range s.records[userID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out, nil
}
