// Package progress tracks how far each student is through the chapters of
// each subject.
package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/p-n-ai/pai-portal/internal/curriculum"
	"github.com/p-n-ai/pai-portal/internal/platform/clock"
)

var (
	ErrNotFound = errors.New("progress not found")
	ErrInvalid  = errors.New("invalid progress")
)

// Progress is the chapter count of one subject for one user.
type Progress struct {
	UserID    string    `json:"user_id"`
	SubjectID string    `json:"subject_id"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Percent returns completion in [0, 100].
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return math.Min(100, float64(p.Completed)*100/float64(p.Total))
}

// SubjectLookup resolves subject IDs across all semesters.
type SubjectLookup interface {
	FindSubject(id string) (curriculum.Subject, curriculum.SemesterKey, bool)
}

// Service records and summarizes study progress.
type Service struct {
	store    Store
	subjects SubjectLookup
	clock    clock.Clock
}

// NewService creates a progress service. A nil clock uses the real clock.
func NewService(store Store, subjects SubjectLookup, c clock.Clock) *Service {
	if c == nil {
		c = clock.Real{}
	}
	return &Service{store: store, subjects: subjects, clock: c}
}

// Record sets the chapter count of a subject.
func (s *Service) Record(ctx context.Context, userID, subjectID string, completed, total int) (Progress, error) {
	if userID == "" {
		return Progress{}, fmt.Errorf("%w: user_id is required", ErrInvalid)
	}
	if _, _, ok := s.subjects.FindSubject(subjectID); !ok {
		return Progress{}, fmt.Errorf("%w: unknown subject %q", ErrInvalid, subjectID)
	}
	if total <= 0 {
		return Progress{}, fmt.Errorf("%w: total must be positive, got %d", ErrInvalid, total)
	}
	if completed < 0 || completed > total {
		return Progress{}, fmt.Errorf("%w: completed must be between 0 and %d, got %d", ErrInvalid, total, completed)
	}

	p := Progress{
		UserID:    userID,
		SubjectID: subjectID,
		Completed: completed,
		Total:     total,
		UpdatedAt: s.clock.Now().UTC(),
	}
	if err := s.store.Upsert(ctx, p); err != nil {
		return Progress{}, fmt.Errorf("recording progress: %w", err)
	}
	return p, nil
}

// Get returns the progress of one subject.
func (s *Service) Get(ctx context.Context, userID, subjectID string) (Progress, error) {
	return s.store.Get(ctx, userID, subjectID)
}

// List returns every subject the user has progress for.
func (s *Service) List(ctx context.Context, userID string) ([]Progress, error) {
	return s.store.List(ctx, userID)
}

// SubjectSummary is the completion of one subject in a semester.
type SubjectSummary struct {
	SubjectID   string  `json:"subject_id"`
	Name        string  `json:"name"`
	Coefficient float64 `json:"coefficient"`
	Percent     float64 `json:"percent"`
}

// Summary is the completion of a semester, weighted by coefficient.
type Summary struct {
	Semester curriculum.SemesterKey `json:"semester"`
	Percent  float64                `json:"percent"`
	Subjects []SubjectSummary       `json:"subjects"`
}

// Summary weighs each subject's completion by its coefficient. Subjects
// without progress count as 0%.
func (s *Service) Summary(ctx context.Context, userID string, structure curriculum.Structure) (Summary, error) {
	list, err := s.store.List(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	byID := make(map[string]Progress, len(list))
	for _, p := range list {
		byID[p.SubjectID] = p
	}

	out := Summary{Semester: structure.Key()}
	var weighted, coefSum float64
	for _, sub := range structure.Subjects() {
		pct := byID[sub.ID].Percent()
		out.Subjects = append(out.Subjects, SubjectSummary{
			SubjectID:   sub.ID,
			Name:        sub.Name,
			Coefficient: sub.Coefficient,
			Percent:     pct,
		})
		weighted += pct * sub.Coefficient
		coefSum += sub.Coefficient
	}
	if coefSum > 0 {
		out.Percent = weighted / coefSum
	}
	return out, nil
}
