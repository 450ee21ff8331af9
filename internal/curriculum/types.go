package curriculum

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownSemester is returned for a year/semester outside the curriculum.
var ErrUnknownSemester = errors.New("unknown semester")

// Weights splits a subject average across its three score components.
// The triple is expected to sum to 1 but is applied as given.
type Weights struct {
	ContinuousAssessment float64 `yaml:"ca" json:"ca"`
	Practical            float64 `yaml:"practical" json:"practical"`
	Exam                 float64 `yaml:"exam" json:"exam"`
}

// Sum returns the total of the three weights.
func (w Weights) Sum() float64 {
	return w.ContinuousAssessment + w.Practical + w.Exam
}

// Subject is a graded module inside a unit.
type Subject struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Coefficient float64 `yaml:"coefficient" json:"coefficient"`
	Weights     Weights `yaml:"weights" json:"weights"`
}

// Unit groups subjects that share a coefficient-weighted average.
type Unit struct {
	ID       string    `yaml:"id" json:"id"`
	Name     string    `yaml:"name" json:"name"`
	Subjects []Subject `yaml:"subjects" json:"subjects"`
}

// Structure is the fixed unit/subject layout of one semester.
// Structures are shared between callers and must not be mutated.
type Structure struct {
	Year     int    `yaml:"year" json:"year"`
	Semester int    `yaml:"semester" json:"semester"`
	Name     string `yaml:"name" json:"name"`
	Units    []Unit `yaml:"units" json:"units"`
}

// Key returns the semester key of the structure.
func (s Structure) Key() SemesterKey {
	return SemesterKey{Year: s.Year, Semester: s.Semester}
}

// Subject looks up a subject by ID.
func (s Structure) Subject(id string) (Subject, bool) {
	for _, u := range s.Units {
		for _, sub := range u.Subjects {
			if sub.ID == id {
				return sub, true
			}
		}
	}
	return Subject{}, false
}

// Subjects returns every subject in unit order.
func (s Structure) Subjects() []Subject {
	var out []Subject
	for _, u := range s.Units {
		out = append(out, u.Subjects...)
	}
	return out
}

// TotalCoefficient returns the sum of all subject coefficients.
func (s Structure) TotalCoefficient() float64 {
	total := 0.0
	for _, u := range s.Units {
		for _, sub := range u.Subjects {
			total += sub.Coefficient
		}
	}
	return total
}

// Validate checks the invariants the YAML schema cannot express.
func (s Structure) Validate() error {
	if _, err := NewSemesterKey(s.Year, s.Semester); err != nil {
		return err
	}

	unitIDs := make(map[string]bool)
	subjectIDs := make(map[string]bool)
	for _, u := range s.Units {
		if u.ID == "" {
			return fmt.Errorf("unit %q: id is required", u.Name)
		}
		if unitIDs[u.ID] {
			return fmt.Errorf("duplicate unit id %q", u.ID)
		}
		unitIDs[u.ID] = true

		for _, sub := range u.Subjects {
			if sub.ID == "" {
				return fmt.Errorf("unit %s: subject %q: id is required", u.ID, sub.Name)
			}
			if subjectIDs[sub.ID] {
				return fmt.Errorf("duplicate subject id %q", sub.ID)
			}
			subjectIDs[sub.ID] = true

			if sub.Coefficient <= 0 {
				return fmt.Errorf("subject %s: coefficient must be positive, got %v", sub.ID, sub.Coefficient)
			}
			w := sub.Weights
			if w.ContinuousAssessment < 0 || w.Practical < 0 || w.Exam < 0 {
				return fmt.Errorf("subject %s: weights must be non-negative", sub.ID)
			}
		}
	}
	return nil
}

// SemesterKey identifies a (year, semester) pair.
type SemesterKey struct {
	Year     int `json:"year"`
	Semester int `json:"semester"`
}

// NewSemesterKey validates year and semester, both of which must be 1 or 2.
func NewSemesterKey(year, semester int) (SemesterKey, error) {
	if year < 1 || year > 2 || semester < 1 || semester > 2 {
		return SemesterKey{}, fmt.Errorf("%w: year %d semester %d", ErrUnknownSemester, year, semester)
	}
	return SemesterKey{Year: year, Semester: semester}, nil
}

// ParseSemesterKey parses the "Y<year>S<semester>" form, case-insensitively.
func ParseSemesterKey(s string) (SemesterKey, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(upper, "Y") {
		return SemesterKey{}, fmt.Errorf("%w: %q", ErrUnknownSemester, s)
	}
	yearStr, semStr, ok := strings.Cut(upper[1:], "S")
	if !ok {
		return SemesterKey{}, fmt.Errorf("%w: %q", ErrUnknownSemester, s)
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return SemesterKey{}, fmt.Errorf("%w: %q", ErrUnknownSemester, s)
	}
	sem, err := strconv.Atoi(semStr)
	if err != nil {
		return SemesterKey{}, fmt.Errorf("%w: %q", ErrUnknownSemester, s)
	}
	return NewSemesterKey(year, sem)
}

// String returns the persisted form, e.g. "Y1S2".
func (k SemesterKey) String() string {
	return fmt.Sprintf("Y%dS%d", k.Year, k.Semester)
}

// IsZero reports whether no semester is selected.
func (k SemesterKey) IsZero() bool {
	return k.Year == 0 && k.Semester == 0
}
