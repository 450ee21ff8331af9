package yield

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Scores are on a 20-point scale.
const (
	MinScore = 0.0
	MaxScore = 20.0
)

// Component names one of the three weighted parts of a subject score.
type Component int

const (
	ContinuousAssessment Component = iota
	Practical
	Exam
)

func (c Component) String() string {
	switch c {
	case ContinuousAssessment:
		return "ca"
	case Practical:
		return "practical"
	case Exam:
		return "exam"
	default:
		return "unknown"
	}
}

// ParseComponent accepts the names returned by Component.String.
func ParseComponent(s string) (Component, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ca":
		return ContinuousAssessment, nil
	case "practical":
		return Practical, nil
	case "exam":
		return Exam, nil
	default:
		return 0, fmt.Errorf("unknown score component %q", s)
	}
}

// ScoreInput holds the user-entered components of one subject. A nil field
// has not been entered and counts as 0.
type ScoreInput struct {
	ContinuousAssessment *float64 `json:"ca,omitempty"`
	Practical            *float64 `json:"practical,omitempty"`
	Exam                 *float64 `json:"exam,omitempty"`
}

// Get returns the value of a component, or nil when absent.
func (in ScoreInput) Get(c Component) *float64 {
	switch c {
	case ContinuousAssessment:
		return in.ContinuousAssessment
	case Practical:
		return in.Practical
	case Exam:
		return in.Exam
	}
	return nil
}

// Set replaces one component. A nil value clears it.
func (in *ScoreInput) Set(c Component, v *float64) {
	switch c {
	case ContinuousAssessment:
		in.ContinuousAssessment = v
	case Practical:
		in.Practical = v
	case Exam:
		in.Exam = v
	}
}

// IsEmpty reports whether no component has been entered.
func (in ScoreInput) IsEmpty() bool {
	return in.ContinuousAssessment == nil && in.Practical == nil && in.Exam == nil
}

// Clamped returns a copy with every present component clamped to the score
// range. Non-finite values are dropped.
func (in ScoreInput) Clamped() ScoreInput {
	return ScoreInput{
		ContinuousAssessment: clampPtr(in.ContinuousAssessment),
		Practical:            clampPtr(in.Practical),
		Exam:                 clampPtr(in.Exam),
	}
}

// Scores maps subject IDs to their inputs. Missing subjects count as empty.
type Scores map[string]ScoreInput

// Clone returns a deep copy.
func (s Scores) Clone() Scores {
	out := make(Scores, len(s))
	for id, in := range s {
		out[id] = ScoreInput{
			ContinuousAssessment: copyPtr(in.ContinuousAssessment),
			Practical:            copyPtr(in.Practical),
			Exam:                 copyPtr(in.Exam),
		}
	}
	return out
}

// Clamp limits v to [MinScore, MaxScore].
func Clamp(v float64) float64 {
	return math.Min(MaxScore, math.Max(MinScore, v))
}

// ParseScore converts a form field into a clamped score. Empty or
// unparseable input yields ok == false, which callers treat as absent.
// Both "12.5" and "12,5" are accepted.
func ParseScore(raw string) (v *float64, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, false
	}
	s = strings.Replace(s, ",", ".", 1)

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	f = Clamp(f)
	return &f, true
}

func clampPtr(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	c := Clamp(*v)
	return &c
}

func copyPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
