// Package yield computes weighted subject, unit and semester averages and
// persists the semester average after edits settle.
package yield

import (
	"math"

	"github.com/p-n-ai/pai-portal/internal/curriculum"
)

// Result is derived from a structure and its scores. It is recomputed on
// every edit and never stored.
type Result struct {
	SubjectAverages  map[string]float64 `json:"subject_averages"`
	UnitAverages     map[string]float64 `json:"unit_averages"`
	SemesterAverage  float64            `json:"semester_average"`
	TotalCoefficient float64            `json:"total_coefficient"`
	// HasInput is true when at least one component of a subject in the
	// structure has been entered.
	HasInput bool `json:"has_input"`
}

// Compute derives every average in a single pass. Scores are expected to be
// clamped already; they are not re-validated here. Averages are not rounded.
func Compute(s curriculum.Structure, scores Scores) Result {
	res := Result{
		SubjectAverages: make(map[string]float64),
		UnitAverages:    make(map[string]float64, len(s.Units)),
	}

	var totalWeighted, totalCoef float64
	for _, u := range s.Units {
		var unitWeighted, unitCoef float64
		for _, sub := range u.Subjects {
			in := scores[sub.ID]
			if !in.IsEmpty() {
				res.HasInput = true
			}

			avg := SubjectAverage(sub, in)
			res.SubjectAverages[sub.ID] = avg
			unitWeighted += avg * sub.Coefficient
			unitCoef += sub.Coefficient
		}

		res.UnitAverages[u.ID] = unitWeighted / math.Max(unitCoef, 1)
		totalWeighted += unitWeighted
		totalCoef += unitCoef
	}

	res.SemesterAverage = totalWeighted / math.Max(totalCoef, 1)
	res.TotalCoefficient = totalCoef
	return res
}

// SubjectAverage applies the subject weights literally. Absent components
// count as 0 and the weights are not normalized.
func SubjectAverage(sub curriculum.Subject, in ScoreInput) float64 {
	w := sub.Weights
	return valueOf(in.ContinuousAssessment)*w.ContinuousAssessment +
		valueOf(in.Practical)*w.Practical +
		valueOf(in.Exam)*w.Exam
}

// Persistable reports whether the semester average is worth saving: it must
// be a finite, non-negative number and either positive or backed by entered
// scores. An all-zero result with no input is the initial state, not a grade.
func (r Result) Persistable() bool {
	avg := r.SemesterAverage
	if math.IsNaN(avg) || math.IsInf(avg, 0) || avg < 0 {
		return false
	}
	return avg > 0 || r.HasInput
}

func valueOf(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
