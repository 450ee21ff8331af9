package advisor_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/p-n-ai/pai-portal/internal/advisor"
	"github.com/p-n-ai/pai-portal/internal/ai"
	"github.com/p-n-ai/pai-portal/internal/curriculum"
	"github.com/p-n-ai/pai-portal/internal/platform/clock"
	"github.com/p-n-ai/pai-portal/internal/report"
	"github.com/p-n-ai/pai-portal/internal/yield"
)

func ptr(v float64) *float64 { return &v }

var testStructure = curriculum.Structure{
	Year: 1, Semester: 1, Name: "Year 1, Semester 1",
	Units: []curriculum.Unit{
		{ID: "u1", Name: "Core", Subjects: []curriculum.Subject{
			{ID: "math", Name: "Mathematics", Coefficient: 4, Weights: curriculum.Weights{Exam: 1}},
			{ID: "physics", Name: "Physics", Coefficient: 2, Weights: curriculum.Weights{Exam: 1}},
		}},
		{ID: "u2", Name: "Languages", Subjects: []curriculum.Subject{
			{ID: "english", Name: "English", Coefficient: 1, Weights: curriculum.Weights{Exam: 1}},
			{ID: "french", Name: "French", Coefficient: 2, Weights: curriculum.Weights{Exam: 1}},
		}},
	},
}

func testResult() yield.Result {
	return yield.Compute(testStructure, yield.Scores{
		"math":    {Exam: ptr(8)},
		"physics": {Exam: ptr(14)},
		"english": {Exam: ptr(6)},
		"french":  {Exam: ptr(6)},
	})
}

func TestWeakest(t *testing.T) {
	got := advisor.Weakest(testStructure, testResult(), 3)

	want := []string{"french", "english", "math"}
	if len(got) != len(want) {
		t.Fatalf("Weakest() returned %d subjects, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].SubjectID != id {
			t.Errorf("Weakest()[%d] = %q, want %q", i, got[i].SubjectID, id)
		}
	}
	if got[0].Average != 6 || got[0].Coefficient != 2 {
		t.Errorf("Weakest()[0] = %+v", got[0])
	}
}

func TestWeakest_MoreThanAvailable(t *testing.T) {
	got := advisor.Weakest(testStructure, testResult(), 10)
	if len(got) != 4 {
		t.Errorf("Weakest() returned %d subjects, want 4", len(got))
	}
}

func TestAdvise(t *testing.T) {
	router := ai.NewRouter()
	mock := &ai.MockProvider{Response: "  Focus on French first.  ", ID: "google"}
	router.Register(mock)

	budget := ai.NewInMemoryBudget(1000, clock.NewFake(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)))
	adv := advisor.New(advisor.Config{Router: router, Budget: budget, FocusCount: 2})

	got, err := adv.Advise(t.Context(), advisor.Request{
		UserID:    "u1",
		Structure: testStructure,
		Result:    testResult(),
		Format:    report.NewFormatter("fr-FR"),
	})
	if err != nil {
		t.Fatalf("Advise() error = %v", err)
	}
	if got.Text != "Focus on French first." {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Provider != "google" {
		t.Errorf("Provider = %q, want google", got.Provider)
	}
	if len(got.Focus) != 2 || got.Focus[0].SubjectID != "french" {
		t.Errorf("Focus = %+v", got.Focus)
	}

	req := mock.LastRequest()
	if req == nil {
		t.Fatal("provider was not called")
	}
	if sys := req.System(); !strings.Contains(sys, "Respond in French") {
		t.Errorf("system prompt should name the language, got:\n%s", sys)
	}
	user := req.Messages[len(req.Messages)-1].Content
	for _, want := range []string{"Year 1, Semester 1", "Mathematics (coefficient 4): 8,00", "1. French (6,00)", "2. English (6,00)"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q:\n%s", want, user)
		}
	}

	used, _, _ := budget.Usage(t.Context(), "u1")
	if used != int64(got.Tokens) || used == 0 {
		t.Errorf("recorded usage = %d, want %d", used, got.Tokens)
	}
}

func TestAdvise_Errors(t *testing.T) {
	withProvider := func(p ai.Provider) *ai.Router {
		r := ai.NewRouter()
		r.Register(p)
		return r
	}
	exhausted := ai.NewInMemoryBudget(10, nil)
	if err := exhausted.Record(t.Context(), "u1", 10); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		cfg     advisor.Config
		result  yield.Result
		wantErr error
	}{
		{"nil router", advisor.Config{}, testResult(), advisor.ErrUnavailable},
		{"empty router", advisor.Config{Router: ai.NewRouter()}, testResult(), advisor.ErrUnavailable},
		{"no input", advisor.Config{Router: withProvider(ai.NewMockProvider("x"))}, yield.Compute(testStructure, nil), advisor.ErrNoInput},
		{"budget exceeded", advisor.Config{Router: withProvider(ai.NewMockProvider("x")), Budget: exhausted}, testResult(), advisor.ErrBudgetExceeded},
		{"rate limited", advisor.Config{Router: withProvider(&ai.MockProvider{Err: &ai.APIError{Provider: "google", Status: 429}})}, testResult(), advisor.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := advisor.New(tt.cfg).Advise(t.Context(), advisor.Request{
				UserID:    "u1",
				Structure: testStructure,
				Result:    tt.result,
				Format:    report.NewFormatter("en"),
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Advise() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAdvise_ProviderFailure(t *testing.T) {
	router := ai.NewRouter()
	providerErr := errors.New("quota")
	router.Register(&ai.MockProvider{Err: providerErr})
	budget := ai.NewInMemoryBudget(100, nil)

	adv := advisor.New(advisor.Config{Router: router, Budget: budget})
	_, err := adv.Advise(t.Context(), advisor.Request{
		UserID:    "u1",
		Structure: testStructure,
		Result:    testResult(),
		Format:    report.NewFormatter(""),
	})
	if !errors.Is(err, providerErr) {
		t.Fatalf("Advise() error = %v, want wrapped provider error", err)
	}
	if used, _, _ := budget.Usage(t.Context(), "u1"); used != 0 {
		t.Errorf("failed request recorded %d tokens", used)
	}
}

func TestAdvise_Truncated(t *testing.T) {
	router := ai.NewRouter()
	router.Register(&ai.MockProvider{Response: "Start with French and", Truncated: true})

	adv, err := advisor.New(advisor.Config{Router: router}).Advise(t.Context(), advisor.Request{
		UserID:    "u1",
		Structure: testStructure,
		Result:    testResult(),
		Format:    report.NewFormatter("en"),
	})
	if err != nil {
		t.Fatalf("Advise() error = %v", err)
	}
	if !adv.Truncated {
		t.Error("Truncated = false, want true")
	}
}
