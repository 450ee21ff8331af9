// Package advisor asks a language model for a short study recommendation
// based on a student's computed yield.
package advisor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/text/language/display"

	"github.com/p-n-ai/pai-portal/internal/ai"
	"github.com/p-n-ai/pai-portal/internal/curriculum"
	"github.com/p-n-ai/pai-portal/internal/report"
	"github.com/p-n-ai/pai-portal/internal/yield"
)

const (
	defaultFocusCount = 3
	defaultMaxTokens  = 400
	passMark          = 10.0
)

var (
	// ErrUnavailable is returned when no AI provider is configured.
	ErrUnavailable = errors.New("study advice unavailable")

	// ErrBudgetExceeded is returned when the user has used today's token budget.
	ErrBudgetExceeded = errors.New("daily AI budget exceeded")

	// ErrNoInput is returned when no score has been entered yet.
	ErrNoInput = errors.New("no scores entered")
)

// Config holds dependencies for the advisor.
type Config struct {
	Router     *ai.Router
	Budget     ai.BudgetChecker // nil means unlimited
	FocusCount int              // weakest subjects named in the prompt (default 3)
	MaxTokens  int              // completion limit (default 400)
	Logger     *slog.Logger
}

// Advisor turns a yield result into a recommendation. Each call is a single
// completion with no conversation history.
type Advisor struct {
	router     *ai.Router
	budget     ai.BudgetChecker
	focusCount int
	maxTokens  int
	log        *slog.Logger
}

// New creates an advisor.
func New(cfg Config) *Advisor {
	a := &Advisor{
		router:     cfg.Router,
		budget:     cfg.Budget,
		focusCount: cfg.FocusCount,
		maxTokens:  cfg.MaxTokens,
		log:        cfg.Logger,
	}
	if a.focusCount <= 0 {
		a.focusCount = defaultFocusCount
	}
	if a.maxTokens <= 0 {
		a.maxTokens = defaultMaxTokens
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	return a
}

// Available reports whether a provider is registered.
func (a *Advisor) Available() bool {
	return a.router != nil && a.router.HasProvider()
}

// Request is the input to Advise.
type Request struct {
	UserID    string
	Structure curriculum.Structure
	Result    yield.Result
	Format    report.Formatter
}

// Focus is a subject the student should prioritize.
type Focus struct {
	SubjectID   string  `json:"subject_id"`
	Name        string  `json:"name"`
	Average     float64 `json:"average"`
	Coefficient float64 `json:"coefficient"`
}

// Advice is the recommendation returned to the student.
type Advice struct {
	Text      string  `json:"text"`
	Focus     []Focus `json:"focus"`
	Provider  string  `json:"provider"`
	Model     string  `json:"model"`
	Tokens    int     `json:"tokens"`
	Truncated bool    `json:"truncated,omitempty"`
}

// Advise builds a prompt from the result and returns the model's answer.
func (a *Advisor) Advise(ctx context.Context, req Request) (Advice, error) {
	if !a.Available() {
		return Advice{}, ErrUnavailable
	}
	if !req.Result.HasInput {
		return Advice{}, ErrNoInput
	}

	if a.budget != nil {
		ok, err := a.budget.Check(ctx, req.UserID)
		if err != nil {
			return Advice{}, fmt.Errorf("checking AI budget: %w", err)
		}
		if !ok {
			return Advice{}, ErrBudgetExceeded
		}
	}

	focus := Weakest(req.Structure, req.Result, a.focusCount)
	resp, err := a.router.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: systemPrompt(req.Format)},
			{Role: "user", Content: userPrompt(req.Structure, req.Result, focus, req.Format)},
		},
		MaxTokens:   a.maxTokens,
		Temperature: 0.4,
	})
	if errors.Is(err, ai.ErrNoProvider) {
		return Advice{}, ErrUnavailable
	}
	if ai.IsTemporary(err) {
		return Advice{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return Advice{}, fmt.Errorf("requesting advice: %w", err)
	}

	if a.budget != nil {
		if err := a.budget.Record(ctx, req.UserID, resp.TotalTokens()); err != nil {
			a.log.Warn("failed to record AI usage", "user_id", req.UserID, "error", err)
		}
	}

	if resp.Truncated {
		a.log.Warn("study advice cut at token limit",
			"user_id", req.UserID,
			"max_tokens", a.maxTokens,
		)
	}
	a.log.Info("study advice generated",
		"user_id", req.UserID,
		"semester", req.Structure.Key().String(),
		"provider", resp.Provider,
		"tokens", resp.TotalTokens(),
	)

	return Advice{
		Text:      strings.TrimSpace(resp.Content),
		Focus:     focus,
		Provider:  resp.Provider,
		Model:     resp.Model,
		Tokens:    resp.TotalTokens(),
		Truncated: resp.Truncated,
	}, nil
}

// Weakest returns up to n subjects ordered by lowest average first. Ties go
// to the subject with the larger coefficient, then structure order.
func Weakest(s curriculum.Structure, r yield.Result, n int) []Focus {
	subjects := s.Subjects()
	out := make([]Focus, 0, len(subjects))
	for _, sub := range subjects {
		out = append(out, Focus{
			SubjectID:   sub.ID,
			Name:        sub.Name,
			Average:     r.SubjectAverages[sub.ID],
			Coefficient: sub.Coefficient,
		})
	}
	slices.SortStableFunc(out, func(a, b Focus) int {
		if c := cmp.Compare(a.Average, b.Average); c != 0 {
			return c
		}
		return cmp.Compare(b.Coefficient, a.Coefficient)
	})
	if n < len(out) {
		out = out[:n]
	}
	return out
}

func systemPrompt(f report.Formatter) string {
	lang := display.English.Languages().Name(f.Language())
	return fmt.Sprintf(`You are a study advisor for university students.

Scores are out of 20 and a subject is passed at %.0f. Subject averages are weighted by coefficient into unit and semester averages.

Give a short, practical plan for the coming weeks:
- Start with the subjects listed as priorities and say why each matters
- Prefer subjects with a high coefficient when the gain is similar
- Keep it under 150 words, as a short list
- Be encouraging and never condescending

Respond in %s.`, passMark, lang)
}

func userPrompt(s curriculum.Structure, r yield.Result, focus []Focus, f report.Formatter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Semester: %s\n", s.Name)
	fmt.Fprintf(&b, "Semester average: %s (total coefficient %.0f)\n\n", f.OutOf(r.SemesterAverage), r.TotalCoefficient)

	b.WriteString("Units:\n")
	for _, u := range s.Units {
		fmt.Fprintf(&b, "- %s: %s\n", u.Name, f.Average(r.UnitAverages[u.ID]))
		for _, sub := range u.Subjects {
			fmt.Fprintf(&b, "  - %s (coefficient %g): %s\n", sub.Name, sub.Coefficient, f.Average(r.SubjectAverages[sub.ID]))
		}
	}

	b.WriteString("\nPriorities:\n")
	for i, fc := range focus {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, fc.Name, f.Average(fc.Average))
	}
	return b.String()
}
