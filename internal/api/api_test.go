package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-portal/internal/advisor"
	"github.com/p-n-ai/pai-portal/internal/ai"
	"github.com/p-n-ai/pai-portal/internal/api"
	"github.com/p-n-ai/pai-portal/internal/curriculum"
	"github.com/p-n-ai/pai-portal/internal/platform/clock"
	"github.com/p-n-ai/pai-portal/internal/progress"
	"github.com/p-n-ai/pai-portal/internal/studytimer"
	"github.com/p-n-ai/pai-portal/internal/yield"
)

const (
	user        = "student-1"
	terminology = "y1s1-terminology" // coefficient 1, exam only; y1s1 totals 19
)

type testEnv struct {
	handler  http.Handler
	clock    *clock.Fake
	store    *yield.MemoryStore
	registry *yield.Registry
	provider *ai.MockProvider
}

type envOption func(*api.Deps)

func withoutAdvisor() envOption {
	return func(d *api.Deps) { d.Advisor = nil }
}

func withCheck(name string, err error) envOption {
	return func(d *api.Deps) {
		if d.Checks == nil {
			d.Checks = map[string]api.Check{}
		}
		d.Checks[name] = func(context.Context) error { return err }
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	loader, err := curriculum.NewLoader("")
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		clock:    clock.NewFake(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)),
		store:    yield.NewMemoryStore(),
		provider: &ai.MockProvider{Response: "Revise Analysis 1 first.", ID: "google"},
	}

	env.registry = yield.NewRegistry(yield.TrackerConfig{
		Curriculum: loader,
		Store:      env.store,
		Clock:      env.clock,
		Logger:     logger,
	}, 0)
	t.Cleanup(env.registry.Close)

	timers, err := studytimer.NewManager(studytimer.DefaultSettings(), env.clock, studytimer.NewMemoryEventLogger(), logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(timers.Close)

	router := ai.NewRouter()
	router.Register(env.provider)

	deps := api.Deps{
		Curriculum: loader,
		Trackers:   env.registry,
		Averages:   env.store,
		Progress:   progress.NewService(progress.NewMemoryStore(), loader, env.clock),
		Timers:     timers,
		Advisor:    advisor.New(advisor.Config{Router: router, Logger: logger}),
		Logger:     logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	env.handler = api.NewHandler(deps).Routes()
	return env
}

// do sends a request as the test user and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set(api.UserIDHeader, user)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, want, rec.Body.String())
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)
}

func TestReadyz_FailingCheck(t *testing.T) {
	env := newTestEnv(t, withCheck("database", errors.New("connection refused")), withCheck("cache", nil))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusServiceUnavailable)

	body := decode[struct {
		Checks map[string]string `json:"checks"`
	}](t, rec)
	if body.Checks["database"] != "connection refused" {
		t.Errorf("checks = %v", body.Checks)
	}
	if _, ok := body.Checks["cache"]; ok {
		t.Errorf("passing check reported as failed: %v", body.Checks)
	}
}

func TestMeRequiresUser(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/me/yield", "/api/me/progress", "/api/me/timer"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without user = %d, want 401", path, rec.Code)
		}
	}
}

func TestCurricula(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/curricula", "")
	expectStatus(t, rec, http.StatusOK)
	list := decode[[]struct {
		Key              string  `json:"key"`
		TotalCoefficient float64 `json:"total_coefficient"`
	}](t, rec)
	if len(list) != 4 {
		t.Fatalf("got %d curricula, want 4", len(list))
	}
	if list[0].Key != "Y1S1" || list[0].TotalCoefficient != 19 {
		t.Errorf("first curriculum = %+v", list[0])
	}

	rec = env.do(t, http.MethodGet, "/api/curricula/y1s2", "")
	expectStatus(t, rec, http.StatusOK)
	if s := decode[curriculum.Structure](t, rec); s.Key().String() != "Y1S2" {
		t.Errorf("structure key = %s, want Y1S2", s.Key())
	}

	for _, key := range []string{"Y3S1", "bogus"} {
		rec = env.do(t, http.MethodGet, "/api/curricula/"+key, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET /api/curricula/%s = %d, want 404", key, rec.Code)
		}
	}
}

func TestComputeYield(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantAvg    float64
	}{
		{"clamped", `{"year":1,"semester":1,"scores":{"y1s1-terminology":{"exam":25}}}`, http.StatusOK, 20.0 / 19},
		{"empty", `{"year":1,"semester":1}`, http.StatusOK, 0},
		{"unknown subject", `{"year":1,"semester":1,"scores":{"nope":{"exam":10}}}`, http.StatusBadRequest, 0},
		{"unknown semester", `{"year":3,"semester":1}`, http.StatusBadRequest, 0},
		{"malformed", `{"year":`, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/yield/compute", tt.body)
			expectStatus(t, rec, tt.wantStatus)
			if tt.wantStatus != http.StatusOK {
				return
			}
			got := decode[struct {
				Result yield.Result `json:"result"`
			}](t, rec)
			if !approx(got.Result.SemesterAverage, tt.wantAvg) {
				t.Errorf("semester average = %v, want %v", got.Result.SemesterAverage, tt.wantAvg)
			}
		})
	}

	if env.registry.Len() != 0 {
		t.Error("compute should not create a tracker")
	}
}

func TestYield_EditAndSave(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPatch, "/api/me/yield/scores",
		`{"subject_id":"y1s1-terminology","component":"exam","value":"15"}`)
	expectStatus(t, rec, http.StatusOK)
	st := decode[yield.State](t, rec)
	if !approx(st.Result.SubjectAverages[terminology], 15) {
		t.Errorf("subject average = %v, want 15", st.Result.SubjectAverages[terminology])
	}
	if !approx(st.Result.SemesterAverage, 15.0/19) {
		t.Errorf("semester average = %v, want 15/19", st.Result.SemesterAverage)
	}

	rec = env.do(t, http.MethodGet, "/api/me/yield/averages", "")
	expectStatus(t, rec, http.StatusOK)
	if list := decode[[]yield.Average](t, rec); len(list) != 0 {
		t.Fatalf("averages before delay = %v, want none", list)
	}

	env.clock.Advance(yield.DefaultSaveDelay)
	tr, err := env.registry.Tracker(user)
	if err != nil {
		t.Fatal(err)
	}
	tr.Wait()

	rec = env.do(t, http.MethodGet, "/api/me/yield/averages", "")
	expectStatus(t, rec, http.StatusOK)
	list := decode[[]yield.Average](t, rec)
	if len(list) != 1 || list[0].Semester.String() != "Y1S1" || !approx(list[0].Average, 15.0/19) {
		t.Errorf("averages = %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/api/me/yield/averages/Y1S1", "")
	expectStatus(t, rec, http.StatusOK)
	if a := decode[yield.Average](t, rec); a.UserID != user || !approx(a.Average, 15.0/19) {
		t.Errorf("Y1S1 average = %+v", a)
	}
	rec = env.do(t, http.MethodGet, "/api/me/yield/averages/Y2S1", "")
	expectStatus(t, rec, http.StatusNotFound)
	rec = env.do(t, http.MethodGet, "/api/me/yield/averages/first", "")
	expectStatus(t, rec, http.StatusNotFound)

	rec = env.do(t, http.MethodGet, "/api/me/yield", "")
	expectStatus(t, rec, http.StatusOK)
	if st := decode[yield.State](t, rec); st.SavedAt == nil || st.Saving {
		t.Errorf("state after save = %+v", st)
	}
}

func TestYield_BulkEdit(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPatch, "/api/me/yield/scores",
		`{"scores":{"y1s1-terminology":{"exam":12},"y1s1-english1":{"exam":-3}}}`)
	expectStatus(t, rec, http.StatusOK)
	st := decode[yield.State](t, rec)
	if got := st.Scores["y1s1-english1"].Exam; got == nil || *got != 0 {
		t.Errorf("negative score should be clamped to 0, got %v", got)
	}
	if !approx(st.Result.SemesterAverage, 12.0/19) {
		t.Errorf("semester average = %v, want 12/19", st.Result.SemesterAverage)
	}
}

func TestYield_EditErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown subject", `{"subject_id":"nope","component":"exam","value":"10"}`},
		{"unknown bulk subject", `{"scores":{"nope":{"exam":10}}}`},
		{"bad component", `{"subject_id":"y1s1-terminology","component":"oral","value":"10"}`},
		{"no subject", `{"value":"10"}`},
		{"unknown field", `{"subject":"y1s1-terminology"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPatch, "/api/me/yield/scores", tt.body)
			expectStatus(t, rec, http.StatusBadRequest)
		})
	}
}

func TestYield_SelectSemester(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPatch, "/api/me/yield/scores",
		`{"subject_id":"y1s1-terminology","component":"exam","value":"15"}`)

	rec := env.do(t, http.MethodPut, "/api/me/yield/semester", `{"year":1,"semester":2}`)
	expectStatus(t, rec, http.StatusOK)
	st := decode[yield.State](t, rec)
	if st.Semester.String() != "Y1S2" {
		t.Errorf("semester = %s, want Y1S2", st.Semester)
	}
	if len(st.Scores) != 0 || st.Result.SemesterAverage != 0 {
		t.Errorf("scores should be cleared, got %+v", st)
	}

	// The pending save for Y1S1 was dropped.
	env.clock.Advance(yield.DefaultSaveDelay)
	if saves := env.store.Saves(); len(saves) != 0 {
		t.Errorf("saves after switch = %+v, want none", saves)
	}

	rec = env.do(t, http.MethodPut, "/api/me/yield/semester", `{"year":2,"semester":3}`)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestYield_Report(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPatch, "/api/me/yield/scores",
		`{"subject_id":"y1s1-terminology","component":"exam","value":"15"}`)

	req := httptest.NewRequest(http.MethodGet, "/api/me/yield/report.xlsx", nil)
	req.Header.Set(api.UserIDHeader, user)
	req.Header.Set("Accept-Language", "fr-FR")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)

	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "yield-Y1S1.xlsx") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()
	if got, _ := f.GetCellValue("Yield", "A1"); got != "Year 1, Semester 1" {
		t.Errorf("A1 = %q", got)
	}
}

func TestYield_Advice(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/me/yield/advice", "")
	expectStatus(t, rec, http.StatusConflict)

	env.do(t, http.MethodPatch, "/api/me/yield/scores",
		`{"subject_id":"y1s1-terminology","component":"exam","value":"15"}`)

	rec = env.do(t, http.MethodGet, "/api/me/yield/advice", "")
	expectStatus(t, rec, http.StatusOK)
	adv := decode[advisor.Advice](t, rec)
	if adv.Text != "Revise Analysis 1 first." || adv.Provider != "google" {
		t.Errorf("advice = %+v", adv)
	}
	if len(adv.Focus) == 0 {
		t.Error("advice should name focus subjects")
	}
	if env.provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", env.provider.Calls())
	}
}

func TestYield_AdviceUnavailable(t *testing.T) {
	env := newTestEnv(t, withoutAdvisor())

	rec := env.do(t, http.MethodGet, "/api/me/yield/advice", "")
	expectStatus(t, rec, http.StatusServiceUnavailable)
}

func TestProgress(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/me/progress/"+terminology, `{"completed":3,"total":4}`)
	expectStatus(t, rec, http.StatusOK)
	p := decode[struct {
		SubjectID string  `json:"subject_id"`
		Percent   float64 `json:"percent"`
	}](t, rec)
	if p.SubjectID != terminology || p.Percent != 75 {
		t.Errorf("progress = %+v", p)
	}

	rec = env.do(t, http.MethodGet, "/api/me/progress/"+terminology, "")
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodGet, "/api/me/progress/y1s1-english1", "")
	expectStatus(t, rec, http.StatusNotFound)

	rec = env.do(t, http.MethodPut, "/api/me/progress/"+terminology, `{"completed":5,"total":4}`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodGet, "/api/me/progress", "")
	expectStatus(t, rec, http.StatusOK)
	if list := decode[[]json.RawMessage](t, rec); len(list) != 1 {
		t.Errorf("list = %d entries, want 1", len(list))
	}

	rec = env.do(t, http.MethodGet, "/api/me/progress/summary", "")
	expectStatus(t, rec, http.StatusOK)
	sum := decode[progress.Summary](t, rec)
	if sum.Semester.String() != "Y1S1" || !approx(sum.Percent, 75.0/19) {
		t.Errorf("summary = %+v", sum)
	}

	rec = env.do(t, http.MethodGet, "/api/me/progress/summary?semester=Y2S2", "")
	expectStatus(t, rec, http.StatusOK)
	if sum := decode[progress.Summary](t, rec); sum.Percent != 0 {
		t.Errorf("Y2S2 percent = %v, want 0", sum.Percent)
	}

	rec = env.do(t, http.MethodGet, "/api/me/progress/summary?semester=Y9S9", "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestTimer(t *testing.T) {
	env := newTestEnv(t)

	type snapshot struct {
		Phase            string `json:"phase"`
		Paused           bool   `json:"paused"`
		SubjectID        string `json:"subject_id"`
		RemainingSeconds int64  `json:"remaining_seconds"`
	}

	rec := env.do(t, http.MethodPost, "/api/me/timer/pause", "")
	expectStatus(t, rec, http.StatusConflict)

	rec = env.do(t, http.MethodPost, "/api/me/timer/start", `{"subject_id":"nope"}`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/api/me/timer/start", `{"subject_id":"`+terminology+`"}`)
	expectStatus(t, rec, http.StatusOK)
	if s := decode[snapshot](t, rec); s.Phase != "focus" || s.SubjectID != terminology || s.RemainingSeconds != 25*60 {
		t.Errorf("start snapshot = %+v", s)
	}

	rec = env.do(t, http.MethodPost, "/api/me/timer/start", "")
	expectStatus(t, rec, http.StatusConflict)

	env.clock.Advance(5 * time.Minute)
	rec = env.do(t, http.MethodPost, "/api/me/timer/pause", "")
	expectStatus(t, rec, http.StatusOK)
	if s := decode[snapshot](t, rec); !s.Paused || s.RemainingSeconds != 20*60 {
		t.Errorf("pause snapshot = %+v", s)
	}

	rec = env.do(t, http.MethodPost, "/api/me/timer/resume", "")
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodPost, "/api/me/timer/skip", "")
	expectStatus(t, rec, http.StatusOK)
	if s := decode[snapshot](t, rec); s.Phase != "short_break" {
		t.Errorf("skip snapshot = %+v", s)
	}

	rec = env.do(t, http.MethodGet, "/api/me/timer", "")
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodPost, "/api/me/timer/stop", "")
	expectStatus(t, rec, http.StatusOK)
	if s := decode[snapshot](t, rec); s.Phase != "idle" {
		t.Errorf("stop snapshot = %+v", s)
	}

	rec = env.do(t, http.MethodGet, "/api/me/timer/events?limit=2", "")
	expectStatus(t, rec, http.StatusOK)
	events := decode[[]studytimer.Event](t, rec)
	if len(events) != 2 || events[0].Type != studytimer.EventStopped {
		t.Errorf("events = %+v", events)
	}

	rec = env.do(t, http.MethodGet, "/api/me/timer/events?limit=zero", "")
	expectStatus(t, rec, http.StatusBadRequest)
}
