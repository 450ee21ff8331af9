package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-portal/internal/advisor"
	"github.com/p-n-ai/pai-portal/internal/ai"
	"github.com/p-n-ai/pai-portal/internal/api"
	"github.com/p-n-ai/pai-portal/internal/curriculum"
	"github.com/p-n-ai/pai-portal/internal/platform/cache"
	"github.com/p-n-ai/pai-portal/internal/platform/clock"
	"github.com/p-n-ai/pai-portal/internal/platform/config"
	"github.com/p-n-ai/pai-portal/internal/platform/database"
	"github.com/p-n-ai/pai-portal/internal/progress"
	"github.com/p-n-ai/pai-portal/internal/studytimer"
	"github.com/p-n-ai/pai-portal/internal/yield"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr, "storage", cfg.Grades.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

// app holds the wired services and the resources to release on exit.
type app struct {
	handler  http.Handler
	trackers *yield.Registry
	timers   *studytimer.Manager
	db       *database.DB
	cache    *cache.Cache
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	loader, err := curriculum.NewLoader(cfg.Grades.CurriculumPath)
	if err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	checks := map[string]api.Check{}

	var (
		averages yield.AverageStore     = yield.NewMemoryStore()
		chapters progress.Store         = progress.NewMemoryStore()
		events   studytimer.EventLogger = studytimer.NewMemoryEventLogger()
	)
	if cfg.UsePostgres() {
		a.db, err = database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := a.db.Migrate(-1); err != nil {
				return nil, err
			}
		}
		if averages, err = yield.NewPostgresStore(a.db.Pool); err != nil {
			return nil, err
		}
		if chapters, err = progress.NewPostgresStore(a.db.Pool); err != nil {
			return nil, err
		}
		events = studytimer.NewPostgresEventLogger(a.db.Pool)
		checks["database"] = a.db.HealthCheck
	}

	var budget ai.BudgetChecker = ai.NewInMemoryBudget(int64(cfg.AI.DailyTokenBudget), clock.Real{})
	if cfg.Cache.URL != "" {
		a.cache, err = cache.New(ctx, cfg.Cache.URL, cfg.Cache.Prefix)
		if err != nil {
			return nil, err
		}
		averages = yield.NewCachedStore(averages, a.cache, logger)
		budget = ai.NewRedisBudget(a.cache, int64(cfg.AI.DailyTokenBudget), clock.Real{})
		checks["cache"] = a.cache.HealthCheck
	}

	a.trackers = yield.NewRegistry(yield.TrackerConfig{
		Curriculum: loader,
		Store:      averages,
		SaveDelay:  cfg.Grades.SaveDelay,
		Logger:     logger,
	}, cfg.Grades.IdleTimeout)

	a.timers, err = studytimer.NewManager(studytimer.Settings{
		Focus:             cfg.StudyTimer.Focus,
		ShortBreak:        cfg.StudyTimer.ShortBreak,
		LongBreak:         cfg.StudyTimer.LongBreak,
		LongBreakInterval: cfg.StudyTimer.LongBreakInterval,
	}, clock.Real{}, events, logger)
	if err != nil {
		return nil, err
	}

	if !cfg.HasAIProvider() {
		logger.Warn("no AI provider configured, study advice disabled")
	}

	a.handler = api.NewHandler(api.Deps{
		Curriculum: loader,
		Trackers:   a.trackers,
		Averages:   averages,
		Progress:   progress.NewService(chapters, loader, clock.Real{}),
		Timers:     a.timers,
		Advisor:    advisor.New(advisor.Config{Router: newAIRouter(cfg.AI), Budget: budget, Logger: logger}),
		Checks:     checks,
		Logger:     logger,
	}).Routes()
	return a, nil
}

// Close stops background work first so pending saves reach the store
// before its connections close.
func (a *app) Close() {
	if a.timers != nil {
		a.timers.Close()
	}
	if a.trackers != nil {
		a.trackers.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// newAIRouter registers the configured providers, Google first.
func newAIRouter(cfg config.AIConfig) *ai.Router {
	router := ai.NewRouter()
	if cfg.Google.APIKey != "" {
		router.Register(ai.NewGoogleProvider(cfg.Google.APIKey, ai.WithGoogleModel(cfg.Google.Model)))
	}
	if cfg.OpenAI.APIKey != "" || cfg.OpenAI.BaseURL != "" {
		opts := []ai.OpenAIOption{ai.WithModel(cfg.OpenAI.Model)}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, ai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		router.Register(ai.NewOpenAIProvider(cfg.OpenAI.APIKey, opts...))
	}
	return router
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
