// Package config loads application configuration from environment variables.
// All variables use the LEARN_ prefix. A .env file in the working directory
// is read first when present; real environment variables take precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends for persisted averages, progress and study events.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Cache      CacheConfig
	AI         AIConfig
	Grades     GradesConfig
	StudyTimer StudyTimerConfig
	Log        LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int
	Host            string
	ShutdownTimeout time.Duration
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	AutoMigrate bool
}

// CacheConfig holds Dragonfly/Redis connection settings. An empty URL
// disables the cache.
type CacheConfig struct {
	URL    string
	Prefix string
}

// AIConfig holds the providers used for study advice.
type AIConfig struct {
	Google           GoogleConfig
	OpenAI           OpenAIConfig
	DailyTokenBudget int // per user; 0 means unlimited
}

// GoogleConfig holds Google Gemini provider settings.
type GoogleConfig struct {
	APIKey string
	Model  string
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // OpenAI-compatible server; the key is optional when set
}

// GradesConfig holds yield tracking settings.
type GradesConfig struct {
	SaveDelay      time.Duration
	IdleTimeout    time.Duration // trackers unused this long are dropped; 0 keeps them
	Storage        string // "memory" or "postgres"
	CurriculumPath string // optional overlay directory
}

// StudyTimerConfig holds study session durations.
type StudyTimerConfig struct {
	Focus             time.Duration
	ShortBreak        time.Duration
	LongBreak         time.Duration
	LongBreakInterval int // focus phases between long breaks
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables with LEARN_ prefix.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("LEARN_SERVER_PORT", 8080),
			Host:            envStr("LEARN_SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: envDuration("LEARN_SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:         envStr("LEARN_DATABASE_URL", ""),
			MaxConns:    envInt("LEARN_DATABASE_MAX_CONNS", 25),
			MinConns:    envInt("LEARN_DATABASE_MIN_CONNS", 5),
			AutoMigrate: envBool("LEARN_DATABASE_AUTO_MIGRATE", true),
		},
		Cache: CacheConfig{
			URL:    envStr("LEARN_CACHE_URL", ""),
			Prefix: envStr("LEARN_CACHE_PREFIX", "portal"),
		},
		AI: AIConfig{
			Google: GoogleConfig{
				APIKey: envStr("LEARN_AI_GOOGLE_API_KEY", ""),
				Model:  envStr("LEARN_AI_GOOGLE_MODEL", "gemini-2.5-flash"),
			},
			OpenAI: OpenAIConfig{
				APIKey:  envStr("LEARN_AI_OPENAI_API_KEY", ""),
				Model:   envStr("LEARN_AI_OPENAI_MODEL", "gpt-4o-mini"),
				BaseURL: envStr("LEARN_AI_OPENAI_BASE_URL", ""),
			},
			DailyTokenBudget: envInt("LEARN_AI_DAILY_TOKEN_BUDGET", 20000),
		},
		Grades: GradesConfig{
			SaveDelay:      envDuration("LEARN_GRADES_SAVE_DELAY", 1500*time.Millisecond),
			IdleTimeout:    envDuration("LEARN_GRADES_IDLE_TIMEOUT", 30*time.Minute),
			Storage:        strings.ToLower(envStr("LEARN_GRADES_STORAGE", StorageMemory)),
			CurriculumPath: envStr("LEARN_CURRICULUM_PATH", ""),
		},
		StudyTimer: StudyTimerConfig{
			Focus:             envDuration("LEARN_TIMER_FOCUS", 25*time.Minute),
			ShortBreak:        envDuration("LEARN_TIMER_SHORT_BREAK", 5*time.Minute),
			LongBreak:         envDuration("LEARN_TIMER_LONG_BREAK", 15*time.Minute),
			LongBreakInterval: envInt("LEARN_TIMER_LONG_BREAK_INTERVAL", 4),
		},
		Log: LogConfig{
			Level:  envStr("LEARN_LOG_LEVEL", "info"),
			Format: envStr("LEARN_LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	switch c.Grades.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("LEARN_DATABASE_URL is required when LEARN_GRADES_STORAGE is %q", StoragePostgres)
		}
	default:
		return fmt.Errorf("LEARN_GRADES_STORAGE must be %q or %q, got %q", StorageMemory, StoragePostgres, c.Grades.Storage)
	}

	if c.Grades.SaveDelay <= 0 {
		return fmt.Errorf("LEARN_GRADES_SAVE_DELAY must be positive, got %s", c.Grades.SaveDelay)
	}
	if c.Grades.IdleTimeout < 0 {
		return fmt.Errorf("LEARN_GRADES_IDLE_TIMEOUT must not be negative, got %s", c.Grades.IdleTimeout)
	}

	if c.AI.DailyTokenBudget < 0 {
		return fmt.Errorf("LEARN_AI_DAILY_TOKEN_BUDGET must not be negative, got %d", c.AI.DailyTokenBudget)
	}

	timer := c.StudyTimer
	if timer.Focus <= 0 || timer.ShortBreak <= 0 || timer.LongBreak <= 0 {
		return fmt.Errorf("study timer durations must be positive")
	}
	if timer.LongBreakInterval < 1 {
		return fmt.Errorf("LEARN_TIMER_LONG_BREAK_INTERVAL must be at least 1, got %d", timer.LongBreakInterval)
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("LEARN_LOG_FORMAT must be 'json' or 'text', got %q", c.Log.Format)
	}

	return nil
}

// UsePostgres reports whether durable storage is configured.
func (c *Config) UsePostgres() bool {
	return c.Grades.Storage == StoragePostgres
}

// HasAIProvider returns true if at least one AI provider is configured.
func (c *Config) HasAIProvider() bool {
	return c.AI.Google.APIKey != "" || c.AI.OpenAI.APIKey != "" || c.AI.OpenAI.BaseURL != ""
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}

// envDuration accepts Go durations ("1500ms", "25m") or whole seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if s, err := strconv.Atoi(v); err == nil {
		return time.Duration(s) * time.Second
	}
	return fallback
}
