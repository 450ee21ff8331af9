package ai

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-portal/internal/platform/cache"
	"github.com/p-n-ai/pai-portal/internal/platform/clock"
)

// BudgetChecker checks and records daily token usage per user.
type BudgetChecker interface {
	// Check returns true if the user has budget remaining today.
	Check(ctx context.Context, userID string) (bool, error)
	// Record adds token usage for the user to today's total.
	Record(ctx context.Context, userID string, tokens int) error
	// Usage returns today's usage and the daily limit (0 means unlimited).
	Usage(ctx context.Context, userID string) (used int64, limit int64, err error)
}

// day is the UTC calendar day usage is counted against.
func day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// InMemoryBudget counts usage in process. Counters reset at UTC midnight.
type InMemoryBudget struct {
	limit int64
	clock clock.Clock

	mu    sync.Mutex
	day   string
	usage map[string]int64
}

// NewInMemoryBudget creates a budget with the given daily limit per user.
// A limit of 0 means unlimited.
func NewInMemoryBudget(limit int64, clk clock.Clock) *InMemoryBudget {
	if clk == nil {
		clk = clock.Real{}
	}
	return &InMemoryBudget{
		limit: limit,
		clock: clk,
		usage: make(map[string]int64),
	}
}

func (b *InMemoryBudget) Check(_ context.Context, userID string) (bool, error) {
	if b.limit <= 0 {
		return true, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return b.usage[userID] < b.limit, nil
}

func (b *InMemoryBudget) Record(_ context.Context, userID string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	b.usage[userID] += int64(tokens)
	return nil
}

func (b *InMemoryBudget) Usage(_ context.Context, userID string) (int64, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return b.usage[userID], b.limit, nil
}

func (b *InMemoryBudget) rollLocked() {
	today := day(b.clock.Now())
	if today != b.day {
		b.day = today
		clear(b.usage)
	}
}

// budgetTTL keeps yesterday's counter around briefly for inspection.
const budgetTTL = 48 * time.Hour

// RedisBudget counts usage in redis so the limit holds across instances.
type RedisBudget struct {
	cache *cache.Cache
	limit int64
	clock clock.Clock
}

// NewRedisBudget creates a redis-backed budget with the given daily limit.
func NewRedisBudget(c *cache.Cache, limit int64, clk clock.Clock) *RedisBudget {
	if clk == nil {
		clk = clock.Real{}
	}
	return &RedisBudget{cache: c, limit: limit, clock: clk}
}

func (b *RedisBudget) key(userID string) string {
	return b.cache.Key("ai", "tokens", userID, day(b.clock.Now()))
}

func (b *RedisBudget) Check(ctx context.Context, userID string) (bool, error) {
	if b.limit <= 0 {
		return true, nil
	}
	used, _, err := b.Usage(ctx, userID)
	if err != nil {
		return false, err
	}
	return used < b.limit, nil
}

func (b *RedisBudget) Record(ctx context.Context, userID string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}
	key := b.key(userID)
	pipe := b.cache.Client.TxPipeline()
	pipe.IncrBy(ctx, key, int64(tokens))
	pipe.Expire(ctx, key, budgetTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording token usage: %w", err)
	}
	return nil
}

func (b *RedisBudget) Usage(ctx context.Context, userID string) (int64, int64, error) {
	v, err := b.cache.Client.Get(ctx, b.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, b.limit, nil
	}
	if err != nil {
		return 0, b.limit, fmt.Errorf("reading token usage: %w", err)
	}
	used, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, b.limit, fmt.Errorf("parsing token usage %q: %w", v, err)
	}
	return used, b.limit, nil
}
