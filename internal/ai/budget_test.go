package ai

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-portal/internal/platform/cache"
	"github.com/p-n-ai/pai-portal/internal/platform/clock"
)

func TestInMemoryBudget_Unlimited(t *testing.T) {
	b := NewInMemoryBudget(0, nil)

	if err := b.Record(t.Context(), "user1", 1_000_000); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	ok, err := b.Check(t.Context(), "user1")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !ok {
		t.Error("Check() = false, want true (zero limit means unlimited)")
	}
}

func TestInMemoryBudget_Check(t *testing.T) {
	tests := []struct {
		name    string
		records []int
		want    bool
	}{
		{"unused", nil, true},
		{"within budget", []int{500}, true},
		{"multiple records", []int{100, 200, 300}, true},
		{"exactly exhausted", []int{1000}, false},
		{"over budget", []int{600, 600}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewInMemoryBudget(1000, clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)))
			for _, n := range tt.records {
				if err := b.Record(t.Context(), "user1", n); err != nil {
					t.Fatalf("Record() error = %v", err)
				}
			}
			ok, err := b.Check(t.Context(), "user1")
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if ok != tt.want {
				t.Errorf("Check() = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestInMemoryBudget_UsersIsolated(t *testing.T) {
	b := NewInMemoryBudget(100, nil)
	if err := b.Record(t.Context(), "user1", 150); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	ok, _ := b.Check(t.Context(), "user2")
	if !ok {
		t.Error("user2 should not be affected by user1's usage")
	}
}

func TestInMemoryBudget_ResetsDaily(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC))
	b := NewInMemoryBudget(100, clk)

	if err := b.Record(t.Context(), "user1", 100); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if ok, _ := b.Check(t.Context(), "user1"); ok {
		t.Fatal("Check() = true, want false before midnight")
	}

	clk.Advance(time.Hour)

	ok, _ := b.Check(t.Context(), "user1")
	if !ok {
		t.Error("Check() = false, want true after UTC midnight")
	}
	used, limit, err := b.Usage(t.Context(), "user1")
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if used != 0 || limit != 100 {
		t.Errorf("Usage() = %d/%d, want 0/100", used, limit)
	}
}

func TestInMemoryBudget_NegativeTokens(t *testing.T) {
	b := NewInMemoryBudget(100, nil)
	if err := b.Record(t.Context(), "user1", -1); err == nil {
		t.Error("Record() should reject negative tokens")
	}
}

func TestRedisBudget_Key(t *testing.T) {
	c := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: "localhost:59999"}), "portal")
	defer c.Close()

	b := NewRedisBudget(c, 100, clock.NewFake(time.Date(2026, 3, 2, 23, 30, 0, 0, time.FixedZone("X", -2*3600))))
	if got, want := b.key("u1"), "portal:ai:tokens:u1:2026-03-03"; got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
}

func TestRedisBudget_UnlimitedSkipsRedis(t *testing.T) {
	c := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: "localhost:59999"}), "portal")
	defer c.Close()

	ok, err := NewRedisBudget(c, 0, nil).Check(t.Context(), "u1")
	if err != nil || !ok {
		t.Errorf("Check() = %v, %v; want true, nil", ok, err)
	}
}

func TestRedisBudget_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	c := cache.NewFromClient(redis.NewClient(&redis.Options{
		Addr:        "localhost:59999",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	}), "portal")
	defer c.Close()

	b := NewRedisBudget(c, 100, nil)
	if _, err := b.Check(t.Context(), "u1"); err == nil {
		t.Error("Check() should fail when redis is unreachable")
	}
	if err := b.Record(t.Context(), "u1", 5); err == nil {
		t.Error("Record() should fail when redis is unreachable")
	}
}
