// Package cache connects to the Redis (or Dragonfly) instance used to keep
// hot per-user data close to the API.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "portal"

// Cache wraps a Redis client and namespaces every key it hands out.
type Cache struct {
	Client *redis.Client
	prefix string
}

// ParseURL validates a Redis connection URL.
func ParseURL(url string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	return opts, nil
}

// New connects to url and pings it. An empty prefix uses "portal".
func New(ctx context.Context, url, prefix string) (*Cache, error) {
	opts, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	return NewFromClient(client, prefix), nil
}

// NewFromClient wraps an existing client without checking it.
func NewFromClient(client *redis.Client, prefix string) *Cache {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Cache{Client: client, prefix: prefix}
}

// Key joins parts under the cache prefix, e.g. "portal:yield:avg:42".
func (c *Cache) Key(parts ...string) string {
	return c.prefix + ":" + strings.Join(parts, ":")
}

// Close shuts down the cache client.
func (c *Cache) Close() error {
	return c.Client.Close()
}

// HealthCheck verifies the cache connection is alive.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}
