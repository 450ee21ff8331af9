//go:build integration

package yield_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/p-n-ai/pai-portal/internal/platform/cache"
	"github.com/p-n-ai/pai-portal/internal/yield"
)

func TestCachedStore_Redis(t *testing.T) {
	ctx := t.Context()
	c := startRedis(t)

	backing := yield.NewMemoryStore()
	store := yield.NewCachedStore(backing, c, nil)

	require.NoError(t, store.SaveSemesterAverage(ctx, "u1", y1s1, 13.25))

	n, err := c.Client.HLen(ctx, "test:yield:avg:u1").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// The cached entry carries the stored row's timestamp.
	row, err := backing.GetSemesterAverage(ctx, "u1", y1s1)
	require.NoError(t, err)
	got, err := store.GetSemesterAverage(ctx, "u1", y1s1)
	require.NoError(t, err)
	require.True(t, row.UpdatedAt.Equal(got.UpdatedAt), "cached %v, stored %v", got.UpdatedAt, row.UpdatedAt)

	// Served from the cache even after the backing value changes underneath.
	require.NoError(t, backing.SaveSemesterAverage(ctx, "u1", y1s1, 2))
	got, err = store.GetSemesterAverage(ctx, "u1", y1s1)
	require.NoError(t, err)
	require.InDelta(t, 13.25, got.Average, 1e-9)

	// A miss reads through and populates the hash.
	require.NoError(t, backing.SaveSemesterAverage(ctx, "u1", y1s2, 8))
	got, err = store.GetSemesterAverage(ctx, "u1", y1s2)
	require.NoError(t, err)
	require.InDelta(t, 8, got.Average, 1e-9)

	n, err = c.Client.HLen(ctx, "test:yield:avg:u1").Result()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestCachedStore_RedisList(t *testing.T) {
	ctx := t.Context()
	c := startRedis(t)

	backing := yield.NewMemoryStore()
	store := yield.NewCachedStore(backing, c, nil)

	require.NoError(t, backing.SaveSemesterAverage(ctx, "u1", y1s1, 12))
	require.NoError(t, backing.SaveSemesterAverage(ctx, "u1", y1s2, 14))

	// The first list reads the backing store and fills the hash.
	list, err := store.ListSemesterAverages(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	exists, err := c.Client.HExists(ctx, "test:yield:avg:u1", "_complete").Result()
	require.NoError(t, err)
	require.True(t, exists)

	// Later lists come from the hash.
	require.NoError(t, backing.SaveSemesterAverage(ctx, "u1", y1s1, 3))
	list, err = store.ListSemesterAverages(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, y1s1, list[0].Semester)
	require.InDelta(t, 12, list[0].Average, 1e-9)

	// Saves through the cache keep the complete hash current.
	require.NoError(t, store.SaveSemesterAverage(ctx, "u1", y1s2, 16))
	list, err = store.ListSemesterAverages(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.InDelta(t, 16, list[1].Average, 1e-9)
}

func startRedis(t *testing.T) *cache.Cache {
	t.Helper()
	ctx := t.Context()

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisC.Terminate(context.Background()) })

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)

	c, err := cache.New(ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port()), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}
