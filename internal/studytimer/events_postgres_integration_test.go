//go:build integration

package studytimer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/p-n-ai/pai-portal/internal/platform/database"
	"github.com/p-n-ai/pai-portal/internal/studytimer"
)

func TestPostgresEventLogger(t *testing.T) {
	ctx := t.Context()

	pg, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("portal"),
		postgres.WithUsername("portal"),
		postgres.WithPassword("portal"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	url, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.New(ctx, url, 4, 1)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(-1))

	logger := studytimer.NewPostgresEventLogger(db.Pool)
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, logger.LogEvent(ctx, studytimer.Event{
		UserID:    "u1",
		Type:      studytimer.EventStarted,
		Data:      map[string]any{"phase": "focus"},
		CreatedAt: base,
	}))
	require.NoError(t, logger.LogEvent(ctx, studytimer.Event{
		UserID:    "u1",
		Type:      studytimer.EventStopped,
		CreatedAt: base.Add(time.Minute),
	}))
	require.Error(t, logger.LogEvent(ctx, studytimer.Event{UserID: "u1"}))

	events, err := logger.ListEvents(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, studytimer.EventStopped, events[0].Type)
	require.Equal(t, "focus", events[1].Data["phase"])
}
