package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// setupClient starts a PostgreSQL container and returns a migrated client.
func setupClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("creatormarket"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	client, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.NoError(t, client.RunMigrations(ctx))
	require.NoError(t, client.RunMigrations(ctx), "migrations are idempotent")
	return client
}

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", Database: "cm", User: "app", Password: "p@ss/word"})
	assert.Equal(t, "postgres://app:p%40ss%2Fword@db:5432/cm?sslmode=disable", got)
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: " postgres://x ", Host: "ignored"}))
}

func TestEventStore(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	store := NewEventStore(client.Pool())

	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	var events []domain.Event
	for i := 1; i <= 5; i++ {
		events = append(events, domain.Event{
			ID:        uint64(i),
			Kind:      domain.EventBetPlaced,
			Payload:   map[string]any{"id": float64(i), "amount": "1000"},
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
	}
	require.NoError(t, store.Append(ctx, events[0]))
	require.NoError(t, store.AppendBatch(ctx, events), "redelivery is ignored")

	last, err := store.LastID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), last)

	after, err := store.ListAfter(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, uint64(3), after[0].ID)
	assert.Equal(t, events[2].Payload, after[0].Payload)
	assert.True(t, events[2].Timestamp.Equal(after[0].Timestamp))

	since := base.Add(4 * time.Hour)
	listed, err := store.List(ctx, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	before, err := store.ListBefore(ctx, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Len(t, before, 2)

	n, err := store.DeleteThrough(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	rest, err := store.ListAfter(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestSnapshotStore(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	store := NewSnapshotStore(client.Pool())

	_, err := store.Latest(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)

	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		_, err := store.Save(ctx, domain.SnapshotRecord{
			LastEventID: uint64(i * 10),
			Data:        []byte(`{"version":1}`),
			CreatedAt:   at.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), latest.LastEventID)
	assert.JSONEq(t, `{"version":1}`, string(latest.Data))

	pruned, err := store.Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)
	_, err = store.Prune(ctx, 0)
	require.Error(t, err)
}

func TestAuditStore(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	store := NewAuditStore(client.Pool())

	require.NoError(t, store.Log(ctx, "archive.events", map[string]any{"count": float64(3)}))
	require.NoError(t, store.Log(ctx, "snapshot.restored", map[string]any{"id": float64(7)}))

	entries, err := store.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "snapshot.restored", entries[0].Event)
	assert.Equal(t, float64(7), entries[0].Detail["id"])
}
