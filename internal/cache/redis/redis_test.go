package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// setupClient starts a Redis container and returns a connected client.
func setupClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client, err := New(ctx, ClientConfig{Addr: endpoint, KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLeaseIsExclusive(t *testing.T) {
	client := setupClient(t)
	lm := NewLockManager(client)
	ctx := context.Background()

	first, err := lm.AcquireLease(ctx, "engine", 300*time.Millisecond)
	require.NoError(t, err)

	_, err = lm.AcquireLease(ctx, "engine", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	// Keep renews past the original TTL.
	keepCtx, cancel := context.WithTimeout(ctx, 700*time.Millisecond)
	defer cancel()
	require.NoError(t, first.Keep(keepCtx))
	_, err = lm.AcquireLease(ctx, "engine", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	first.Release()
	first.Release()
	second, err := lm.AcquireLease(ctx, "engine", time.Second)
	require.NoError(t, err)
	second.Release()
}

func TestLeaseReportsLoss(t *testing.T) {
	client := setupClient(t)
	lm := NewLockManager(client)
	ctx := context.Background()

	l, err := lm.AcquireLease(ctx, "engine", 300*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, client.rdb.Del(ctx, client.key("lock", "engine")).Err())

	err = l.Keep(ctx)
	require.ErrorIs(t, err, domain.ErrLockLost)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	client := setupClient(t)
	rl := NewRateLimiter(client)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	rl.nowFn = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "203.0.113.7", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
		now = now.Add(time.Millisecond)
	}
	ok, err := rl.Allow(ctx, "203.0.113.7", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "198.51.100.1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	now = now.Add(time.Minute)
	ok, err = rl.Allow(ctx, "203.0.113.7", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "window slides")
}

func TestNonceStoreClaimsOnce(t *testing.T) {
	client := setupClient(t)
	ns := NewNonceStore(client)
	ctx := context.Background()

	ok, err := ns.Claim(ctx, "0xabc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = ns.Claim(ctx, "0xabc", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBus(t *testing.T) {
	client := setupClient(t)
	bus := NewSignalBus(client)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, "events:*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "events:prediction.disputed", []byte(`{"id":1}`)))
	select {
	case got := <-sub:
		assert.JSONEq(t, `{"id":1}`, string(got))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.StreamAppend(ctx, "events", []byte(fmt.Sprintf(`{"id":%d}`, i))))
	}
	n, err := bus.StreamLen(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	cancel()
	_, open := <-sub
	for open {
		_, open = <-sub
	}
}
