package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

func startHub(t *testing.T, cfg Config) (*Hub, string) {
	t.Helper()
	hub := NewHub(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, typ)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func event(id uint64, kind domain.EventKind) domain.Event {
	return domain.Event{
		ID:        id,
		Kind:      kind,
		Payload:   map[string]any{"id": float64(id), "amount": "1000"},
		Timestamp: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestHubFiltersByKind(t *testing.T) {
	var conns atomic.Int64
	hub, url := startHub(t, Config{
		Status:        func() map[string]any { return map[string]any{"last_event_id": uint64(41)} },
		OnConnections: func(n int) { conns.Store(int64(n)) },
	})
	conn := dial(t, url+"?kinds=prediction.*")

	status := readFrame(t, conn)
	assert.Equal(t, "status", status["type"])
	assert.Equal(t, float64(41), status["payload"].(map[string]any)["last_event_id"])
	assert.Equal(t, int64(1), conns.Load())

	ctx := context.Background()
	require.NoError(t, hub.Handle(ctx, event(1, domain.EventExchangePurchase)))
	require.NoError(t, hub.Handle(ctx, event(2, domain.EventPredictionDisputed)))

	got := readFrame(t, conn)
	assert.Equal(t, "event", got["type"])
	payload := got["payload"].(map[string]any)
	assert.Equal(t, float64(2), payload["id"])
	assert.Equal(t, "prediction.disputed", payload["kind"])
}

func TestHubSubscriptionMessages(t *testing.T) {
	hub, url := startHub(t, Config{})
	conn := dial(t, url+"?kinds=native.deposit")
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Kinds: []string{"exchange.*"}}))
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Kinds: []string{"native.deposit"}}))

	// Subscription changes are applied asynchronously by the read pump.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if c.isSubscribed("exchange.sale") && !c.isSubscribed("native.deposit") {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Handle(ctx, event(1, domain.EventNativeDeposit)))
	require.NoError(t, hub.Handle(ctx, event(2, domain.EventExchangeSale)))
	got := readFrame(t, conn)
	assert.Equal(t, "exchange.sale", got["payload"].(map[string]any)["kind"])
}

func TestHubProtoFrames(t *testing.T) {
	hub, url := startHub(t, Config{})
	conn := dial(t, url+"?format=proto")

	decode := func() *structpb.Struct {
		typ, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.BinaryMessage, typ)
		var s structpb.Struct
		require.NoError(t, proto.Unmarshal(data, &s))
		return &s
	}

	assert.Equal(t, "status", decode().Fields["type"].GetStringValue())

	require.NoError(t, hub.Handle(context.Background(), event(7, domain.EventBetPlaced)))
	s := decode()
	assert.Equal(t, "event", s.Fields["type"].GetStringValue())
	payload := s.Fields["payload"].GetStructValue()
	require.NotNil(t, payload)
	assert.Equal(t, "prediction.bet_placed", payload.Fields["kind"].GetStringValue())
	assert.Equal(t, float64(7), payload.Fields["id"].GetNumberValue())
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(Config{AllowedOrigins: []string{"https://app.example"}}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, hub.checkOrigin(req))
	req.Header.Set("Origin", "https://app.example")
	assert.True(t, hub.checkOrigin(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, hub.checkOrigin(req))
}
