package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	alerts []Alert
}

func (r *recordingSender) Send(_ context.Context, a Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func disputed() domain.Event {
	return domain.Event{
		ID:   9,
		Kind: domain.EventPredictionDisputed,
		Payload: map[string]any{
			"id":      uint64(3),
			"creator": "0x00000000000000000000000000000000000000C1",
			"reason":  "creator bet against own outcome",
		},
	}
}

func TestNotifierFiltersByKind(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, testLogger())
	ctx := context.Background()

	require.NoError(t, n.Handle(ctx, domain.Event{Kind: domain.EventBetPlaced}))
	require.NoError(t, n.Handle(ctx, disputed()))
	require.Len(t, s.alerts, 1)
	assert.Equal(t, "Prediction #3 flagged as fraud", s.alerts[0].Title)
	assert.Equal(t, SeverityCritical, s.alerts[0].Severity)
	assert.Contains(t, s.alerts[0].Text(), "Reason: creator bet against own outcome")

	custom := NewNotifier([]Sender{s}, []string{" prediction.bet_placed "}, testLogger())
	require.NoError(t, custom.Handle(ctx, domain.Event{Kind: domain.EventBetPlaced, Payload: map[string]any{"b": 2, "a": 1}}))
	require.Len(t, s.alerts, 2)
	assert.Equal(t, "a: 1\nb: 2", s.alerts[1].Text())
}

func TestNotifierKeepsDeliveringAfterFailure(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Handle(context.Background(), disputed())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.alerts, 1)
}

func TestDiscordSenderPostsEmbed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), Render(disputed())))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, 0xe74c3c, got.Embeds[0].Color)
	assert.Len(t, got.Embeds[0].Fields, 2)
}

func TestTelegramSenderEscapesHTML(t *testing.T) {
	var path string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	err := s.Send(context.Background(), Alert{Title: "a<b", Fields: []Field{{Name: "x", Value: "1&2"}}})
	require.Error(t, err)
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Contains(t, got["text"], "a&lt;b")
	assert.Contains(t, got["text"], "<code>1&amp;2</code>")
}
