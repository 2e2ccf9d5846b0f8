package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublisherRoutesAndKeys(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, Config{
		Topic:         "creatormarket.events",
		TopicByPrefix: map[string]string{
			"prediction.":         "creatormarket.predictions",
			"prediction.disputed": "creatormarket.fraud",
			"exchange.":           "",
		},
	})
	ts := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	ledger := "0x00000000000000000000000000000000000000AA"

	events := []domain.Event{
		{ID: 1, Kind: domain.EventBetPlaced, Payload: map[string]any{"id": uint64(4)}, Timestamp: ts},
		{ID: 2, Kind: domain.EventPredictionDisputed, Payload: map[string]any{"id": uint64(4)}, Timestamp: ts},
		{ID: 3, Kind: domain.EventExchangePurchase, Payload: map[string]any{"ledger": ledger}, Timestamp: ts},
		{ID: 4, Kind: domain.EventMarketConfigUpdated, Payload: map[string]any{}, Timestamp: ts},
	}
	for _, ev := range events {
		require.NoError(t, p.Handle(context.Background(), ev))
	}
	require.Len(t, w.msgs, 4)

	assert.Equal(t, "creatormarket.predictions", w.msgs[0].Topic)
	assert.Equal(t, "prediction:4", string(w.msgs[0].Key))
	assert.Equal(t, "creatormarket.fraud", w.msgs[1].Topic)
	assert.Equal(t, "creatormarket.events", w.msgs[2].Topic, "empty route falls back")
	assert.Equal(t, "ledger:"+ledger, string(w.msgs[2].Key))
	assert.Equal(t, "market", string(w.msgs[3].Key))

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &decoded))
	assert.Equal(t, uint64(2), decoded.ID)
	assert.Equal(t, ts, w.msgs[1].Time)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewPublisherValidates(t *testing.T) {
	_, err := NewPublisher(Config{Topic: "t"})
	require.Error(t, err)
	_, err = NewPublisher(Config{Brokers: []string{"localhost:9092"}})
	require.Error(t, err)
}
