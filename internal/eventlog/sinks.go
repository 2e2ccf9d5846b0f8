package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// ChannelPrefix prefixes the pub/sub channel of every event kind, e.g.
// "events:prediction.disputed".
const ChannelPrefix = "events:"

// StreamName is the durable stream every event is appended to.
const StreamName = "events"

// StoreSink persists events through a domain.EventStore.
type StoreSink struct {
	Store domain.EventStore
}

// Name implements domain.EventSink.
func (StoreSink) Name() string { return "event_store" }

// Handle implements domain.EventSink.
func (s StoreSink) Handle(ctx context.Context, ev domain.Event) error {
	return s.Store.Append(ctx, ev)
}

// BusSink publishes events on a signal bus channel per kind and appends them
// to a durable stream.
type BusSink struct {
	Bus domain.SignalBus
}

// Name implements domain.EventSink.
func (BusSink) Name() string { return "signal_bus" }

// Handle implements domain.EventSink.
func (s BusSink) Handle(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventlog: marshal event %d: %w", ev.ID, err)
	}
	if err := s.Bus.Publish(ctx, ChannelPrefix+string(ev.Kind), payload); err != nil {
		return err
	}
	return s.Bus.StreamAppend(ctx, StreamName, payload)
}

// FilterSink forwards only events whose kind starts with one of Prefixes.
type FilterSink struct {
	Prefixes []string
	Next     domain.EventSink
}

// Name implements domain.EventSink.
func (f FilterSink) Name() string { return f.Next.Name() }

// Handle implements domain.EventSink.
func (f FilterSink) Handle(ctx context.Context, ev domain.Event) error {
	for _, p := range f.Prefixes {
		if strings.HasPrefix(string(ev.Kind), p) {
			return f.Next.Handle(ctx, ev)
		}
	}
	return nil
}
