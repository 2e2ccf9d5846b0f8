package eventlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

const (
	dispatchBatch   = 256
	sinkTimeout     = 5 * time.Second
	dispatchBackoff = time.Second
)

// Dispatcher delivers recorded events to every sink in order. A sink error is
// logged and the event is skipped for that sink only.
type Dispatcher struct {
	rec    *Recorder
	sinks  []domain.EventSink
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher for rec.
func NewDispatcher(rec *Recorder, logger *slog.Logger, sinks ...domain.EventSink) *Dispatcher {
	return &Dispatcher{
		rec:    rec,
		sinks:  sinks,
		logger: logger.With(slog.String("component", "event_dispatcher")),
	}
}

// Run delivers events until ctx is cancelled, then drains what is left using
// a short grace period.
func (d *Dispatcher) Run(ctx context.Context) error {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	d.logger.Info("event dispatcher started", slog.Any("sinks", names))

	cursor := d.rec.ackedID()
	for {
		cursor = d.drain(ctx, cursor)
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			d.drain(drainCtx, cursor)
			cancel()
			d.logger.Info("event dispatcher stopped", slog.Int("pending", d.rec.Pending()))
			return nil
		case <-d.rec.Wake():
		case <-time.After(dispatchBackoff):
		}
	}
}

// Flush delivers every pending event synchronously.
func (d *Dispatcher) Flush(ctx context.Context) {
	d.drain(ctx, d.rec.ackedID())
}

func (d *Dispatcher) drain(ctx context.Context, cursor uint64) uint64 {
	for {
		batch := d.rec.Events(cursor, dispatchBatch)
		if len(batch) == 0 {
			return cursor
		}
		for _, ev := range batch {
			if ctx.Err() != nil {
				return cursor
			}
			d.deliver(ctx, ev)
			cursor = ev.ID
		}
		d.rec.Ack(cursor)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev domain.Event) {
	for _, s := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := s.Handle(sctx, ev)
		cancel()
		if err != nil {
			d.logger.Warn("event sink failed",
				slog.String("sink", s.Name()),
				slog.Uint64("event_id", ev.ID),
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}
}
