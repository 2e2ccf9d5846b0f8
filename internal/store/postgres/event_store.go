package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. Event IDs are
// assigned by the engine, so redelivered events are ignored.
type EventStore struct {
	pool *pgxpool.Pool
}

var _ domain.EventStore = (*EventStore)(nil)

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const insertEvent = `
	INSERT INTO engine_events (id, kind, payload, occurred_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO NOTHING`

const eventSelectCols = `SELECT id, kind, payload, occurred_at FROM engine_events`

// Append stores one event.
func (s *EventStore) Append(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal event %d payload: %w", ev.ID, err)
	}
	if _, err := s.pool.Exec(ctx, insertEvent, int64(ev.ID), string(ev.Kind), payload, ev.Timestamp); err != nil {
		return fmt.Errorf("postgres: append event %d: %w", ev.ID, err)
	}
	return nil
}

// AppendBatch stores several events in one round trip.
func (s *EventStore) AppendBatch(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("postgres: marshal event %d payload: %w", ev.ID, err)
		}
		batch.Queue(insertEvent, int64(ev.ID), string(ev.Kind), payload, ev.Timestamp)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, ev := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append event %d: %w", ev.ID, err)
		}
	}
	return nil
}

// List returns events in ID order filtered by opts.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	query, args := listQuery(eventSelectCols, "occurred_at", "id", opts)
	return s.query(ctx, "list events", query, args...)
}

// ListAfter returns up to limit events with an ID above afterID. A
// non-positive limit returns all of them.
func (s *EventStore) ListAfter(ctx context.Context, afterID uint64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		return s.query(ctx, "list events after", eventSelectCols+` WHERE id > $1 ORDER BY id`, int64(afterID))
	}
	return s.query(ctx, "list events after", eventSelectCols+` WHERE id > $1 ORDER BY id LIMIT $2`, int64(afterID), limit)
}

// ListBefore returns every event that occurred strictly before the cutoff.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	return s.query(ctx, "list events before", eventSelectCols+` WHERE occurred_at < $1 ORDER BY id`, before)
}

// DeleteThrough removes every event with an ID at most lastID.
func (s *EventStore) DeleteThrough(ctx context.Context, lastID uint64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM engine_events WHERE id <= $1`, int64(lastID))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events through %d: %w", lastID, err)
	}
	return tag.RowsAffected(), nil
}

// LastID returns the highest stored event ID, or zero.
func (s *EventStore) LastID(ctx context.Context) (uint64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM engine_events`).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: last event id: %w", err)
	}
	return uint64(id), nil
}

func (s *EventStore) query(ctx context.Context, op, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			ev      domain.Event
			id      int64
			kind    string
			payload []byte
		)
		if err := rows.Scan(&id, &kind, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.ID = uint64(id)
		ev.Kind = domain.EventKind(kind)
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal event %d payload: %w", ev.ID, err)
		}
		ev.Timestamp = ev.Timestamp.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return events, nil
}
