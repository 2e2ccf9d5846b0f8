package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists the engine event log for downstream indexers.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	List(ctx context.Context, opts ListOpts) ([]Event, error)
	ListAfter(ctx context.Context, afterID uint64, limit int) ([]Event, error)
	ListBefore(ctx context.Context, before time.Time) ([]Event, error)
	DeleteThrough(ctx context.Context, lastID uint64) (int64, error)
}

// SnapshotRecord is one persisted copy of the full engine state.
type SnapshotRecord struct {
	ID          int64
	LastEventID uint64
	Data        []byte
	CreatedAt   time.Time
}

// SnapshotStore persists engine snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snap SnapshotRecord) (int64, error)
	Latest(ctx context.Context) (SnapshotRecord, error)
	Prune(ctx context.Context, keep int) (int64, error)
}

// AuditEntry is one row of the operational audit log.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of maintenance actions such
// as archive runs and snapshot restores.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
