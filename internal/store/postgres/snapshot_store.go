package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. Snapshot
// bodies are stored as JSONB.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Save inserts a snapshot and returns its ID.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.SnapshotRecord) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO engine_snapshots (last_event_id, data, created_at) VALUES ($1, $2, $3) RETURNING id`,
		int64(snap.LastEventID), snap.Data, snap.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: save snapshot: %w", err)
	}
	return id, nil
}

// Latest returns the most recent snapshot or domain.ErrNotFound.
func (s *SnapshotStore) Latest(ctx context.Context) (domain.SnapshotRecord, error) {
	var (
		rec    domain.SnapshotRecord
		lastID int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, last_event_id, data, created_at FROM engine_snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&rec.ID, &lastID, &rec.Data, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SnapshotRecord{}, fmt.Errorf("postgres: latest snapshot: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("postgres: latest snapshot: %w", err)
	}
	rec.LastEventID = uint64(lastID)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

// Prune deletes all but the newest keep snapshots.
func (s *SnapshotStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		return 0, fmt.Errorf("postgres: prune snapshots: keep must be positive")
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM engine_snapshots
		WHERE id NOT IN (SELECT id FROM engine_snapshots ORDER BY id DESC LIMIT $1)`, keep)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
