package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// SnapshotPrefix is the object-storage prefix for snapshot backups.
const SnapshotPrefix = "snapshots/"

// Persister writes engine snapshots to the snapshot store and, when a blob
// writer is configured, backs each one up to object storage.
type Persister struct {
	engine *Engine
	store  domain.SnapshotStore
	blobs  domain.BlobWriter
	keep   int
	logger *slog.Logger
}

// NewPersister creates a Persister. keep bounds how many snapshots the store
// retains; zero disables pruning. blobs may be nil.
func NewPersister(e *Engine, store domain.SnapshotStore, blobs domain.BlobWriter, keep int, logger *slog.Logger) *Persister {
	return &Persister{
		engine: e,
		store:  store,
		blobs:  blobs,
		keep:   keep,
		logger: logger.With(slog.String("component", "snapshot_persister")),
	}
}

func snapshotPath(snap Snapshot) string {
	return fmt.Sprintf("%s%s-%020d.json", SnapshotPrefix, snap.TakenAt.Format("20060102T150405Z"), snap.LastEventID)
}

// Save takes and persists one snapshot.
func (p *Persister) Save(ctx context.Context) (domain.SnapshotRecord, error) {
	snap := p.engine.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("engine: marshal snapshot: %w", err)
	}
	rec := domain.SnapshotRecord{
		LastEventID: snap.LastEventID,
		Data:        data,
		CreatedAt:   snap.TakenAt,
	}
	id, err := p.store.Save(ctx, rec)
	if err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("engine: save snapshot: %w", err)
	}
	rec.ID = id

	if p.blobs != nil {
		path := snapshotPath(snap)
		if err := p.blobs.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
			// The store copy is authoritative; a missing backup is not fatal.
			p.logger.Warn("snapshot backup failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	if p.keep > 0 {
		pruned, err := p.store.Prune(ctx, p.keep)
		if err != nil {
			p.logger.Warn("snapshot prune failed", slog.String("error", err.Error()))
		} else if pruned > 0 {
			p.logger.Debug("snapshots pruned", slog.Int64("count", pruned))
		}
	}
	p.logger.Info("snapshot saved",
		slog.Int64("id", id),
		slog.Uint64("last_event_id", snap.LastEventID),
		slog.Int("bytes", len(data)),
	)
	return rec, nil
}

// LoadLatest returns the newest snapshot from the store, falling back to the
// newest object-storage backup. It returns domain.ErrNotFound when neither
// source has one. Either source may be nil.
func LoadLatest(ctx context.Context, store domain.SnapshotStore, blobs domain.BlobReader) (Snapshot, error) {
	var storeErr error
	if store != nil {
		rec, err := store.Latest(ctx)
		if err == nil {
			return decodeSnapshot(rec.Data)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			storeErr = err
		}
	}
	if blobs != nil {
		snap, err := latestBackup(ctx, blobs)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return Snapshot{}, errors.Join(storeErr, err)
		}
	}
	if storeErr != nil {
		return Snapshot{}, fmt.Errorf("engine: load snapshot: %w", storeErr)
	}
	return Snapshot{}, fmt.Errorf("engine: load snapshot: %w", domain.ErrNotFound)
}

func latestBackup(ctx context.Context, blobs domain.BlobReader) (Snapshot, error) {
	infos, err := blobs.List(ctx, SnapshotPrefix)
	if err != nil {
		return Snapshot{}, fmt.Errorf("engine: list snapshot backups: %w", err)
	}
	infos = slices.DeleteFunc(infos, func(b domain.BlobInfo) bool { return !strings.HasSuffix(b.Path, ".json") })
	if len(infos) == 0 {
		return Snapshot{}, domain.ErrNotFound
	}
	// Paths sort by capture time.
	latest := slices.MaxFunc(infos, func(a, b domain.BlobInfo) int { return strings.Compare(a.Path, b.Path) })
	rc, err := blobs.Get(ctx, latest.Path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("engine: get snapshot backup %s: %w", latest.Path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Snapshot{}, fmt.Errorf("engine: read snapshot backup %s: %w", latest.Path, err)
	}
	return decodeSnapshot(data)
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("engine: decode snapshot: %w", err)
	}
	return snap, nil
}
