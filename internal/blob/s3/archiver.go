package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// EventArchiveStore is the part of the event store the archiver needs.
type EventArchiveStore interface {
	// ListBefore returns events recorded strictly before the cutoff in ID
	// order.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error)
	// DeleteThrough removes every event with an ID at most lastID.
	DeleteThrough(ctx context.Context, lastID uint64) (int64, error)
}

// EventArchiver implements domain.Archiver. It serialises old events to
// JSONL, uploads them and, when pruning is enabled, deletes the archived rows
// only after the upload succeeded.
type EventArchiver struct {
	writer domain.BlobWriter
	events EventArchiveStore
	audit  domain.AuditStore
	prune  bool
}

var _ domain.Archiver = (*EventArchiver)(nil)

// NewEventArchiver creates an EventArchiver. audit may be nil.
func NewEventArchiver(writer domain.BlobWriter, events EventArchiveStore, audit domain.AuditStore, prune bool) *EventArchiver {
	return &EventArchiver{writer: writer, events: events, audit: audit, prune: prune}
}

// ArchiveEvents uploads every event before the cutoff to
// archive/events/YYYY-MM/<first>-<last>.jsonl and returns how many were
// archived.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}
	first, last := events[0].ID, events[len(events)-1].ID
	path := archivePath(before, first, last)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}
	count := int64(len(events))

	var pruned int64
	if a.prune {
		if pruned, err = a.events.DeleteThrough(ctx, last); err != nil {
			return count, fmt.Errorf("s3blob: archive events prune: %w", err)
		}
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.events", map[string]any{
			"path":     path,
			"count":    count,
			"first_id": first,
			"last_id":  last,
			"pruned":   pruned,
			"before":   before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive events audit log: %w", err)
		}
	}
	return count, nil
}

// archivePath partitions archives by the cutoff's year-month, e.g.
//
//	archive/events/2026-06/00000000000000000001-00000000000000004096.jsonl
func archivePath(before time.Time, first, last uint64) string {
	return fmt.Sprintf("archive/events/%s/%020d-%020d.jsonl", before.UTC().Format("2006-01"), first, last)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
