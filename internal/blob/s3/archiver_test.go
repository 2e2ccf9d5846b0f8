package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	fail    error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.fail != nil {
		return w.fail
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

type memEvents struct {
	events  []domain.Event
	deleted uint64
}

func (m *memEvents) ListBefore(_ context.Context, before time.Time) ([]domain.Event, error) {
	var out []domain.Event
	for _, ev := range m.events {
		if ev.Timestamp.Before(before) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memEvents) DeleteThrough(_ context.Context, lastID uint64) (int64, error) {
	var n int64
	kept := m.events[:0]
	for _, ev := range m.events {
		if ev.ID <= lastID {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	m.deleted = lastID
	return n, nil
}

type memAudit struct{ entries []domain.AuditEntry }

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.entries = append(m.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return m.entries, nil
}

func sampleEvents() []domain.Event {
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Event, 5)
	for i := range out {
		out[i] = domain.Event{
			ID:        uint64(i + 1),
			Kind:      domain.EventBetPlaced,
			Payload:   map[string]any{"id": float64(i)},
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestArchiveEventsUploadsAndPrunes(t *testing.T) {
	w := &memWriter{}
	store := &memEvents{events: sampleEvents()}
	audit := &memAudit{}
	a := NewEventArchiver(w, store, audit, true)

	cutoff := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)
	n, err := a.ArchiveEvents(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	path := "archive/events/2026-06/00000000000000000001-00000000000000000003.jsonl"
	require.Contains(t, w.objects, path)
	var lines []domain.Event
	sc := bufio.NewScanner(bytes.NewReader(w.objects[path]))
	for sc.Scan() {
		var ev domain.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		lines = append(lines, ev)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, uint64(3), lines[2].ID)

	assert.Equal(t, uint64(3), store.deleted)
	assert.Len(t, store.events, 2)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "archive.events", audit.entries[0].Event)
}

func TestArchiveEventsKeepsRowsWhenUploadFails(t *testing.T) {
	w := &memWriter{fail: errors.New("bucket unreachable")}
	store := &memEvents{events: sampleEvents()}
	a := NewEventArchiver(w, store, nil, true)

	_, err := a.ArchiveEvents(context.Background(), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Len(t, store.events, 5)
}

func TestArchiveEventsNothingToDo(t *testing.T) {
	w := &memWriter{}
	a := NewEventArchiver(w, &memEvents{}, nil, false)
	n, err := a.ArchiveEvents(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}
