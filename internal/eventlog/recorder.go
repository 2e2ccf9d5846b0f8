// Package eventlog keeps the authoritative in-memory engine event log and
// fans recorded events out to external sinks.
package eventlog

import (
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// DefaultRetention is how many dispatched events stay in memory.
const DefaultRetention = 10_000

// Recorder implements domain.Emitter. Emit never blocks: events are appended
// to the log and a dispatcher is woken through a one-slot channel.
type Recorder struct {
	mu        sync.Mutex
	events    []domain.Event
	lastID    uint64
	acked     uint64
	retention int
	nowFn     func() time.Time
	wake      chan struct{}
}

var _ domain.Emitter = (*Recorder)(nil)

// NewRecorder creates an empty log. Events whose ID is at most acked and
// that fall outside the newest retention events are dropped from memory.
func NewRecorder(retention int, nowFn func() time.Time) *Recorder {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Recorder{
		retention: retention,
		nowFn:     nowFn,
		wake:      make(chan struct{}, 1),
	}
}

// Emit appends an event. The payload map is copied.
func (r *Recorder) Emit(kind domain.EventKind, payload map[string]any) {
	r.mu.Lock()
	r.lastID++
	r.events = append(r.events, domain.Event{
		ID:        r.lastID,
		Kind:      kind,
		Payload:   maps.Clone(payload),
		Timestamp: r.nowFn().UTC(),
	})
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Wake returns the channel signalled after every Emit.
func (r *Recorder) Wake() <-chan struct{} { return r.wake }

// LastID returns the ID of the newest event.
func (r *Recorder) LastID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastID
}

// Resume continues numbering after lastID, typically the last event covered
// by a restored snapshot. Events at or below lastID count as dispatched.
func (r *Recorder) Resume(lastID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lastID > r.lastID {
		r.lastID = lastID
	}
	if lastID > r.acked {
		r.acked = lastID
	}
}

// Events returns up to limit events with an ID greater than afterID, oldest
// first. A non-positive limit returns everything available.
func (r *Recorder) Events(afterID uint64, limit int) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := sort.Search(len(r.events), func(i int) bool { return r.events[i].ID > afterID })
	n := len(r.events) - i
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]domain.Event, n)
	copy(out, r.events[i:i+n])
	return out
}

// Ack marks every event up to id as delivered to all sinks and trims the
// in-memory log to the retention window.
func (r *Recorder) Ack(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id > r.acked {
		r.acked = id
	}
	excess := len(r.events) - r.retention
	if excess <= 0 {
		return
	}
	drop := sort.Search(excess, func(i int) bool { return r.events[i].ID > r.acked })
	if drop > 0 {
		r.events = append(r.events[:0:0], r.events[drop:]...)
	}
}

// Pending returns the number of recorded events not yet acknowledged.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.lastID - r.acked)
}

func (r *Recorder) ackedID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acked
}
