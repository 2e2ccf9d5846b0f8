package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// EventSource returns in-memory events after an ID.
type EventSource interface {
	Events(afterID uint64, limit int) []domain.Event
}

// EventHandler serves the engine event log.
type EventHandler struct {
	live   EventSource
	store  domain.EventStore
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler. store may be nil; when set it
// answers requests for history that has left memory.
func NewEventHandler(live EventSource, store domain.EventStore, logger *slog.Logger) *EventHandler {
	return &EventHandler{live: live, store: store, logger: logger.With(slog.String("handler", "events"))}
}

// List returns events with an ID greater than after, oldest first.
// GET /api/events?after=0&limit=50
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be an event id")
			return
		}
		after = n
	}

	events := h.live.Events(after, opts.Limit)
	// The in-memory log is trimmed once events are dispatched; a gap between
	// after and the first live event means the store must answer.
	if h.store != nil && (len(events) == 0 || events[0].ID > after+1) {
		stored, err := h.store.ListAfter(r.Context(), after, opts.Limit)
		if err != nil {
			writeDomainError(w, r, h.logger, "list events", err)
			return
		}
		if len(stored) > 0 {
			events = stored
		}
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
