package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// SnapshotSaver persists one engine snapshot on demand.
type SnapshotSaver interface {
	Save(ctx context.Context) (domain.SnapshotRecord, error)
}

// PipelineHandler serves administrator maintenance endpoints.
type PipelineHandler struct {
	admin    common.Address
	saver    SnapshotSaver
	archiver domain.Archiver
	retain   time.Duration
	logger   *slog.Logger
}

// NewPipelineHandler creates a PipelineHandler. saver and archiver may be
// nil when persistence or archiving is disabled.
func NewPipelineHandler(admin common.Address, saver SnapshotSaver, archiver domain.Archiver, retain time.Duration, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{
		admin:    admin,
		saver:    saver,
		archiver: archiver,
		retain:   retain,
		logger:   logger.With(slog.String("handler", "pipeline")),
	}
}

func (h *PipelineHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	from, ok := caller(w, r)
	if !ok {
		return false
	}
	if from != h.admin {
		writeDomainError(w, r, h.logger, "pipeline", domain.ErrNotAdmin)
		return false
	}
	return true
}

// TriggerSnapshot saves a snapshot immediately.
// POST /api/admin/snapshots
func (h *PipelineHandler) TriggerSnapshot(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	if h.saver == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshots are not configured")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: snapshot requested")
	rec, err := h.saver.Save(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "save snapshot", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":            rec.ID,
		"last_event_id": rec.LastEventID,
		"created_at":    rec.CreatedAt,
	})
}

// TriggerArchive archives events older than the retention window now.
// POST /api/admin/archive
func (h *PipelineHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	if h.archiver == nil {
		writeError(w, http.StatusServiceUnavailable, "archiving is not configured")
		return
	}
	cutoff := time.Now().UTC().Add(-h.retain)
	h.logger.InfoContext(r.Context(), "handler: archive requested", slog.Time("cutoff", cutoff))
	n, err := h.archiver.ArchiveEvents(r.Context(), cutoff)
	if err != nil {
		writeDomainError(w, r, h.logger, "archive events", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"archived": n,
		"cutoff":   cutoff.Format(time.RFC3339),
	})
}
