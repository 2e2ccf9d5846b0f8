package handler

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StatusSource exposes the identity and progress of the running engine.
type StatusSource interface {
	Accounts() map[string]common.Address
	LastEventID() uint64
}

// StatusHandler serves the engine status for dashboards.
type StatusHandler struct {
	src       StatusSource
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(src StatusSource, startedAt time.Time) *StatusHandler {
	return &StatusHandler{src: src, startedAt: startedAt}
}

// GetStatus responds with the component accounts, newest event and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	accounts := make(map[string]string)
	for name, addr := range h.src.Accounts() {
		accounts[name] = addr.Hex()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts":       accounts,
		"last_event_id":  h.src.LastEventID(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
