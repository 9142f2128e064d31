package handler

import (
	"net/http"

	"github.com/alanyoungcy/bookimbalance/internal/strategy"
)

// StatusSource lists tracker states.
type StatusSource interface {
	Statuses() []strategy.TrackerStatus
}

// StatusHandler serves GET /api/status.
type StatusHandler struct {
	mode   string
	source StatusSource
}

// NewStatusHandler creates a StatusHandler. source may be nil in monitor
// mode.
func NewStatusHandler(mode string, source StatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, source: source}
}

// GetStatus reports the run mode and every tracker.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	trackers := []strategy.TrackerStatus{}
	if h.source != nil {
		trackers = append(trackers, h.source.Statuses()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":     h.mode,
		"trackers": trackers,
	})
}
