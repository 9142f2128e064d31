package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// AuditHandler serves GET /api/audit.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler. A nil store answers 501.
func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logger.With(slog.String("handler", "audit"))}
}

// ListAudit returns audit entries newest first, optionally filtered by
// ?event= and ?instrument=.
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "audit store not configured")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since/until must be RFC3339")
		return
	}
	q := r.URL.Query()
	filter := domain.AuditFilter{Event: q.Get("event"), Instrument: q.Get("instrument")}

	out, err := h.store.List(r.Context(), filter, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}
