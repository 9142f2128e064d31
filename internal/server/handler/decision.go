package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// RecentDecisions is the in-memory ring of the running engine.
type RecentDecisions interface {
	RecentDecisions(limit int) []domain.Decision
}

// DecisionHandler serves GET /api/decisions and GET /api/metrics/{instrument}.
type DecisionHandler struct {
	store   domain.DecisionStore
	metrics domain.MetricsStore
	recent  RecentDecisions
	logger  *slog.Logger
}

// NewDecisionHandler creates a DecisionHandler. With no store, decisions
// come from the in-memory ring.
func NewDecisionHandler(store domain.DecisionStore, metrics domain.MetricsStore, recent RecentDecisions, logger *slog.Logger) *DecisionHandler {
	return &DecisionHandler{
		store:   store,
		metrics: metrics,
		recent:  recent,
		logger:  logger.With(slog.String("handler", "decisions")),
	}
}

// ListDecisions returns decisions newest first, optionally filtered by
// ?instrument=.
func (h *DecisionHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since/until must be RFC3339")
		return
	}
	inst := r.URL.Query().Get("instrument")

	if h.store != nil {
		out, err := h.store.ListRecent(r.Context(), inst, opts)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list decisions failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list decisions")
			return
		}
		writeJSON(w, http.StatusOK, nonNil(out))
		return
	}

	var out []domain.Decision
	if h.recent != nil {
		for _, d := range h.recent.RecentDecisions(opts.Offset + opts.Limit) {
			if inst == "" || d.Instrument == inst {
				out = append(out, d)
			}
		}
		out = out[min(opts.Offset, len(out)):]
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

// ListMetrics returns the stored per-cycle records of an instrument,
// oldest first.
func (h *DecisionHandler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeError(w, http.StatusNotImplemented, "metrics store not configured")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since/until must be RFC3339")
		return
	}
	out, err := h.metrics.ListRange(r.Context(), r.PathValue("instrument"), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list metrics failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list metrics")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
