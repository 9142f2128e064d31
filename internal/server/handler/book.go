package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// BookSource returns the live book of a tracked instrument.
type BookSource interface {
	Snapshot(instrument string, now time.Time) (domain.BookSnapshot, error)
}

// BookHandler serves GET /api/books/{instrument}. It reads the live tracker
// first and falls back to the shared cache, so monitor mode can serve books
// written by another process.
type BookHandler struct {
	live   BookSource
	cache  domain.BookCache
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler. Either source may be nil.
func NewBookHandler(live BookSource, cache domain.BookCache, logger *slog.Logger) *BookHandler {
	return &BookHandler{live: live, cache: cache, logger: logger.With(slog.String("handler", "books"))}
}

type bookResponse struct {
	Instrument string              `json:"instrument"`
	Timestamp  time.Time           `json:"timestamp"`
	Bids       []domain.PriceLevel `json:"bids"`
	Asks       []domain.PriceLevel `json:"asks"`
	Mid        string              `json:"mid,omitempty"`
	Source     string              `json:"source"`
}

// GetBook returns the top depth levels per side (default 10).
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	inst := r.PathValue("instrument")
	depth := 10
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "depth must be a positive integer")
			return
		}
		depth = n
	}

	snap, source, err := h.lookup(r, inst)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown instrument")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read book failed",
			slog.String("instrument", inst),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read book")
		return
	}

	resp := bookResponse{
		Instrument: inst,
		Timestamp:  snap.Timestamp,
		Bids:       head(snap.Bids, depth),
		Asks:       head(snap.Asks, depth),
		Source:     source,
	}
	if mid, ok := snap.MidPrice(); ok {
		resp.Mid = mid.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookHandler) lookup(r *http.Request, inst string) (domain.BookSnapshot, string, error) {
	if h.live != nil {
		snap, err := h.live.Snapshot(inst, time.Now().UTC())
		if err == nil {
			return snap, "live", nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return snap, "", err
		}
	}
	if h.cache != nil {
		snap, err := h.cache.GetSnapshot(r.Context(), inst)
		return snap, "cache", err
	}
	return domain.BookSnapshot{}, "", domain.ErrNotFound
}

func head(levels []domain.PriceLevel, n int) []domain.PriceLevel {
	if levels == nil {
		return []domain.PriceLevel{}
	}
	return levels[:min(n, len(levels))]
}
