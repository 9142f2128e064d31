package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// DecisionStore persists evaluation-cycle decisions.
type DecisionStore interface {
	Insert(ctx context.Context, d Decision) error
	ListRecent(ctx context.Context, instrument string, opts ListOpts) ([]Decision, error)
	LatestState(ctx context.Context, instrument string) (PositionState, error)
}

// MetricsStore persists the per-cycle observability record.
type MetricsStore interface {
	Insert(ctx context.Context, m BookMetrics) error
	ListRange(ctx context.Context, instrument string, opts ListOpts) ([]BookMetrics, error)
}

// Audit events.
const (
	AuditTrackerHalted   = "tracker_halted"
	AuditPositionChanged = "position_changed"
)

// AuditEntry is a single audit log row. Instrument is lifted from the
// "instrument" key of Detail when present.
type AuditEntry struct {
	ID         int64          `json:"id"`
	Event      string         `json:"event"`
	Instrument string         `json:"instrument,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditFilter narrows an audit listing. Empty fields match everything.
type AuditFilter struct {
	Event      string
	Instrument string
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, filter AuditFilter, opts ListOpts) ([]AuditEntry, error)
}
