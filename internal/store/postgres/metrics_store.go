package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// MetricsStore implements domain.MetricsStore using PostgreSQL.
type MetricsStore struct {
	pool *pgxpool.Pool
}

// NewMetricsStore creates a new MetricsStore backed by the given pool.
func NewMetricsStore(pool *pgxpool.Pool) *MetricsStore {
	return &MetricsStore{pool: pool}
}

// Insert appends one per-cycle record.
func (s *MetricsStore) Insert(ctx context.Context, m domain.BookMetrics) error {
	const query = `
		INSERT INTO book_metrics (instrument, bid_l1, bid_l2, ask_l1, ask_l2, mid_price, ratio, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.pool.Exec(ctx, query,
		m.Instrument, m.BidL1, m.BidL2, m.AskL1, m.AskL2, m.MidPrice, m.Ratio, m.Timestamp,
	); err != nil {
		return fmt.Errorf("postgres: insert metrics %s: %w", m.Instrument, err)
	}
	return nil
}

// ListRange returns records for instrument, oldest first, for plotting.
func (s *MetricsStore) ListRange(ctx context.Context, instrument string, opts domain.ListOpts) ([]domain.BookMetrics, error) {
	query, args := newListQuery(
		`SELECT instrument, bid_l1, bid_l2, ask_l1, ask_l2, mid_price, ratio, observed_at FROM book_metrics`,
		"observed_at ASC",
	).eq("instrument", instrument).window("observed_at", opts).build(opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list metrics: %w", err)
	}
	defer rows.Close()

	var out []domain.BookMetrics
	for rows.Next() {
		var m domain.BookMetrics
		if err := rows.Scan(&m.Instrument, &m.BidL1, &m.BidL2, &m.AskL1, &m.AskL2, &m.MidPrice, &m.Ratio, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan metrics: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list metrics rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.MetricsStore = (*MetricsStore)(nil)
