package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a new DecisionStore backed by the given pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

const decisionSelectCols = `id, instrument, action, from_state, to_state,
	ratio, bid_weighted, ask_weighted, reason, decided_at`

func scanDecision(row pgx.Row) (domain.Decision, error) {
	var d domain.Decision
	var action, from, to string
	err := row.Scan(
		&d.ID, &d.Instrument, &action, &from, &to,
		&d.Imbalance.Ratio, &d.Imbalance.BidWeighted, &d.Imbalance.AskWeighted,
		&d.Reason, &d.DecidedAt,
	)
	if err != nil {
		return domain.Decision{}, err
	}
	d.Action = domain.Action(action)
	d.From = domain.PositionState(from)
	d.To = domain.PositionState(to)
	return d, nil
}

// Insert stores d. Re-inserting the same id is a no-op.
func (s *DecisionStore) Insert(ctx context.Context, d domain.Decision) error {
	const query = `
		INSERT INTO decisions (
			id, instrument, action, from_state, to_state,
			ratio, bid_weighted, ask_weighted, reason, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		d.ID, d.Instrument, string(d.Action), string(d.From), string(d.To),
		d.Imbalance.Ratio, d.Imbalance.BidWeighted, d.Imbalance.AskWeighted,
		d.Reason, d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert decision %s: %w", d.ID, err)
	}
	return nil
}

// ListRecent returns decisions newest first. An empty instrument lists all.
func (s *DecisionStore) ListRecent(ctx context.Context, instrument string, opts domain.ListOpts) ([]domain.Decision, error) {
	query, args := newListQuery(`SELECT `+decisionSelectCols+` FROM decisions`, "decided_at DESC").
		eq("instrument", instrument).
		window("decided_at", opts).
		build(opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan decision: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list decisions rows: %w", err)
	}
	return out, nil
}

// LatestState returns the to_state of the newest decision for instrument,
// or domain.ErrNotFound.
func (s *DecisionStore) LatestState(ctx context.Context, instrument string) (domain.PositionState, error) {
	var state string
	err := s.pool.QueryRow(ctx,
		`SELECT to_state FROM decisions WHERE instrument = $1 ORDER BY decided_at DESC LIMIT 1`,
		instrument,
	).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Flat, domain.ErrNotFound
	}
	if err != nil {
		return domain.Flat, fmt.Errorf("postgres: latest state %s: %w", instrument, err)
	}
	return domain.ParsePositionState(state)
}

// Compile-time interface check.
var _ domain.DecisionStore = (*DecisionStore)(nil)
