package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// AuditStore implements domain.AuditStore over the audit_log table. Tracker
// halts and position changes land here, keyed by instrument.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an event. The instrument column is taken from
// detail["instrument"] so listings can filter without touching JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	inst, payload, err := auditRow(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	const q = `INSERT INTO audit_log (event, instrument, detail) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, event, inst, payload); err != nil {
		return fmt.Errorf("postgres: audit %s %s: %w", event, inst, err)
	}
	return nil
}

// List returns matching entries newest first.
func (s *AuditStore) List(ctx context.Context, filter domain.AuditFilter, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := auditListQuery(filter, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &e.Instrument, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: audit %d detail: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	return out, nil
}

func auditListQuery(filter domain.AuditFilter, opts domain.ListOpts) (string, []any) {
	return newListQuery(`SELECT id, event, instrument, detail, created_at FROM audit_log`, "created_at DESC, id DESC").
		eq("instrument", filter.Instrument).
		eq("event", filter.Event).
		window("created_at", opts).
		build(opts)
}

// auditRow splits detail into the instrument column and the JSONB payload.
// A nil detail stores SQL NULL.
func auditRow(detail map[string]any) (string, []byte, error) {
	if detail == nil {
		return "", nil, nil
	}
	inst, _ := detail["instrument"].(string)
	payload, err := json.Marshal(detail)
	if err != nil {
		return "", nil, fmt.Errorf("marshal detail: %w", err)
	}
	return inst, payload, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
