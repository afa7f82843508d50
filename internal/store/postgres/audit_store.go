package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awachter/soltrader/internal/domain"
)

// AuditStore writes an append-only log of trading decisions and outcomes.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore creates an audit store backed by the given client.
func NewAuditStore(client *Client) *AuditStore {
	return &AuditStore{pool: client.Pool()}
}

// Log appends one audit row.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("audit store: marshal detail: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		"INSERT INTO audit_log (event, detail) VALUES ($1, $2)",
		event, payload,
	)
	if err != nil {
		return fmt.Errorf("audit store: log %s: %w", event, err)
	}
	return nil
}

// ListBefore returns audit rows created before the given time, for archival.
func (s *AuditStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	query := `
		SELECT id, event, detail, created_at
		FROM audit_log
		WHERE created_at < $1
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("audit store: list before: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		var detail []byte
		if err := rows.Scan(&entry.ID, &entry.Event, &detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit store: list before: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &entry.Detail); err != nil {
				return nil, fmt.Errorf("audit store: unmarshal detail: %w", err)
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
