package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awachter/soltrader/internal/domain"
)

// PositionStore persists positions and partial-close rows in PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a position store backed by the given client.
func NewPositionStore(client *Client) *PositionStore {
	return &PositionStore{pool: client.Pool()}
}

const positionColumns = `
	id, mint, symbol, entry_price, current_price, highest_price, lowest_price,
	amount, amount_sol, entry_time, last_update, stop_loss, trailing_stop,
	initial_recovered, scaled_exits_taken, initial_investment, realized_pnl,
	status, pool, take_profit_levels`

// Upsert inserts or replaces the full mutable state of a position.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	levels, err := json.Marshal(pos.TakeProfitLevels)
	if err != nil {
		return fmt.Errorf("position store: marshal take profit levels: %w", err)
	}

	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			current_price = EXCLUDED.current_price,
			highest_price = EXCLUDED.highest_price,
			lowest_price = EXCLUDED.lowest_price,
			amount = EXCLUDED.amount,
			last_update = EXCLUDED.last_update,
			stop_loss = EXCLUDED.stop_loss,
			trailing_stop = EXCLUDED.trailing_stop,
			initial_recovered = EXCLUDED.initial_recovered,
			scaled_exits_taken = EXCLUDED.scaled_exits_taken,
			realized_pnl = EXCLUDED.realized_pnl,
			status = EXCLUDED.status,
			take_profit_levels = EXCLUDED.take_profit_levels`

	_, err = s.pool.Exec(ctx, query,
		pos.ID, pos.Mint, pos.Symbol, pos.EntryPrice, pos.CurrentPrice,
		pos.HighestPrice, pos.LowestPrice, pos.Amount, pos.AmountSol,
		pos.EntryTime, pos.LastUpdate, pos.StopLoss, pos.TrailingStop,
		pos.InitialRecovered, pos.ScaledExitsTaken, pos.InitialInvestment,
		pos.RealizedPnl, string(pos.Status), string(pos.Pool), levels,
	)
	if err != nil {
		return fmt.Errorf("position store: upsert %s: %w", pos.ID, err)
	}
	return nil
}

// Close marks a position closed with its final exit price, reason, and
// realized PnL.
func (s *PositionStore) Close(ctx context.Context, id string, exitPrice float64, reason domain.CloseReason, realizedPnl float64) error {
	query := `
		UPDATE positions
		SET status = $2, exit_price = $3, close_reason = $4,
		    realized_pnl = $5, closed_at = NOW(), last_update = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		id, string(domain.PositionStatusClosed), exitPrice, string(reason), realizedPnl,
	)
	if err != nil {
		return fmt.Errorf("position store: close %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position store: close %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches a single position by id.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	pos, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("position store: get %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("position store: get %s: %w", id, err)
	}
	return pos, nil
}

// ListOpen returns every position that is not closed, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions WHERE status <> $1 ORDER BY entry_time ASC`

	rows, err := s.pool.Query(ctx, query, string(domain.PositionStatusClosed))
	if err != nil {
		return nil, fmt.Errorf("position store: list open: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("position store: list open: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

// InsertPartialClose records one partial exit slice.
func (s *PositionStore) InsertPartialClose(ctx context.Context, rec domain.PartialCloseRecord) error {
	query := `
		INSERT INTO partial_closes
			(id, position_id, mint, sold_amount, sol_received, price, pnl, reason, signature, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.PositionID, rec.Mint, rec.SoldAmount, rec.SolReceived,
		rec.Price, rec.Pnl, string(rec.Reason), rec.Signature, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("position store: insert partial close %s: %w", rec.ID, err)
	}
	return nil
}

// PartialClosePnl sums the realized PnL of all partial closes for a position.
func (s *PositionStore) PartialClosePnl(ctx context.Context, positionID string) (float64, error) {
	query := `SELECT COALESCE(SUM(pnl), 0) FROM partial_closes WHERE position_id = $1`

	var total float64
	if err := s.pool.QueryRow(ctx, query, positionID).Scan(&total); err != nil {
		return 0, fmt.Errorf("position store: partial close pnl %s: %w", positionID, err)
	}
	return total, nil
}

// ListClosedBefore returns positions closed before the given time, for
// archival.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE status = $1 AND closed_at < $2
		ORDER BY closed_at ASC`

	rows, err := s.pool.Query(ctx, query, string(domain.PositionStatusClosed), before)
	if err != nil {
		return nil, fmt.Errorf("position store: list closed before: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("position store: list closed before: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

// ListPartialClosesBefore returns partial-close rows created before the given
// time, for archival.
func (s *PositionStore) ListPartialClosesBefore(ctx context.Context, before time.Time) ([]domain.PartialCloseRecord, error) {
	query := `
		SELECT id, position_id, mint, sold_amount, sol_received, price, pnl, reason, signature, created_at
		FROM partial_closes
		WHERE created_at < $1
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("position store: list partial closes before: %w", err)
	}
	defer rows.Close()

	var out []domain.PartialCloseRecord
	for rows.Next() {
		var rec domain.PartialCloseRecord
		var reason string
		err := rows.Scan(
			&rec.ID, &rec.PositionID, &rec.Mint, &rec.SoldAmount,
			&rec.SolReceived, &rec.Price, &rec.Pnl, &reason,
			&rec.Signature, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("position store: list partial closes before: %w", err)
		}
		rec.Reason = domain.CloseReason(reason)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var pos domain.Position
	var status, pool string
	var levels []byte
	err := row.Scan(
		&pos.ID, &pos.Mint, &pos.Symbol, &pos.EntryPrice, &pos.CurrentPrice,
		&pos.HighestPrice, &pos.LowestPrice, &pos.Amount, &pos.AmountSol,
		&pos.EntryTime, &pos.LastUpdate, &pos.StopLoss, &pos.TrailingStop,
		&pos.InitialRecovered, &pos.ScaledExitsTaken, &pos.InitialInvestment,
		&pos.RealizedPnl, &status, &pool, &levels,
	)
	if err != nil {
		return domain.Position{}, err
	}
	pos.Status = domain.PositionStatus(status)
	pos.Pool = domain.PoolType(pool)
	if len(levels) > 0 {
		if err := json.Unmarshal(levels, &pos.TakeProfitLevels); err != nil {
			return domain.Position{}, fmt.Errorf("unmarshal take profit levels: %w", err)
		}
	}
	return pos, nil
}
