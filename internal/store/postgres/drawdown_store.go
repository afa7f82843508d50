package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awachter/soltrader/internal/domain"
)

// DrawdownStore persists the circuit-breaker state as a single row, so the
// guard survives restarts with its peak and pause intact.
type DrawdownStore struct {
	pool *pgxpool.Pool
}

var _ domain.DrawdownStore = (*DrawdownStore)(nil)

// NewDrawdownStore creates a drawdown store backed by the given client.
func NewDrawdownStore(client *Client) *DrawdownStore {
	return &DrawdownStore{pool: client.Pool()}
}

// Load returns the persisted state, or ErrNotFound when none was saved yet.
func (s *DrawdownStore) Load(ctx context.Context) (domain.DrawdownState, error) {
	query := `
		SELECT current_equity, peak_equity, current_drawdown, max_drawdown,
		       daily_pnl, daily_start_equity, day, is_paused, pause_until,
		       pause_reason, updated_at
		FROM drawdown_state WHERE id = 1`

	var st domain.DrawdownState
	var pauseUntil *time.Time
	err := s.pool.QueryRow(ctx, query).Scan(
		&st.CurrentEquity, &st.PeakEquity, &st.CurrentDrawdown, &st.MaxDrawdown,
		&st.DailyPnl, &st.DailyStartEquity, &st.Day, &st.IsPaused, &pauseUntil,
		&st.PauseReason, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DrawdownState{}, fmt.Errorf("drawdown store: load: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.DrawdownState{}, fmt.Errorf("drawdown store: load: %w", err)
	}
	if pauseUntil != nil {
		st.PauseUntil = *pauseUntil
	}
	return st, nil
}

// Save upserts the single state row.
func (s *DrawdownStore) Save(ctx context.Context, st domain.DrawdownState) error {
	query := `
		INSERT INTO drawdown_state
			(id, current_equity, peak_equity, current_drawdown, max_drawdown,
			 daily_pnl, daily_start_equity, day, is_paused, pause_until,
			 pause_reason, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			current_equity = EXCLUDED.current_equity,
			peak_equity = EXCLUDED.peak_equity,
			current_drawdown = EXCLUDED.current_drawdown,
			max_drawdown = EXCLUDED.max_drawdown,
			daily_pnl = EXCLUDED.daily_pnl,
			daily_start_equity = EXCLUDED.daily_start_equity,
			day = EXCLUDED.day,
			is_paused = EXCLUDED.is_paused,
			pause_until = EXCLUDED.pause_until,
			pause_reason = EXCLUDED.pause_reason,
			updated_at = EXCLUDED.updated_at`

	var pauseUntil *time.Time
	if !st.PauseUntil.IsZero() {
		pauseUntil = &st.PauseUntil
	}

	_, err := s.pool.Exec(ctx, query,
		st.CurrentEquity, st.PeakEquity, st.CurrentDrawdown, st.MaxDrawdown,
		st.DailyPnl, st.DailyStartEquity, st.Day, st.IsPaused, pauseUntil,
		st.PauseReason, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("drawdown store: save: %w", err)
	}
	return nil
}

// SaveDailyStats records the closing snapshot for one trading day.
func (s *DrawdownStore) SaveDailyStats(ctx context.Context, stats domain.DailyStats) error {
	query := `
		INSERT INTO daily_stats
			(day, start_equity, close_equity, pnl, max_drawdown, trading_paused)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (day) DO UPDATE SET
			close_equity = EXCLUDED.close_equity,
			pnl = EXCLUDED.pnl,
			max_drawdown = EXCLUDED.max_drawdown,
			trading_paused = EXCLUDED.trading_paused`

	_, err := s.pool.Exec(ctx, query,
		stats.Day, stats.StartEquity, stats.CloseEquity,
		stats.Pnl, stats.MaxDrawdown, stats.TradingPaused,
	)
	if err != nil {
		return fmt.Errorf("drawdown store: save daily stats %s: %w", stats.Day, err)
	}
	return nil
}
