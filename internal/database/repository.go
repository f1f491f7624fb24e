package database

import (
	"context"
	"fmt"
	"time"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
)

// Repository is the PostgreSQL TradeLog
type Repository struct {
	db *DB
}

var _ TradeLog = (*Repository)(nil)

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

const tradeColumns = `id, session_id, symbol, side, price, quantity, profit_loss, executed_at, closed_at, order_id, test_mode, status, reason`

// ============================================================================
// TRADES
// ============================================================================

// RecordTrade inserts a trade and returns its id
func (r *Repository) RecordTrade(ctx context.Context, trade *Trade) (string, error) {
	trade.normalize()

	query := `
		INSERT INTO trades (` + tradeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		trade.ID, trade.SessionID, trade.Symbol, string(trade.Side), trade.Price, trade.Quantity,
		trade.ProfitLoss, trade.ExecutedAt, trade.ClosedAt, trade.OrderID, trade.TestMode,
		trade.Status, trade.Reason,
	)
	if err != nil {
		return "", fmt.Errorf("insert trade: %w", err)
	}
	return trade.ID, nil
}

// PersistRoundTripOutcome closes the BUY with its realized P&L
func (r *Repository) PersistRoundTripOutcome(ctx context.Context, tradeID string, profitLoss float64, closedAt time.Time) error {
	query := `
		UPDATE trades
		SET profit_loss = $2, closed_at = $3, status = $4
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, tradeID, profitLoss, closedAt.UTC(), TradeStatusClosed)
	if err != nil {
		return fmt.Errorf("update trade %s: %w", tradeID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTradeNotFound
	}
	return nil
}

// TradesSince returns trades executed at or after since, oldest first
func (r *Repository) TradesSince(ctx context.Context, since time.Time) ([]Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE executed_at >= $1
		ORDER BY executed_at, id
	`
	return r.queryTrades(ctx, query, since.UTC())
}

// OpenTrades retrieves BUYs still waiting for their exit
func (r *Repository) OpenTrades(ctx context.Context) ([]Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE side = $1 AND status = $2 AND closed_at IS NULL
		ORDER BY executed_at, id
	`
	return r.queryTrades(ctx, query, string(exchange.SideBuy), TradeStatusOpen)
}

// Close releases the pool
// HealthCheck pings the pool
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

func (r *Repository) Close() error {
	r.db.Close()
	return nil
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]Trade, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var (
			t    Trade
			side string
		)
		err := rows.Scan(
			&t.ID, &t.SessionID, &t.Symbol, &side, &t.Price, &t.Quantity,
			&t.ProfitLoss, &t.ExecutedAt, &t.ClosedAt, &t.OrderID, &t.TestMode,
			&t.Status, &t.Reason,
		)
		if err != nil {
			return nil, err
		}
		t.Side = exchange.Side(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
