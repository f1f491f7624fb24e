package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
)

// SQLiteSchema is the trade log layout of the local file store. Times are
// unix milliseconds.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL DEFAULT '',
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	price       REAL NOT NULL,
	quantity    REAL NOT NULL,
	profit_loss REAL,
	executed_at INTEGER NOT NULL,
	closed_at   INTEGER,
	order_id    TEXT NOT NULL DEFAULT '',
	test_mode   INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
`

const sqliteColumns = `id, session_id, symbol, side, price, quantity, profit_loss, executed_at, closed_at, order_id, test_mode, status, reason`

// SQLiteStore is a TradeLog in a local SQLite file
type SQLiteStore struct {
	db *sql.DB
}

var _ TradeLog = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the trade log at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// single writer keeps SQLITE_BUSY out of the hot path
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RecordTrade(ctx context.Context, trade *Trade) (string, error) {
	trade.normalize()

	var closedAt sql.NullInt64
	if trade.ClosedAt != nil {
		closedAt = sql.NullInt64{Int64: trade.ClosedAt.UnixMilli(), Valid: true}
	}
	var pnl sql.NullFloat64
	if trade.ProfitLoss != nil {
		pnl = sql.NullFloat64{Float64: *trade.ProfitLoss, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (`+sqliteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.SessionID, trade.Symbol, string(trade.Side), trade.Price, trade.Quantity,
		pnl, trade.ExecutedAt.UnixMilli(), closedAt, trade.OrderID, trade.TestMode, trade.Status, trade.Reason,
	)
	if err != nil {
		return "", fmt.Errorf("insert trade: %w", err)
	}
	return trade.ID, nil
}

func (s *SQLiteStore) PersistRoundTripOutcome(ctx context.Context, tradeID string, profitLoss float64, closedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trades SET profit_loss = ?, closed_at = ?, status = ? WHERE id = ?`,
		profitLoss, closedAt.UnixMilli(), TradeStatusClosed, tradeID,
	)
	if err != nil {
		return fmt.Errorf("update trade %s: %w", tradeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTradeNotFound
	}
	return nil
}

func (s *SQLiteStore) TradesSince(ctx context.Context, since time.Time) ([]Trade, error) {
	return s.query(ctx,
		`SELECT `+sqliteColumns+` FROM trades WHERE executed_at >= ? ORDER BY executed_at, id`,
		since.UnixMilli())
}

func (s *SQLiteStore) OpenTrades(ctx context.Context) ([]Trade, error) {
	return s.query(ctx,
		`SELECT `+sqliteColumns+` FROM trades WHERE side = ? AND status = ? AND closed_at IS NULL ORDER BY executed_at, id`,
		string(exchange.SideBuy), TradeStatusOpen)
}

// HealthCheck pings the database file
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...interface{}) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var (
			t          Trade
			side       string
			pnl        sql.NullFloat64
			executedAt int64
			closedAt   sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Symbol, &side, &t.Price, &t.Quantity,
			&pnl, &executedAt, &closedAt, &t.OrderID, &t.TestMode, &t.Status, &t.Reason); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = exchange.Side(side)
		t.ExecutedAt = time.UnixMilli(executedAt).UTC()
		if pnl.Valid {
			v := pnl.Float64
			t.ProfitLoss = &v
		}
		if closedAt.Valid {
			v := time.UnixMilli(closedAt.Int64).UTC()
			t.ClosedAt = &v
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
