package database

import (
	"time"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
)

// Trade status values
const (
	// TradeStatusOpen marks a BUY whose round-trip has not closed yet
	TradeStatusOpen = "OPEN"
	// TradeStatusClosed marks a BUY whose outcome has been persisted
	TradeStatusClosed = "CLOSED"
	// TradeStatusFilled marks a SELL
	TradeStatusFilled = "FILLED"
)

// Trade is one executed order in the trade log. A round-trip is a BUY
// followed by its SELL; the SELL carries the realized P&L and the BUY gets
// the same P&L attached once the outcome is persisted.
type Trade struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id,omitempty"`
	Symbol     string        `json:"symbol"`
	Side       exchange.Side `json:"side"`
	Price      float64       `json:"price"`
	Quantity   float64       `json:"quantity"`
	ProfitLoss *float64      `json:"profit_loss,omitempty"`
	ExecutedAt time.Time     `json:"executed_at"`
	ClosedAt   *time.Time    `json:"closed_at,omitempty"`
	OrderID    string        `json:"order_id,omitempty"`
	TestMode   bool          `json:"test_mode"`
	Status     string        `json:"status"`
	Reason     string        `json:"reason,omitempty"`
}

// IsOpenBuy reports whether the trade is a BUY still waiting for its exit
func (t *Trade) IsOpenBuy() bool {
	return t.Side == exchange.SideBuy && t.Status == TradeStatusOpen && t.ClosedAt == nil
}

func (t *Trade) normalize() {
	if t.ID == "" {
		t.ID = NewTradeID()
	}
	if t.ExecutedAt.IsZero() {
		t.ExecutedAt = time.Now()
	}
	t.ExecutedAt = t.ExecutedAt.UTC()
	if t.Status == "" {
		if t.Side == exchange.SideBuy {
			t.Status = TradeStatusOpen
		} else {
			t.Status = TradeStatusFilled
		}
	}
}
