package circuit

import (
	"context"
	"fmt"
	"time"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/database"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
)

// BuyLookback is how far before the window start BUYs are read so that SELLs
// early in the window can still be matched to their entry.
const BuyLookback = 24 * time.Hour

// OperationStats aggregates the closed round-trips of one day window
type OperationStats struct {
	LossStreak           int        `json:"loss_streak"`
	DailyPnL             float64    `json:"daily_pnl"`
	RoundTrips           int        `json:"round_trips"`
	Wins                 int        `json:"wins"`
	Losses               int        `json:"losses"`
	WindowStart          time.Time  `json:"window_start"`
	CircuitBreakerActive bool       `json:"circuit_breaker_active"`
	CircuitBreakerUntil  *time.Time `json:"circuit_breaker_until,omitempty"`
}

// RoundTrip is a SELL paired with its realized P&L
type RoundTrip struct {
	Symbol   string    `json:"symbol"`
	PnL      float64   `json:"pnl"`
	ClosedAt time.Time `json:"closed_at"`
}

// WindowStart returns the start of the UTC day containing now
func WindowStart(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RoundTrips pairs every SELL at or after windowStart with its P&L. A SELL
// without a recorded profit_loss is priced against the most recent earlier
// BUY of the same symbol; SELLs with neither are skipped. Trades must be
// ordered oldest first.
func RoundTrips(trades []database.Trade, windowStart time.Time) []RoundTrip {
	lastBuy := make(map[string]database.Trade)
	var out []RoundTrip

	for _, t := range trades {
		switch t.Side {
		case exchange.SideBuy:
			lastBuy[t.Symbol] = t
		case exchange.SideSell:
			if t.ExecutedAt.Before(windowStart) {
				continue
			}
			var pnl float64
			if t.ProfitLoss != nil {
				pnl = *t.ProfitLoss
			} else if buy, ok := lastBuy[t.Symbol]; ok {
				pnl = (t.Price - buy.Price) * t.Quantity
			} else {
				continue
			}
			out = append(out, RoundTrip{Symbol: t.Symbol, PnL: pnl, ClosedAt: t.ExecutedAt})
		}
	}
	return out
}

// ComputeStats derives the loss streak and daily P&L from the trade log.
// Open positions never contribute.
func ComputeStats(trades []database.Trade, windowStart time.Time) OperationStats {
	trips := RoundTrips(trades, windowStart)
	stats := OperationStats{RoundTrips: len(trips), WindowStart: windowStart}

	for _, rt := range trips {
		stats.DailyPnL += rt.PnL
		switch {
		case rt.PnL > 0:
			stats.Wins++
		case rt.PnL < 0:
			stats.Losses++
		}
	}

	for i := len(trips) - 1; i >= 0; i-- {
		if trips[i].PnL >= 0 {
			break
		}
		stats.LossStreak++
	}
	return stats
}

// TradeSource is the read side of the trade log
type TradeSource interface {
	TradesSince(ctx context.Context, since time.Time) ([]database.Trade, error)
}

// LoadStats reads today's window (plus the BUY lookback) from src and
// computes the stats for it.
func LoadStats(ctx context.Context, src TradeSource, now time.Time) (OperationStats, error) {
	windowStart := WindowStart(now)
	trades, err := src.TradesSince(ctx, windowStart.Add(-BuyLookback))
	if err != nil {
		return OperationStats{WindowStart: windowStart}, fmt.Errorf("read trade log: %w", err)
	}
	return ComputeStats(trades, windowStart), nil
}
