package position

import (
	"context"
	"errors"
	"fmt"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/strategy"
)

// EarlyExit configures the momentum-reversal exit taken while in profit
type EarlyExit struct {
	Enabled          bool    `json:"enabled" yaml:"enabled"`
	Lookback         int     `json:"lookback" yaml:"lookback"`
	DropPercent      float64 `json:"drop_percent" yaml:"drop_percent"`
	MinProfitPercent float64 `json:"min_profit_percent" yaml:"min_profit_percent"`
}

// ExitParams is the exit rule set for one position-check tick
type ExitParams struct {
	StopLossPercent   float64
	TakeProfitPercent float64
	Strategy          strategy.Strategy
	Tuning            strategy.Tuning
	MinConfidence     float64
	EarlyExit         EarlyExit
}

// QuoteFunc returns the current price of symbol
type QuoteFunc func(ctx context.Context, symbol string) (float64, error)

// SeriesFunc returns the analysis price series of symbol, oldest first
type SeriesFunc func(symbol string) []float64

// EvaluateExit decides whether pos should be closed at current. Rules, first
// match wins: hard stop-loss/take-profit, strategy sell at or above
// MinConfidence, momentum reversal while in profit.
func EvaluateExit(pos Position, current float64, series []float64, p ExitParams) (strategy.Signal, bool) {
	if sig, ok := strategy.CheckHardExit(current, pos.BuyPrice, p.StopLossPercent, p.TakeProfitPercent); ok {
		return sig, true
	}

	if p.Strategy != nil && len(series) > 0 {
		tuning := p.Tuning
		tuning.StopLossPercent = p.StopLossPercent
		tuning.TakeProfitPercent = p.TakeProfitPercent
		sig := p.Strategy.AnalyzeSell(series, pos.BuyPrice, tuning)
		if sig.Action == strategy.ActionSell && sig.Confidence >= p.MinConfidence {
			return sig, true
		}
	}

	if p.EarlyExit.Enabled && pos.BuyPrice > 0 {
		profit := (current - pos.BuyPrice) / pos.BuyPrice * 100
		if profit > p.EarlyExit.MinProfitPercent {
			if ok, drop := strategy.MomentumReversal(series, p.EarlyExit.Lookback, p.EarlyExit.DropPercent); ok {
				return strategy.Signal{
					Action:     strategy.ActionSell,
					Confidence: strategy.ConfidenceMedium,
					Reason:     fmt.Sprintf("momentum reversal: %.2f%% off peak, locking %.2f%% profit", drop, profit),
				}, true
			}
		}
	}

	return strategy.Signal{}, false
}

// CheckExits re-prices every open position and closes those whose exit rule
// fires. A failure on one symbol does not stop the others; a failed sell
// leaves the position open for the next tick.
func (m *Manager) CheckExits(ctx context.Context, quote QuoteFunc, series SeriesFunc, p ExitParams) []ClosedTrade {
	var closed []ClosedTrade

	for _, pos := range m.Snapshot() {
		if ctx.Err() != nil {
			break
		}

		price, err := quote(ctx, pos.Symbol)
		if err != nil {
			m.logger.Debug("No price for open position, retrying next tick", "symbol", pos.Symbol, "error", err)
			continue
		}

		sig, exit := EvaluateExit(pos, price, series(pos.Symbol), p)
		if !exit {
			continue
		}

		ct, err := m.close(ctx, pos.Symbol, price, sig.Reason)
		if err != nil {
			if !errors.Is(err, ErrPositionClosing) && !errors.Is(err, ErrNoPosition) {
				m.logger.Warn("Exit failed", "symbol", pos.Symbol, "reason", sig.Reason, "error", err)
			}
			continue
		}
		closed = append(closed, ct)
	}
	return closed
}
