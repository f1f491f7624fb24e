// Package strategy turns price series into trade decisions. Strategies are
// pure: every call depends only on the supplied prices and tuning.
package strategy

import (
	"fmt"
	"math"
)

// Action is a trade verdict
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Confidence levels used by the built-in rules
const (
	ConfidenceHard   = 1.0
	ConfidenceHigh   = 0.9
	ConfidenceMedium = 0.7
)

// Signal is a trade decision with its confidence and rationale
type Signal struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Hold builds a zero-confidence hold verdict
func Hold(reason string) Signal {
	return Signal{Action: ActionHold, Reason: reason}
}

// Tuning carries every threshold a strategy reads. The orchestrator derives
// one per tick from the session config and the active risk tier.
type Tuning struct {
	BBPeriod int     `json:"bb_period" yaml:"bb_period"`
	BBStdDev float64 `json:"bb_std_dev" yaml:"bb_std_dev"`

	RSIPeriod      int     `json:"rsi_period" yaml:"rsi_period"`
	RSIOversold    float64 `json:"rsi_oversold" yaml:"rsi_oversold"`
	RSIOverbought  float64 `json:"rsi_overbought" yaml:"rsi_overbought"`
	RSIExtremeLow  float64 `json:"rsi_extreme_low" yaml:"rsi_extreme_low"`
	RSIExtremeHigh float64 `json:"rsi_extreme_high" yaml:"rsi_extreme_high"`

	// multipliers applied to the bands before comparing the current price
	LowerBandTolerance float64 `json:"lower_band_tolerance" yaml:"lower_band_tolerance"`
	UpperBandTolerance float64 `json:"upper_band_tolerance" yaml:"upper_band_tolerance"`

	StopLossPercent   float64 `json:"stop_loss_percent" yaml:"stop_loss_percent"`
	TakeProfitPercent float64 `json:"take_profit_percent" yaml:"take_profit_percent"`

	MomentumWindow    int     `json:"momentum_window" yaml:"momentum_window"`
	MomentumLookback  int     `json:"momentum_lookback" yaml:"momentum_lookback"`
	MomentumThreshold float64 `json:"momentum_threshold" yaml:"momentum_threshold"`
}

// DefaultTuning returns the stock mean-reversion thresholds
func DefaultTuning() Tuning {
	return Tuning{
		BBPeriod:           20,
		BBStdDev:           2.0,
		RSIPeriod:          14,
		RSIOversold:        30,
		RSIOverbought:      70,
		RSIExtremeLow:      25,
		RSIExtremeHigh:     75,
		LowerBandTolerance: 1.002,
		UpperBandTolerance: 0.998,
		StopLossPercent:    2.5,
		TakeProfitPercent:  5.0,
		MomentumWindow:     3,
		MomentumLookback:   9,
		MomentumThreshold:  2.0,
	}
}

// Strategy is a buy/sell decision rule. One implementation is selected per session.
type Strategy interface {
	Name() string
	// MinDataPoints is the shortest series the strategy will evaluate
	MinDataPoints(t Tuning) int
	AnalyzeBuy(prices []float64, t Tuning) Signal
	// AnalyzeSell evaluates an exit; buyPrice <= 0 means no entry price is known
	AnalyzeSell(prices []float64, buyPrice float64, t Tuning) Signal
}

// New returns the strategy registered under name
func New(name string) (Strategy, error) {
	switch name {
	case "", MeanReversionName:
		return MeanReversion{}, nil
	case MomentumName:
		return Momentum{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// CheckHardExit applies the fixed stop-loss and take-profit thresholds.
// Percentages are whole numbers (2.5 means 2.5%).
func CheckHardExit(current, buyPrice, stopLossPercent, takeProfitPercent float64) (Signal, bool) {
	if buyPrice <= 0 || current <= 0 {
		return Signal{}, false
	}

	change := (current - buyPrice) / buyPrice * 100

	if stopLossPercent > 0 && current <= buyPrice*(1-stopLossPercent/100) {
		return Signal{
			Action:     ActionSell,
			Confidence: ConfidenceHard,
			Reason:     fmt.Sprintf("stop-loss: %.2f%% <= -%.2f%%", change, stopLossPercent),
		}, true
	}
	if takeProfitPercent > 0 && current >= buyPrice*(1+takeProfitPercent/100) {
		return Signal{
			Action:     ActionSell,
			Confidence: ConfidenceHigh,
			Reason:     fmt.Sprintf("take-profit: %.2f%% >= %.2f%%", change, takeProfitPercent),
		}, true
	}
	return Signal{}, false
}

// MomentumReversal reports whether price has fallen at least dropPercent from
// its peak over the last lookback points and is still falling. The second
// return is the drop from the peak in percent.
func MomentumReversal(prices []float64, lookback int, dropPercent float64) (bool, float64) {
	n := len(prices)
	if lookback < 2 || n < 2 || dropPercent <= 0 {
		return false, 0
	}
	if lookback > n {
		lookback = n
	}

	peak := math.Inf(-1)
	for _, p := range prices[n-lookback:] {
		peak = math.Max(peak, p)
	}
	if peak <= 0 {
		return false, 0
	}

	current := prices[n-1]
	drop := (peak - current) / peak * 100
	falling := current < prices[n-2]
	return falling && drop >= dropPercent, drop
}
