package strategy

import (
	"fmt"
	"math"
)

// MomentumName is the config name of Momentum
const MomentumName = "momentum"

// Momentum buys when the recent average pulls away from an older average and
// sells when it turns down by the same threshold.
type Momentum struct{}

func (Momentum) Name() string { return MomentumName }

func (Momentum) MinDataPoints(t Tuning) int {
	return t.MomentumWindow + t.MomentumLookback
}

func momentumConfidence(m float64) float64 {
	return math.Min(0.8, 0.5+math.Abs(m)*0.05)
}

func (s Momentum) AnalyzeBuy(prices []float64, t Tuning) Signal {
	if need := s.MinDataPoints(t); len(prices) < need || need <= 0 {
		return Hold(fmt.Sprintf("insufficient data: %d/%d points", len(prices), need))
	}

	m := MomentumPercent(prices, t.MomentumWindow, t.MomentumLookback)
	if m > t.MomentumThreshold {
		return Signal{
			Action:     ActionBuy,
			Confidence: momentumConfidence(m),
			Reason:     fmt.Sprintf("positive momentum: %.2f%%", m),
		}
	}
	return Hold(fmt.Sprintf("no clear momentum: %.2f%% vs %.2f%%", m, t.MomentumThreshold))
}

func (s Momentum) AnalyzeSell(prices []float64, buyPrice float64, t Tuning) Signal {
	if need := s.MinDataPoints(t); len(prices) < need || need <= 0 {
		return Hold(fmt.Sprintf("insufficient data: %d/%d points", len(prices), need))
	}

	if sig, ok := CheckHardExit(prices[len(prices)-1], buyPrice, t.StopLossPercent, t.TakeProfitPercent); ok {
		return sig
	}

	m := MomentumPercent(prices, t.MomentumWindow, t.MomentumLookback)
	if m < -t.MomentumThreshold {
		return Signal{
			Action:     ActionSell,
			Confidence: momentumConfidence(m),
			Reason:     fmt.Sprintf("negative momentum: %.2f%%", m),
		}
	}
	return Hold(fmt.Sprintf("no clear momentum: %.2f%%", m))
}
