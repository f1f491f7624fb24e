package circuit

import (
	"fmt"
	"math"
	"time"
)

// Tier is the risk posture derived from the loss streak
type Tier string

const (
	TierNormal    Tier = "normal"
	TierCautious  Tier = "cautious"
	TierDefensive Tier = "defensive"
)

// TierFor maps a loss streak to its tier: 0-1 normal, 2 cautious, 3+ defensive
func TierFor(lossStreak int) Tier {
	switch {
	case lossStreak >= 3:
		return TierDefensive
	case lossStreak == 2:
		return TierCautious
	default:
		return TierNormal
	}
}

// RiskParams is the parameter set the orchestrator trades with for one tick
type RiskParams struct {
	Tier                        Tier          `json:"tier"`
	StopLossPercent             float64       `json:"stop_loss_percent"`
	TakeProfitPercent           float64       `json:"take_profit_percent"`
	MaxAllocationPerPairPercent float64       `json:"max_allocation_per_pair_percent"`
	SafetyReservePercent        float64       `json:"safety_reserve_percent"`
	RSIOversold                 float64       `json:"rsi_oversold"`
	MinConfidence               float64       `json:"min_confidence"`
	MinQuoteVolume              float64       `json:"min_quote_volume"`
	Cooldown                    time.Duration `json:"cooldown"`
}

// TierScaling transforms the normal-tier parameters into one stricter tier
type TierScaling struct {
	StopLossFactor   float64 `json:"stop_loss_factor" yaml:"stop_loss_factor"`
	TakeProfitFactor float64 `json:"take_profit_factor" yaml:"take_profit_factor"`
	AllocationFactor float64 `json:"allocation_factor" yaml:"allocation_factor"`
	ReserveFactor    float64 `json:"reserve_factor" yaml:"reserve_factor"`
	RSIOffset        float64 `json:"rsi_offset" yaml:"rsi_offset"`
	ConfidenceStep   float64 `json:"confidence_step" yaml:"confidence_step"`
	VolumeFactor     float64 `json:"volume_factor" yaml:"volume_factor"`
	CooldownFactor   float64 `json:"cooldown_factor" yaml:"cooldown_factor"`
}

// Scaling holds the cautious and defensive transforms
type Scaling struct {
	Cautious  TierScaling `json:"cautious" yaml:"cautious"`
	Defensive TierScaling `json:"defensive" yaml:"defensive"`
}

// DefaultScaling returns the stock tier transforms
func DefaultScaling() Scaling {
	return Scaling{
		Cautious: TierScaling{
			StopLossFactor:   0.8,
			TakeProfitFactor: 0.8,
			AllocationFactor: 0.75,
			ReserveFactor:    1.5,
			RSIOffset:        3,
			ConfidenceStep:   0.1,
			VolumeFactor:     1.5,
			CooldownFactor:   2,
		},
		Defensive: TierScaling{
			StopLossFactor:   0.6,
			TakeProfitFactor: 0.6,
			AllocationFactor: 0.5,
			ReserveFactor:    2,
			RSIOffset:        6,
			ConfidenceStep:   0.2,
			VolumeFactor:     2,
			CooldownFactor:   4,
		},
	}
}

// Validate checks that each tier is stricter than the one before it
func (s Scaling) Validate() error {
	c, d := s.Cautious, s.Defensive
	checks := []struct {
		name string
		ok   bool
	}{
		{"stop_loss_factor", 0 < d.StopLossFactor && d.StopLossFactor < c.StopLossFactor && c.StopLossFactor < 1},
		{"take_profit_factor", 0 < d.TakeProfitFactor && d.TakeProfitFactor < c.TakeProfitFactor && c.TakeProfitFactor < 1},
		{"allocation_factor", 0 < d.AllocationFactor && d.AllocationFactor < c.AllocationFactor && c.AllocationFactor < 1},
		{"reserve_factor", 1 < c.ReserveFactor && c.ReserveFactor < d.ReserveFactor},
		{"rsi_offset", 0 < c.RSIOffset && c.RSIOffset < d.RSIOffset},
		{"confidence_step", 0 < c.ConfidenceStep && c.ConfidenceStep < d.ConfidenceStep},
		{"volume_factor", 1 < c.VolumeFactor && c.VolumeFactor < d.VolumeFactor},
		{"cooldown_factor", 1 < c.CooldownFactor && c.CooldownFactor < d.CooldownFactor},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("tier scaling %s must tighten from normal to cautious to defensive", chk.name)
		}
	}
	return nil
}

// AdaptiveParams returns base tightened for the tier of lossStreak
func AdaptiveParams(lossStreak int, base RiskParams, scaling Scaling) RiskParams {
	tier := TierFor(lossStreak)
	out := base
	out.Tier = tier

	var s TierScaling
	switch tier {
	case TierCautious:
		s = scaling.Cautious
	case TierDefensive:
		s = scaling.Defensive
	default:
		return out
	}

	out.StopLossPercent = base.StopLossPercent * s.StopLossFactor
	out.TakeProfitPercent = base.TakeProfitPercent * s.TakeProfitFactor
	out.MaxAllocationPerPairPercent = base.MaxAllocationPerPairPercent * s.AllocationFactor
	out.SafetyReservePercent = math.Min(base.SafetyReservePercent*s.ReserveFactor, 90)
	out.RSIOversold = math.Max(base.RSIOversold-s.RSIOffset, 1)
	out.MinConfidence = math.Min(base.MinConfidence+s.ConfidenceStep, 1)
	out.MinQuoteVolume = base.MinQuoteVolume * s.VolumeFactor
	out.Cooldown = time.Duration(float64(base.Cooldown) * s.CooldownFactor)
	return out
}
