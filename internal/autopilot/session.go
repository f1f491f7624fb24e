package autopilot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/capital"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/circuit"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/position"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/strategy"
)

// ErrInvalidSession is wrapped by every session validation failure
var ErrInvalidSession = errors.New("invalid session")

// Session is the immutable configuration of one trading session
type Session struct {
	TotalCapital float64
	Symbols      []string
	// QuantityPerTrade is a fixed quote amount per pair; 0 divides capital automatically
	QuantityPerTrade  float64
	TakeProfitPercent float64
	StopLossPercent   float64
	TestMode          bool
	MaxPositions      int

	Strategy      string
	Tuning        strategy.Tuning
	MinConfidence float64
	Limits        capital.Limits
	// MinQuoteVolume skips entries on pairs trading less than this per 24h
	MinQuoteVolume  float64
	Cooldown        time.Duration
	EarlyExit       position.EarlyExit
	Breaker         circuit.Config
	Scaling         circuit.Scaling
	ReinvestProfits bool

	ScanInterval          time.Duration
	PositionCheckInterval time.Duration
	ReinvestInterval      time.Duration
	CallTimeout           time.Duration
	CandleInterval        string
}

// DefaultSession returns a session with every tunable at its stock value.
// Capital and symbols are left for the caller.
func DefaultSession() Session {
	return Session{
		TakeProfitPercent: 5,
		StopLossPercent:   2.5,
		TestMode:          true,
		MaxPositions:      3,
		Strategy:          strategy.MeanReversionName,
		Tuning:            strategy.DefaultTuning(),
		MinConfidence:     0.6,
		Limits:            capital.DefaultLimits(),
		Cooldown:          5 * time.Minute,
		EarlyExit: position.EarlyExit{
			Enabled:          true,
			Lookback:         5,
			DropPercent:      1.0,
			MinProfitPercent: 0.5,
		},
		Breaker:               circuit.DefaultConfig(),
		Scaling:               circuit.DefaultScaling(),
		ScanInterval:          3 * time.Second,
		PositionCheckInterval: 2 * time.Second,
		ReinvestInterval:      10 * time.Second,
		CallTimeout:           5 * time.Second,
		CandleInterval:        "1m",
	}
}

// NormalizeSymbols upper-cases, trims and de-duplicates symbols, keeping order
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidSession, fmt.Sprintf(format, args...))
}

// Validate fails fast on values the orchestrator cannot trade with
func (s Session) Validate() error {
	if s.TotalCapital <= 0 {
		return invalid("total capital must be positive, got %v", s.TotalCapital)
	}
	if len(NormalizeSymbols(s.Symbols)) == 0 {
		return invalid("watch list is empty")
	}
	if s.QuantityPerTrade < 0 {
		return invalid("quantity per trade must be positive when set, got %v", s.QuantityPerTrade)
	}
	if s.MaxPositions <= 0 {
		return invalid("max positions must be positive, got %d", s.MaxPositions)
	}
	if s.StopLossPercent <= 0 || s.StopLossPercent >= 100 {
		return invalid("stop loss percent must be in (0, 100), got %v", s.StopLossPercent)
	}
	if s.TakeProfitPercent <= 0 {
		return invalid("take profit percent must be positive, got %v", s.TakeProfitPercent)
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return invalid("min confidence must be in [0, 1], got %v", s.MinConfidence)
	}
	if _, err := strategy.New(s.Strategy); err != nil {
		return invalid("%v", err)
	}
	if err := validatePercent("capital per round", s.Limits.CapitalPerRoundPercent, false); err != nil {
		return err
	}
	if err := validatePercent("safety reserve", s.Limits.SafetyReservePercent, true); err != nil {
		return err
	}
	if err := validatePercent("max allocation per pair", s.Limits.MaxAllocationPerPairPercent, false); err != nil {
		return err
	}
	if s.Tuning.BBPeriod < 2 || s.Tuning.RSIPeriod < 2 {
		return invalid("indicator periods must be at least 2")
	}
	if err := s.Scaling.Validate(); err != nil {
		return invalid("%v", err)
	}
	if s.Breaker.Enabled && (s.Breaker.LossStreakLimit <= 0 || s.Breaker.DailyMaxDrawdownPercent <= 0 || s.Breaker.Cooldown <= 0) {
		return invalid("circuit breaker limits must be positive")
	}
	for name, d := range map[string]time.Duration{
		"scan interval":           s.ScanInterval,
		"position check interval": s.PositionCheckInterval,
		"reinvest interval":       s.ReinvestInterval,
		"call timeout":            s.CallTimeout,
	} {
		if d <= 0 {
			return invalid("%s must be positive", name)
		}
	}
	return nil
}

func validatePercent(name string, v float64, allowZero bool) error {
	if v < 0 || v > 100 || (!allowZero && v == 0) {
		return invalid("%s percent out of range: %v", name, v)
	}
	return nil
}

// tuning is the indicator tuning with the session's exit thresholds applied
func (s Session) tuning() strategy.Tuning {
	t := s.Tuning
	t.StopLossPercent = s.StopLossPercent
	t.TakeProfitPercent = s.TakeProfitPercent
	return t
}

// baseRisk is the normal-tier parameter set
func (s Session) baseRisk() circuit.RiskParams {
	return circuit.RiskParams{
		Tier:                        circuit.TierNormal,
		StopLossPercent:             s.StopLossPercent,
		TakeProfitPercent:           s.TakeProfitPercent,
		MaxAllocationPerPairPercent: s.Limits.MaxAllocationPerPairPercent,
		SafetyReservePercent:        s.Limits.SafetyReservePercent,
		RSIOversold:                 s.Tuning.RSIOversold,
		MinConfidence:               s.MinConfidence,
		MinQuoteVolume:              s.MinQuoteVolume,
		Cooldown:                    s.Cooldown,
	}
}
