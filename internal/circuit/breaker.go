package circuit

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed BreakerState = "closed" // entries allowed
	StateOpen   BreakerState = "open"   // entries paused
)

// Config holds circuit breaker configuration
type Config struct {
	Enabled                 bool          `json:"enabled" yaml:"enabled"`
	LossStreakLimit         int           `json:"loss_streak_limit" yaml:"loss_streak_limit"`
	DailyMaxDrawdownPercent float64       `json:"daily_max_drawdown_percent" yaml:"daily_max_drawdown_percent"`
	Cooldown                time.Duration `json:"cooldown" yaml:"cooldown"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		LossStreakLimit:         3,
		DailyMaxDrawdownPercent: 5.0,
		Cooldown:                30 * time.Minute,
	}
}

// Decision is the outcome of ShouldPause
type Decision struct {
	Pause      bool      `json:"pause"`
	Reason     string    `json:"reason,omitempty"`
	PauseUntil time.Time `json:"pause_until,omitempty"`
}

// Status is a snapshot of the breaker
type Status struct {
	State      BreakerState `json:"state"`
	Active     bool         `json:"active"`
	Reason     string       `json:"reason,omitempty"`
	TrippedAt  *time.Time   `json:"tripped_at,omitempty"`
	PauseUntil *time.Time   `json:"pause_until,omitempty"`
}

// Breaker gates new entries on the loss streak and daily drawdown computed
// from the trade log. It only remembers the active pause and, after a resume,
// the stats it resumed from so the same losses cannot trip it again.
type Breaker struct {
	config Config
	now    func() time.Time

	active    bool
	until     time.Time
	trippedAt time.Time
	reason    string

	lastStats     OperationStats
	baselineTrips int
	baselinePnL   float64
	baselineDay   time.Time

	onTrip  func(Decision)
	onReset func(manual bool)
	mu      sync.Mutex
}

// NewBreaker creates a breaker
func NewBreaker(config Config) *Breaker {
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultConfig().Cooldown
	}
	return &Breaker{config: config, now: time.Now}
}

// SetClock replaces the time source
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// OnTrip sets callback for when breaker trips
func (b *Breaker) OnTrip(handler func(Decision)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// OnReset sets callback for when the breaker resumes, either because the
// cooldown elapsed or after a manual reset
func (b *Breaker) OnReset(handler func(manual bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReset = handler
}

// ShouldPause decides whether new entries must pause. While a pause is
// active the same decision is returned until it elapses.
func (b *Breaker) ShouldPause(stats OperationStats, initialCapital float64) Decision {
	b.mu.Lock()

	if !b.config.Enabled {
		b.mu.Unlock()
		return Decision{}
	}

	now := b.now()
	b.lastStats = stats

	if b.active && now.Before(b.until) {
		d := b.decision()
		b.mu.Unlock()
		return d
	}

	var resumed func(bool)
	if b.active {
		b.clear(stats)
		resumed = b.onReset
	}

	if !stats.WindowStart.Equal(b.baselineDay) {
		b.baselineTrips = 0
		b.baselinePnL = 0
		b.baselineDay = stats.WindowStart
	}

	streak := stats.LossStreak
	if since := stats.RoundTrips - b.baselineTrips; since < streak {
		streak = since
	}
	pnl := stats.DailyPnL - b.baselinePnL

	var reason string
	switch {
	case b.config.LossStreakLimit > 0 && streak >= b.config.LossStreakLimit:
		reason = fmt.Sprintf("loss streak %d >= %d", streak, b.config.LossStreakLimit)
	case initialCapital > 0 && b.config.DailyMaxDrawdownPercent > 0 &&
		pnl/initialCapital*100 <= -b.config.DailyMaxDrawdownPercent:
		reason = fmt.Sprintf("daily drawdown %.2f%% <= -%.2f%%", pnl/initialCapital*100, b.config.DailyMaxDrawdownPercent)
	}

	var tripped func(Decision)
	var d Decision
	if reason != "" {
		b.active = true
		b.trippedAt = now
		b.until = now.Add(b.config.Cooldown)
		b.reason = reason
		d = b.decision()
		tripped = b.onTrip
	}
	b.mu.Unlock()

	if resumed != nil {
		resumed(false)
	}
	if tripped != nil {
		tripped(d)
	}
	return d
}

// Reset clears an active pause immediately. Losses seen before the reset do
// not count toward the next trip within the same day.
func (b *Breaker) Reset() {
	b.mu.Lock()
	wasActive := b.active
	b.clear(b.lastStats)
	handler := b.onReset
	b.mu.Unlock()

	if wasActive && handler != nil {
		handler(true)
	}
}

// clear ends the pause and records the baseline. Caller holds mu.
func (b *Breaker) clear(stats OperationStats) {
	b.active = false
	b.until = time.Time{}
	b.reason = ""
	b.baselineTrips = stats.RoundTrips
	b.baselinePnL = stats.DailyPnL
	b.baselineDay = stats.WindowStart
}

func (b *Breaker) decision() Decision {
	return Decision{Pause: true, Reason: b.reason, PauseUntil: b.until}
}

// IsPaused reports whether a pause is active and has not elapsed
func (b *Breaker) IsPaused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active && b.now().Before(b.until)
}

// Status returns current breaker state
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active || !b.now().Before(b.until) {
		return Status{State: StateClosed}
	}
	trippedAt, until := b.trippedAt, b.until
	return Status{
		State:      StateOpen,
		Active:     true,
		Reason:     b.reason,
		TrippedAt:  &trippedAt,
		PauseUntil: &until,
	}
}

// Annotate copies the breaker state into stats
func (b *Breaker) Annotate(stats OperationStats) OperationStats {
	st := b.Status()
	stats.CircuitBreakerActive = st.Active
	stats.CircuitBreakerUntil = st.PauseUntil
	return stats
}

