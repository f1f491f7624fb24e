// Package autopilot runs a trading session: it wires the pair monitors,
// signal generator, capital engine, position manager and circuit breaker
// together behind three periodic tasks.
package autopilot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/capital"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/circuit"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/control"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/database"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/events"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/logging"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/monitor"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/position"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/strategy"
)

var (
	ErrAlreadyRunning = errors.New("orchestrator already running")
	ErrNotRunning     = errors.New("orchestrator not running")
)

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Client   exchange.Client
	TradeLog database.TradeLog
	// Control is optional; without it manual resets only come through ClearCircuitBreaker
	Control control.Channel
	Bus     *events.EventBus
	Logger  *logging.Logger
}

// riskSnapshot is the stats and parameter set one tick trades with
type riskSnapshot struct {
	stats  circuit.OperationStats
	params circuit.RiskParams
	at     time.Time
}

// Orchestrator owns one trading session
type Orchestrator struct {
	session  Session
	strategy strategy.Strategy
	client   exchange.Client
	tradeLog database.TradeLog
	control  control.Channel
	bus      *events.EventBus
	logger   *logging.Logger
	now      func() time.Time

	monitors  *monitor.Store
	capital   *capital.Engine
	positions *position.Manager
	breaker   *circuit.Breaker

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu           sync.RWMutex
	running      bool
	startedAt    time.Time
	sessionID    string
	symbols      []string
	pending      []string
	allocations  map[string]capital.Allocation
	risk         riskSnapshot
	allocTier    circuit.Tier
	allocCapital float64
}

// New builds an orchestrator for session. The session is validated here and
// again on Start.
func New(session Session, deps Deps) (*Orchestrator, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if deps.Client == nil || deps.TradeLog == nil {
		return nil, fmt.Errorf("%w: exchange client and trade log are required", ErrInvalidSession)
	}
	strat, err := strategy.New(session.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	session.Symbols = NormalizeSymbols(session.Symbols)
	sessionID := uuid.NewString()

	o := &Orchestrator{
		session:     session,
		strategy:    strat,
		client:      deps.Client,
		tradeLog:    deps.TradeLog,
		control:     deps.Control,
		bus:         deps.Bus,
		logger:      logger.WithComponent("autopilot").WithField("session_id", sessionID),
		now:         time.Now,
		monitors:    monitor.NewStore(),
		breaker:     circuit.NewBreaker(session.Breaker),
		sessionID:   sessionID,
		symbols:     append([]string(nil), session.Symbols...),
		allocations: make(map[string]capital.Allocation),
	}
	o.capital = capital.NewEngine(boundedPrices{o}, logger)
	o.positions = position.NewManager(position.Config{
		MaxPositions: session.MaxPositions,
		TestMode:     session.TestMode,
		SessionID:    sessionID,
		CallTimeout:  session.CallTimeout,
	}, deps.Client, deps.TradeLog, deps.Bus, logger)

	o.breaker.OnTrip(func(d circuit.Decision) {
		o.logger.Warn("Circuit breaker tripped, entries paused", "reason", d.Reason, "pause_until", d.PauseUntil)
		o.bus.PublishCircuitBreaker("tripped", d.Reason, d.PauseUntil)
	})
	o.breaker.OnReset(func(manual bool) {
		action := "resumed"
		if manual {
			action = "reset"
		}
		o.logger.Info("Circuit breaker cleared, entries resume", "manual", manual)
		o.bus.PublishCircuitBreaker(action, "", time.Time{})
	})

	return o, nil
}

// Start validates the session, restores open positions from the trade log,
// distributes capital and launches the periodic tasks. The tasks outlive
// ctx's cancellation; use Stop to end them.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	if o.IsRunning() {
		return ErrAlreadyRunning
	}
	if err := o.session.Validate(); err != nil {
		return err
	}

	o.mu.RLock()
	symbols := append([]string(nil), o.symbols...)
	o.mu.RUnlock()
	o.monitors.Watch(symbols...)

	if _, err := o.Reconcile(ctx); err != nil {
		o.monitors.Clear()
		return fmt.Errorf("reconcile open positions: %w", err)
	}

	snap := o.refreshRisk(ctx)
	o.breaker.ShouldPause(snap.stats, o.session.TotalCapital)
	if err := o.redistribute(ctx, snap.params); err != nil {
		o.monitors.Clear()
		return err
	}
	o.refreshCandles(ctx)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel

	o.mu.Lock()
	o.running = true
	o.startedAt = o.now()
	o.mu.Unlock()

	o.runEvery(runCtx, "market-scan", o.session.ScanInterval, o.scanMarket)
	o.runEvery(runCtx, "position-check", o.session.PositionCheckInterval, o.checkPositions)
	o.runEvery(runCtx, "reinvest", o.session.ReinvestInterval, o.reinvest)

	o.logger.Info("Trading session started",
		"symbols", len(symbols),
		"total_capital", o.session.TotalCapital,
		"strategy", o.strategy.Name(),
		"test_mode", o.session.TestMode,
		"max_positions", o.session.MaxPositions)
	o.bus.Publish(events.Event{Type: events.EventBotStarted, Data: map[string]interface{}{
		"session_id": o.sessionID,
		"symbols":    symbols,
		"test_mode":  o.session.TestMode,
	}})
	return nil
}

// Stop halts the periodic tasks and drops the pair monitors. Open positions,
// allocations and the trade log are left untouched.
func (o *Orchestrator) Stop() error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	if !o.IsRunning() {
		return ErrNotRunning
	}

	o.cancel()
	o.wg.Wait()
	o.monitors.Clear()

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()

	o.logger.Info("Trading session stopped", "open_positions", o.positions.Count())
	o.bus.Publish(events.Event{Type: events.EventBotStopped, Data: map[string]interface{}{
		"session_id":     o.sessionID,
		"open_positions": o.positions.Count(),
	}})
	return nil
}

// IsRunning reports whether the periodic tasks are active
func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

func (o *Orchestrator) runEvery(ctx context.Context, name string, interval time.Duration, task func(context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.safely(ctx, name, task)
			}
		}
	}()
}

// safely runs one tick, keeping a panic in one tick from killing the task
func (o *Orchestrator) safely(ctx context.Context, name string, task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Periodic task panicked", "task", name, "panic", fmt.Sprint(r))
			o.bus.PublishError(name, fmt.Sprint(r))
		}
	}()
	task(ctx)
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.session.CallTimeout)
}

// Reconcile rebuilds the open positions from BUYs in the trade log that
// have no recorded outcome. Returns how many were restored.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	open, err := o.tradeLog.OpenTrades(callCtx)
	if err != nil {
		return 0, err
	}

	restored := make([]position.Position, 0, len(open))
	for _, t := range open {
		restored = append(restored, position.Position{
			TradeID:  t.ID,
			Symbol:   t.Symbol,
			BuyPrice: t.Price,
			Quantity: t.Quantity,
			OpenedAt: t.ExecutedAt,
			OrderID:  t.OrderID,
			TestMode: t.TestMode,
		})
	}
	n := o.positions.Restore(restored)
	if n > 0 || len(open) > n {
		o.logger.Info("Reconciled open positions", "restored", n, "open_records", len(open))
	}
	return n, nil
}

// ClearCircuitBreaker lifts an active pause immediately
func (o *Orchestrator) ClearCircuitBreaker(ctx context.Context, requestedBy string) {
	o.logger.Info("Manual circuit breaker reset", "requested_by", requestedBy)
	o.breaker.Reset()
	o.publishBreakerStatus(ctx)
}

// UpdateWatchlist replaces the watched symbols. While running, the change is
// applied and capital rebalanced on the next reinvestment tick.
func (o *Orchestrator) UpdateWatchlist(symbols []string) error {
	symbols = NormalizeSymbols(symbols)
	if len(symbols) == 0 {
		return fmt.Errorf("%w: watch list is empty", ErrInvalidSession)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		o.pending = symbols
		return nil
	}
	o.symbols = symbols
	return nil
}

// ClosePosition exits symbol's position at market
func (o *Orchestrator) ClosePosition(ctx context.Context, symbol string) (position.ClosedTrade, error) {
	closed, err := o.positions.Close(ctx, symbol, "manual close")
	if err != nil {
		return closed, err
	}
	snap := o.refreshRisk(ctx)
	o.breaker.ShouldPause(snap.stats, o.session.TotalCapital)
	return closed, nil
}

// StatusReport is a point-in-time view of the session
type StatusReport struct {
	Running      bool                   `json:"running"`
	SessionID    string                 `json:"session_id"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	Strategy     string                 `json:"strategy"`
	TestMode     bool                   `json:"test_mode"`
	Watched      []string               `json:"watched"`
	Tier         circuit.Tier           `json:"tier"`
	Risk         circuit.RiskParams     `json:"risk"`
	Stats        circuit.OperationStats `json:"stats"`
	Breaker      circuit.Status         `json:"breaker"`
	Positions    []position.Position    `json:"positions"`
	Allocations  []capital.Allocation   `json:"allocations"`
	MaxPositions int                    `json:"max_positions"`
	Exposure     float64                `json:"exposure"`
}

// Status returns the current session view. Stats come from the last tick.
func (o *Orchestrator) Status() StatusReport {
	o.mu.RLock()
	report := StatusReport{
		Running:      o.running,
		SessionID:    o.sessionID,
		Strategy:     o.strategy.Name(),
		TestMode:     o.session.TestMode,
		Watched:      append([]string(nil), o.symbols...),
		Tier:         o.risk.params.Tier,
		Risk:         o.risk.params,
		Stats:        o.risk.stats,
		MaxPositions: o.session.MaxPositions,
	}
	if o.running {
		started := o.startedAt
		report.StartedAt = &started
	}
	o.mu.RUnlock()

	report.Breaker = o.breaker.Status()
	report.Stats = o.breaker.Annotate(report.Stats)
	report.Positions = o.positions.Snapshot()
	report.Allocations = o.Allocations()
	report.Exposure = o.positions.Exposure()
	return report
}

// Stats recomputes today's stats from the trade log
func (o *Orchestrator) Stats(ctx context.Context) (circuit.OperationStats, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	stats, err := circuit.LoadStats(callCtx, o.tradeLog, o.now())
	if err != nil {
		return stats, err
	}
	return o.breaker.Annotate(stats), nil
}

// Positions returns the open positions
func (o *Orchestrator) Positions() []position.Position {
	return o.positions.Snapshot()
}

// Allocations returns the current allocations sorted by symbol
func (o *Orchestrator) Allocations() []capital.Allocation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]capital.Allocation, 0, len(o.allocations))
	for _, a := range o.allocations {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Monitors returns copies of the pair monitors
func (o *Orchestrator) Monitors() map[string]monitor.PairMonitor {
	return o.monitors.Snapshot()
}

// SessionID identifies this session in the trade log
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}
