package autopilot

import (
	"context"
	"errors"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/capital"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/circuit"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/control"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/events"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/monitor"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/position"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/strategy"
)

// boundedPrices applies the per-call timeout to price lookups made by the
// capital engine
type boundedPrices struct {
	o *Orchestrator
}

func (b boundedPrices) GetPrice(ctx context.Context, symbol string) (*exchange.PriceQuote, error) {
	callCtx, cancel := b.o.callContext(ctx)
	defer cancel()
	return b.o.client.GetPrice(callCtx, symbol)
}

// refreshRisk reads today's stats and derives the tier parameters. On a
// trade log failure the previous snapshot is kept.
func (o *Orchestrator) refreshRisk(ctx context.Context) riskSnapshot {
	callCtx, cancel := o.callContext(ctx)
	stats, err := circuit.LoadStats(callCtx, o.tradeLog, o.now())
	cancel()

	o.mu.Lock()
	if err != nil {
		o.logger.Warn("Stats unavailable, keeping previous risk snapshot", "error", err)
		if o.risk.at.IsZero() {
			o.risk = riskSnapshot{params: circuit.AdaptiveParams(0, o.session.baseRisk(), o.session.Scaling)}
		}
		snap := o.risk
		o.mu.Unlock()
		return snap
	}

	prev := o.risk
	o.risk = riskSnapshot{
		stats:  stats,
		params: circuit.AdaptiveParams(stats.LossStreak, o.session.baseRisk(), o.session.Scaling),
		at:     o.now(),
	}
	snap := o.risk
	o.mu.Unlock()

	if !prev.at.IsZero() && prev.params.Tier != snap.params.Tier {
		o.logger.Info("Risk tier changed", "from", prev.params.Tier, "to", snap.params.Tier, "loss_streak", stats.LossStreak)
		o.bus.Publish(events.Event{Type: events.EventRiskTierChanged, Data: map[string]interface{}{
			"from":        string(prev.params.Tier),
			"to":          string(snap.params.Tier),
			"loss_streak": stats.LossStreak,
		}})
	}
	return snap
}

// scanMarket observes every watched pair and opens positions on buy signals
// while the breaker allows entries.
func (o *Orchestrator) scanMarket(ctx context.Context) {
	snap := o.refreshRisk(ctx)
	decision := o.breaker.ShouldPause(snap.stats, o.session.TotalCapital)
	params := snap.params

	tuning := o.session.tuning()
	tuning.RSIOversold = params.RSIOversold

	for _, symbol := range o.monitors.Watched() {
		if ctx.Err() != nil {
			return
		}

		callCtx, cancel := o.callContext(ctx)
		md, err := o.client.GetMarketData(callCtx, symbol)
		cancel()
		if err != nil {
			o.logger.Debug("No market data this tick", "symbol", symbol, "error", err)
			continue
		}
		if err := o.monitors.AddObservation(symbol, md.Price, md.Volume, o.now()); err != nil {
			// unwatched between listing and observing
			continue
		}

		if decision.Pause || o.positions.Has(symbol) || o.positions.Available() == 0 {
			continue
		}
		if params.MinQuoteVolume > 0 && md.QuoteVolumeOrEstimate() < params.MinQuoteVolume {
			continue
		}

		sig := o.strategy.AnalyzeBuy(o.monitors.Series(symbol), tuning)
		if sig.Action != strategy.ActionBuy {
			continue
		}
		o.bus.PublishSignal(o.strategy.Name(), symbol, string(sig.Action), sig.Reason, sig.Confidence, md.Price)
		if sig.Confidence < params.MinConfidence {
			o.logger.Debug("Buy signal below minimum confidence", "symbol", symbol,
				"confidence", sig.Confidence, "min_confidence", params.MinConfidence)
			continue
		}

		alloc, ok := o.allocation(symbol)
		if !ok || alloc.Quantity <= 0 {
			o.logger.Debug("No allocation for symbol, skipping entry", "symbol", symbol)
			continue
		}

		_, err = o.positions.Open(ctx, position.OpenRequest{
			Symbol:   symbol,
			Quantity: alloc.Quantity,
			Price:    md.Price,
			Reason:   sig.Reason,
			Cooldown: params.Cooldown,
		})
		switch {
		case err == nil:
		case errors.Is(err, position.ErrAtCapacity), errors.Is(err, position.ErrPositionExists),
			errors.Is(err, position.ErrPositionClosing), errors.Is(err, position.ErrCoolingDown):
			o.logger.Debug("Entry skipped", "symbol", symbol, "reason", err)
		default:
			o.logger.Warn("Entry failed", "symbol", symbol, "error", err)
		}
	}
}

// checkPositions re-prices every open position and exits those whose rule
// fires. Runs regardless of the breaker state.
func (o *Orchestrator) checkPositions(ctx context.Context) {
	if o.positions.Count() == 0 {
		return
	}

	snap := o.refreshRisk(ctx)
	params := snap.params

	tuning := o.session.tuning()
	tuning.RSIOversold = params.RSIOversold

	quote := func(ctx context.Context, symbol string) (float64, error) {
		callCtx, cancel := o.callContext(ctx)
		defer cancel()
		q, err := o.client.GetPrice(callCtx, symbol)
		if err != nil {
			return 0, err
		}
		// positions on unwatched symbols still get priced
		_ = o.monitors.AddObservation(symbol, q.Price, 0, o.now())
		return q.Price, nil
	}

	closed := o.positions.CheckExits(ctx, quote, o.monitors.Series, position.ExitParams{
		StopLossPercent:   params.StopLossPercent,
		TakeProfitPercent: params.TakeProfitPercent,
		Strategy:          o.strategy,
		Tuning:            tuning,
		MinConfidence:     params.MinConfidence,
		EarlyExit:         o.session.EarlyExit,
	})
	if len(closed) == 0 {
		return
	}

	// evaluate the breaker right away so a losing exit pauses the next scan
	snap = o.refreshRisk(ctx)
	o.breaker.ShouldPause(snap.stats, o.session.TotalCapital)
}

// reinvest handles operator signals, watch list changes, capital
// redistribution and candle refresh.
func (o *Orchestrator) reinvest(ctx context.Context) {
	if o.control != nil {
		callCtx, cancel := o.callContext(ctx)
		req, err := o.control.Poll(callCtx)
		cancel()
		switch {
		case err != nil:
			o.logger.Warn("Control poll failed", "error", err)
		case req != nil:
			o.ClearCircuitBreaker(ctx, req.RequestedBy)
		}
	}

	snap := o.refreshRisk(ctx)
	o.breaker.ShouldPause(snap.stats, o.session.TotalCapital)

	if o.applyPendingWatchlist(ctx, snap.params) {
		o.refreshCandles(ctx)
		o.publishBreakerStatus(ctx)
		return
	}

	o.mu.RLock()
	tierChanged := o.allocTier != snap.params.Tier
	capitalChanged := o.session.ReinvestProfits && o.planCapital(snap.stats) != o.allocCapital
	missing := len(o.allocations) < len(o.symbols)
	o.mu.RUnlock()

	if tierChanged || capitalChanged || missing {
		if err := o.redistribute(ctx, snap.params); err != nil {
			o.logger.Warn("Redistribution failed", "error", err)
		}
	}

	o.refreshCandles(ctx)
	o.publishBreakerStatus(ctx)

	o.logger.Debug("Capacity check",
		"open_positions", o.positions.Count(),
		"available_slots", o.positions.Available(),
		"exposure", o.positions.Exposure(),
		"tier", snap.params.Tier)
}

// planCapital is the capital a distribution plan works with
func (o *Orchestrator) planCapital(stats circuit.OperationStats) float64 {
	total := o.session.TotalCapital
	if o.session.ReinvestProfits {
		total += stats.DailyPnL
	}
	if total <= 0 {
		return o.session.TotalCapital
	}
	return total
}

func (o *Orchestrator) plan(symbols []string, params circuit.RiskParams, stats circuit.OperationStats) capital.Plan {
	return capital.Plan{
		TotalCapital:     o.planCapital(stats),
		Symbols:          symbols,
		QuantityPerTrade: o.session.QuantityPerTrade,
		Limits: capital.Limits{
			CapitalPerRoundPercent:      o.session.Limits.CapitalPerRoundPercent,
			SafetyReservePercent:        params.SafetyReservePercent,
			MaxAllocationPerPairPercent: params.MaxAllocationPerPairPercent,
		},
	}
}

// redistribute recomputes every allocation with the given tier parameters
func (o *Orchestrator) redistribute(ctx context.Context, params circuit.RiskParams) error {
	o.mu.RLock()
	symbols := append([]string(nil), o.symbols...)
	stats := o.risk.stats
	o.mu.RUnlock()

	plan := o.plan(symbols, params, stats)
	allocs, err := o.capital.Distribute(ctx, plan)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.allocations = allocs
	o.allocTier = params.Tier
	o.allocCapital = plan.TotalCapital
	o.mu.Unlock()

	o.publishAllocations(allocs, string(params.Tier))
	return nil
}

// applyPendingWatchlist swaps in a queued watch list and rebalances.
// Returns false when nothing was pending.
func (o *Orchestrator) applyPendingWatchlist(ctx context.Context, params circuit.RiskParams) bool {
	o.mu.Lock()
	next := o.pending
	o.pending = nil
	prev := o.symbols
	existing := make(map[string]capital.Allocation, len(o.allocations))
	for k, v := range o.allocations {
		existing[k] = v
	}
	stats := o.risk.stats
	o.mu.Unlock()

	if next == nil {
		return false
	}

	keep := make(map[string]bool, len(next))
	for _, s := range next {
		keep[s] = true
	}
	var removed []string
	for _, s := range prev {
		if !keep[s] {
			removed = append(removed, s)
		}
	}
	o.monitors.Unwatch(removed...)
	o.monitors.Watch(next...)

	plan := o.plan(next, params, stats)
	allocs, err := o.capital.Rebalance(ctx, plan, existing)

	o.mu.Lock()
	o.symbols = next
	if err == nil {
		o.allocations = allocs
	}
	o.mu.Unlock()

	if err != nil {
		o.logger.Warn("Rebalance failed", "error", err)
	} else {
		o.publishAllocations(allocs, string(params.Tier))
	}

	o.logger.Info("Watch list updated", "symbols", len(next), "removed", len(removed))
	o.bus.Publish(events.Event{Type: events.EventWatchlistChanged, Data: map[string]interface{}{
		"symbols": next,
		"removed": removed,
	}})
	return true
}

func (o *Orchestrator) publishAllocations(allocs map[string]capital.Allocation, tier string) {
	o.bus.Publish(events.Event{Type: events.EventCapitalDistributed, Data: map[string]interface{}{
		"symbols": capital.Symbols(allocs),
		"total":   capital.Total(allocs),
		"tier":    tier,
	}})
}

func (o *Orchestrator) allocation(symbol string) (capital.Allocation, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.allocations[symbol]
	return a, ok
}

// refreshCandles replaces each watched pair's candle buffer. A symbol with no
// candles keeps its previous buffer.
func (o *Orchestrator) refreshCandles(ctx context.Context) {
	for _, symbol := range o.monitors.Watched() {
		if ctx.Err() != nil {
			return
		}
		callCtx, cancel := o.callContext(ctx)
		candles, err := o.client.GetCandles(callCtx, symbol, o.session.CandleInterval, monitor.CandleWindow)
		cancel()
		if err != nil || len(candles) == 0 {
			continue
		}
		_ = o.monitors.SetCandles(symbol, candles)
	}
}

func (o *Orchestrator) publishBreakerStatus(ctx context.Context) {
	if o.control == nil {
		return
	}

	st := o.breaker.Status()
	o.mu.RLock()
	status := control.BreakerStatus{
		Active:     st.Active,
		Reason:     st.Reason,
		PauseUntil: st.PauseUntil,
		LossStreak: o.risk.stats.LossStreak,
		DailyPnL:   o.risk.stats.DailyPnL,
		Tier:       string(o.risk.params.Tier),
		SessionID:  o.sessionID,
		UpdatedAt:  o.now().UTC(),
	}
	o.mu.RUnlock()

	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	if err := o.control.PublishStatus(callCtx, status); err != nil {
		o.logger.Warn("Failed to publish breaker status", "error", err)
	}
}
