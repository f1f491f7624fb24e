package autopilot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/circuit"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/control"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/database"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/events"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/logging"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/position"
)

// fakeVenue is a scriptable exchange
type fakeVenue struct {
	mu      sync.Mutex
	prices  map[string]float64
	closes  map[string][]float64
	orders  []exchange.Side
	orderID int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{prices: map[string]float64{}, closes: map[string][]float64{}}
}

func (f *fakeVenue) set(symbol string, price float64, closes ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
	if len(closes) > 0 {
		f.closes[symbol] = closes
	}
}

func (f *fakeVenue) GetPrice(_ context.Context, symbol string) (*exchange.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return nil, exchange.ErrSymbolNotFound
	}
	return &exchange.PriceQuote{Symbol: symbol, Price: p, Timestamp: time.Now()}, nil
}

func (f *fakeVenue) GetMarketData(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	q, err := f.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &exchange.Ticker{Symbol: symbol, Price: q.Price, Volume: 1_000_000}, nil
}

func (f *fakeVenue) GetCandles(_ context.Context, symbol, _ string, limit int) ([]exchange.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	closes := f.closes[symbol]
	if len(closes) > limit {
		closes = closes[len(closes)-limit:]
	}
	start := time.Now().Add(-time.Duration(len(closes)+1) * time.Minute)
	out := make([]exchange.Candle, len(closes))
	for i, c := range closes {
		out[i] = exchange.Candle{Open: c, High: c, Low: c, Close: c, Timestamp: start.Add(time.Duration(i) * time.Minute)}
	}
	return out, nil
}

func (f *fakeVenue) ExecuteOrder(_ context.Context, symbol string, side exchange.Side, qty float64, testMode bool) (*exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, side)
	f.orderID++
	return &exchange.OrderResult{
		OrderID:       fmt.Sprintf("fake-%d", f.orderID),
		Symbol:        symbol,
		Side:          side,
		ExecutedPrice: f.prices[symbol],
		ExecutedQty:   qty,
		Status:        "FILLED",
		TestMode:      testMode,
	}, nil
}

// dip is a 21-point series that closes below the lower band with RSI under 30
func dip() []float64 {
	out := make([]float64, 0, 21)
	for i := 0; i < 20; i++ {
		out = append(out, 100-0.1*float64(i))
	}
	return append(out, 90)
}

func flat(v float64) []float64 {
	out := make([]float64, 30)
	for i := range out {
		out[i] = v
	}
	return out
}

func testSession() Session {
	s := DefaultSession()
	s.TotalCapital = 1000
	s.Symbols = []string{"btcusdt", "ETHUSDT"}
	s.MaxPositions = 2
	s.ScanInterval = time.Hour
	s.PositionCheckInterval = time.Hour
	s.ReinvestInterval = time.Hour
	s.EarlyExit.Enabled = false
	return s
}

type harness struct {
	o      *Orchestrator
	venue  *fakeVenue
	store  *database.MemoryStore
	ctrl   *control.MemoryChannel
	mu     sync.Mutex
	events []events.Event
}

func (h *harness) eventTypes() []events.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.EventType, len(h.events))
	for i, e := range h.events {
		out[i] = e.Type
	}
	return out
}

func newHarness(t *testing.T, session Session) *harness {
	t.Helper()
	h := &harness{venue: newFakeVenue(), store: database.NewMemoryStore(), ctrl: control.NewMemoryChannel()}
	h.venue.set("BTCUSDT", 90, dip()...)
	h.venue.set("ETHUSDT", 50, flat(50)...)
	h.venue.set("SOLUSDT", 20, flat(20)...)

	bus := events.NewSyncEventBus()
	bus.SubscribeAll(func(e events.Event) {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
	})

	o, err := New(session, Deps{Client: h.venue, TradeLog: h.store, Control: h.ctrl, Bus: bus, Logger: logging.Nop()})
	require.NoError(t, err)
	h.o = o
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.o.Start(context.Background()))
	t.Cleanup(func() { _ = h.o.Stop() })
}

func seedLosses(t *testing.T, store *database.MemoryStore, n int) {
	t.Helper()
	ws := circuit.WindowStart(time.Now())
	for i := 0; i < n; i++ {
		at := ws.Add(time.Duration(2*i) * time.Second)
		_, err := store.RecordTrade(context.Background(), &database.Trade{
			Symbol: "XRPUSDT", Side: exchange.SideBuy, Price: 1, Quantity: 10, ExecutedAt: at,
			Status: database.TradeStatusClosed,
		})
		require.NoError(t, err)
		pnl := -1.0
		_, err = store.RecordTrade(context.Background(), &database.Trade{
			Symbol: "XRPUSDT", Side: exchange.SideSell, Price: 0.9, Quantity: 10, ProfitLoss: &pnl, ExecutedAt: at.Add(time.Second),
		})
		require.NoError(t, err)
	}
}

func TestNewRejectsInvalidSessions(t *testing.T) {
	venue, store := newFakeVenue(), database.NewMemoryStore()
	deps := Deps{Client: venue, TradeLog: store, Logger: logging.Nop()}

	cases := map[string]func(*Session){
		"empty watch list":   func(s *Session) { s.Symbols = []string{" ", ""} },
		"zero capital":       func(s *Session) { s.TotalCapital = 0 },
		"negative quantity":  func(s *Session) { s.QuantityPerTrade = -5 },
		"no positions":       func(s *Session) { s.MaxPositions = 0 },
		"unknown strategy":   func(s *Session) { s.Strategy = "martingale" },
		"reserve over 100":   func(s *Session) { s.Limits.SafetyReservePercent = 120 },
		"confidence above 1": func(s *Session) { s.MinConfidence = 1.5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := testSession()
			mutate(&s)
			_, err := New(s, deps)
			assert.ErrorIs(t, err, ErrInvalidSession)
		})
	}

	_, err := New(testSession(), Deps{TradeLog: store})
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestLifecycle(t *testing.T) {
	h := newHarness(t, testSession())
	ctx := context.Background()

	assert.ErrorIs(t, h.o.Stop(), ErrNotRunning)
	require.NoError(t, h.o.Start(ctx))
	assert.True(t, h.o.IsRunning())
	assert.ErrorIs(t, h.o.Start(ctx), ErrAlreadyRunning)

	st := h.o.Status()
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, st.Watched)
	assert.Equal(t, circuit.TierNormal, st.Tier)
	require.Len(t, st.Allocations, 2)
	// 1000 * 80% * 90% / 2 = 360, capped at 20% of capital
	assert.InDelta(t, 200.0, st.Allocations[0].AllocatedAmount, 1e-9)

	require.NoError(t, h.o.Stop())
	assert.False(t, h.o.IsRunning())
	assert.Empty(t, h.o.Monitors())
	assert.ErrorIs(t, h.o.Stop(), ErrNotRunning)
	assert.Contains(t, h.eventTypes(), events.EventBotStarted)
	assert.Contains(t, h.eventTypes(), events.EventBotStopped)
}

func TestScanOpensOnBuySignalAndExitsOnStopLoss(t *testing.T) {
	h := newHarness(t, testSession())
	h.start(t)
	ctx := context.Background()

	h.o.scanMarket(ctx)

	positions := h.o.Positions()
	require.Len(t, positions, 1)
	btc := positions[0]
	assert.Equal(t, "BTCUSDT", btc.Symbol)
	assert.Equal(t, 90.0, btc.BuyPrice)
	assert.InDelta(t, 2.22222222, btc.Quantity, 1e-8)

	// second scan does not double up
	h.o.scanMarket(ctx)
	assert.Len(t, h.o.Positions(), 1)

	h.venue.set("BTCUSDT", 87)
	h.o.checkPositions(ctx)
	assert.Empty(t, h.o.Positions())

	trades, err := h.store.TradesSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, trades, 2)
	require.NotNil(t, trades[1].ProfitLoss)
	assert.InDelta(t, -3*btc.Quantity, *trades[1].ProfitLoss, 1e-6)
	assert.Equal(t, btc.TradeID, trades[0].ID)

	stats, err := h.o.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LossStreak)

	types := h.eventTypes()
	assert.Contains(t, types, events.EventSignalGenerated)
	assert.Contains(t, types, events.EventTradeOpened)
	assert.Contains(t, types, events.EventTradeClosed)
}

func TestBreakerBlocksEntriesButNotExits(t *testing.T) {
	h := newHarness(t, testSession())
	seedLosses(t, h.store, 3)
	_, err := h.store.RecordTrade(context.Background(), &database.Trade{
		Symbol: "ETHUSDT", Side: exchange.SideBuy, Price: 60, Quantity: 1, ExecutedAt: time.Now(),
	})
	require.NoError(t, err)

	h.start(t)
	ctx := context.Background()

	st := h.o.Status()
	assert.True(t, st.Breaker.Active)
	assert.Equal(t, circuit.TierDefensive, st.Tier)
	require.Len(t, st.Positions, 1, "open BUY restored on start")

	h.o.scanMarket(ctx)
	assert.False(t, containsSymbol(h.o.Positions(), "BTCUSDT"), "no entries while paused")

	// ETH at 50 is far below the stop-loss of the restored position
	h.o.checkPositions(ctx)
	assert.Empty(t, h.o.Positions())
	assert.True(t, h.o.Status().Breaker.Active)
}

func TestManualResetThroughControlChannel(t *testing.T) {
	h := newHarness(t, testSession())
	seedLosses(t, h.store, 3)
	h.start(t)
	ctx := context.Background()
	require.True(t, h.o.Status().Breaker.Active)

	require.NoError(t, h.ctrl.RequestReset(ctx, "ops"))
	h.o.reinvest(ctx)
	assert.False(t, h.o.Status().Breaker.Active)

	published, err := h.ctrl.ReadStatus(ctx)
	require.NoError(t, err)
	assert.False(t, published.Active)
	assert.Equal(t, 3, published.LossStreak)
	assert.Equal(t, h.o.SessionID(), published.SessionID)

	// the defensive tier still applies; the dip clears its tightened RSI gate
	h.o.scanMarket(ctx)
	assert.True(t, containsSymbol(h.o.Positions(), "BTCUSDT"))
	assert.Contains(t, h.eventTypes(), events.EventCircuitBreakerUpdate)
}

func TestWatchlistUpdateRebalancesOnReinvest(t *testing.T) {
	h := newHarness(t, testSession())
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.o.UpdateWatchlist([]string{"ethusdt", "SOLUSDT"}))
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, h.o.Status().Watched, "applied on the next reinvest tick")

	h.o.reinvest(ctx)

	st := h.o.Status()
	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, st.Watched)
	_, watched := h.o.Monitors()["BTCUSDT"]
	assert.False(t, watched)

	require.Len(t, st.Allocations, 2)
	assert.Equal(t, "ETHUSDT", st.Allocations[0].Symbol)
	assert.Equal(t, "SOLUSDT", st.Allocations[1].Symbol)
	assert.InDelta(t, 200.0, st.Allocations[1].AllocatedAmount, 1e-9)
	assert.InDelta(t, 10.0, st.Allocations[1].Quantity, 1e-9)
	assert.Contains(t, h.eventTypes(), events.EventWatchlistChanged)

	assert.ErrorIs(t, h.o.UpdateWatchlist(nil), ErrInvalidSession)
}

func TestFixedQuantityPerTrade(t *testing.T) {
	s := testSession()
	s.QuantityPerTrade = 100
	h := newHarness(t, s)
	h.start(t)

	for _, a := range h.o.Allocations() {
		assert.InDelta(t, 100.0, a.AllocatedAmount, 1e-9)
	}
}

func TestClosePositionManually(t *testing.T) {
	h := newHarness(t, testSession())
	h.start(t)
	ctx := context.Background()

	h.o.scanMarket(ctx)
	require.Len(t, h.o.Positions(), 1)

	h.venue.set("BTCUSDT", 91)
	closed, err := h.o.ClosePosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Greater(t, closed.PnL, 0.0)
	assert.Equal(t, "manual close", closed.Reason)

	_, err = h.o.ClosePosition(ctx, "BTCUSDT")
	assert.Error(t, err)
}

func containsSymbol(positions []position.Position, symbol string) bool {
	for _, p := range positions {
		if p.Symbol == symbol {
			return true
		}
	}
	return false
}
