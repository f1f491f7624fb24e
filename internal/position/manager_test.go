package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/database"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/events"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/logging"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/strategy"
)

type fakeExecutor struct {
	mu      sync.Mutex
	prices  map[string]float64
	fail    map[exchange.Side]error
	// fillRatio, when set for a side, is the share of the order that executes
	fillRatio map[exchange.Side]float64
	gate    chan struct{}
	calls   atomic.Int32
	orderID int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		prices:    map[string]float64{},
		fail:      map[exchange.Side]error{},
		fillRatio: map[exchange.Side]float64{},
	}
}

func (f *fakeExecutor) setPrice(symbol string, p float64) {
	f.mu.Lock()
	f.prices[symbol] = p
	f.mu.Unlock()
}

func (f *fakeExecutor) ExecuteOrder(ctx context.Context, symbol string, side exchange.Side, qty float64, testMode bool) (*exchange.OrderResult, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[side]; err != nil {
		return nil, err
	}
	f.orderID++
	filled, price, status := qty, f.prices[symbol], "FILLED"
	if ratio, ok := f.fillRatio[side]; ok {
		filled = qty * ratio
		status = "PARTIALLY_FILLED"
		if ratio == 0 {
			price, status = 0, "EXPIRED"
		}
	}
	return &exchange.OrderResult{
		OrderID:       fmt.Sprintf("o-%d", f.orderID),
		Symbol:        symbol,
		Side:          side,
		ExecutedPrice: price,
		ExecutedQty:   filled,
		Status:        status,
		TestMode:      testMode,
	}, nil
}

func newTestManager(max int) (*Manager, *fakeExecutor, *database.MemoryStore, *[]events.Event) {
	exec := newFakeExecutor()
	store := database.NewMemoryStore()
	bus := events.NewSyncEventBus()
	var got []events.Event
	var mu sync.Mutex
	bus.SubscribeAll(func(e events.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	m := NewManager(Config{MaxPositions: max, TestMode: true, SessionID: "s1"}, exec, store, bus, logging.Nop())
	return m, exec, store, &got
}

func TestOpenAndCloseRecordsRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, exec, store, got := newTestManager(3)
	exec.setPrice("BTCUSDT", 100)

	pos, err := m.Open(ctx, OpenRequest{Symbol: "BTCUSDT", Quantity: 2, Reason: "entry"})
	require.NoError(t, err)
	assert.NotEmpty(t, pos.TradeID)
	assert.Equal(t, 100.0, pos.BuyPrice)
	assert.Equal(t, 1, m.Count())
	assert.InDelta(t, 200.0, m.Exposure(), 1e-9)

	exec.setPrice("BTCUSDT", 110)
	ct, err := m.Close(ctx, "BTCUSDT", "manual")
	require.NoError(t, err)
	assert.InDelta(t, 20.0, ct.PnL, 1e-9)
	assert.InDelta(t, 10.0, ct.PnLPercent, 1e-9)
	assert.Zero(t, m.Count())

	trades, err := store.TradesSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, trades, 2)

	buyRec, sellRec := trades[0], trades[1]
	assert.Equal(t, pos.TradeID, buyRec.ID)
	assert.Equal(t, database.TradeStatusClosed, buyRec.Status)
	require.NotNil(t, buyRec.ProfitLoss)
	assert.InDelta(t, 20.0, *buyRec.ProfitLoss, 1e-9)
	assert.Equal(t, exchange.SideSell, sellRec.Side)
	require.NotNil(t, sellRec.ProfitLoss)
	assert.InDelta(t, 20.0, *sellRec.ProfitLoss, 1e-9)

	require.Len(t, *got, 2)
	assert.Equal(t, events.EventTradeOpened, (*got)[0].Type)
	assert.Equal(t, events.EventTradeClosed, (*got)[1].Type)
}

func TestOpenRejectsDuplicateAndCapacity(t *testing.T) {
	ctx := context.Background()
	m, exec, _, _ := newTestManager(2)
	for _, s := range []string{"A", "B", "C"} {
		exec.setPrice(s, 10)
	}

	_, err := m.Open(ctx, OpenRequest{Symbol: "A", Quantity: 1})
	require.NoError(t, err)
	_, err = m.Open(ctx, OpenRequest{Symbol: "A", Quantity: 1})
	assert.ErrorIs(t, err, ErrPositionExists)

	_, err = m.Open(ctx, OpenRequest{Symbol: "B", Quantity: 1})
	require.NoError(t, err)
	_, err = m.Open(ctx, OpenRequest{Symbol: "C", Quantity: 1})
	assert.ErrorIs(t, err, ErrAtCapacity)
	assert.Zero(t, m.Available())

	_, err = m.Open(ctx, OpenRequest{Symbol: "C", Quantity: 0})
	assert.Error(t, err)
}

func TestConcurrentOpensSameSymbol(t *testing.T) {
	m, exec, store, _ := newTestManager(5)
	exec.setPrice("ETHUSDT", 50)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Open(context.Background(), OpenRequest{Symbol: "ETHUSDT", Quantity: 1}); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), exec.calls.Load())
	open, err := store.OpenTrades(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestConcurrentOpensRespectCapacity(t *testing.T) {
	m, exec, _, _ := newTestManager(3)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		sym := fmt.Sprintf("S%dUSDT", i)
		exec.setPrice(sym, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Open(context.Background(), OpenRequest{Symbol: sym, Quantity: 1})
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, m.Count())
}

func TestFailedBuyLeavesNoPosition(t *testing.T) {
	m, exec, store, got := newTestManager(3)
	exec.fail[exchange.SideBuy] = errors.New("insufficient balance")

	_, err := m.Open(context.Background(), OpenRequest{Symbol: "BTCUSDT", Quantity: 1})
	require.Error(t, err)
	assert.False(t, m.Has("BTCUSDT"))

	trades, _ := store.TradesSince(context.Background(), time.Time{})
	assert.Empty(t, trades)
	require.Len(t, *got, 1)
	assert.Equal(t, events.EventOrderFailed, (*got)[0].Type)
}

func TestFailedSellKeepsPosition(t *testing.T) {
	ctx := context.Background()
	m, exec, _, _ := newTestManager(3)
	exec.setPrice("BTCUSDT", 100)
	_, err := m.Open(ctx, OpenRequest{Symbol: "BTCUSDT", Quantity: 1})
	require.NoError(t, err)

	exec.fail[exchange.SideSell] = errors.New("timeout")
	_, err = m.Close(ctx, "BTCUSDT", "stop-loss")
	require.Error(t, err)
	assert.True(t, m.Has("BTCUSDT"))

	delete(exec.fail, exchange.SideSell)
	_, err = m.Close(ctx, "BTCUSDT", "stop-loss")
	require.NoError(t, err)
	assert.False(t, m.Has("BTCUSDT"))

	_, err = m.Close(ctx, "BTCUSDT", "again")
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestUnfilledBuyLeavesNoPosition(t *testing.T) {
	m, exec, store, got := newTestManager(3)
	exec.setPrice("BTCUSDT", 100)
	exec.fillRatio[exchange.SideBuy] = 0

	_, err := m.Open(context.Background(), OpenRequest{Symbol: "BTCUSDT", Quantity: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, exchange.ErrNotFilled)
	assert.Contains(t, err.Error(), "EXPIRED")
	assert.False(t, m.Has("BTCUSDT"))
	assert.Zero(t, m.Count())

	trades, _ := store.TradesSince(context.Background(), time.Time{})
	assert.Empty(t, trades)
	require.Len(t, *got, 1)
	assert.Equal(t, events.EventOrderFailed, (*got)[0].Type)
}

func TestUnfilledSellKeepsPosition(t *testing.T) {
	ctx := context.Background()
	m, exec, store, _ := newTestManager(3)
	exec.setPrice("BTCUSDT", 100)
	pos, err := m.Open(ctx, OpenRequest{Symbol: "BTCUSDT", Quantity: 1})
	require.NoError(t, err)

	exec.fillRatio[exchange.SideSell] = 0
	_, err = m.Close(ctx, "BTCUSDT", "manual")
	require.Error(t, err)
	assert.ErrorIs(t, err, exchange.ErrNotFilled)
	assert.True(t, m.Has("BTCUSDT"))

	// nothing was booked against the trade log
	trades, _ := store.TradesSince(ctx, time.Time{})
	require.Len(t, trades, 1)
	assert.Nil(t, trades[0].ProfitLoss)
	assert.Equal(t, database.TradeStatusOpen, trades[0].Status)

	// the symbol is not left reserved for closing
	delete(exec.fillRatio, exchange.SideSell)
	ct, err := m.Close(ctx, "BTCUSDT", "manual")
	require.NoError(t, err)
	assert.Equal(t, pos.TradeID, ct.Position.TradeID)
	assert.InDelta(t, 0.0, ct.PnL, 1e-9)
	assert.False(t, m.Has("BTCUSDT"))
}

func TestPartialSellKeepsRemainder(t *testing.T) {
	ctx := context.Background()
	m, exec, store, _ := newTestManager(3)
	exec.setPrice("BTCUSDT", 100)
	pos, err := m.Open(ctx, OpenRequest{Symbol: "BTCUSDT", Quantity: 2})
	require.NoError(t, err)

	exec.setPrice("BTCUSDT", 110)
	exec.fillRatio[exchange.SideSell] = 0.5
	_, err = m.Close(ctx, "BTCUSDT", "take-profit")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialFill)

	rest, ok := m.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, pos.TradeID, rest.TradeID)
	assert.InDelta(t, 1.0, rest.Quantity, 1e-9)
	assert.InDelta(t, 10.0, rest.RealizedPnL, 1e-9)

	delete(exec.fillRatio, exchange.SideSell)
	exec.setPrice("BTCUSDT", 120)
	ct, err := m.Close(ctx, "BTCUSDT", "take-profit")
	require.NoError(t, err)
	assert.InDelta(t, 30.0, ct.PnL, 1e-9)
	assert.False(t, m.Has("BTCUSDT"))

	trades, _ := store.TradesSince(ctx, time.Time{})
	var sold float64
	for _, tr := range trades {
		switch tr.Side {
		case exchange.SideBuy:
			require.NotNil(t, tr.ProfitLoss)
			assert.InDelta(t, 30.0, *tr.ProfitLoss, 1e-9)
		case exchange.SideSell:
			sold += tr.Quantity
		}
	}
	assert.InDelta(t, 2.0, sold, 1e-9)
}

func TestFillWithoutVenuePrice(t *testing.T) {
	ctx := context.Background()
	m, exec, _, _ := newTestManager(3)

	// the venue reports no price for the buy; the expected price is used
	pos, err := m.Open(ctx, OpenRequest{Symbol: "ETHUSDT", Quantity: 1, Price: 50})
	require.NoError(t, err)
	assert.Equal(t, 50.0, pos.BuyPrice)

	// a priceless sell fill is booked flat, never as a total loss
	ct, err := m.Close(ctx, "ETHUSDT", "manual")
	require.NoError(t, err)
	assert.Equal(t, 50.0, ct.SellPrice)
	assert.Zero(t, ct.PnL)
	assert.Zero(t, exec.prices["ETHUSDT"])
}

// rejectingLog fails every RecordTrade before touching the trade
type rejectingLog struct {
	*database.MemoryStore
}

func (rejectingLog) RecordTrade(context.Context, *database.Trade) (string, error) {
	return "", errors.New("database unavailable")
}

func TestUnrecordedBuysGetDistinctIDs(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	exec.setPrice("A", 10)
	exec.setPrice("B", 20)
	m := NewManager(Config{MaxPositions: 3}, exec, rejectingLog{database.NewMemoryStore()}, nil, logging.Nop())

	a, err := m.Open(ctx, OpenRequest{Symbol: "A", Quantity: 1})
	require.NoError(t, err)
	b, err := m.Open(ctx, OpenRequest{Symbol: "B", Quantity: 1})
	require.NoError(t, err)

	assert.NotEmpty(t, a.TradeID)
	assert.NotEmpty(t, b.TradeID)
	assert.NotEqual(t, a.TradeID, b.TradeID)
	assert.Equal(t, 2, m.Count())

	_, err = m.Close(ctx, "A", "manual")
	require.NoError(t, err)
	assert.True(t, m.Has("B"))
}

func TestConcurrentCloseSellsOnce(t *testing.T) {
	ctx := context.Background()
	m, exec, _, _ := newTestManager(3)
	exec.setPrice("BTCUSDT", 100)
	_, err := m.Open(ctx, OpenRequest{Symbol: "BTCUSDT", Quantity: 1})
	require.NoError(t, err)

	exec.gate = make(chan struct{})
	before := exec.calls.Load()

	errs := make(chan error, 2)
	go func() {
		_, err := m.Close(ctx, "BTCUSDT", "first")
		errs <- err
	}()
	require.Eventually(t, func() bool { return exec.calls.Load() == before+1 }, time.Second, time.Millisecond)

	_, err = m.Close(ctx, "BTCUSDT", "second")
	assert.ErrorIs(t, err, ErrPositionClosing)

	// a closing symbol cannot be re-entered either
	_, err = m.Open(ctx, OpenRequest{Symbol: "BTCUSDT", Quantity: 1})
	assert.ErrorIs(t, err, ErrPositionClosing)

	close(exec.gate)
	require.NoError(t, <-errs)
	assert.Equal(t, before+1, exec.calls.Load())
}

func TestCooldownBlocksReentry(t *testing.T) {
	ctx := context.Background()
	m, exec, _, _ := newTestManager(3)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	exec.setPrice("SOLUSDT", 20)

	_, err := m.Open(ctx, OpenRequest{Symbol: "SOLUSDT", Quantity: 1})
	require.NoError(t, err)
	_, err = m.Close(ctx, "SOLUSDT", "tp")
	require.NoError(t, err)

	req := OpenRequest{Symbol: "SOLUSDT", Quantity: 1, Cooldown: 5 * time.Minute}
	now = now.Add(time.Minute)
	_, err = m.Open(ctx, req)
	assert.ErrorIs(t, err, ErrCoolingDown)

	now = now.Add(5 * time.Minute)
	_, err = m.Open(ctx, req)
	assert.NoError(t, err)
}

func TestRestoreSkipsTrackedSymbols(t *testing.T) {
	m, _, _, _ := newTestManager(1)
	n := m.Restore([]Position{
		{TradeID: "a", Symbol: "BTCUSDT", BuyPrice: 1, Quantity: 1},
		{TradeID: "b", Symbol: "ETHUSDT", BuyPrice: 1, Quantity: 1},
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, m.Count())
	assert.Zero(t, m.Available())

	assert.Zero(t, m.Restore([]Position{{TradeID: "c", Symbol: "BTCUSDT"}}))
	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "BTCUSDT", snap[0].Symbol)
}

// ============================================================================
// EXITS
// ============================================================================

func exitParams() ExitParams {
	mr, _ := strategy.New("mean_reversion")
	return ExitParams{
		StopLossPercent:   2.5,
		TakeProfitPercent: 5,
		Strategy:          mr,
		Tuning:            strategy.DefaultTuning(),
		MinConfidence:     0.6,
		EarlyExit:         EarlyExit{Enabled: true, Lookback: 5, DropPercent: 1, MinProfitPercent: 0.5},
	}
}

func TestEvaluateExitHardStopsWithoutSeries(t *testing.T) {
	pos := Position{Symbol: "X", BuyPrice: 100, Quantity: 1}

	sig, ok := EvaluateExit(pos, 97.4, nil, exitParams())
	require.True(t, ok)
	assert.Contains(t, sig.Reason, "stop-loss")

	sig, ok = EvaluateExit(pos, 105.1, nil, exitParams())
	require.True(t, ok)
	assert.Contains(t, sig.Reason, "take-profit")

	_, ok = EvaluateExit(pos, 100.5, nil, exitParams())
	assert.False(t, ok)
}

func TestEvaluateExitMomentumReversalInProfit(t *testing.T) {
	pos := Position{Symbol: "X", BuyPrice: 100, Quantity: 1}
	series := []float64{100, 102, 103, 104, 102.5, 102}

	sig, ok := EvaluateExit(pos, 102, series, exitParams())
	require.True(t, ok)
	assert.Contains(t, sig.Reason, "momentum reversal")

	p := exitParams()
	p.EarlyExit.Enabled = false
	_, ok = EvaluateExit(pos, 102, series, p)
	assert.False(t, ok)

	// same drop below the profit floor holds
	pos.BuyPrice = 101.8
	_, ok = EvaluateExit(pos, 102, series, exitParams())
	assert.False(t, ok)
}

func TestCheckExitsClosesOnlyTriggered(t *testing.T) {
	ctx := context.Background()
	m, exec, _, _ := newTestManager(3)
	exec.setPrice("AUSDT", 100)
	exec.setPrice("BUSDT", 100)
	exec.setPrice("CUSDT", 100)
	for _, s := range []string{"AUSDT", "BUSDT", "CUSDT"} {
		_, err := m.Open(ctx, OpenRequest{Symbol: s, Quantity: 1})
		require.NoError(t, err)
	}

	quotes := map[string]float64{"AUSDT": 90, "BUSDT": 101}
	exec.setPrice("AUSDT", 90)
	quote := func(_ context.Context, s string) (float64, error) {
		p, ok := quotes[s]
		if !ok {
			return 0, exchange.ErrSymbolNotFound
		}
		return p, nil
	}
	series := func(string) []float64 { return nil }

	closed := m.CheckExits(ctx, quote, series, exitParams())
	require.Len(t, closed, 1)
	assert.Equal(t, "AUSDT", closed[0].Position.Symbol)
	assert.InDelta(t, -10.0, closed[0].PnL, 1e-9)
	assert.True(t, m.Has("BUSDT"))
	assert.True(t, m.Has("CUSDT"))
}
