package capital

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/logging"
)

type fakePrices map[string]float64

func (f fakePrices) GetPrice(_ context.Context, symbol string) (*exchange.PriceQuote, error) {
	p, ok := f[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, exchange.ErrSymbolNotFound)
	}
	return &exchange.PriceQuote{Symbol: symbol, Price: p, Timestamp: time.Now()}, nil
}

var testPrices = fakePrices{
	"BTCUSDT": 50000,
	"ETHUSDT": 3000,
	"SOLUSDT": 150,
	"XRPUSDT": 0.5,
	"ADAUSDT": 0.3,
	"DOTUSDT": 7,
}

func newEngine() *Engine {
	return NewEngine(testPrices, logging.Nop())
}

func TestDistributeFixedAmount(t *testing.T) {
	plan := Plan{
		TotalCapital:     1000,
		Symbols:          []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "ADAUSDT"},
		QuantityPerTrade: 100,
		Limits:           DefaultLimits(),
	}

	allocs, err := newEngine().Distribute(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, allocs, 5)

	for _, a := range allocs {
		assert.Equal(t, 100.0, a.AllocatedAmount)
		assert.InDelta(t, 10.0, a.AllocatedPercent, 1e-9)
		assert.LessOrEqual(t, a.AllocatedAmount, plan.PairCap())
	}
	assert.Equal(t, 500.0, Total(allocs))
	assert.InDelta(t, 0.002, allocs["BTCUSDT"].Quantity, 1e-12)
	assert.Equal(t, 200.0, allocs["XRPUSDT"].Quantity)
}

func TestDistributeFixedAmountIsCapped(t *testing.T) {
	plan := Plan{
		TotalCapital:     1000,
		Symbols:          []string{"ETHUSDT"},
		QuantityPerTrade: 500,
		Limits:           Limits{CapitalPerRoundPercent: 100, MaxAllocationPerPairPercent: 20},
	}
	allocs, err := newEngine().Distribute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 200.0, allocs["ETHUSDT"].AllocatedAmount)
}

func TestDistributeEvenSplit(t *testing.T) {
	limits := Limits{CapitalPerRoundPercent: 80, SafetyReservePercent: 10, MaxAllocationPerPairPercent: 50}

	tests := []struct {
		name    string
		symbols []string
		perPair float64
	}{
		// budget = 1000 * 0.8 * 0.9 = 720
		{"budget bound", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"}, 180},
		{"cap bound", []string{"BTCUSDT"}, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Plan{TotalCapital: 1000, Symbols: tt.symbols, Limits: limits}
			allocs, err := newEngine().Distribute(context.Background(), plan)
			require.NoError(t, err)
			require.Len(t, allocs, len(tt.symbols))
			for _, a := range allocs {
				assert.InDelta(t, tt.perPair, a.AllocatedAmount, 1e-9)
				assert.LessOrEqual(t, a.AllocatedAmount, plan.PairCap()+1e-9)
			}
			assert.LessOrEqual(t, Total(allocs), plan.Budget()+1e-9)
		})
	}
}

func TestDistributeSkipsFailedSymbol(t *testing.T) {
	plan := Plan{
		TotalCapital: 1000,
		Symbols:      []string{"BTCUSDT", "NOPEUSDT", "ETHUSDT"},
		Limits:       DefaultLimits(),
	}
	allocs, err := newEngine().Distribute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, Symbols(allocs))
}

func TestDistributeRejectsNonPositiveCapital(t *testing.T) {
	_, err := newEngine().Distribute(context.Background(), Plan{TotalCapital: 0, Symbols: []string{"BTCUSDT"}})
	assert.ErrorIs(t, err, ErrInvalidCapital)
}

func TestQuantityRounding(t *testing.T) {
	assert.Equal(t, 0.12345679, RoundQuantity(0.123456789))
	assert.Equal(t, 1.0, RoundQuantity(0.999999999))

	plan := Plan{TotalCapital: 1000, Symbols: []string{"DOTUSDT"}, QuantityPerTrade: 100, Limits: DefaultLimits()}
	allocs, err := newEngine().Distribute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 14.28571429, allocs["DOTUSDT"].Quantity)
}

func TestRebalance(t *testing.T) {
	ctx := context.Background()
	e := newEngine()
	limits := Limits{CapitalPerRoundPercent: 100, SafetyReservePercent: 0, MaxAllocationPerPairPercent: 50}

	initial, err := e.Distribute(ctx, Plan{
		TotalCapital: 1000,
		Symbols:      []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"},
		Limits:       limits,
	})
	require.NoError(t, err)
	btc := initial["BTCUSDT"]

	t.Run("unchanged set keeps allocations", func(t *testing.T) {
		out, err := e.Rebalance(ctx, Plan{
			TotalCapital: 1000,
			Symbols:      []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"},
			Limits:       limits,
		}, initial)
		require.NoError(t, err)
		assert.Equal(t, initial, out)
	})

	t.Run("freed capital goes to new symbols", func(t *testing.T) {
		out, err := e.Rebalance(ctx, Plan{
			TotalCapital: 1000,
			Symbols:      []string{"BTCUSDT", "ETHUSDT", "ADAUSDT", "DOTUSDT"},
			Limits:       limits,
		}, initial)
		require.NoError(t, err)
		require.Equal(t, []string{"ADAUSDT", "BTCUSDT", "DOTUSDT", "ETHUSDT"}, Symbols(out))

		assert.Equal(t, btc, out["BTCUSDT"], "kept symbols untouched")
		// SOL and XRP released 500, split across two new pairs
		assert.InDelta(t, 250, out["ADAUSDT"].AllocatedAmount, 1e-9)
		assert.InDelta(t, 250, out["DOTUSDT"].AllocatedAmount, 1e-9)
		assert.InDelta(t, 1000, Total(out), 1e-9)
	})

	t.Run("removal only releases", func(t *testing.T) {
		out, err := e.Rebalance(ctx, Plan{
			TotalCapital: 1000,
			Symbols:      []string{"BTCUSDT"},
			Limits:       limits,
		}, initial)
		require.NoError(t, err)
		assert.Len(t, out, 1)
		assert.Equal(t, btc, out["BTCUSDT"])
	})

	t.Run("new symbols respect pair cap", func(t *testing.T) {
		out, err := e.Rebalance(ctx, Plan{
			TotalCapital: 1000,
			Symbols:      []string{"ADAUSDT"},
			Limits:       limits,
		}, initial)
		require.NoError(t, err)
		assert.InDelta(t, 500, out["ADAUSDT"].AllocatedAmount, 1e-9)
	})
}
