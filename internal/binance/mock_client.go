package binance

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
)

// MockClient is a paper exchange with random-walk prices, used for dry runs
// and local development
type MockClient struct {
	prices     map[string]float64
	lastUpdate time.Time
	step       time.Duration
	rng        *rand.Rand
	orderSeq   int64
	mu         sync.Mutex
}

var _ exchange.Client = (*MockClient)(nil)

// DefaultMockPrices seeds the paper exchange
var DefaultMockPrices = map[string]float64{
	"BTCUSDT":  104500.00,
	"ETHUSDT":  3900.00,
	"BNBUSDT":  710.00,
	"SOLUSDT":  220.00,
	"XRPUSDT":  2.35,
	"ADAUSDT":  1.05,
	"DOGEUSDT": 0.40,
	"AVAXUSDT": 50.00,
	"LINKUSDT": 28.00,
	"LTCUSDT":  115.00,
}

// NewMockClient creates a paper exchange. A zero seed uses the clock.
func NewMockClient(seed int64) *MockClient {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	prices := make(map[string]float64, len(DefaultMockPrices))
	for s, p := range DefaultMockPrices {
		prices[s] = p
	}
	return &MockClient{
		prices:     prices,
		lastUpdate: time.Now(),
		step:       time.Second,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// SetPrice pins a symbol's price, adding the symbol if needed
func (mc *MockClient) SetPrice(symbol string, price float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.prices[symbol] = price
}

// Freeze stops the random walk so prices only move via SetPrice
func (mc *MockClient) Freeze() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.step = 0
}

// walk moves every price by up to ±0.5%, at most once per step. Caller holds mu.
func (mc *MockClient) walk() {
	if mc.step == 0 || time.Since(mc.lastUpdate) < mc.step {
		return
	}
	for symbol, price := range mc.prices {
		change := (mc.rng.Float64() - 0.5) * 0.01
		mc.prices[symbol] = price * (1 + change)
	}
	mc.lastUpdate = time.Now()
}

func (mc *MockClient) price(symbol string) (float64, error) {
	mc.walk()
	p, ok := mc.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%s: %w", symbol, exchange.ErrSymbolNotFound)
	}
	return p, nil
}

// GetPrice returns the simulated last price
func (mc *MockClient) GetPrice(ctx context.Context, symbol string) (*exchange.PriceQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	p, err := mc.price(symbol)
	if err != nil {
		return nil, err
	}
	return &exchange.PriceQuote{Symbol: symbol, Price: p, Timestamp: time.Now()}, nil
}

// GetMarketData returns a simulated 24h summary around the current price
func (mc *MockClient) GetMarketData(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	p, err := mc.price(symbol)
	if err != nil {
		return nil, err
	}
	volume := 1000000 + mc.rng.Float64()*10000000
	return &exchange.Ticker{
		Symbol:             symbol,
		Price:              p,
		Volume:             volume,
		QuoteVolume:        volume * p,
		High:               p * (1 + mc.rng.Float64()*0.03),
		Low:                p * (1 - mc.rng.Float64()*0.03),
		PriceChangePercent: (mc.rng.Float64() - 0.5) * 10,
	}, nil
}

// GetCandles generates limit candles ending at the current price
func (mc *MockClient) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	if err := ctx.Err(); err != nil {
		return []exchange.Candle{}, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	last, err := mc.price(symbol)
	if err != nil {
		return []exchange.Candle{}, err
	}
	if limit <= 0 {
		return []exchange.Candle{}, nil
	}

	width := intervalDuration(interval)
	candles := make([]exchange.Candle, limit)
	now := time.Now()

	// Walk backwards from the live price so the newest close matches it
	closePrice := last
	for i := limit - 1; i >= 0; i-- {
		const volatility = 0.02
		change := (mc.rng.Float64() - 0.5) * volatility * 2
		open := closePrice / (1 + change)
		candles[i] = exchange.Candle{
			Open:      open,
			High:      math.Max(open, closePrice) * (1 + mc.rng.Float64()*volatility*0.5),
			Low:       math.Min(open, closePrice) * (1 - mc.rng.Float64()*volatility*0.5),
			Close:     closePrice,
			Volume:    1000 + mc.rng.Float64()*5000,
			Timestamp: now.Add(-time.Duration(limit-i) * width),
		}
		closePrice = open
	}
	return candles, nil
}

// ExecuteOrder fills immediately at the current simulated price
func (mc *MockClient) ExecuteOrder(ctx context.Context, symbol string, side exchange.Side, quantity float64, testMode bool) (*exchange.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("execute %s %s: quantity must be positive, got %v", side, symbol, quantity)
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	p, err := mc.price(symbol)
	if err != nil {
		return nil, err
	}
	mc.orderSeq++
	return &exchange.OrderResult{
		OrderID:       fmt.Sprintf("paper-%d", mc.orderSeq),
		Symbol:        symbol,
		Side:          side,
		ExecutedPrice: p,
		ExecutedQty:   quantity,
		Status:        "FILLED",
		TestMode:      testMode,
	}, nil
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
