// Package exchange defines the market-data and order-execution collaborators
// the trading core depends on. Implementations live in internal/binance.
package exchange

import (
	"context"
	"errors"
	"time"
)

// ErrSymbolNotFound is returned when the venue has no data for a symbol.
var ErrSymbolNotFound = errors.New("symbol not found")

// ErrNotFilled means the venue accepted the order but executed nothing
var ErrNotFilled = errors.New("order not filled")

// Side is the order side
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PriceQuote is the last traded price of a symbol
type PriceQuote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Ticker is the 24h market summary of a symbol
type Ticker struct {
	Symbol             string  `json:"symbol"`
	Price              float64 `json:"price"`
	Volume             float64 `json:"volume"`       // base asset
	QuoteVolume        float64 `json:"quote_volume"` // quote asset, 0 when unknown
	High               float64 `json:"high"`
	Low                float64 `json:"low"`
	PriceChangePercent float64 `json:"price_change_percent"`
}

// QuoteVolumeOrEstimate returns the quote volume, estimating it from base
// volume and price when the venue did not report it.
func (t Ticker) QuoteVolumeOrEstimate() float64 {
	if t.QuoteVolume > 0 {
		return t.QuoteVolume
	}
	return t.Volume * t.Price
}

// Candle is one OHLCV bar
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderResult is what the venue reports for an executed market order
type OrderResult struct {
	OrderID       string  `json:"order_id"`
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	ExecutedPrice float64 `json:"executed_price"`
	ExecutedQty   float64 `json:"executed_qty"`
	Status        string  `json:"status"`
	TestMode      bool    `json:"test_mode"`
}

// Filled reports whether any quantity was executed
func (r *OrderResult) Filled() bool {
	return r != nil && r.ExecutedQty > 0
}

// MarketDataProvider supplies prices, 24h summaries and candles.
// Implementations return ErrSymbolNotFound (possibly wrapped) when the
// venue has nothing for the symbol.
type MarketDataProvider interface {
	GetPrice(ctx context.Context, symbol string) (*PriceQuote, error)
	GetMarketData(ctx context.Context, symbol string) (*Ticker, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// OrderExecutor places market orders.
type OrderExecutor interface {
	ExecuteOrder(ctx context.Context, symbol string, side Side, quantity float64, testMode bool) (*OrderResult, error)
}

// Client is a venue that provides both market data and execution.
type Client interface {
	MarketDataProvider
	OrderExecutor
}
