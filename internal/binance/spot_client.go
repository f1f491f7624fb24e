package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/logging"
)

// DefaultMirrors are the public spot REST hosts tried in order.
var DefaultMirrors = []string{
	"https://api.binance.com",
	"https://api1.binance.com",
	"https://api2.binance.com",
	"https://api3.binance.com",
}

const testnetBaseURL = "https://testnet.binance.vision"

// Binance error codes
const (
	codeTooManyRequests = -1003
	codeTooManyOrders   = -1015
	codeInvalidSymbol   = -1121
)

// SpotConfig configures the spot REST collaborator
type SpotConfig struct {
	APIKey     string
	SecretKey  string
	TestNet    bool
	Mirrors    []string
	MaxRetries uint64
	Timeout    time.Duration
	// MaxWeight is the request weight budget per minute
	MaxWeight int
}

// SpotClient implements exchange.Client against the Binance spot REST API.
// Reads are retried across mirror hosts; orders are sent once.
type SpotClient struct {
	clients    []*gobinance.Client
	current    atomic.Int32
	maxRetries uint64
	limiter    *RateLimiter
	logger     *logging.Logger
}

var _ exchange.Client = (*SpotClient)(nil)

// NewSpotClient creates a spot client with one underlying go-binance client per mirror
func NewSpotClient(cfg SpotConfig, logger *logging.Logger) *SpotClient {
	mirrors := cfg.Mirrors
	if cfg.TestNet {
		mirrors = []string{testnetBaseURL}
	} else if len(mirrors) == 0 {
		mirrors = DefaultMirrors
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	clients := make([]*gobinance.Client, 0, len(mirrors))
	for _, base := range mirrors {
		c := gobinance.NewClient(cfg.APIKey, cfg.SecretKey)
		c.BaseURL = base
		c.HTTPClient = &http.Client{Timeout: timeout}
		clients = append(clients, c)
	}

	retries := cfg.MaxRetries
	if retries == 0 {
		retries = uint64(len(clients))
	}

	return &SpotClient{
		clients:    clients,
		maxRetries: retries,
		limiter:    NewRateLimiter(cfg.MaxWeight),
		logger:     logger.WithComponent("binance"),
	}
}

func (c *SpotClient) client() *gobinance.Client {
	return c.clients[int(c.current.Load())%len(c.clients)]
}

func (c *SpotClient) rotate(cause error) {
	if len(c.clients) < 2 {
		return
	}
	next := (c.current.Load() + 1) % int32(len(c.clients))
	c.current.Store(next)
	c.logger.Warn("Switching Binance mirror", "mirror", c.clients[next].BaseURL, "cause", cause)
}

// withRetry runs a read-only call, moving to the next mirror on transport
// errors. Exchange-side API errors are not retried.
func (c *SpotClient) withRetry(ctx context.Context, endpoint string, priority RequestPriority, op func(*gobinance.Client) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	return backoff.Retry(func() error {
		if err := c.limiter.Acquire(ctx, endpoint, priority); err != nil {
			return backoff.Permanent(err)
		}
		err := op(c.client())
		if err == nil {
			return nil
		}
		c.noteRateLimit(err)
		if common.IsAPIError(err) || errors.Is(err, exchange.ErrSymbolNotFound) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		c.rotate(err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
}

// noteRateLimit pauses all requests when the exchange reports throttling
func (c *SpotClient) noteRateLimit(err error) {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return
	}
	if apiErr.Code != codeTooManyRequests && apiErr.Code != codeTooManyOrders {
		return
	}
	until := ParseBanUntil(apiErr.Message, time.Now())
	c.limiter.RecordRateLimitError(until)
	c.logger.Warn("Binance rate limit hit", "code", apiErr.Code, "banned_until", c.limiter.BannedUntil())
}

func mapAPIError(symbol string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeInvalidSymbol {
		return fmt.Errorf("%s: %w", symbol, exchange.ErrSymbolNotFound)
	}
	return err
}

// GetPrice returns the last traded price
func (c *SpotClient) GetPrice(ctx context.Context, symbol string) (*exchange.PriceQuote, error) {
	var quote *exchange.PriceQuote
	err := c.withRetry(ctx, EndpointTickerPrice, PriorityHigh, func(cl *gobinance.Client) error {
		prices, err := cl.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return mapAPIError(symbol, err)
		}
		if len(prices) == 0 {
			return fmt.Errorf("%s: %w", symbol, exchange.ErrSymbolNotFound)
		}
		price, err := strconv.ParseFloat(prices[0].Price, 64)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("parse price %q: %w", prices[0].Price, err))
		}
		quote = &exchange.PriceQuote{Symbol: symbol, Price: price, Timestamp: time.Now()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get price %s: %w", symbol, err)
	}
	return quote, nil
}

// GetMarketData returns the 24h ticker summary
func (c *SpotClient) GetMarketData(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	var ticker *exchange.Ticker
	err := c.withRetry(ctx, EndpointTicker24h, PriorityNormal, func(cl *gobinance.Client) error {
		stats, err := cl.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
		if err != nil {
			return mapAPIError(symbol, err)
		}
		if len(stats) == 0 {
			return fmt.Errorf("%s: %w", symbol, exchange.ErrSymbolNotFound)
		}
		s := stats[0]
		ticker = &exchange.Ticker{
			Symbol:             symbol,
			Price:              parseFloat(s.LastPrice),
			Volume:             parseFloat(s.Volume),
			QuoteVolume:        parseFloat(s.QuoteVolume),
			High:               parseFloat(s.HighPrice),
			Low:                parseFloat(s.LowPrice),
			PriceChangePercent: parseFloat(s.PriceChangePercent),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get market data %s: %w", symbol, err)
	}
	return ticker, nil
}

// GetCandles returns up to limit klines, oldest first. An empty slice with
// an error is returned on failure.
func (c *SpotClient) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	var candles []exchange.Candle
	err := c.withRetry(ctx, EndpointKlines, PriorityLow, func(cl *gobinance.Client) error {
		klines, err := cl.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		if err != nil {
			return mapAPIError(symbol, err)
		}
		candles = make([]exchange.Candle, 0, len(klines))
		for _, k := range klines {
			candles = append(candles, exchange.Candle{
				Open:      parseFloat(k.Open),
				High:      parseFloat(k.High),
				Low:       parseFloat(k.Low),
				Close:     parseFloat(k.Close),
				Volume:    parseFloat(k.Volume),
				Timestamp: time.UnixMilli(k.OpenTime),
			})
		}
		return nil
	})
	if err != nil {
		return []exchange.Candle{}, fmt.Errorf("get candles %s: %w", symbol, err)
	}
	return candles, nil
}

// ExecuteOrder sends a market order. In test mode the order is validated by
// the exchange's test endpoint and the last price is reported as the fill.
func (c *SpotClient) ExecuteOrder(ctx context.Context, symbol string, side exchange.Side, quantity float64, testMode bool) (*exchange.OrderResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("execute %s %s: quantity must be positive, got %v", side, symbol, quantity)
	}

	svc := c.client().NewCreateOrderService().
		Symbol(symbol).
		Side(toSideType(side)).
		Type(gobinance.OrderTypeMarket).
		Quantity(FormatQuantity(quantity))

	endpoint := EndpointOrder
	if testMode {
		endpoint = EndpointOrderTest
	}
	if err := c.limiter.Acquire(ctx, endpoint, PriorityCritical); err != nil {
		return nil, fmt.Errorf("order %s %s: %w", side, symbol, err)
	}

	if testMode {
		if err := svc.Test(ctx); err != nil {
			c.noteRateLimit(err)
			return nil, fmt.Errorf("test order %s %s: %w", side, symbol, mapAPIError(symbol, err))
		}
		quote, err := c.GetPrice(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return &exchange.OrderResult{
			OrderID:       fmt.Sprintf("test-%d", time.Now().UnixNano()),
			Symbol:        symbol,
			Side:          side,
			ExecutedPrice: quote.Price,
			ExecutedQty:   quantity,
			Status:        "FILLED",
			TestMode:      true,
		}, nil
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		c.noteRateLimit(err)
		return nil, fmt.Errorf("order %s %s: %w", side, symbol, mapAPIError(symbol, err))
	}

	executedQty := parseFloat(resp.ExecutedQuantity)
	quoteQty := parseFloat(resp.CummulativeQuoteQuantity)
	price := parseFloat(resp.Price)
	if executedQty > 0 && quoteQty > 0 {
		price = quoteQty / executedQty
	}

	c.logger.Info("Binance order executed",
		"symbol", symbol,
		"side", string(side),
		"order_id", resp.OrderID,
		"executed_qty", executedQty,
		"avg_price", price,
		"status", string(resp.Status))

	return &exchange.OrderResult{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		Symbol:        symbol,
		Side:          side,
		ExecutedPrice: price,
		ExecutedQty:   executedQty,
		Status:        string(resp.Status),
	}, nil
}

func toSideType(side exchange.Side) gobinance.SideType {
	if side == exchange.SideSell {
		return gobinance.SideTypeSell
	}
	return gobinance.SideTypeBuy
}

// FormatQuantity renders a base-asset quantity with at most 8 decimals,
// truncating so the order never exceeds the allocated amount.
func FormatQuantity(quantity float64) string {
	return decimal.NewFromFloat(quantity).Truncate(8).String()
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
