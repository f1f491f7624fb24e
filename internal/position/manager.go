// Package position owns the open long positions of a trading session: it
// opens them through the order executor, watches their exit conditions and
// records realized P&L to the trade log.
package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/database"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/events"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/logging"
)

var (
	ErrAtCapacity      = errors.New("max open positions reached")
	ErrPositionExists  = errors.New("position already open for symbol")
	ErrPositionClosing = errors.New("position is being closed")
	ErrNoPosition      = errors.New("no open position for symbol")
	ErrCoolingDown     = errors.New("symbol in re-entry cooldown")
	ErrPartialFill     = errors.New("sell partially filled")
)

// quantityDust is the smallest base quantity worth tracking
const quantityDust = 1e-8

// Position is one open long leg. Values are never edited in place; a
// partially filled sell replaces the position with its unsold remainder.
type Position struct {
	TradeID  string    `json:"trade_id"`
	Symbol   string    `json:"symbol"`
	BuyPrice float64   `json:"buy_price"`
	Quantity float64   `json:"quantity"`
	OpenedAt time.Time `json:"opened_at"`
	OrderID  string    `json:"order_id,omitempty"`
	TestMode bool      `json:"test_mode"`
	// RealizedPnL accumulates the P&L of earlier partial sells
	RealizedPnL float64 `json:"realized_pnl,omitempty"`
}

// Cost is the quote amount paid for the position
func (p Position) Cost() float64 {
	return p.BuyPrice * p.Quantity
}

// ClosedTrade is the outcome of a completed round-trip
type ClosedTrade struct {
	Position   Position  `json:"position"`
	SellPrice  float64   `json:"sell_price"`
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnl_percent"`
	Reason     string    `json:"reason"`
	ClosedAt   time.Time `json:"closed_at"`
}

// OpenRequest asks for a new position
type OpenRequest struct {
	Symbol   string
	Quantity float64
	// Price is the expected fill price, used when the venue reports none
	Price  float64
	Reason string
	// Cooldown blocks re-entry this long after the symbol's last close
	Cooldown time.Duration
}

// Config configures a Manager
type Config struct {
	MaxPositions int
	TestMode     bool
	SessionID    string
	// CallTimeout bounds each executor and trade log call; 0 uses the caller's context
	CallTimeout time.Duration
}

type pendingState int

const (
	pendingOpen pendingState = iota + 1
	pendingClose
)

// Manager holds the open positions. Check-then-act sequences run under one
// lock; network calls run outside it with the symbol reserved.
type Manager struct {
	config   Config
	executor exchange.OrderExecutor
	tradeLog database.TradeLog
	bus      *events.EventBus
	logger   *logging.Logger
	now      func() time.Time

	mu         sync.Mutex
	positions  map[string]*Position // by trade id
	bySymbol   map[string]string
	pending    map[string]pendingState
	lastClosed map[string]time.Time
}

// NewManager creates a position manager
func NewManager(cfg Config, executor exchange.OrderExecutor, tradeLog database.TradeLog, bus *events.EventBus, logger *logging.Logger) *Manager {
	return &Manager{
		config:     cfg,
		executor:   executor,
		tradeLog:   tradeLog,
		bus:        bus,
		logger:     logger.WithComponent("position"),
		now:        time.Now,
		positions:  make(map[string]*Position),
		bySymbol:   make(map[string]string),
		pending:    make(map[string]pendingState),
		lastClosed: make(map[string]time.Time),
	}
}

func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.CallTimeout > 0 {
		return context.WithTimeout(ctx, m.config.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) openingCount() int {
	n := 0
	for _, st := range m.pending {
		if st == pendingOpen {
			n++
		}
	}
	return n
}

// reserveOpen checks capacity, uniqueness and cooldown and reserves the
// symbol. Caller must release the reservation.
func (m *Manager) reserveOpen(req OpenRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bySymbol[req.Symbol]; ok {
		return ErrPositionExists
	}
	switch m.pending[req.Symbol] {
	case pendingOpen:
		return ErrPositionExists
	case pendingClose:
		return ErrPositionClosing
	}
	if req.Cooldown > 0 {
		if last, ok := m.lastClosed[req.Symbol]; ok && m.now().Sub(last) < req.Cooldown {
			return ErrCoolingDown
		}
	}
	if len(m.positions)+m.openingCount() >= m.config.MaxPositions {
		return ErrAtCapacity
	}
	m.pending[req.Symbol] = pendingOpen
	return nil
}

// Open buys req.Quantity of req.Symbol and stores the position under the id
// of the recorded BUY. An execution failure leaves no position behind.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (Position, error) {
	if req.Quantity <= 0 {
		return Position{}, fmt.Errorf("open %s: quantity must be positive, got %v", req.Symbol, req.Quantity)
	}
	if err := m.reserveOpen(req); err != nil {
		return Position{}, err
	}

	release := func() {
		m.mu.Lock()
		delete(m.pending, req.Symbol)
		m.mu.Unlock()
	}

	callCtx, cancel := m.callContext(ctx)
	res, err := m.executor.ExecuteOrder(callCtx, req.Symbol, exchange.SideBuy, req.Quantity, m.config.TestMode)
	cancel()
	if err == nil && !res.Filled() {
		err = fmt.Errorf("%w (status %s)", exchange.ErrNotFilled, orderStatus(res))
	}
	if err != nil {
		release()
		m.bus.Publish(events.Event{Type: events.EventOrderFailed, Data: map[string]interface{}{
			"symbol": req.Symbol, "side": string(exchange.SideBuy), "error": err.Error(),
		}})
		return Position{}, fmt.Errorf("buy %s: %w", req.Symbol, err)
	}

	qty := res.ExecutedQty
	buyPrice := res.ExecutedPrice
	if buyPrice <= 0 {
		buyPrice = req.Price
	}
	if buyPrice <= 0 {
		m.logger.Error("Buy filled without a price, stop-loss and take-profit cannot fire",
			"symbol", req.Symbol, "order_id", res.OrderID)
	}
	openedAt := m.now()

	trade := &database.Trade{
		ID:         database.NewTradeID(),
		SessionID:  m.config.SessionID,
		Symbol:     req.Symbol,
		Side:       exchange.SideBuy,
		Price:      buyPrice,
		Quantity:   qty,
		ExecutedAt: openedAt,
		OrderID:    res.OrderID,
		TestMode:   m.config.TestMode,
		Status:     database.TradeStatusOpen,
		Reason:     req.Reason,
	}
	callCtx, cancel = m.callContext(ctx)
	tradeID, err := m.tradeLog.RecordTrade(callCtx, trade)
	cancel()
	if err != nil {
		// the exchange holds the position either way; keep tracking it
		tradeID = trade.ID
		m.logger.Error("Failed to record BUY, tracking position with local id",
			"symbol", req.Symbol, "trade_id", tradeID, "error", err)
	}

	pos := Position{
		TradeID:  tradeID,
		Symbol:   req.Symbol,
		BuyPrice: buyPrice,
		Quantity: qty,
		OpenedAt: openedAt,
		OrderID:  res.OrderID,
		TestMode: m.config.TestMode,
	}

	m.mu.Lock()
	m.positions[tradeID] = &pos
	m.bySymbol[req.Symbol] = tradeID
	delete(m.pending, req.Symbol)
	m.mu.Unlock()

	logging.TradeContext(m.logger, req.Symbol, string(exchange.SideBuy), qty, buyPrice).
		Info("Position opened", "trade_id", tradeID, "reason", req.Reason)
	m.bus.PublishTradeOpened(tradeID, req.Symbol, buyPrice, qty, req.Reason)

	return pos, nil
}

// Close sells the whole position of symbol
func (m *Manager) Close(ctx context.Context, symbol, reason string) (ClosedTrade, error) {
	return m.close(ctx, symbol, 0, reason)
}

func (m *Manager) close(ctx context.Context, symbol string, priceHint float64, reason string) (ClosedTrade, error) {
	m.mu.Lock()
	tradeID, ok := m.bySymbol[symbol]
	if !ok {
		m.mu.Unlock()
		return ClosedTrade{}, ErrNoPosition
	}
	if m.pending[symbol] == pendingClose {
		m.mu.Unlock()
		return ClosedTrade{}, ErrPositionClosing
	}
	m.pending[symbol] = pendingClose
	pos := *m.positions[tradeID]
	m.mu.Unlock()

	callCtx, cancel := m.callContext(ctx)
	res, err := m.executor.ExecuteOrder(callCtx, symbol, exchange.SideSell, pos.Quantity, m.config.TestMode)
	cancel()
	if err == nil && !res.Filled() {
		err = fmt.Errorf("%w (status %s)", exchange.ErrNotFilled, orderStatus(res))
	}
	if err != nil {
		m.mu.Lock()
		delete(m.pending, symbol)
		m.mu.Unlock()
		m.logger.Warn("Sell failed, position stays open", "symbol", symbol, "trade_id", tradeID, "error", err)
		m.bus.Publish(events.Event{Type: events.EventOrderFailed, Data: map[string]interface{}{
			"symbol": symbol, "side": string(exchange.SideSell), "error": err.Error(),
		}})
		return ClosedTrade{}, fmt.Errorf("sell %s: %w", symbol, err)
	}

	sellPrice := res.ExecutedPrice
	if sellPrice <= 0 {
		sellPrice = priceHint
	}
	if sellPrice <= 0 {
		// no price to value the fill; book it flat rather than as a total loss
		sellPrice = pos.BuyPrice
		m.logger.Error("Sell filled without a price, booking at entry price",
			"symbol", symbol, "trade_id", tradeID, "order_id", res.OrderID)
	}
	closedAt := m.now()
	sold := math.Min(res.ExecutedQty, pos.Quantity)
	fillPnL := (sellPrice - pos.BuyPrice) * sold
	m.recordSell(ctx, pos, res, sold, sellPrice, fillPnL, closedAt, reason)

	if remaining := pos.Quantity - sold; remaining >= quantityDust {
		rest := pos
		rest.Quantity = remaining
		rest.RealizedPnL += fillPnL

		m.mu.Lock()
		m.positions[tradeID] = &rest
		delete(m.pending, symbol)
		m.mu.Unlock()

		m.logger.Warn("Sell partially filled, remainder stays open",
			"symbol", symbol, "trade_id", tradeID, "sold", sold, "remaining", remaining)
		return ClosedTrade{}, fmt.Errorf("sell %s: %w: %.8g of %.8g", symbol, ErrPartialFill, sold, pos.Quantity)
	}

	pnl := pos.RealizedPnL + fillPnL
	pnlPercent := 0.0
	if pos.BuyPrice > 0 {
		pnlPercent = (sellPrice - pos.BuyPrice) / pos.BuyPrice * 100
	}
	m.persistOutcome(ctx, pos, pnl, closedAt)

	m.mu.Lock()
	delete(m.positions, tradeID)
	delete(m.bySymbol, symbol)
	delete(m.pending, symbol)
	m.lastClosed[symbol] = closedAt
	m.mu.Unlock()

	closed := ClosedTrade{
		Position:   pos,
		SellPrice:  sellPrice,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		Reason:     reason,
		ClosedAt:   closedAt,
	}

	logging.TradeContext(m.logger, symbol, string(exchange.SideSell), pos.Quantity, sellPrice).
		Info("Position closed", "trade_id", tradeID, "pnl", pnl, "pnl_percent", pnlPercent, "reason", reason)
	m.bus.PublishTradeClosed(tradeID, symbol, pos.BuyPrice, sellPrice, pos.Quantity, pnl, reason)

	return closed, nil
}

func orderStatus(res *exchange.OrderResult) string {
	if res == nil || res.Status == "" {
		return "UNKNOWN"
	}
	return res.Status
}

// recordSell logs one sell fill with its P&L. Failures are logged; the
// exchange side is already settled.
func (m *Manager) recordSell(ctx context.Context, pos Position, res *exchange.OrderResult, qty, sellPrice, pnl float64, closedAt time.Time, reason string) {
	sell := &database.Trade{
		SessionID:  m.config.SessionID,
		Symbol:     pos.Symbol,
		Side:       exchange.SideSell,
		Price:      sellPrice,
		Quantity:   qty,
		ProfitLoss: &pnl,
		ExecutedAt: closedAt,
		OrderID:    res.OrderID,
		TestMode:   m.config.TestMode,
		Status:     database.TradeStatusFilled,
		Reason:     reason,
	}

	callCtx, cancel := m.callContext(ctx)
	defer cancel()
	if _, err := m.tradeLog.RecordTrade(callCtx, sell); err != nil {
		m.logger.Error("Failed to record SELL", "symbol", pos.Symbol, "trade_id", pos.TradeID, "error", err)
	}
}

// persistOutcome attaches the round-trip P&L to the BUY
func (m *Manager) persistOutcome(ctx context.Context, pos Position, pnl float64, closedAt time.Time) {
	callCtx, cancel := m.callContext(ctx)
	defer cancel()
	if err := m.tradeLog.PersistRoundTripOutcome(callCtx, pos.TradeID, pnl, closedAt); err != nil {
		m.logger.Error("Failed to persist round-trip outcome", "symbol", pos.Symbol, "trade_id", pos.TradeID, "error", err)
	}
}

// Restore adds positions recovered from the trade log. Symbols already
// tracked are skipped. Capacity is not enforced: every open exchange
// position must stay tracked.
func (m *Manager) Restore(positions []Position) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	restored := 0
	for _, p := range positions {
		if _, ok := m.bySymbol[p.Symbol]; ok {
			continue
		}
		pos := p
		m.positions[pos.TradeID] = &pos
		m.bySymbol[pos.Symbol] = pos.TradeID
		restored++
	}
	if len(m.positions) > m.config.MaxPositions {
		m.logger.Warn("Restored positions exceed capacity", "open", len(m.positions), "max", m.config.MaxPositions)
	}
	return restored
}

// Get returns the open position of symbol
func (m *Manager) Get(symbol string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySymbol[symbol]
	if !ok {
		return Position{}, false
	}
	return *m.positions[id], true
}

// Has reports whether symbol has an open or opening position
func (m *Manager) Has(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, open := m.bySymbol[symbol]
	return open || m.pending[symbol] == pendingOpen
}

// Count returns the number of open positions
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// Available returns how many more positions may be opened
func (m *Manager) Available() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.config.MaxPositions - len(m.positions) - m.openingCount()
	if n < 0 {
		return 0
	}
	return n
}

// Snapshot returns the open positions sorted by symbol
func (m *Manager) Snapshot() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Exposure is the quote amount currently invested
func (m *Manager) Exposure() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0.0
	for _, p := range m.positions {
		total += p.Cost()
	}
	return total
}
