package database

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a TradeLog kept in process memory. Used for paper sessions
// without a configured database and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	trades []Trade
	index  map[string]int
}

var _ TradeLog = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory trade log
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]int)}
}

func (m *MemoryStore) RecordTrade(_ context.Context, trade *Trade) (string, error) {
	trade.normalize()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.index[trade.ID] = len(m.trades)
	m.trades = append(m.trades, copyTrade(*trade))
	return trade.ID, nil
}

func (m *MemoryStore) PersistRoundTripOutcome(_ context.Context, tradeID string, profitLoss float64, closedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.index[tradeID]
	if !ok {
		return ErrTradeNotFound
	}
	pnl := profitLoss
	at := closedAt.UTC()
	m.trades[i].ProfitLoss = &pnl
	m.trades[i].ClosedAt = &at
	m.trades[i].Status = TradeStatusClosed
	return nil
}

func (m *MemoryStore) TradesSince(_ context.Context, since time.Time) ([]Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Trade
	for _, t := range m.trades {
		if !t.ExecutedAt.Before(since) {
			out = append(out, copyTrade(t))
		}
	}
	sortByExecution(out)
	return out, nil
}

func (m *MemoryStore) OpenTrades(_ context.Context) ([]Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Trade
	for _, t := range m.trades {
		if t.IsOpenBuy() {
			out = append(out, copyTrade(t))
		}
	}
	sortByExecution(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func copyTrade(t Trade) Trade {
	if t.ProfitLoss != nil {
		v := *t.ProfitLoss
		t.ProfitLoss = &v
	}
	if t.ClosedAt != nil {
		v := *t.ClosedAt
		t.ClosedAt = &v
	}
	return t
}
