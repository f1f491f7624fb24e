// Package monitor keeps bounded per-symbol price, volume and candle windows
// for the watched pairs, along with the volatility derived from them.
package monitor

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
)

const (
	// PriceWindow bounds the price and volume buffers
	PriceWindow = 20
	// CandleWindow bounds the candle buffer
	CandleWindow = 60
	// MinStatsPoints is the buffer length at which derived stats are computed
	MinStatsPoints = 10
)

// ErrNotWatched is returned when an observation arrives for a symbol outside the watch set
var ErrNotWatched = errors.New("symbol not watched")

// PairMonitor is the rolling market state of one watched symbol
type PairMonitor struct {
	Symbol             string            `json:"symbol"`
	Prices             []float64         `json:"prices"`
	Volumes            []float64         `json:"volumes"`
	Candles            []exchange.Candle `json:"-"`
	Volatility         float64           `json:"volatility"`
	PriceChangePercent float64           `json:"price_change_percent"`
	LastUpdate         time.Time         `json:"last_update"`
	Active             bool              `json:"active"`
}

// LastPrice returns the most recent price, or 0 when none was observed
func (m *PairMonitor) LastPrice() float64 {
	if len(m.Prices) == 0 {
		return 0
	}
	return m.Prices[len(m.Prices)-1]
}

// LastVolume returns the most recent volume, or 0 when none was observed
func (m *PairMonitor) LastVolume() float64 {
	if len(m.Volumes) == 0 {
		return 0
	}
	return m.Volumes[len(m.Volumes)-1]
}

// Series is the analysis series: candle closes with the in-progress close
// replaced by the live price when a tick arrived after the candle opened.
// Without candles it falls back to the tick prices.
func (m *PairMonitor) Series() []float64 {
	if len(m.Candles) == 0 {
		return append([]float64(nil), m.Prices...)
	}
	out := make([]float64, len(m.Candles))
	for i, c := range m.Candles {
		out[i] = c.Close
	}
	last := m.Candles[len(m.Candles)-1]
	if live := m.LastPrice(); live > 0 && m.LastUpdate.After(last.Timestamp) {
		out[len(out)-1] = live
	}
	return out
}

func (m *PairMonitor) clone() PairMonitor {
	out := *m
	out.Prices = append([]float64(nil), m.Prices...)
	out.Volumes = append([]float64(nil), m.Volumes...)
	out.Candles = append([]exchange.Candle(nil), m.Candles...)
	return out
}

// Store holds one PairMonitor per watched symbol. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	monitors map[string]*PairMonitor
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{monitors: make(map[string]*PairMonitor)}
}

// Watch adds symbols to the watch set. Already watched symbols keep their history.
func (s *Store) Watch(symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		if _, ok := s.monitors[sym]; ok {
			continue
		}
		s.monitors[sym] = &PairMonitor{
			Symbol:  sym,
			Prices:  make([]float64, 0, PriceWindow),
			Volumes: make([]float64, 0, PriceWindow),
			Active:  true,
		}
	}
}

// Unwatch removes symbols and drops their history
func (s *Store) Unwatch(symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		delete(s.monitors, sym)
	}
}

// Clear drops every monitor
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitors = make(map[string]*PairMonitor)
}

// Watched returns the watched symbols, sorted
func (s *Store) Watched() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.monitors))
	for sym := range s.monitors {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// AddObservation appends a price, and a volume when volume > 0, to the
// symbol's windows and refreshes the derived stats.
func (s *Store) AddObservation(symbol string, price, volume float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[symbol]
	if !ok {
		return ErrNotWatched
	}

	m.Prices = appendBounded(m.Prices, price, PriceWindow)
	if volume > 0 {
		m.Volumes = appendBounded(m.Volumes, volume, PriceWindow)
	}
	m.LastUpdate = at

	if len(m.Prices) >= MinStatsPoints {
		m.Volatility = Volatility(m.Prices)
		m.PriceChangePercent = ChangePercent(m.Prices)
	} else {
		m.Volatility = 0
		m.PriceChangePercent = 0
	}
	return nil
}

// AddCandles appends candles, keeping the newest CandleWindow
func (s *Store) AddCandles(symbol string, candles []exchange.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[symbol]
	if !ok {
		return ErrNotWatched
	}
	m.Candles = append(m.Candles, candles...)
	if over := len(m.Candles) - CandleWindow; over > 0 {
		m.Candles = append(m.Candles[:0:0], m.Candles[over:]...)
	}
	return nil
}

// SetCandles replaces the candle buffer, keeping the newest CandleWindow
func (s *Store) SetCandles(symbol string, candles []exchange.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[symbol]
	if !ok {
		return ErrNotWatched
	}
	if over := len(candles) - CandleWindow; over > 0 {
		candles = candles[over:]
	}
	m.Candles = append([]exchange.Candle(nil), candles...)
	return nil
}

// Series returns the symbol's analysis series, oldest first
func (s *Store) Series(symbol string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.monitors[symbol]
	if !ok {
		return nil
	}
	return m.Series()
}

// Get returns a copy of the symbol's monitor
func (s *Store) Get(symbol string) (PairMonitor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.monitors[symbol]
	if !ok {
		return PairMonitor{}, false
	}
	return m.clone(), true
}

// Prices returns a copy of the symbol's price window, oldest first
func (s *Store) Prices(symbol string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.monitors[symbol]
	if !ok {
		return nil
	}
	return append([]float64(nil), m.Prices...)
}

// Snapshot returns copies of all monitors keyed by symbol
func (s *Store) Snapshot() map[string]PairMonitor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]PairMonitor, len(s.monitors))
	for sym, m := range s.monitors {
		out[sym] = m.clone()
	}
	return out
}

func appendBounded(buf []float64, v float64, limit int) []float64 {
	buf = append(buf, v)
	if len(buf) > limit {
		copy(buf, buf[len(buf)-limit:])
		buf = buf[:limit]
	}
	return buf
}

// Volatility is the population standard deviation of per-tick returns, in percent
func Volatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	if len(returns) == 0 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance) * 100
}

// ChangePercent compares the last price of the window with the first
func ChangePercent(prices []float64) float64 {
	if len(prices) < 2 || prices[0] == 0 {
		return 0
	}
	first, last := prices[0], prices[len(prices)-1]
	return (last - first) / first * 100
}
