package database

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrTradeNotFound is returned when a trade id is unknown
var ErrTradeNotFound = errors.New("trade not found")

// TradeLog durably records executed trades and round-trip outcomes
type TradeLog interface {
	// RecordTrade stores the trade, assigning an id when empty, and returns the id
	RecordTrade(ctx context.Context, trade *Trade) (string, error)
	// PersistRoundTripOutcome attaches the realized P&L to the opening BUY
	PersistRoundTripOutcome(ctx context.Context, tradeID string, profitLoss float64, closedAt time.Time) error
	// TradesSince returns trades executed at or after since, oldest first
	TradesSince(ctx context.Context, since time.Time) ([]Trade, error)
	// OpenTrades returns BUYs without a persisted outcome, oldest first
	OpenTrades(ctx context.Context) ([]Trade, error)
	Close() error
}

// HealthChecker is implemented by stores backed by an external connection
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheck pings log when it has a connection to ping
func HealthCheck(ctx context.Context, log TradeLog) error {
	if hc, ok := log.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

var (
	idMu   sync.Mutex
	idMono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptorand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	idMono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// NewTradeID returns a time-sortable ULID
func NewTradeID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), idMono).String()
}

func sortByExecution(trades []Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		if trades[i].ExecutedAt.Equal(trades[j].ExecutedAt) {
			return trades[i].ID < trades[j].ID
		}
		return trades[i].ExecutedAt.Before(trades[j].ExecutedAt)
	})
}
