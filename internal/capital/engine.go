// Package capital splits a session's capital budget across the watched pairs.
package capital

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/exchange"
	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/logging"
)

// QuantityDecimals is the base-asset precision of allocated quantities
const QuantityDecimals = 8

// ErrInvalidCapital is returned when total capital is not positive
var ErrInvalidCapital = errors.New("total capital must be positive")

// Limits bounds how much of the capital may be allocated. All values are
// percentages (10 means 10%).
type Limits struct {
	CapitalPerRoundPercent      float64 `json:"capital_per_round_percent" yaml:"capital_per_round_percent"`
	SafetyReservePercent        float64 `json:"safety_reserve_percent" yaml:"safety_reserve_percent"`
	MaxAllocationPerPairPercent float64 `json:"max_allocation_per_pair_percent" yaml:"max_allocation_per_pair_percent"`
}

// DefaultLimits returns the stock allocation limits
func DefaultLimits() Limits {
	return Limits{
		CapitalPerRoundPercent:      80,
		SafetyReservePercent:        10,
		MaxAllocationPerPairPercent: 20,
	}
}

// Plan is one distribution request
type Plan struct {
	TotalCapital float64
	Symbols      []string
	// QuantityPerTrade is a fixed quote amount per pair; 0 divides the budget evenly
	QuantityPerTrade float64
	Limits           Limits
}

// Budget is the most capital even division may hand out
func (p Plan) Budget() float64 {
	return p.TotalCapital * p.Limits.CapitalPerRoundPercent / 100 * (1 - p.Limits.SafetyReservePercent/100)
}

// PairCap is the most any single pair may receive
func (p Plan) PairCap() float64 {
	return p.TotalCapital * p.Limits.MaxAllocationPerPairPercent / 100
}

func (p Plan) fixed() bool { return p.QuantityPerTrade > 0 }

// Allocation is the capital reserved for one pair
type Allocation struct {
	Symbol           string    `json:"symbol"`
	AllocatedAmount  float64   `json:"allocated_amount"`
	AllocatedPercent float64   `json:"allocated_percent"`
	Quantity         float64   `json:"quantity"`
	Price            float64   `json:"price"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PriceSource provides the reference price used to turn amounts into quantities
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (*exchange.PriceQuote, error)
}

// Engine computes allocations. It holds no allocation state of its own.
type Engine struct {
	prices PriceSource
	logger *logging.Logger
}

// NewEngine creates a capital engine
func NewEngine(prices PriceSource, logger *logging.Logger) *Engine {
	return &Engine{prices: prices, logger: logger.WithComponent("capital")}
}

// Distribute allocates capital to every symbol in the plan. A symbol whose
// price cannot be fetched is skipped without failing the others.
func (e *Engine) Distribute(ctx context.Context, plan Plan) (map[string]Allocation, error) {
	if plan.TotalCapital <= 0 {
		return nil, ErrInvalidCapital
	}

	out := make(map[string]Allocation, len(plan.Symbols))
	if len(plan.Symbols) == 0 {
		return out, nil
	}

	amount := plan.QuantityPerTrade
	if !plan.fixed() {
		amount = plan.Budget() / float64(len(plan.Symbols))
	}
	amount = math.Min(amount, plan.PairCap())

	for _, symbol := range plan.Symbols {
		alloc, err := e.allocate(ctx, plan.TotalCapital, symbol, amount)
		if err != nil {
			e.logger.Warn("Skipping allocation", "symbol", symbol, "error", err)
			continue
		}
		out[symbol] = alloc
	}

	e.logger.Info("Capital distributed",
		"symbols", len(out),
		"requested", len(plan.Symbols),
		"per_pair", amount,
		"fixed", plan.fixed(),
		"total_allocated", Total(out))

	return out, nil
}

// Rebalance keeps allocations of symbols still in the plan, drops the rest,
// and splits the freed budget across symbols that have no allocation yet.
func (e *Engine) Rebalance(ctx context.Context, plan Plan, existing map[string]Allocation) (map[string]Allocation, error) {
	if plan.TotalCapital <= 0 {
		return nil, ErrInvalidCapital
	}

	wanted := make(map[string]bool, len(plan.Symbols))
	for _, s := range plan.Symbols {
		wanted[s] = true
	}

	out := make(map[string]Allocation, len(plan.Symbols))
	released := 0.0
	for symbol, alloc := range existing {
		if wanted[symbol] {
			out[symbol] = alloc
			continue
		}
		released += alloc.AllocatedAmount
	}

	var added []string
	for _, s := range plan.Symbols {
		if _, ok := out[s]; !ok {
			added = append(added, s)
		}
	}
	if len(added) == 0 {
		if released > 0 {
			e.logger.Info("Capital released", "amount", released)
		}
		return out, nil
	}

	var amount float64
	if plan.fixed() {
		amount = plan.QuantityPerTrade
	} else {
		pool := math.Max(0, plan.Budget()-Total(out))
		amount = pool / float64(len(added))
	}
	amount = math.Min(amount, plan.PairCap())

	for _, symbol := range added {
		if amount <= 0 {
			e.logger.Warn("No capital left for new pair", "symbol", symbol)
			continue
		}
		alloc, err := e.allocate(ctx, plan.TotalCapital, symbol, amount)
		if err != nil {
			e.logger.Warn("Skipping allocation", "symbol", symbol, "error", err)
			continue
		}
		out[symbol] = alloc
	}

	e.logger.Info("Capital rebalanced",
		"released", released,
		"added", len(added),
		"per_new_pair", amount,
		"total_allocated", Total(out))

	return out, nil
}

func (e *Engine) allocate(ctx context.Context, total float64, symbol string, amount float64) (Allocation, error) {
	quote, err := e.prices.GetPrice(ctx, symbol)
	if err != nil {
		return Allocation{}, err
	}
	if quote.Price <= 0 {
		return Allocation{}, fmt.Errorf("non-positive price %v", quote.Price)
	}

	return Allocation{
		Symbol:           symbol,
		AllocatedAmount:  amount,
		AllocatedPercent: amount / total * 100,
		Quantity:         RoundQuantity(amount / quote.Price),
		Price:            quote.Price,
		UpdatedAt:        time.Now(),
	}, nil
}

// RoundQuantity rounds a base-asset quantity to QuantityDecimals places
func RoundQuantity(q float64) float64 {
	return decimal.NewFromFloat(q).Round(QuantityDecimals).InexactFloat64()
}

// Total sums the allocated amounts
func Total(allocs map[string]Allocation) float64 {
	total := 0.0
	for _, a := range allocs {
		total += a.AllocatedAmount
	}
	return total
}

// Symbols returns the allocated symbols, sorted
func Symbols(allocs map[string]Allocation) []string {
	out := make([]string, 0, len(allocs))
	for s := range allocs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
