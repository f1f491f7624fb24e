package binance

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// RequestPriority decides how much of the weight budget a request may use
type RequestPriority int

const (
	// PriorityCritical is for orders; up to 95% of the budget
	PriorityCritical RequestPriority = iota
	// PriorityHigh is for price reads that drive exits; up to 80%
	PriorityHigh
	// PriorityNormal is for market scans; up to 60%
	PriorityNormal
	// PriorityLow is for candle refreshes; up to 40%
	PriorityLow
)

func (p RequestPriority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

func (p RequestPriority) threshold() float64 {
	switch p {
	case PriorityCritical:
		return 0.95
	case PriorityHigh:
		return 0.80
	case PriorityNormal:
		return 0.60
	default:
		return 0.40
	}
}

// Spot REST endpoints and their request weight for a single symbol
const (
	EndpointTickerPrice = "/api/v3/ticker/price"
	EndpointTicker24h   = "/api/v3/ticker/24hr"
	EndpointKlines      = "/api/v3/klines"
	EndpointOrder       = "/api/v3/order"
	EndpointOrderTest   = "/api/v3/order/test"
)

var endpointWeights = map[string]int{
	EndpointTickerPrice: 2,
	EndpointTicker24h:   2,
	EndpointKlines:      2,
	EndpointOrder:       1,
	EndpointOrderTest:   1,
}

// DefaultMaxWeight is the spot REQUEST_WEIGHT limit per minute
const DefaultMaxWeight = 6000

// AcquireResult is the outcome of TryAcquire
type AcquireResult struct {
	Acquired bool
	WaitTime time.Duration
	Reason   string
}

// RateLimiter tracks the per-minute request weight and backs off entirely
// while the exchange reports a ban
type RateLimiter struct {
	mu sync.Mutex

	maxWeight     int
	currentWeight int
	weightResetAt time.Time

	banUntil          time.Time
	consecutiveErrors int

	now func() time.Time
}

// NewRateLimiter creates a limiter with maxWeight per minute
func NewRateLimiter(maxWeight int) *RateLimiter {
	if maxWeight <= 0 {
		maxWeight = DefaultMaxWeight
	}
	return &RateLimiter{maxWeight: maxWeight, now: time.Now}
}

// TryAcquire records the endpoint's weight when the priority's share of the
// budget allows it
func (r *RateLimiter) TryAcquire(endpoint string, priority RequestPriority) AcquireResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !now.Before(r.weightResetAt) {
		r.currentWeight = 0
		r.weightResetAt = now.Add(time.Minute)
	}

	if now.Before(r.banUntil) {
		return AcquireResult{WaitTime: r.banUntil.Sub(now), Reason: "banned"}
	}

	weight := getEndpointWeight(endpoint)
	limit := int(float64(r.maxWeight) * priority.threshold())
	if r.currentWeight+weight > limit {
		return AcquireResult{
			WaitTime: r.weightResetAt.Sub(now),
			Reason:   fmt.Sprintf("weight limit for %s priority", priority),
		}
	}

	r.currentWeight += weight
	r.consecutiveErrors = 0
	return AcquireResult{Acquired: true}
}

// Acquire blocks until the request fits the budget or ctx is done
func (r *RateLimiter) Acquire(ctx context.Context, endpoint string, priority RequestPriority) error {
	for {
		res := r.TryAcquire(endpoint, priority)
		if res.Acquired {
			return nil
		}
		wait := res.WaitTime
		if wait <= 0 {
			wait = 100 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limited (%s): %w", res.Reason, ctx.Err())
		case <-timer.C:
		}
	}
}

// RecordRateLimitError blocks every request until banUntil, or for an
// exponentially growing period when the exchange did not say
func (r *RateLimiter) RecordRateLimitError(banUntil time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveErrors++
	if banUntil.IsZero() {
		backoff := time.Duration(1<<uint(r.consecutiveErrors)) * time.Minute
		if backoff > 30*time.Minute {
			backoff = 30 * time.Minute
		}
		banUntil = r.now().Add(backoff)
	}
	if banUntil.After(r.banUntil) {
		r.banUntil = banUntil
	}
}

// Usage returns the weight used in the current window
func (r *RateLimiter) Usage() (current, max int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentWeight, r.maxWeight
}

// BannedUntil returns the end of the active ban, or zero
func (r *RateLimiter) BannedUntil() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.now().Before(r.banUntil) {
		return r.banUntil
	}
	return time.Time{}
}

func getEndpointWeight(endpoint string) int {
	if weight, ok := endpointWeights[endpoint]; ok {
		return weight
	}
	return 1
}

var banUntilPattern = regexp.MustCompile(`until (\d{13})`)

// ParseBanUntil extracts the ban end from a Binance error message such as
// "Way too many requests; IP banned until 1766824120342."
func ParseBanUntil(msg string, now time.Time) time.Time {
	m := banUntilPattern.FindStringSubmatch(msg)
	if m == nil {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}
	}
	until := time.UnixMilli(ms)
	if until.Before(now) || until.After(now.Add(24*time.Hour)) {
		return time.Time{}
	}
	return until
}
