package binance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedLimiter(maxWeight int, now *time.Time) *RateLimiter {
	r := NewRateLimiter(maxWeight)
	r.now = func() time.Time { return *now }
	return r
}

func TestRateLimiterPriorityShares(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := fixedLimiter(100, &now)

	// low priority stops at 40% of the budget
	for i := 0; i < 20; i++ {
		require.True(t, r.TryAcquire(EndpointKlines, PriorityLow).Acquired, i)
	}
	res := r.TryAcquire(EndpointKlines, PriorityLow)
	assert.False(t, res.Acquired)
	assert.Equal(t, time.Minute, res.WaitTime)
	assert.Contains(t, res.Reason, "LOW")

	// orders still get through
	assert.True(t, r.TryAcquire(EndpointOrder, PriorityCritical).Acquired)
	current, max := r.Usage()
	assert.Equal(t, 41, current)
	assert.Equal(t, 100, max)

	// the window resets after a minute
	now = now.Add(time.Minute)
	assert.True(t, r.TryAcquire(EndpointKlines, PriorityLow).Acquired)
	current, _ = r.Usage()
	assert.Equal(t, 2, current)
}

func TestRateLimiterBan(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := fixedLimiter(0, &now)

	r.RecordRateLimitError(now.Add(5 * time.Minute))
	res := r.TryAcquire(EndpointOrder, PriorityCritical)
	assert.False(t, res.Acquired)
	assert.Equal(t, "banned", res.Reason)
	assert.Equal(t, 5*time.Minute, res.WaitTime)
	assert.Equal(t, now.Add(5*time.Minute), r.BannedUntil())

	now = now.Add(5 * time.Minute)
	assert.True(t, r.TryAcquire(EndpointOrder, PriorityCritical).Acquired)
	assert.True(t, r.BannedUntil().IsZero())
}

func TestRateLimiterBackoffWithoutBanTime(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := fixedLimiter(0, &now)

	r.RecordRateLimitError(time.Time{})
	assert.Equal(t, now.Add(2*time.Minute), r.BannedUntil())
	r.RecordRateLimitError(time.Time{})
	assert.Equal(t, now.Add(4*time.Minute), r.BannedUntil())

	for i := 0; i < 10; i++ {
		r.RecordRateLimitError(time.Time{})
	}
	assert.Equal(t, now.Add(30*time.Minute), r.BannedUntil())
}

func TestRateLimiterAcquireHonoursContext(t *testing.T) {
	r := NewRateLimiter(0)
	r.RecordRateLimitError(time.Now().Add(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Acquire(ctx, EndpointTickerPrice, PriorityHigh)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "banned")
}

func TestParseBanUntil(t *testing.T) {
	now := time.UnixMilli(1766824000000)

	until := ParseBanUntil("Way too many requests; IP banned until 1766824120342.", now)
	assert.Equal(t, time.UnixMilli(1766824120342), until)

	assert.True(t, ParseBanUntil("Too many requests", now).IsZero())
	assert.True(t, ParseBanUntil("banned until 1766800000000", now).IsZero(), "already past")
	assert.True(t, ParseBanUntil("banned until 1866824120342", now).IsZero(), "too far ahead")
}
