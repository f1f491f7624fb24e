// Package control carries operator signals into a running session and
// publishes the circuit breaker status back out.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/logging"
)

// Redis key layout
const (
	// KeyBreakerReset holds a pending manual reset request; consumed with GETDEL
	KeyBreakerReset = "trader:%s:breaker:reset"

	// KeyBreakerStatus holds the last published breaker status (with TTL)
	KeyBreakerStatus = "trader:%s:breaker:status"

	// ChannelBreaker is the Pub/Sub channel status updates are announced on
	ChannelBreaker = "trader:%s:breaker"

	// StatusTTL bounds how long a status survives a dead publisher
	StatusTTL = 5 * time.Minute
)

// ErrNoStatus is returned when no breaker status has been published
var ErrNoStatus = errors.New("no breaker status published")

// ResetRequest is a pending manual breaker reset
type ResetRequest struct {
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// BreakerStatus is the breaker state as seen by operators
type BreakerStatus struct {
	Active     bool       `json:"active"`
	Reason     string     `json:"reason,omitempty"`
	PauseUntil *time.Time `json:"pause_until,omitempty"`
	LossStreak int        `json:"loss_streak"`
	DailyPnL   float64    `json:"daily_pnl"`
	Tier       string     `json:"tier"`
	SessionID  string     `json:"session_id"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Channel is the control plane seen by the orchestrator
type Channel interface {
	// Poll consumes a pending reset request. Returns nil when none is pending.
	Poll(ctx context.Context) (*ResetRequest, error)
	// RequestReset queues a manual reset
	RequestReset(ctx context.Context, requestedBy string) error
	// PublishStatus stores the breaker status for operators
	PublishStatus(ctx context.Context, status BreakerStatus) error
	// ReadStatus returns the last published status
	ReadStatus(ctx context.Context) (BreakerStatus, error)
}

// RedisChannel shares the control plane through Redis so operators on other
// hosts (tradectl) can reach a running bot.
type RedisChannel struct {
	client *redis.Client
	scope  string
	logger *logging.Logger
}

var _ Channel = (*RedisChannel)(nil)

// RedisConfig configures the Redis connection
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	// Scope namespaces the keys, so several bots can share one Redis
	Scope string `json:"scope" yaml:"scope"`
}

// NewRedisChannel connects to Redis and verifies the connection
func NewRedisChannel(ctx context.Context, cfg RedisConfig, logger *logging.Logger) (*RedisChannel, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return NewRedisChannelWithClient(client, cfg.Scope, logger), nil
}

// NewRedisChannelWithClient wraps an existing client
func NewRedisChannelWithClient(client *redis.Client, scope string, logger *logging.Logger) *RedisChannel {
	if scope == "" {
		scope = "default"
	}
	return &RedisChannel{client: client, scope: scope, logger: logger.WithComponent("control")}
}

func (c *RedisChannel) key(format string) string {
	return fmt.Sprintf(format, c.scope)
}

func (c *RedisChannel) Poll(ctx context.Context) (*ResetRequest, error) {
	raw, err := c.client.GetDel(ctx, c.key(KeyBreakerReset)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("poll reset: %w", err)
	}

	var req ResetRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		// a malformed request still asks for a reset
		c.logger.Warn("Malformed reset request", "error", err)
		req.RequestedAt = time.Now()
	}
	return &req, nil
}

func (c *RedisChannel) RequestReset(ctx context.Context, requestedBy string) error {
	raw, err := json.Marshal(ResetRequest{RequestedBy: requestedBy, RequestedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(KeyBreakerReset), raw, 0).Err(); err != nil {
		return fmt.Errorf("request reset: %w", err)
	}
	return nil
}

func (c *RedisChannel) PublishStatus(ctx context.Context, status BreakerStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key(KeyBreakerStatus), raw, StatusTTL)
	pipe.Publish(ctx, c.key(ChannelBreaker), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

func (c *RedisChannel) ReadStatus(ctx context.Context) (BreakerStatus, error) {
	raw, err := c.client.Get(ctx, c.key(KeyBreakerStatus)).Bytes()
	if errors.Is(err, redis.Nil) {
		return BreakerStatus{}, ErrNoStatus
	}
	if err != nil {
		return BreakerStatus{}, fmt.Errorf("read status: %w", err)
	}
	var status BreakerStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return BreakerStatus{}, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}

// Close closes the Redis client
// Ping checks the Redis connection
func (c *RedisChannel) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisChannel) Close() error {
	return c.client.Close()
}

// MemoryChannel is an in-process Channel for single-host runs and tests
type MemoryChannel struct {
	mu      sync.Mutex
	pending *ResetRequest
	status  *BreakerStatus
}

var _ Channel = (*MemoryChannel)(nil)

// NewMemoryChannel creates an empty in-process channel
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{}
}

func (m *MemoryChannel) Poll(_ context.Context) (*ResetRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req := m.pending
	m.pending = nil
	return req, nil
}

func (m *MemoryChannel) RequestReset(_ context.Context, requestedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = &ResetRequest{RequestedBy: requestedBy, RequestedAt: time.Now().UTC()}
	return nil
}

func (m *MemoryChannel) PublishStatus(_ context.Context, status BreakerStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = &status
	return nil
}

func (m *MemoryChannel) ReadStatus(_ context.Context) (BreakerStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == nil {
		return BreakerStatus{}, ErrNoStatus
	}
	return *m.status, nil
}
