package middleware

import (
	"context"
	"sync"
	"time"
)

// WindowCounter counts events per key in a fixed window.
// *postgres.RedisClient satisfies it.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// DistributedRateLimiter shares limits across instances with a fixed-window
// counter in Redis. The burst allowance is folded into the window budget.
type DistributedRateLimiter struct {
	counter WindowCounter

	mu     sync.RWMutex
	config RateLimitConfig
}

// NewDistributedRateLimiter creates a Redis-backed rate limiter
func NewDistributedRateLimiter(counter WindowCounter, config *RateLimitConfig) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &DistributedRateLimiter{counter: counter, config: *config}
}

// SetConfig swaps the limits in place
func (rl *DistributedRateLimiter) SetConfig(config RateLimitConfig) {
	rl.mu.Lock()
	rl.config = config
	rl.mu.Unlock()
}

// Config returns the current limits
func (rl *DistributedRateLimiter) Config() RateLimitConfig {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.config
}

// Allow increments the window counter for key. On a Redis error it returns
// true together with the error so callers can fail open.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	cfg := rl.Config()
	count, err := rl.counter.IncrWindow(ctx, key, cfg.WindowDuration)
	if err != nil {
		return true, err
	}
	return count <= int64(cfg.capacity()), nil
}
