// Package ratelimit provides per-client rate limiting for mutating routes.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kuitang/ticketnotes/internal/metrics"
	"github.com/kuitang/ticketnotes/internal/obs"
)

// Config defines the rate limiting configuration.
type Config struct {
	RPS             float64       `env:"RATE_LIMIT_RPS" envDefault:"5"`
	Burst           int           `env:"RATE_LIMIT_BURST" envDefault:"20"`
	CleanupInterval time.Duration `env:"RATE_LIMIT_CLEANUP_INTERVAL" envDefault:"1h"`

	// TrustProxyHeaders keys clients by X-Forwarded-For instead of the peer
	// address. Enable only behind a proxy that sets the header itself.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
}

// DefaultConfig provides sensible defaults for rate limiting.
var DefaultConfig = Config{
	RPS:             5,
	Burst:           20,
	CleanupInterval: time.Hour,
}

// bucket is one client's token bucket and when it was last consulted.
type bucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client key. Buckets idle for a full
// CleanupInterval are evicted by a background sweep.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  Config
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewRateLimiter creates a rate limiter and starts its sweep goroutine.
// Callers must Stop it.
func NewRateLimiter(config Config) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig.CleanupInterval
	}
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		config:  config,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Allow takes one token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.GetLimiter(key).Allow()
}

// GetLimiter returns key's bucket, creating a full one on first use.
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(rate.Limit(rl.config.RPS), rl.config.Burst)}
		rl.buckets[key] = b
		metrics.RateLimitClients.Set(float64(len(rl.buckets)))
	}
	b.lastSeen = rl.now()
	return b.tokens
}

// Cleanup evicts buckets idle for longer than CleanupInterval and returns
// how many were dropped.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.config.CleanupInterval)
	evicted := 0
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
			evicted++
		}
	}
	metrics.RateLimitClients.Set(float64(len(rl.buckets)))
	return evicted
}

func (rl *RateLimiter) sweep() {
	defer close(rl.done)

	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			if n := rl.Cleanup(); n > 0 {
				obs.Pkg("ratelimit").Debug("rate_limit_buckets_evicted", "count", n)
			}
		}
	}
}

// Stop ends the sweep goroutine and waits for it. It is safe to call twice.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
	<-rl.done
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
