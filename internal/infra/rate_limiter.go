package infra

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter.
// Thread-safe and suitable for concurrent API calls.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a limiter with the given burst size and refill rate
// in requests per second.
func NewRateLimiter(maxRequests int, perSecond float64) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(maxRequests),
		maxTokens:  float64(maxRequests),
		refillRate: perSecond,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - r.tokens) / r.refillRate * float64(time.Second))
		r.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// TryAcquire takes a token without blocking.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// refill adds tokens based on elapsed time. Caller holds mu.
func (r *RateLimiter) refill() {
	now := time.Now()
	r.tokens += now.Sub(r.lastRefill).Seconds() * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = now
}

// GRVT limits are per account for trading endpoints and per IP for market
// data. The limiters below stay well under both.
var (
	grvtMarketLimiter *RateLimiter
	grvtLimiterOnce   sync.Once

	accountLimitersMu sync.Mutex
	accountLimiters   = map[string]*RateLimiter{}
)

// GetGRVTMarketLimiter returns the shared limiter for market data endpoints.
// Limit: 20 requests/second with burst of 10.
func GetGRVTMarketLimiter() *RateLimiter {
	grvtLimiterOnce.Do(func() {
		grvtMarketLimiter = NewRateLimiter(10, 20)
	})
	return grvtMarketLimiter
}

// GetGRVTAccountLimiter returns the limiter for one account's trading
// endpoints. Limit: 10 requests/second with burst of 5.
func GetGRVTAccountLimiter(account string) *RateLimiter {
	accountLimitersMu.Lock()
	defer accountLimitersMu.Unlock()
	l, ok := accountLimiters[account]
	if !ok {
		l = NewRateLimiter(5, 10)
		accountLimiters[account] = l
	}
	return l
}
