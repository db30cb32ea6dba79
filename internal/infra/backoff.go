package infra

import (
	"math/rand/v2"
	"time"
)

const (
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// CalculateBackoff returns baseDelay * 2^retryCount capped at maxDelay.
// Negative counts return baseDelay.
func CalculateBackoff(retryCount int) time.Duration {
	return Backoff(baseDelay, maxDelay, retryCount)
}

// Backoff is CalculateBackoff with explicit bounds.
func Backoff(base, limit time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		return base
	}
	// 2^30 of any base above a nanosecond exceeds every sensible limit.
	if retryCount > 30 {
		return limit
	}
	d := base * time.Duration(1<<retryCount)
	if d > limit || d <= 0 {
		return limit
	}
	return d
}

// Jitter returns d plus a uniform random extra in [0, spread).
func Jitter(d, spread time.Duration) time.Duration {
	if spread <= 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(int64(spread)))
}
