package provider

import (
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig holds the circuit-breaker constants spec.md fixes as
// defaults but leaves configurable: 5 consecutive failures trips the
// breaker, and it half-opens after 600 seconds of no further use.
type BreakerConfig struct {
	MaxConsecutiveFailures uint32
	HalfOpenAfter          time.Duration
	RateLimitCooldown      time.Duration
}

// DefaultBreakerConfig matches spec.md's literal constants.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxConsecutiveFailures: 5,
		HalfOpenAfter:          600 * time.Second,
		RateLimitCooldown:      5 * time.Minute,
	}
}

// newBreaker builds a per-provider gobreaker instance reproducing the
// provider's own availability predicate: it trips after
// MaxConsecutiveFailures, and HalfOpenAfter (measured on the wall clock,
// not the manager's Clock) after tripping it half-opens and admits one
// trial call, which closes it again on success. It is independent of the
// manual counters tracked on Provider (which the manager uses for
// availability and status reporting), and ResetStats does not reset it.
func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.HalfOpenAfter,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxConsecutiveFailures
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}
