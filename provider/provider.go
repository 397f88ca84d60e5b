// Package provider implements the Provider Fallback Manager: a
// universal multi-backend dispatcher for remote model calls with
// per-provider circuit breakers, rate-limit back-off, four selection
// strategies, and bounded retry across providers.
package provider

import (
	"math"
	"sync"
	"time"
)

// Status is a provider's derived runtime state.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusFailed      Status = "FAILED"
	StatusTesting     Status = "TESTING"
	StatusUnknown     Status = "UNKNOWN"
	StatusRateLimited Status = "RATE_LIMITED"
	StatusThrottled   Status = "THROTTLED"
)

// Kind names a transport family, matching one of the registered
// Transport implementations by key.
type Kind string

// Config is the immutable, caller-supplied description of one backend.
type Config struct {
	ID          string
	Name        string
	Kind        Kind
	BaseURL     string
	Model       string
	Priority    int // lower value attempted first
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Provider pairs an immutable Config with the mutable runtime counters
// the manager maintains (spec §3's "Provider"). One Provider per
// configured backend, owned exclusively by the manager.
type Provider struct {
	Config

	mu                sync.Mutex
	successCount      int
	failureCount      int
	consecutiveFails  int
	avgResponseTime   time.Duration
	hasAvgResponse    bool
	lastUsed          time.Time
	lastError         string
	rateLimitUntil    time.Time
	status            Status
}

// NewProvider wraps cfg in a fresh Provider with zeroed counters.
func NewProvider(cfg Config) *Provider {
	return &Provider{Config: cfg, status: StatusUnknown}
}

// ProviderSnapshot is a read-only copy of one provider's counters, safe to hold
// without the provider's internal lock.
type ProviderSnapshot struct {
	ID               string
	Name             string
	Priority         int
	Status           Status
	SuccessCount     int
	FailureCount     int
	ConsecutiveFails int
	AvgResponseTime  time.Duration
	LastUsed         time.Time
	LastError        string
	RateLimitUntil   time.Time
}

func (p *Provider) snapshot() ProviderSnapshot {
	return ProviderSnapshot{
		ID: p.ID, Name: p.Name, Priority: p.Priority, Status: p.status,
		SuccessCount: p.successCount, FailureCount: p.failureCount,
		ConsecutiveFails: p.consecutiveFails, AvgResponseTime: p.avgResponseTime,
		LastUsed: p.lastUsed, LastError: p.lastError, RateLimitUntil: p.rateLimitUntil,
	}
}

// Snapshot returns a copy of the provider's current counters under lock.
func (p *Provider) Snapshot() ProviderSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

// available implements spec §3's availability predicate: rate_limit_until
// in the past, and either below the consecutive-failure threshold or past
// the half-open window since last_used.
func (p *Provider) available(now time.Time, failThreshold int, halfOpenAfter time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.rateLimitUntil.IsZero() && now.Before(p.rateLimitUntil) {
		return false
	}
	if p.consecutiveFails < failThreshold {
		return true
	}
	return !p.lastUsed.IsZero() && now.Sub(p.lastUsed) > halfOpenAfter
}

// successRate defaults to 0.5 with no data, matching the intelligent
// strategy's weight formula (spec §4.3).
func (p *Provider) successRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := p.successCount + p.failureCount
	if total == 0 {
		return 0.5
	}
	return float64(p.successCount) / float64(total)
}

// speedFactor is 1/(avg_response_time+0.1s) in seconds, or 1.0 with no data.
func (p *Provider) speedFactor() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasAvgResponse {
		return 1.0
	}
	return 1.0 / (p.avgResponseTime.Seconds() + 0.1)
}

// avgResponseTimeOrInf returns +Inf when there is no data, so "fastest"
// never prefers an untested provider over a measured one.
func (p *Provider) avgResponseTimeOrInf() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasAvgResponse {
		return math.Inf(1)
	}
	return p.avgResponseTime.Seconds()
}

// recordSuccess updates counters on a successful call (spec §4.3's
// dispatch algorithm): resets consecutive failures, updates the
// avg_response_time EMA (seeded on first success), marks ACTIVE.
func (p *Provider) recordSuccess(now time.Time, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.successCount++
	p.consecutiveFails = 0
	if !p.hasAvgResponse {
		p.avgResponseTime = elapsed
		p.hasAvgResponse = true
	} else {
		p.avgResponseTime = (p.avgResponseTime + elapsed) / 2
	}
	p.lastUsed = now
	p.status = StatusActive
}

// recordFailure updates counters on a failed call; rateLimited marks the
// provider RATE_LIMITED until now+cooldown. last_used is updated here
// too (not just on success) so the half-open window has a fixed point
// to count from even when a provider has never once succeeded.
func (p *Provider) recordFailure(now time.Time, errMsg string, rateLimited bool, cooldown time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failureCount++
	p.consecutiveFails++
	p.lastError = errMsg
	p.lastUsed = now
	p.status = StatusFailed
	if rateLimited {
		p.status = StatusRateLimited
		p.rateLimitUntil = now.Add(cooldown)
	}
}

// reset zeroes every runtime counter, leaving Config untouched.
func (p *Provider) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.successCount = 0
	p.failureCount = 0
	p.consecutiveFails = 0
	p.avgResponseTime = 0
	p.hasAvgResponse = false
	p.lastUsed = time.Time{}
	p.lastError = ""
	p.rateLimitUntil = time.Time{}
	p.status = StatusUnknown
}
