package provider

import (
	"sync"
	"time"
)

// Stats holds the manager's global counters (spec §3's ProviderStats):
// total requests, successes, failures, fallbacks, per-provider usage,
// cumulative response time, and start-of-process time.
type Stats struct {
	mu sync.Mutex

	startedAt             time.Time
	totalRequests         int
	successfulRequests    int
	failedRequests        int
	totalFallbacks        int
	perProviderUsage      map[string]int
	cumulativeResponseSec float64
}

// NewStats returns a Stats initialized with startedAt as the
// start-of-process instant.
func NewStats(startedAt time.Time) *Stats {
	return &Stats{startedAt: startedAt, perProviderUsage: map[string]int{}}
}

func (s *Stats) recordAttemptStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
}

func (s *Stats) recordSuccess(providerID string, attempt int, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successfulRequests++
	s.perProviderUsage[providerID]++
	s.cumulativeResponseSec += elapsed.Seconds()
	if attempt > 1 {
		s.totalFallbacks++
	}
}

func (s *Stats) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedRequests++
}

// Snapshot is a read-only copy of the manager's global counters.
type Snapshot struct {
	StartedAt             time.Time
	TotalRequests         int
	SuccessfulRequests    int
	FailedRequests        int
	TotalFallbacks        int
	PerProviderUsage      map[string]int
	CumulativeResponseSec float64
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	usage := make(map[string]int, len(s.perProviderUsage))
	for k, v := range s.perProviderUsage {
		usage[k] = v
	}
	return Snapshot{
		StartedAt:             s.startedAt,
		TotalRequests:         s.totalRequests,
		SuccessfulRequests:    s.successfulRequests,
		FailedRequests:        s.failedRequests,
		TotalFallbacks:        s.totalFallbacks,
		PerProviderUsage:      usage,
		CumulativeResponseSec: s.cumulativeResponseSec,
	}
}
