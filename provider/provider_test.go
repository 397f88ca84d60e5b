package provider

import (
	"math/rand"
	"testing"
	"time"
)

func TestProviderAvailablePredicate(t *testing.T) {
	now := time.Unix(1000, 0)
	p := NewProvider(Config{ID: "p1"})

	if !p.available(now, 5, 600*time.Second) {
		t.Fatal("fresh provider should be available")
	}

	for i := 0; i < 5; i++ {
		p.recordFailure(now, "boom", false, 5*time.Minute)
	}
	if p.available(now, 5, 600*time.Second) {
		t.Fatal("provider with 5 consecutive failures should be unavailable immediately")
	}
	if !p.available(now.Add(601*time.Second), 5, 600*time.Second) {
		t.Fatal("provider should half-open after 600s since last use")
	}
}

func TestProviderRateLimitBlocksAvailability(t *testing.T) {
	now := time.Unix(1000, 0)
	p := NewProvider(Config{ID: "p1"})
	p.recordFailure(now, "429", true, 5*time.Minute)

	if p.available(now.Add(time.Minute), 5, 600*time.Second) {
		t.Fatal("rate-limited provider should stay unavailable until rate_limit_until")
	}
	if !p.available(now.Add(6*time.Minute), 5, 600*time.Second) {
		t.Fatal("provider should become available again once rate_limit_until passes")
	}
}

func TestProviderSuccessResetsConsecutiveFailures(t *testing.T) {
	now := time.Unix(1000, 0)
	p := NewProvider(Config{ID: "p1"})
	p.recordFailure(now, "boom", false, 5*time.Minute)
	p.recordFailure(now, "boom", false, 5*time.Minute)
	p.recordSuccess(now, 50*time.Millisecond)

	snap := p.Snapshot()
	if snap.ConsecutiveFails != 0 {
		t.Fatalf("expected consecutive failures reset to 0, got %d", snap.ConsecutiveFails)
	}
	if snap.Status != StatusActive {
		t.Fatalf("expected ACTIVE status after success, got %s", snap.Status)
	}
}

func TestAvgResponseTimeEMA(t *testing.T) {
	now := time.Unix(1000, 0)
	p := NewProvider(Config{ID: "p1"})
	p.recordSuccess(now, 100*time.Millisecond)
	if p.avgResponseTime != 100*time.Millisecond {
		t.Fatalf("expected first success to seed avg_response_time, got %s", p.avgResponseTime)
	}
	p.recordSuccess(now, 300*time.Millisecond)
	want := (100*time.Millisecond + 300*time.Millisecond) / 2
	if p.avgResponseTime != want {
		t.Fatalf("expected literal (avg+elapsed)/2 EMA, got %s want %s", p.avgResponseTime, want)
	}
}

func TestSuccessRateDefaultsWithNoData(t *testing.T) {
	p := NewProvider(Config{ID: "p1"})
	if p.successRate() != 0.5 {
		t.Fatalf("expected default success rate 0.5 with no data, got %f", p.successRate())
	}
}

func TestSortByPriorityAscending(t *testing.T) {
	a := NewProvider(Config{ID: "a", Priority: 3})
	b := NewProvider(Config{ID: "b", Priority: 1})
	c := NewProvider(Config{ID: "c", Priority: 2})

	sorted := sortByPriority([]*Provider{a, b, c})
	if sorted[0].ID != "b" || sorted[1].ID != "c" || sorted[2].ID != "a" {
		t.Fatalf("expected priority-ascending order b,c,a; got %s,%s,%s", sorted[0].ID, sorted[1].ID, sorted[2].ID)
	}
}

func TestSelectIntelligentFavorsHigherWeight(t *testing.T) {
	weak := NewProvider(Config{ID: "weak"})
	for i := 0; i < 9; i++ {
		weak.recordFailure(time.Now(), "boom", false, time.Minute)
	}
	weak.recordSuccess(time.Now(), time.Second) // resets consecutive but keeps a poor overall rate (1 success in 10)
	strong := NewProvider(Config{ID: "strong"})
	for i := 0; i < 20; i++ {
		strong.recordSuccess(time.Now(), 10*time.Millisecond)
	}

	sel := newIntelligentSelector(rand.NewSource(1)).selector()
	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		got := sel([]*Provider{weak, strong})
		counts[got.ID]++
	}
	if counts["strong"] <= counts["weak"] {
		t.Fatalf("expected intelligent strategy to favor the higher-weight provider, got %+v", counts)
	}
}
