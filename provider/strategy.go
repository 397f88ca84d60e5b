package provider

import (
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
)

// Strategy names one of the four selection strategies (spec §4.3).
type Strategy string

const (
	StrategyPriority    Strategy = "priority"
	StrategyRoundRobin  Strategy = "round_robin"
	StrategyIntelligent Strategy = "intelligent"
	StrategyFastest     Strategy = "fastest"
)

// sortByPriority returns a copy of providers sorted by Priority ascending,
// matching spec §4.3's "set A... sorted by priority ascending".
func sortByPriority(providers []*Provider) []*Provider {
	sorted := make([]*Provider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted
}

// selector picks one provider from an already-sorted, non-empty
// available set.
type selector func(available []*Provider) *Provider

func selectPriority(available []*Provider) *Provider {
	return available[0]
}

// roundRobinSelector closes over a shared counter so repeated calls
// advance through the available set.
type roundRobinSelector struct {
	index uint64
}

func (r *roundRobinSelector) selector() selector {
	return func(available []*Provider) *Provider {
		i := atomic.AddUint64(&r.index, 1) - 1
		return available[i%uint64(len(available))]
	}
}

// intelligentSelector implements the "intelligent" strategy (spec §4.3:
// weighted-random over 0.7*success_rate + 0.3*speed_factor). It owns its
// own *rand.Rand rather than reaching for the package-global source, so
// a test can inject a seeded one (WithRandSource) and get a
// deterministic selection sequence; rand.Rand isn't safe for concurrent
// use, hence the mutex.
type intelligentSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newIntelligentSelector(src rand.Source) *intelligentSelector {
	return &intelligentSelector{rng: rand.New(src)}
}

func (s *intelligentSelector) selector() selector {
	return func(available []*Provider) *Provider {
		weights := make([]float64, len(available))
		var total float64
		for i, p := range available {
			w := 0.7*p.successRate() + 0.3*p.speedFactor()
			weights[i] = w
			total += w
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if total <= 0 {
			return available[s.rng.Intn(len(available))]
		}
		r := s.rng.Float64() * total
		var cum float64
		for i, w := range weights {
			cum += w
			if r <= cum {
				return available[i]
			}
		}
		return available[len(available)-1]
	}
}

func selectFastest(available []*Provider) *Provider {
	best := available[0]
	bestTime := best.avgResponseTimeOrInf()
	for _, p := range available[1:] {
		t := p.avgResponseTimeOrInf()
		if t < bestTime {
			best, bestTime = p, t
		}
	}
	return best
}
