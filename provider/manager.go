package provider

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Clock abstracts time for deterministic testing of rate-limit and
// half-open windows, mirroring the engine package's Clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// FakeClock is a manually advanced Clock for tests (scenario S6 needs
// to fast-forward past the 600s half-open window without sleeping).
type FakeClock struct {
	now time.Time
}

// NewFakeClock returns a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (f *FakeClock) Now() time.Time { return f.now }

// Advance moves the fake clock forward by d.
func (f *FakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

// Manager is the Provider Fallback Manager (component E): it holds a
// fixed set of Providers, dispatches requests through a Transport with
// bounded cross-provider retry, and maintains per-provider and global
// statistics (spec §4.3).
type Manager struct {
	mu          sync.Mutex
	providers   []*Provider
	breakers    map[string]*gobreaker.CircuitBreaker
	transport   map[Kind]Transport
	strategy    Strategy
	rr          roundRobinSelector
	intelligent *intelligentSelector
	randSource  rand.Source

	breakerCfg  BreakerConfig
	maxAttempts int
	clock       Clock
	stats       *Stats
	cost        *CostTracker
	metrics     *Metrics
}

// WithRandSource overrides the weighted-random source the "intelligent"
// strategy draws from (default: seeded from wall-clock time), so tests
// can inject a deterministic sequence (spec §9's note on isolating the
// random source for reproducible selection).
func WithRandSource(src rand.Source) ManagerOption {
	return func(m *Manager) { m.randSource = src }
}

// WithCostTracker attaches a CostTracker that records USD cost for every
// successful Dispatch, keyed by the winning provider's model.
func WithCostTracker(ct *CostTracker) ManagerOption {
	return func(m *Manager) { m.cost = ct }
}

// WithMetrics attaches Prometheus metrics to the manager.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

// WithStrategy sets the selection strategy (default priority).
func WithStrategy(s Strategy) ManagerOption {
	return func(m *Manager) { m.strategy = s }
}

// WithMaxAttempts bounds the number of providers tried per dispatch
// (default len(providers)).
func WithMaxAttempts(n int) ManagerOption {
	return func(m *Manager) { m.maxAttempts = n }
}

// WithBreakerConfig overrides the circuit-breaker constants.
func WithBreakerConfig(cfg BreakerConfig) ManagerOption {
	return func(m *Manager) { m.breakerCfg = cfg }
}

// WithClock overrides the time source (for tests).
func WithClock(c Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// NewManager builds a Manager over configs, each associated with the
// Transport registered for its Kind.
func NewManager(configs []Config, transports map[Kind]Transport, opts ...ManagerOption) *Manager {
	m := &Manager{
		transport:   transports,
		strategy:    StrategyPriority,
		breakerCfg:  DefaultBreakerConfig(),
		clock:       systemClock{},
		breakers:    map[string]*gobreaker.CircuitBreaker{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.randSource == nil {
		m.randSource = rand.NewSource(time.Now().UnixNano())
	}
	m.intelligent = newIntelligentSelector(m.randSource)
	for _, cfg := range configs {
		p := NewProvider(cfg)
		m.providers = append(m.providers, p)
		m.breakers[cfg.ID] = newBreaker(cfg.ID, m.breakerCfg)
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = len(m.providers)
	}
	m.stats = NewStats(m.clock.Now())
	return m
}

// Result is what Dispatch returns on success.
type Result struct {
	ProviderID string
	Response   Response
	Elapsed    time.Duration
	Attempts   int
}

// available returns the provider set eligible for selection right now,
// sorted by priority ascending (spec §4.3).
func (m *Manager) available() []*Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	var avail []*Provider
	for _, p := range m.providers {
		if p.available(now, int(m.breakerCfg.MaxConsecutiveFailures), m.breakerCfg.HalfOpenAfter) {
			avail = append(avail, p)
		}
	}
	return sortByPriority(avail)
}

func (m *Manager) selectorFor(strategy Strategy) selector {
	switch strategy {
	case StrategyRoundRobin:
		return m.rr.selector()
	case StrategyIntelligent:
		return m.intelligent.selector()
	case StrategyFastest:
		return selectFastest
	default:
		return selectPriority
	}
}

// Dispatch runs spec §4.3's dispatch algorithm using the manager's
// configured strategy and max_attempts.
func (m *Manager) Dispatch(ctx context.Context, req Request) (Result, error) {
	return m.dispatch(ctx, req, m.strategy, m.maxAttempts)
}

// dispatch is spec §4.3's algorithm: select a provider from the
// available set, send through its transport with its own timeout,
// update counters, and retry against the next candidate on failure up
// to min(maxAttempts, |available|) tries. strategy/maxAttempts of zero
// value fall back to the manager's configured defaults.
func (m *Manager) dispatch(ctx context.Context, req Request, strategy Strategy, maxAttempts int) (Result, error) {
	m.stats.recordAttemptStart()

	available := m.available()
	if len(available) == 0 {
		m.stats.recordFailure()
		return Result{}, ErrNoActiveProviders
	}

	if maxAttempts <= 0 {
		maxAttempts = m.maxAttempts
	}
	if strategy == "" {
		strategy = m.strategy
	}
	attempts := min(maxAttempts, len(available))
	sel := m.selectorFor(strategy)
	tried := map[string]bool{}

	var attempt int
	for attempt = 1; attempt <= attempts; attempt++ {
		candidates := excludeTried(available, tried)
		if len(candidates) == 0 {
			break
		}
		p := sel(candidates)
		tried[p.ID] = true
		m.metrics.observeAttempt(p.ID)

		start := m.clock.Now()
		resp, err := m.send(ctx, p, req)
		elapsed := m.clock.Now().Sub(start)

		if err == nil {
			p.recordSuccess(m.clock.Now(), elapsed)
			m.stats.recordSuccess(p.ID, attempt, elapsed)
			m.metrics.observeSuccess(p.ID, attempt, elapsed)
			if m.cost != nil {
				m.cost.RecordLLMCall(p.Model, resp.InputTokens, resp.OutputTokens)
			}
			return Result{ProviderID: p.ID, Response: resp, Elapsed: elapsed, Attempts: attempt}, nil
		}

		var rateLimited *RateLimitError
		isRateLimit := errors.As(err, &rateLimited)
		p.recordFailure(m.clock.Now(), err.Error(), isRateLimit, m.breakerCfg.RateLimitCooldown)
		m.metrics.observeFailure(p.ID)
	}

	m.stats.recordFailure()
	return Result{Attempts: attempt - 1}, ErrAllProvidersFailed
}

// GenerateOptions carries Generate's optional parameters (spec §6 item
// 2): a per-call strategy/max_attempts override and sampling options.
type GenerateOptions struct {
	Strategy    Strategy
	MaxAttempts int
	MaxTokens   int
	Temperature float64
}

// GenerateResult is Generate's response shape (spec §6 item 2): always
// populated enough to distinguish success from exhausted fallback
// without a caller needing to inspect the error dynamically.
type GenerateResult struct {
	Success         bool
	Content         string
	ProviderID      string
	ProviderName    string
	TokensUsed      int
	ResponseTimeSec float64
	Attempts        int
	Error           string
}

// Generate is the prompt-oriented convenience entry point over Dispatch
// (spec §6 item 2): builds a single-turn Request from prompt/
// system_prompt and reports outcome as a result value rather than an
// error, since AllProvidersFailed is an ordinary (non-fatal) response
// here, not an exception a caller must recover from.
func (m *Manager) Generate(ctx context.Context, prompt, systemPrompt string, opts GenerateOptions) GenerateResult {
	var messages []Message
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})

	req := Request{Messages: messages, MaxTokens: opts.MaxTokens, Temperature: opts.Temperature}
	res, err := m.dispatch(ctx, req, opts.Strategy, opts.MaxAttempts)
	if err != nil {
		return GenerateResult{Success: false, Attempts: res.Attempts, Error: err.Error()}
	}

	var providerName string
	m.mu.Lock()
	for _, p := range m.providers {
		if p.ID == res.ProviderID {
			providerName = p.Name
			break
		}
	}
	m.mu.Unlock()

	return GenerateResult{
		Success:         true,
		Content:         res.Response.Content,
		ProviderID:      res.ProviderID,
		ProviderName:    providerName,
		TokensUsed:      res.Response.TokensUsed,
		ResponseTimeSec: res.Elapsed.Seconds(),
		Attempts:        res.Attempts,
	}
}

// ProviderHealth returns a read-only view of every provider's health
// counters (spec §6 item 2's ProviderHealth), keyed by provider ID.
func (m *Manager) ProviderHealth() map[string]ProviderSnapshot {
	snaps := m.Snapshot()
	out := make(map[string]ProviderSnapshot, len(snaps))
	for _, s := range snaps {
		out[s.ID] = s
	}
	return out
}

// send routes through the provider's circuit breaker, which gates
// calls independently of the manual consecutive-failure counters (the
// two mechanisms agree in practice since both trip after the same
// threshold, but the breaker also enforces gobreaker's MaxRequests
// cap during half-open).
func (m *Manager) send(ctx context.Context, p *Provider, req Request) (Response, error) {
	m.mu.Lock()
	cb := m.breakers[p.ID]
	transport := m.transport[p.Kind]
	m.mu.Unlock()

	if transport == nil {
		return Response{}, errors.New("no transport registered for provider kind " + string(p.Kind))
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = p.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = p.Temperature
	}

	out, err := cb.Execute(func() (interface{}, error) {
		return transport.Send(ctx, p.Config, req, timeout)
	})
	if err != nil {
		return Response{}, err
	}
	return out.(Response), nil
}

func excludeTried(providers []*Provider, tried map[string]bool) []*Provider {
	var out []*Provider
	for _, p := range providers {
		if !tried[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// Snapshot returns a read-only view of every provider's counters.
func (m *Manager) Snapshot() []ProviderSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProviderSnapshot, len(m.providers))
	for i, p := range m.providers {
		out[i] = p.Snapshot()
	}
	return out
}

// Stats returns the manager's global counters.
func (m *Manager) Stats() Snapshot {
	return m.stats.Snapshot()
}

// ResetStats zeroes both the global dispatch counters and every
// provider's own runtime state (failure streaks, rate-limit cooldowns,
// measured response times), mirroring the original's reset_stats: a
// full return to a freshly constructed manager's bookkeeping without
// discarding the configured provider set or circuit breakers.
func (m *Manager) ResetStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = NewStats(m.clock.Now())
	for _, p := range m.providers {
		p.reset()
	}
}
