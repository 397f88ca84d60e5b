// Package mock provides a deterministic provider.Transport for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/orchflow/provider"
)

// Transport is a scriptable provider.Transport: each call to Send pops
// the next entry off Responses (or repeats the last one if Responses
// has been exhausted), after waiting Delay.
type Transport struct {
	mu        sync.Mutex
	Responses []Result
	calls     int
}

// Result is one scripted outcome.
type Result struct {
	Response provider.Response
	Err      error
	Delay    time.Duration
}

// Always returns a Transport that always returns the same result.
func Always(resp provider.Response, err error) *Transport {
	return &Transport{Responses: []Result{{Response: resp, Err: err}}}
}

// Sequence returns a Transport that returns each result in order, then
// repeats the last one indefinitely.
func Sequence(results ...Result) *Transport {
	return &Transport{Responses: results}
}

// Send implements provider.Transport.
func (t *Transport) Send(ctx context.Context, cfg provider.Config, req provider.Request, timeout time.Duration) (provider.Response, error) {
	t.mu.Lock()
	idx := t.calls
	if idx >= len(t.Responses) {
		idx = len(t.Responses) - 1
	}
	t.calls++
	r := t.Responses[idx]
	t.mu.Unlock()

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return provider.Response{}, ctx.Err()
		}
	}
	return r.Response, r.Err
}

// CallCount returns how many times Send has been invoked.
func (t *Transport) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
