// Package resilience keeps flaky model backends from stalling a meeting.
//
// A [Breaker] stops calling a backend after repeated failures and lets a
// few probe calls through once a cool-down has passed. A [FallbackGroup]
// puts one breaker in front of every backend of the same kind and walks the
// list in order until one answers. [LLMFallback] and [RecognizerFallback]
// are the concrete groups the application builds from configuration.
//
// Context cancellation is never counted as a backend failure.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the backend while its breaker
// is open or its half-open probe budget is used up.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the breaker opened.
	StateOpen

	// StateHalfOpen lets up to HalfOpenProbes calls through. All of them
	// succeeding closes the breaker; any failure re-opens it.
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels log lines and state change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is the number of trial calls admitted in the half-open
	// state. Default: 2.
	HalfOpenProbes int

	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = 2
	}
	return c
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	admitted  int // probes let through in the current half-open round
	succeeded int
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Name returns the configured label.
func (b *Breaker) Name() string { return b.cfg.Name }

// Do runs fn if the breaker admits the call and records the outcome.
// Errors caused by ctx ending are passed through without counting.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(ctx, probe, err)
	return err
}

// admit decides whether a call may proceed and reports whether it counts as
// a half-open probe.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	var change *transition
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		change = b.moveLocked(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.admitted >= b.cfg.HalfOpenProbes {
			b.mu.Unlock()
			b.notify(change)
			return false, ErrCircuitOpen
		}
		b.admitted++
		b.mu.Unlock()
		b.notify(change)
		return true, nil
	}
	b.mu.Unlock()
	return false, nil
}

func (b *Breaker) record(ctx context.Context, probe bool, err error) {
	b.mu.Lock()
	var change *transition
	switch {
	case err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled)):
		if probe && b.state == StateHalfOpen {
			b.admitted--
		}
	case err != nil:
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.cfg.MaxFailures {
			change = b.moveLocked(StateOpen)
		}
	default:
		b.failures = 0
		if probe && b.state == StateHalfOpen {
			b.succeeded++
			if b.succeeded >= b.cfg.HalfOpenProbes {
				change = b.moveLocked(StateClosed)
			}
		}
	}
	b.mu.Unlock()
	b.notify(change)
}

type transition struct{ from, to State }

// moveLocked switches state and resets the per-state counters. b.mu must be
// held.
func (b *Breaker) moveLocked(to State) *transition {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	b.admitted, b.succeeded = 0, 0
	switch to {
	case StateOpen:
		b.openedAt = b.now()
	case StateClosed:
		b.failures = 0
	}
	return &transition{from: from, to: to}
}

func (b *Breaker) notify(t *transition) {
	if t == nil {
		return
	}
	switch t.to {
	case StateOpen:
		slog.Warn("resilience: circuit opened", "name", b.cfg.Name, "from", t.from)
	default:
		slog.Info("resilience: circuit state changed", "name", b.cfg.Name, "from", t.from, "to", t.to)
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, t.from, t.to)
	}
}

// State returns the current state. An open breaker whose timeout has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	change := b.moveLocked(StateClosed)
	b.failures = 0
	b.mu.Unlock()
	b.notify(change)
}
