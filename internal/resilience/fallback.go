package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] failed
// or was skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig is applied to the breaker of every backend in a group.
type FallbackConfig struct {
	Breaker BreakerConfig
}

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup holds a primary backend and its fallbacks, each behind its
// own [Breaker]. Backends are added during setup; calls are safe for
// concurrent use afterwards.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group with primary as its first backend.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend. Backends are tried in insertion order.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	bc := fg.cfg.Breaker
	bc.Name = name
	fg.members = append(fg.members, member[T]{name: name, value: value, breaker: NewBreaker(bc)})
}

// Len returns the number of backends.
func (fg *FallbackGroup[T]) Len() int { return len(fg.members) }

// Primary returns the first backend.
func (fg *FallbackGroup[T]) Primary() T { return fg.members[0].value }

// States returns the breaker state of every backend keyed by name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.members))
	for _, m := range fg.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Check returns an error when every backend's breaker is open. It has the
// shape of a readiness check.
func (fg *FallbackGroup[T]) Check(context.Context) error {
	states := fg.States()
	for _, s := range states {
		if s != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("resilience: all %d backends open", len(states))
}

// Execute runs fn against each backend until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := Call(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// Call runs fn against each backend of fg until one succeeds and returns
// its result. When ctx ends the walk stops and ctx's error is returned.
// Otherwise a total failure wraps [ErrAllFailed] together with every
// backend's error.
func Call[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range fg.members {
		m := &fg.members[i]
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := m.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, m.value)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Info("resilience: served by fallback", "backend", m.name)
			}
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping backend, circuit open", "backend", m.name)
		} else {
			slog.Warn("resilience: backend failed, trying next", "backend", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
