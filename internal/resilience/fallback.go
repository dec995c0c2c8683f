package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] fails or
// sits behind an open breaker.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig configures the per-backend breaker created for each entry
// in a [FallbackGroup].
type FallbackConfig struct {
	Breaker BreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup holds a primary and zero or more fallback instances of one
// provider type. Calls go to the first entry whose breaker admits them; a
// failure moves on to the next entry in registration order.
//
// FallbackGroup is safe for concurrent use once all fallbacks are
// registered. AddFallback is not synchronized with Do and must happen
// during setup.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.entries = append(g.entries, g.newEntry(primaryName, primary))
	return g
}

// AddFallback appends a backend tried after all earlier entries.
func (g *FallbackGroup[T]) AddFallback(name string, fallback T) {
	g.entries = append(g.entries, g.newEntry(name, fallback))
}

func (g *FallbackGroup[T]) newEntry(name string, value T) fallbackEntry[T] {
	cbCfg := g.cfg.Breaker
	cbCfg.Name = name
	return fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cbCfg),
	}
}

// primary returns the first registered backend.
func (g *FallbackGroup[T]) primary() T {
	return g.entries[0].value
}

// Do tries fn against each backend in order until one succeeds. Entries with
// an open breaker are skipped. When every entry fails, the returned error
// wraps [ErrAllFailed] together with the last failure.
func (g *FallbackGroup[T]) Do(fn func(T) error) error {
	var lastErr error
	for i := range g.entries {
		entry := &g.entries[i]
		err := entry.breaker.Do(func() error {
			return fn(entry.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping backend, breaker open", "backend", entry.name)
		} else {
			slog.Warn("backend failed, trying next",
				"backend", entry.name, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// DoWithResult tries fn against each backend in the group until one succeeds
// and returns its result. A package-level function because Go methods cannot
// introduce the result type parameter.
func DoWithResult[T any, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.entries {
		entry := &g.entries[i]
		var result R
		err := entry.breaker.Do(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping backend, breaker open", "backend", entry.name)
		} else {
			slog.Warn("backend failed, trying next",
				"backend", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
