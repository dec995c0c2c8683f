// Package resilience provides the failure-handling primitives wrapped around
// external calls: [Retry], a bounded retry policy with a pluggable backoff
// schedule; [Breaker], a three-state circuit breaker; and [FallbackGroup],
// which composes multiple backends of one provider type with per-entry
// breakers so a failing primary is bypassed in favour of healthy fallbacks.
//
// Transcription and structuring both depend on remote services that fail in
// bursts (quota, network, cold model). The primitives here keep those bursts
// from stalling a technician mid-submission.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrBreakerOpen = errors.New("breaker open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls immediately with [ErrBreakerOpen] until the
	// cooldown elapses.
	StateOpen

	// StateHalfOpen admits a single probe call at a time to test whether the
	// backend recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// FailureThreshold is the number of consecutive failures that trips the
	// breaker. Default: 5.
	FailureThreshold int

	// Cooldown is how long the breaker rejects calls after tripping before it
	// admits probes again. Default: 30s.
	Cooldown time.Duration

	// ProbeSuccesses is the number of consecutive successful probes required
	// to close the breaker again. Default: 2.
	ProbeSuccesses int
}

// Breaker is a three-state circuit breaker (closed, open, half-open).
// While half-open it admits one probe at a time; a probe failure re-opens
// immediately, and ProbeSuccesses consecutive probe successes close it.
type Breaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration
	probeSuccesses   int

	mu            sync.Mutex
	state         State
	failures      int
	trippedAt     time.Time
	probeStreak   int
	probeInFlight bool
}

// NewBreaker creates a [Breaker]. Zero-value config fields fall back to the
// documented defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeSuccesses <= 0 {
		cfg.ProbeSuccesses = 2
	}
	return &Breaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		probeSuccesses:   cfg.ProbeSuccesses,
		state:            StateClosed,
	}
}

// Do runs fn when the breaker admits the call, recording the outcome.
// In the open state it returns [ErrBreakerOpen] without calling fn; in the
// half-open state only one probe runs at a time and concurrent callers are
// rejected.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.trippedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.probeStreak = 0
		b.probeInFlight = false
		slog.Info("breaker entering half-open", "name", b.name)

	case StateHalfOpen:
		if b.probeInFlight {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}

	probing := b.state == StateHalfOpen
	if probing {
		b.probeInFlight = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if probing {
		b.probeInFlight = false
	}
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.trippedAt = time.Now()

	if probing {
		b.state = StateOpen
		b.probeStreak = 0
		slog.Warn("breaker re-opened, probe failed", "name", b.name)
		return
	}

	b.failures++
	if b.state == StateClosed && b.failures >= b.failureThreshold {
		b.state = StateOpen
		slog.Warn("breaker opened",
			"name", b.name,
			"consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		b.probeStreak++
		if b.probeStreak >= b.probeSuccesses {
			b.state = StateClosed
			b.failures = 0
			b.probeStreak = 0
			slog.Info("breaker closed, backend recovered", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// State returns the current state. An open breaker whose cooldown has elapsed
// reports [StateHalfOpen]; the stored transition happens on the next Do call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.trippedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.probeStreak = 0
	b.probeInFlight = false
	slog.Info("breaker manually reset", "name", b.name)
}
