package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultRefreshInterval = 5 * time.Minute

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithRefreshInterval sets the polling interval. Values <= 0 keep the
// default of 5 minutes.
func WithRefreshInterval(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithOnRefresh registers a callback invoked after the snapshot changed.
// The callback runs on the polling goroutine, so it must not block for
// long. Both arguments are non-nil.
func WithOnRefresh(fn func(old, new *Catalog)) RefresherOption {
	return func(r *Refresher) {
		r.onChange = fn
	}
}

// Refresher keeps an in-memory catalog snapshot up to date by polling a
// Source. Equipment lists change rarely, so a swap only happens when the
// snapshot fingerprint differs; callers holding the previous snapshot keep
// a consistent view until they ask again.
type Refresher struct {
	source   Source
	interval time.Duration
	onChange func(old, new *Catalog)

	mu          sync.RWMutex
	current     *Catalog
	fingerprint string

	done     chan struct{}
	stopOnce sync.Once
}

// NewRefresher performs an initial load and starts the polling goroutine.
// It fails if the first load fails so the caller never serves an empty
// catalog by accident.
func NewRefresher(ctx context.Context, source Source, opts ...RefresherOption) (*Refresher, error) {
	if source == nil {
		return nil, fmt.Errorf("catalog: source must not be nil")
	}
	r := &Refresher{
		source:   source,
		interval: defaultRefreshInterval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	c, err := source.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: initial load: %w", err)
	}
	r.current = c
	r.fingerprint = c.Fingerprint()

	go r.poll()
	return r, nil
}

// Current returns the latest snapshot. The returned catalog must be treated
// as read-only; a refresh replaces the pointer rather than mutating it.
func (r *Refresher) Current() *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Stop terminates the polling goroutine. Safe to call more than once.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// Refresh forces an immediate reload, bypassing the polling interval. It
// returns the snapshot now current and whether it changed.
func (r *Refresher) Refresh(ctx context.Context) (*Catalog, bool, error) {
	c, err := r.source.LoadAll(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("catalog: refresh: %w", err)
	}
	fp := c.Fingerprint()

	r.mu.Lock()
	if fp == r.fingerprint {
		current := r.current
		r.mu.Unlock()
		return current, false, nil
	}
	old := r.current
	r.current = c
	r.fingerprint = fp
	onChange := r.onChange
	r.mu.Unlock()

	slog.Info("catalog refreshed",
		"users", len(c.Users),
		"manufacturers", len(c.Manufacturers),
		"equipment_types", len(c.EquipmentTypes),
		"models", len(c.Models))

	// Invoke outside the lock so the callback may call Current.
	if onChange != nil {
		onChange(old, c)
	}
	return c, true, nil
}

func (r *Refresher) poll() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.interval)
			_, _, err := r.Refresh(ctx)
			cancel()
			if err != nil {
				// Keep serving the last good snapshot.
				slog.Warn("catalog refresh failed", "error", err)
			}
		}
	}
}
