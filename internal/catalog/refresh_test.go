package catalog_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vdrs/dykscribe/internal/catalog"
)

// swapSource is a Source whose snapshot can be replaced between loads.
type swapSource struct {
	mu  sync.Mutex
	c   *catalog.Catalog
	err error
}

func (s *swapSource) LoadAll(ctx context.Context) (*catalog.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.c, nil
}

func (s *swapSource) set(c *catalog.Catalog, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c, s.err = c, err
}

func makeCat(manufacturers ...string) *catalog.Catalog {
	return &catalog.Catalog{Manufacturers: manufacturers}
}

func TestRefresher_InitialLoad(t *testing.T) {
	t.Parallel()
	src := &swapSource{c: makeCat("Siemens")}

	r, err := catalog.NewRefresher(context.Background(), src, catalog.WithRefreshInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Stop()

	cur := r.Current()
	if cur == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if got := cur.ManufacturerNames(); len(got) != 1 || got[0] != "Siemens" {
		t.Errorf("manufacturers: got %v, want [Siemens]", got)
	}
}

func TestRefresher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	src := &swapSource{err: errors.New("view missing")}

	if _, err := catalog.NewRefresher(context.Background(), src); err == nil {
		t.Fatal("expected error when the initial load fails, got nil")
	}
}

func TestRefresher_NilSource(t *testing.T) {
	t.Parallel()
	if _, err := catalog.NewRefresher(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil source, got nil")
	}
}

func TestRefresher_DetectsChange(t *testing.T) {
	t.Parallel()
	src := &swapSource{c: makeCat("Siemens")}

	var mu sync.Mutex
	var callbackOld, callbackNew *catalog.Catalog
	called := make(chan struct{}, 1)

	r, err := catalog.NewRefresher(context.Background(), src,
		catalog.WithRefreshInterval(50*time.Millisecond),
		catalog.WithOnRefresh(func(old, new *catalog.Catalog) {
			mu.Lock()
			callbackOld = old
			callbackNew = new
			mu.Unlock()
			select {
			case called <- struct{}{}:
			default:
			}
		}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Stop()

	src.set(makeCat("Siemens", "Philips"), nil)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()

	if callbackOld == nil || callbackNew == nil {
		t.Fatal("callback received nil catalogs")
	}
	if got := len(callbackOld.ManufacturerNames()); got != 1 {
		t.Errorf("old manufacturer count: got %d, want 1", got)
	}
	if got := len(callbackNew.ManufacturerNames()); got != 2 {
		t.Errorf("new manufacturer count: got %d, want 2", got)
	}

	if got := len(r.Current().ManufacturerNames()); got != 2 {
		t.Errorf("Current() manufacturer count: got %d, want 2", got)
	}
}

func TestRefresher_LoadErrorKeepsOldSnapshot(t *testing.T) {
	t.Parallel()
	src := &swapSource{c: makeCat("Siemens")}

	callCount := 0
	var mu sync.Mutex

	r, err := catalog.NewRefresher(context.Background(), src,
		catalog.WithRefreshInterval(50*time.Millisecond),
		catalog.WithOnRefresh(func(old, new *catalog.Catalog) {
			mu.Lock()
			callCount++
			mu.Unlock()
		}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Stop()

	src.set(nil, errors.New("connection reset"))
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	calls := callCount
	mu.Unlock()

	if calls != 0 {
		t.Errorf("callback should not fire for failed loads, got %d calls", calls)
	}
	if got := r.Current().ManufacturerNames(); len(got) != 1 || got[0] != "Siemens" {
		t.Errorf("Current() should keep the old snapshot, got %v", got)
	}
}

func TestRefresher_UnchangedContentNoCallback(t *testing.T) {
	t.Parallel()
	src := &swapSource{c: makeCat("Siemens")}

	callCount := 0
	var mu sync.Mutex

	r, err := catalog.NewRefresher(context.Background(), src,
		catalog.WithRefreshInterval(50*time.Millisecond),
		catalog.WithOnRefresh(func(old, new *catalog.Catalog) {
			mu.Lock()
			callCount++
			mu.Unlock()
		}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Stop()

	// A fresh value with identical content has the same fingerprint.
	src.set(makeCat("Siemens"), nil)
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	calls := callCount
	mu.Unlock()

	if calls != 0 {
		t.Errorf("callback should not fire when content is unchanged, got %d calls", calls)
	}
}

func TestRefresher_ManualRefresh(t *testing.T) {
	t.Parallel()
	src := &swapSource{c: makeCat("Siemens")}

	// Hour-long interval so only the explicit Refresh calls run.
	r, err := catalog.NewRefresher(context.Background(), src, catalog.WithRefreshInterval(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Stop()

	src.set(makeCat("Siemens", "Philips"), nil)

	c, changed, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !changed {
		t.Error("Refresh reported no change after the source was updated")
	}
	if got := len(c.ManufacturerNames()); got != 2 {
		t.Errorf("refreshed manufacturer count: got %d, want 2", got)
	}

	// A second refresh with the same content reports no change and keeps
	// the snapshot pointer stable.
	c2, changed, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if changed {
		t.Error("second Refresh reported a change")
	}
	if c2 != c {
		t.Error("unchanged refresh replaced the snapshot pointer")
	}
}

func TestRefresher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	src := &swapSource{c: makeCat("Siemens")}

	r, err := catalog.NewRefresher(context.Background(), src, catalog.WithRefreshInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Stop()
	r.Stop()
	r.Stop()
}
