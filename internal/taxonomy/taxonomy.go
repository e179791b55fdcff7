package taxonomy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dvloznov/expense-bot/internal/domain"
)

// Source fetches the current valid sets of accounts, outcome categories and
// income categories from the external store.
type Source interface {
	Fetch(ctx context.Context) (domain.Taxonomy, error)
}

// UnavailableError means the taxonomy cannot be used: the remote schema could
// not be read, or one of the three relations resolved to zero entries. It is
// a configuration fault, fatal to the run, and never retried by the pipeline.
type UnavailableError struct {
	Reason string
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("taxonomy unavailable: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("taxonomy unavailable: %s", e.Reason)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// snapshot pairs a taxonomy with the time it was fetched.
type snapshot struct {
	tax     domain.Taxonomy
	fetched time.Time
}

// CachedSource wraps a Source with a short-lived cache. The snapshot is
// replaced atomically, so concurrent readers never observe a taxonomy with
// some sets updated and others stale. A TTL of zero disables caching and
// every Fetch goes to the underlying source.
type CachedSource struct {
	src Source
	ttl time.Duration
	now func() time.Time

	cur atomic.Pointer[snapshot]

	// single-flight guard: only one goroutine refreshes at a time, the rest
	// serve the previous snapshot if there is one.
	refreshing atomic.Bool
}

// NewCachedSource wraps src with a TTL cache.
func NewCachedSource(src Source, ttl time.Duration) *CachedSource {
	return &CachedSource{src: src, ttl: ttl, now: time.Now}
}

// Fetch returns the cached snapshot when fresh, refreshing it otherwise.
func (c *CachedSource) Fetch(ctx context.Context) (domain.Taxonomy, error) {
	if c.ttl > 0 {
		if s := c.cur.Load(); s != nil && c.now().Sub(s.fetched) < c.ttl {
			return s.tax, nil
		}
	}

	// Serve a stale-but-coherent snapshot when another goroutine is already
	// refreshing, rather than stampeding the remote store.
	if !c.refreshing.CompareAndSwap(false, true) {
		if s := c.cur.Load(); s != nil {
			return s.tax, nil
		}
		// No snapshot yet; fall through and fetch anyway.
	} else {
		defer c.refreshing.Store(false)
	}

	tax, err := c.src.Fetch(ctx)
	if err != nil {
		return domain.Taxonomy{}, err
	}
	if !tax.IsComplete() {
		return domain.Taxonomy{}, &UnavailableError{Reason: "fetched taxonomy has an empty relation"}
	}

	c.cur.Store(&snapshot{tax: tax, fetched: c.now()})
	return tax, nil
}

// Invalidate drops the cached snapshot so the next Fetch hits the source.
func (c *CachedSource) Invalidate() {
	c.cur.Store(nil)
}
