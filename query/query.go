// Package query coordinates reads and writes issued by portal views:
// a keyed result cache with de-duplicated loads, a latest-wins ticket
// dispenser for discarding stale responses, and a single-flight guard for
// mutations.
package query

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrStale is returned when a newer request superseded this one.
	ErrStale = errors.New("portal/query: stale response")

	// ErrInFlight is returned when a mutation with the same key is pending.
	ErrInFlight = errors.New("portal/query: mutation already in flight")
)

type entry struct {
	value  any
	stored time.Time
}

// Cache holds results by key. Concurrent loads of the same key share one call.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	epoch   uint64
	ttl     time.Duration
	retain  bool
	now     func() time.Time
	sf      singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL expires entries older than d. Zero keeps entries until invalidated.
func WithTTL(d time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = d }
}

// WithoutRetention keeps no results. Concurrent loads of a key are still
// shared, but every later Load calls fn again.
func WithoutRetention() CacheOption {
	return func(c *Cache) { c.retain = false }
}

// NewCache creates an empty Cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{entries: make(map[string]entry), now: time.Now, retain: true}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(e.stored) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Invalidate drops every entry whose key starts with prefix. Loads that
// started before the call do not repopulate the cache.
func (c *Cache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Load returns the cached value for key, calling fn on a miss.
func Load[T any](ctx context.Context, c *Cache, key string, fn func(context.Context) (T, error)) (T, error) {
	if v, ok := c.get(key); ok {
		return v.(T), nil
	}

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	v, err, _ := c.sf.Do(key, func() (any, error) {
		res, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.retain && c.epoch == epoch {
			c.entries[key] = entry{value: res, stored: c.now()}
		}
		c.mu.Unlock()
		return res, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Latest hands out tickets per slot. Only the newest ticket of a slot is
// current; responses for older tickets are discarded by the caller.
type Latest struct {
	mu    sync.Mutex
	slots map[string]uint64
}

// NewLatest creates a ticket dispenser.
func NewLatest() *Latest {
	return &Latest{slots: make(map[string]uint64)}
}

// Ticket identifies one request within a slot.
type Ticket struct {
	l    *Latest
	slot string
	n    uint64
}

// Begin issues a new ticket for slot, superseding all earlier ones.
func (l *Latest) Begin(slot string) Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slots[slot]++
	return Ticket{l: l, slot: slot, n: l.slots[slot]}
}

// Current reports whether t is still the newest ticket for its slot.
func (t Ticket) Current() bool {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	return t.l.slots[t.slot] == t.n
}

// Run executes fn under a fresh ticket for slot and returns ErrStale if a
// newer Run for the same slot started meanwhile.
func Run[T any](ctx context.Context, l *Latest, slot string, fn func(context.Context) (T, error)) (T, error) {
	t := l.Begin(slot)
	res, err := fn(ctx)
	if !t.Current() {
		var zero T
		return zero, ErrStale
	}
	return res, err
}

// Mutation allows one in-flight execution per key.
type Mutation struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewMutation creates a Mutation guard.
func NewMutation() *Mutation {
	return &Mutation{inflight: make(map[string]struct{})}
}

// Pending reports whether a mutation for key is running.
func (m *Mutation) Pending(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[key]
	return ok
}

func (m *Mutation) acquire(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inflight[key]; ok {
		return false
	}
	m.inflight[key] = struct{}{}
	return true
}

func (m *Mutation) release(key string) {
	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()
}

// Do runs fn unless a mutation for key is already pending. On success
// invalidate (if non-nil) runs before Do returns.
func Do[T any](ctx context.Context, m *Mutation, key string, fn func(context.Context) (T, error), invalidate func()) (T, error) {
	var zero T
	if !m.acquire(key) {
		return zero, ErrInFlight
	}
	defer m.release(key)

	res, err := fn(ctx)
	if err != nil {
		return zero, err
	}
	if invalidate != nil {
		invalidate()
	}
	return res, nil
}
