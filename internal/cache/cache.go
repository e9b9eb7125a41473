// Package cache provides a bounded LRU result cache with TTL expiry and
// single-flight computation so concurrent misses on one key compute once.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"solana-pnl-engine/internal/observability"
)

// Default configuration values.
const (
	DefaultCapacity = 1024
	DefaultTTL      = 60 * time.Second
)

// Result kinds cached by the engine.
const (
	KindCandles = "candles"
	KindPnL     = "pnl"
)

// Key identifies one cached result. All fields participate in identity.
type Key struct {
	Kind     string
	Token    string
	Wallet   string
	Interval string
	From     int64
	To       int64
}

// String renders the canonical cache key.
func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d|%d", k.Kind, k.Token, k.Wallet, k.Interval, k.From, k.To)
}

type entry struct {
	key       Key
	value     interface{}
	expiresAt time.Time

	// fingerprint identifies the source data the value was computed from,
	// so staleness can be checked without comparing payloads.
	fingerprint string
}

// Cache is a fixed-capacity LRU with per-entry TTL. Lookups that miss are
// computed through a singleflight group keyed by the canonical key string,
// so a burst of identical queries costs one upstream computation.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[Key]*list.Element
	order    *list.List // front = most recently used

	group   singleflight.Group
	metrics *observability.Metrics

	now func() time.Time
}

// New creates a Cache. Zero capacity or TTL take the defaults; metrics may
// be nil.
func New(capacity int, ttl time.Duration, metrics *observability.Metrics) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[Key]*list.Element),
		order:    list.New(),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Get returns the cached value for k, if present and unexpired.
func (c *Cache) Get(k Key) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(k)
}

func (c *Cache) getLocked(k Key) (interface{}, bool) {
	el, ok := c.items[k]
	if !ok {
		if c.metrics != nil {
			c.metrics.CacheMisses.Inc()
		}
		return nil, false
	}

	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeLocked(el)
		if c.metrics != nil {
			c.metrics.CacheMisses.Inc()
		}
		return nil, false
	}

	c.order.MoveToFront(el)
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
	return e.value, true
}

// Set stores a value for k with the cache-wide TTL, evicting the least
// recently used entry if the cache is full.
func (c *Cache) Set(k Key, v interface{}) {
	c.SetWithFingerprint(k, v, "")
}

// SetWithFingerprint stores a value tagged with a fingerprint of the source
// data it was computed from.
func (c *Cache) SetWithFingerprint(k Key, v interface{}, fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(k, v, fingerprint)
}

func (c *Cache) setLocked(k Key, v interface{}, fingerprint string) {
	if el, ok := c.items[k]; ok {
		e := el.Value.(*entry)
		e.value = v
		e.fingerprint = fingerprint
		e.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.removeLocked(oldest)
			if c.metrics != nil {
				c.metrics.CacheEvictions.Inc()
			}
		}
	}

	el := c.order.PushFront(&entry{
		key:         k,
		value:       v,
		expiresAt:   c.now().Add(c.ttl),
		fingerprint: fingerprint,
	})
	c.items[k] = el
}

// Fingerprint returns the source-data fingerprint recorded for k's live
// entry.
func (c *Cache) Fingerprint(k Key) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[k]
	if !ok {
		return "", false
	}
	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		return "", false
	}
	return e.fingerprint, true
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.items, e.key)
	c.order.Remove(el)
}

// GetOrCompute returns the cached value for k or computes and stores it,
// recording the fingerprint the compute function reports for its source
// data. Concurrent callers for the same key share one compute call and its
// result; errors are not cached.
func (c *Cache) GetOrCompute(ctx context.Context, k Key, compute func(context.Context) (interface{}, string, error)) (interface{}, error) {
	if v, ok := c.Get(k); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(k.String(), func() (interface{}, error) {
		// Another flight may have populated the entry while we queued.
		if v, ok := c.Get(k); ok {
			return v, nil
		}
		v, fingerprint, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.SetWithFingerprint(k, v, fingerprint)
		return v, nil
	})
	return v, err
}

// Invalidate removes all entries the predicate matches.
func (c *Cache) Invalidate(match func(Key) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if match(e.key) {
			c.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed
}

// InvalidateToken drops all entries whose token matches. Used after a sync
// ingests new trades for the token.
func (c *Cache) InvalidateToken(token string) int {
	return c.Invalidate(func(k Key) bool { return k.Token == token })
}

// InvalidateWallet drops all entries whose wallet matches.
func (c *Cache) InvalidateWallet(wallet string) int {
	return c.Invalidate(func(k Key) bool { return k.Wallet == wallet })
}

// Len returns the number of live entries, expired ones included until their
// next lookup.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// ValidateKey rejects keys with no identity fields; a blank key would alias
// every blank query together.
func ValidateKey(k Key) error {
	if k.Kind == "" {
		return fmt.Errorf("cache key missing kind")
	}
	if strings.TrimSpace(k.Token) == "" && strings.TrimSpace(k.Wallet) == "" {
		return fmt.Errorf("cache key needs a token or wallet")
	}
	return nil
}
