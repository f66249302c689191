// Package cache provides a small thread-safe TTL store used for the
// checkout stash and the order-state registry
package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrInvalidKey is returned for empty or oversized keys
var ErrInvalidKey = errors.New("cache: invalid key")

const maxKeyLength = 512

// EvictCallback is invoked after an entry is removed by expiry or Delete
type EvictCallback[V any] func(key string, value V)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Stats tracks store activity. Counters are atomic; observability is not
// optional, so they are always maintained.
type Stats struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Sets      atomic.Int64
	Evictions atomic.Int64
}

// TTLStore is a mutex-guarded key/value store whose entries expire after a
// per-entry TTL. A background goroutine sweeps expired entries so the map
// cannot grow without bound between reads.
type TTLStore[V any] struct {
	mu         sync.RWMutex
	defaultTTL time.Duration
	items      map[string]*entry[V]
	stats      Stats
	evictFn    EvictCallback[V]

	shutdown chan struct{}
	done     chan struct{}
}

// Option configures a TTLStore
type Option[V any] func(*TTLStore[V])

// WithEvictCallback registers a callback run after expiry or deletion
func WithEvictCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(s *TTLStore[V]) {
		s.evictFn = fn
	}
}

// NewTTLStore creates a TTL store. Entries default to defaultTTL;
// cleanupInterval controls how often the background sweep runs. Close must
// be called to stop the sweep goroutine.
func NewTTLStore[V any](defaultTTL, cleanupInterval time.Duration, opts ...Option[V]) *TTLStore[V] {
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &TTLStore[V]{
		defaultTTL: defaultTTL,
		items:      make(map[string]*entry[V]),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.sweep(cleanupInterval)
	return s
}

func validateKey(key string) error {
	if key == "" || len(key) > maxKeyLength {
		return ErrInvalidKey
	}
	return nil
}

// Get retrieves a live value by key. Expired entries count as misses and
// are removed on the spot.
func (s *TTLStore[V]) Get(key string) (V, bool) {
	now := time.Now()

	s.mu.RLock()
	e, exists := s.items[key]
	s.mu.RUnlock()

	if !exists {
		var zero V
		s.stats.Misses.Add(1)
		return zero, false
	}

	if e.expired(now) {
		s.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// replaced the entry meanwhile
		if cur, still := s.items[key]; still && cur.expired(now) {
			delete(s.items, key)
			if s.evictFn != nil {
				defer s.evictFn(key, cur.value)
			}
			s.stats.Evictions.Add(1)
		}
		s.mu.Unlock()

		var zero V
		s.stats.Misses.Add(1)
		return zero, false
	}

	s.stats.Hits.Add(1)
	return e.value, true
}

// Set stores a value with the store's default TTL
func (s *TTLStore[V]) Set(key string, value V) error {
	return s.SetWithTTL(key, value, s.defaultTTL)
}

// SetWithTTL stores a value with an explicit TTL
func (s *TTLStore[V]) SetWithTTL(key string, value V, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	s.items[key] = &entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()

	s.stats.Sets.Add(1)
	return nil
}

// Delete removes an entry, reporting whether it existed
func (s *TTLStore[V]) Delete(key string) bool {
	s.mu.Lock()
	e, exists := s.items[key]
	if exists {
		delete(s.items, key)
		if s.evictFn != nil {
			defer s.evictFn(key, e.value)
		}
	}
	s.mu.Unlock()
	return exists
}

// Len returns the number of entries, including not-yet-swept expired ones
func (s *TTLStore[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// StatsSnapshot returns current counter values
func (s *TTLStore[V]) StatsSnapshot() (hits, misses, sets, evictions int64) {
	return s.stats.Hits.Load(), s.stats.Misses.Load(),
		s.stats.Sets.Load(), s.stats.Evictions.Load()
}

// Close stops the background sweep goroutine
func (s *TTLStore[V]) Close() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	<-s.done
}

func (s *TTLStore[V]) sweep(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *TTLStore[V]) removeExpired() {
	now := time.Now()
	type evicted struct {
		key   string
		value V
	}
	var removed []evicted

	s.mu.Lock()
	for key, e := range s.items {
		if e.expired(now) {
			removed = append(removed, evicted{key, e.value})
			delete(s.items, key)
		}
	}
	s.mu.Unlock()

	// Callbacks run outside the lock
	for _, r := range removed {
		s.stats.Evictions.Add(1)
		if s.evictFn != nil {
			s.evictFn(r.key, r.value)
		}
	}
}
