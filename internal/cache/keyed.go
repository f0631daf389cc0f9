package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Entry is the last known state of a single key.
type Entry struct {
	Value         any
	HasValue      bool
	LastFetchedAt time.Time
}

// Claim is handed out to the caller that won the right to revalidate a key.
// It must be passed back to Settle once the revalidation completes.
type Claim struct {
	Key string
	Seq uint64

	// The request state the claim was counted against. Clear replaces it.
	state *requestState
}

type SettleResult struct {
	// Applied is false when a newer revalidation was claimed for the key after
	// this one, or when the key was cleared while the revalidation was in flight.
	Applied bool
	// InFlight reports whether other revalidations for the key are still running.
	InFlight bool
}

type requestState struct {
	latest   uint64
	inFlight int
}

// KeyedCache maps keys to their last known value and the time they were last
// revalidated. Entries are never expired automatically; staleness is decided by
// callers comparing LastFetchedAt with their own windows.
type KeyedCache struct {
	entries *ttlcache.Cache[string, Entry]

	// Guards read-modify-write sequences over entries and requests
	mu       sync.Mutex
	requests map[string]*requestState
	nextSeq  uint64
}

func NewKeyedCache() *KeyedCache {
	return &KeyedCache{
		entries: ttlcache.New[string, Entry](
			ttlcache.WithTTL[string, Entry](ttlcache.NoTTL),
			ttlcache.WithDisableTouchOnHit[string, Entry](),
		),
		requests: make(map[string]*requestState),
	}
}

func (c *KeyedCache) entry(key string) (Entry, bool) {
	item := c.entries.Get(key)
	if item == nil {
		return Entry{}, false
	}
	return item.Value(), true
}

func (c *KeyedCache) put(key string, entry Entry) {
	c.entries.Set(key, entry, ttlcache.NoTTL)
}

// Entry returns a copy of the entry stored for key, if any.
func (c *KeyedCache) Entry(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entry(key)
}

// Get returns the value stored for key. The second return value is false when
// the key has never been given a value.
func (c *KeyedCache) Get(key string) (any, bool) {
	entry, ok := c.Entry(key)
	if !ok || !entry.HasValue {
		return nil, false
	}
	return entry.Value, true
}

// Set overwrites the value for key. The fetch timestamp is left untouched.
func (c *KeyedCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, _ := c.entry(key)
	entry.Value = value
	entry.HasValue = true
	c.put(key, entry)
}

// MarkFetched records that a revalidation of key completed at the given time.
func (c *KeyedCache) MarkFetched(key string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, _ := c.entry(key)
	entry.LastFetchedAt = at
	c.put(key, entry)
}

func (c *KeyedCache) LastFetchedAt(key string) (time.Time, bool) {
	entry, ok := c.Entry(key)
	if !ok || entry.LastFetchedAt.IsZero() {
		return time.Time{}, false
	}
	return entry.LastFetchedAt, true
}

// Clear removes every entry whose key contains pattern. An empty pattern
// removes all entries. Revalidations in flight for a removed key will not be
// written back when they settle.
func (c *KeyedCache) Clear(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == "" {
		removed := c.entries.Len()
		c.entries.DeleteAll()
		clear(c.requests)
		return removed
	}

	removed := 0
	for _, key := range c.entries.Keys() {
		if strings.Contains(key, pattern) {
			c.entries.Delete(key)
			removed++
		}
	}
	for key := range c.requests {
		if strings.Contains(key, pattern) {
			delete(c.requests, key)
		}
	}
	return removed
}

// ClaimRevalidation decides whether a revalidation of key may start at now.
//
// Unless force is set, a key revalidated less than dedupingInterval ago is not
// claimed. A successful claim records now as the fetch time before returning,
// so concurrent callers within the window back off.
func (c *KeyedCache) ClaimRevalidation(key string, now time.Time, dedupingInterval time.Duration, force bool) (Claim, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, _ := c.entry(key)
	if !force && !entry.LastFetchedAt.IsZero() && now.Sub(entry.LastFetchedAt) < dedupingInterval {
		return Claim{}, false
	}

	entry.LastFetchedAt = now
	c.put(key, entry)

	c.nextSeq++
	state, ok := c.requests[key]
	if !ok {
		state = &requestState{}
		c.requests[key] = state
	}
	state.latest = c.nextSeq
	state.inFlight++

	return Claim{Key: key, Seq: c.nextSeq, state: state}, true
}

// Settle completes a claim. When the claim is still the newest one for its key
// the fetch time is set to at, and on success the value is stored.
func (c *KeyedCache) Settle(claim Claim, at time.Time, value any, success bool) SettleResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.requests[claim.Key]
	if !ok || state != claim.state {
		// Cleared while in flight. Claims made after the clear are counted
		// against a new state, which this claim must not touch.
		return SettleResult{Applied: false, InFlight: ok && state.inFlight > 0}
	}

	if state.inFlight > 0 {
		state.inFlight--
	}
	inFlight := state.inFlight > 0

	if claim.Seq != state.latest {
		return SettleResult{Applied: false, InFlight: inFlight}
	}

	entry, _ := c.entry(claim.Key)
	entry.LastFetchedAt = at
	if success {
		entry.Value = value
		entry.HasValue = true
	}
	c.put(claim.Key, entry)

	return SettleResult{Applied: true, InFlight: inFlight}
}

// InFlight reports whether any revalidation for key is currently running.
func (c *KeyedCache) InFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.requests[key]
	return ok && state.inFlight > 0
}

// Get returns the value stored for key if it holds a T.
func Get[T any](c *KeyedCache, key string) (T, bool) {
	value, ok := c.Get(key)
	if !ok {
		var empty T
		return empty, false
	}
	if value == nil {
		// Stored from an interface-typed T holding nil
		var empty T
		return empty, true
	}
	typed, ok := value.(T)
	return typed, ok
}
