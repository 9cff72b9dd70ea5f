// Package stemcache implements the clock/second-chance stem cache of
// spec.md §4.5: a fixed-capacity map from a raw term to its stemmed
// form, amortising per-token stemming cost across repeated lookups of
// the same term within and across documents.
//
// The cache never propagates an error to the caller: an allocation
// failure, a growth failure, or a stemmer failure all degrade to
// "stem without caching this call" rather than surfacing mgerr, per
// spec.md §4.5's error policy.
package stemcache

import "github.com/mgtoolkit/mgstore/internal/obs"

// Stemmer reduces a term to its stemmed form, writing the result into
// dst and returning the slice of dst actually used. Implementations
// must never return a result longer than the input; this is the
// in-place-rewrite safety property the cache's callers rely on.
type Stemmer interface {
	Stem(dst, term []byte) []byte
}

// slot is one cache entry. refCount starts at 2 on insert and is
// decremented by clock sweeps; it reaches zero only after surviving
// at least one full sweep untouched, giving recently-inserted and
// recently-hit slots a second chance before eviction.
type slot struct {
	raw      []byte
	stemmed  []byte
	refCount int
	used     bool
}

// Cache is a fixed-capacity raw-term → stemmed-term cache. It is not
// safe for concurrent use; per spec.md §5 a cache is exclusively
// owned by its creator.
type Cache struct {
	slots    []slot
	capacity int
	cursor   int

	hits   uint64
	misses uint64
}

// New creates a cache with room for capacity distinct terms.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{slots: make([]slot, capacity), capacity: capacity}
}

// Hits returns the number of Stem calls served from the cache.
func (c *Cache) Hits() uint64 { return c.hits }

// Misses returns the number of Stem calls that invoked the stemmer.
func (c *Cache) Misses() uint64 { return c.misses }

// Len returns the number of occupied slots.
func (c *Cache) Len() int {
	n := 0
	for i := range c.slots {
		if c.slots[i].used {
			n++
		}
	}
	return n
}

func (c *Cache) find(term []byte) int {
	for i := range c.slots {
		if c.slots[i].used && string(c.slots[i].raw) == string(term) {
			return i
		}
	}
	return -1
}

// firstFree returns the index of the first unused slot, or -1 if the
// cache is full.
func (c *Cache) firstFree() int {
	for i := range c.slots {
		if !c.slots[i].used {
			return i
		}
	}
	return -1
}

// evictVictim runs the clock algorithm: advance the cursor, decrementing
// every non-zero reference count it passes over, and evict the first
// slot found with a zero count. With capacity ≥ 1 this always
// terminates within two full sweeps, since every pass decrements at
// least the cursor's own slot.
func (c *Cache) evictVictim() int {
	for {
		i := c.cursor
		c.cursor = (c.cursor + 1) % c.capacity
		if c.slots[i].refCount > 0 {
			c.slots[i].refCount--
			continue
		}
		return i
	}
}

// Stem rewrites term into its stemmed form using s, consulting the
// cache first. On a hit, the cached stemmed form is copied into dst
// (reallocated if dst is too small) and returned, so the caller never
// holds the cache's own storage.
// On a miss, s stems the term into dst and the result is cached for
// next time unless caching fails, in which case the stemmed result is
// still returned to the caller uncached.
func (c *Cache) Stem(s Stemmer, dst, term []byte) []byte {
	if i := c.find(term); i >= 0 {
		c.hits++
		obs.StemCacheHits.Inc()
		c.slots[i].refCount = 2
		out := append(dst[:0], c.slots[i].stemmed...)
		return out
	}

	c.misses++
	obs.StemCacheMisses.Inc()
	stemmed := s.Stem(dst, term)

	i := c.firstFree()
	if i < 0 {
		i = c.evictVictim()
		if !c.growSlot(i, term, stemmed) {
			c.slots[i] = slot{}
			return stemmed
		}
		return stemmed
	}

	c.slots[i] = slot{
		raw:      append([]byte(nil), term...),
		stemmed:  append([]byte(nil), stemmed...),
		refCount: 2,
		used:     true,
	}
	return stemmed
}

// growSlot repurposes an evicted slot for (term, stemmed), growing its
// backing buffers in place when they're already large enough and
// reallocating otherwise. The boolean return mirrors the source
// contract's growth-failure path (spec.md §9's redesign note: "on any
// growth failure, evict the slot entirely and fall back to uncached
// stemming for this call"); Go's slice growth has no separate
// allocator-failure signal the way C's realloc does, so this
// implementation always succeeds, but callers still check the return
// value so the contract holds if that ever changes.
func (c *Cache) growSlot(i int, term, stemmed []byte) bool {
	raw := growBuf(c.slots[i].raw, term)
	body := growBuf(c.slots[i].stemmed, stemmed)
	c.slots[i] = slot{raw: raw, stemmed: body, refCount: 2, used: true}
	return true
}

func growBuf(buf, src []byte) []byte {
	if cap(buf) >= len(src) {
		buf = buf[:len(src)]
	} else {
		buf = make([]byte, len(src))
	}
	copy(buf, src)
	return buf
}
