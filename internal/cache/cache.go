// Package cache is the route cache: a sharded, byte-budgeted LRU mapping
// key maps to resolved targets with TTL, staleness, per-entry failure
// backoff, and pinning of entries with in-flight lookups.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/wudi/routelookup/internal/backoff"
	"github.com/wudi/routelookup/internal/keybuilder"
	"github.com/wudi/routelookup/internal/lookup"
	"github.com/wudi/routelookup/internal/metrics"
)

const (
	// numShards spreads contention across independent locks; distinct key
	// maps almost never share a shard lock. Must be a power of two.
	numShards = 16

	// entryOverhead approximates the fixed per-entry cost (struct, map and
	// list bookkeeping) on top of the strings it holds.
	entryOverhead = 128

	// purgeAfter is how long an expired entry may sit unused before the
	// janitor removes it.
	purgeAfter = 5 * time.Minute
)

// Options configures a Cache.
type Options struct {
	// SizeBytes is the soft byte budget across all shards.
	SizeBytes int64
	// MaxAge bounds entry lifetime; hard-capped at 5 minutes.
	MaxAge time.Duration
	// StaleAge, when in (0, MaxAge), starts background refresh eligibility
	// that long after a response. Zero disables early refresh.
	StaleAge time.Duration
	// Backoff paces retries for entries whose last lookup failed.
	Backoff backoff.Policy
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// View is a point-in-time snapshot of an entry, taken under the shard lock.
type View struct {
	Found      bool
	Target     string
	HeaderData string

	// Valid means the target is usable right now. Stale means it is usable
	// but past its preferred freshness window. Found without Valid means
	// the entry is expired or never resolved successfully.
	Valid bool
	Stale bool

	// Pending reports an in-flight lookup for this key.
	Pending bool

	// Err is the most recent lookup failure recorded on the entry.
	// InBackoff means a new lookup for this key should not be issued yet;
	// the recorded error stands in for it.
	Err       error
	InBackoff bool
}

type entry struct {
	key        string
	target     string
	headerData string
	validUntil time.Time
	staleAt    time.Time

	lastErr      error
	backoffUntil time.Time
	retry        *backoff.State

	pending  bool
	size     int64
	lastUsed time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recently used
	bytes   int64
}

// Cache is safe for concurrent use. Operations on entries in different
// shards do not contend.
type Cache struct {
	shards      [numShards]shard
	shardBudget int64
	maxAge      time.Duration
	staleAge    time.Duration
	policy      backoff.Policy
	now         func() time.Time
}

// New creates a route cache.
func New(opts Options) *Cache {
	size := opts.SizeBytes
	if size <= 0 {
		size = 10 << 20
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 || maxAge > 5*time.Minute {
		maxAge = 5 * time.Minute
	}
	staleAge := opts.StaleAge
	if staleAge < 0 || staleAge >= maxAge {
		staleAge = 0
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	policy := opts.Backoff
	if policy.InitialInterval == 0 {
		policy = backoff.DefaultPolicy()
	}

	c := &Cache{
		shardBudget: size / numShards,
		maxAge:      maxAge,
		staleAge:    staleAge,
		policy:      policy,
		now:         now,
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]*list.Element)
		c.shards[i].lru = list.New()
	}
	return c
}

func (c *Cache) shardFor(k keybuilder.Key) *shard {
	return &c.shards[k.Hash()&(numShards-1)]
}

// Get snapshots the entry for k, updating its recency.
func (c *Cache) Get(k keybuilder.Key) View {
	s := c.shardFor(k)
	now := c.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[k.Canonical()]
	if !ok {
		return View{}
	}
	e := el.Value.(*entry)
	e.lastUsed = now
	s.lru.MoveToFront(el)

	v := View{
		Found:      true,
		Target:     e.target,
		HeaderData: e.headerData,
		Pending:    e.pending,
		Err:        e.lastErr,
	}
	if e.target != "" && now.Before(e.validUntil) {
		v.Valid = true
		v.Stale = !now.Before(e.staleAt)
	}
	if e.lastErr != nil && now.Before(e.backoffUntil) {
		v.InBackoff = true
	}
	return v
}

// BeginLookup marks an in-flight lookup for k, creating a placeholder entry
// when none exists. While the mark is set the entry cannot be evicted.
func (c *Cache) BeginLookup(k keybuilder.Key) {
	c.begin(k)
}

// TryBeginLookup atomically claims the in-flight mark for k. It returns
// false when a lookup is already pending, guaranteeing a single background
// refresh per key no matter how many stale readers race.
func (c *Cache) TryBeginLookup(k keybuilder.Key) bool {
	return c.begin(k)
}

func (c *Cache) begin(k keybuilder.Key) bool {
	s := c.shardFor(k)
	now := c.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[k.Canonical()]
	if !ok {
		e := &entry{
			key:      k.Canonical(),
			size:     int64(k.Size()) + entryOverhead,
			lastUsed: now,
			pending:  true,
		}
		el = s.lru.PushFront(e)
		s.entries[e.key] = el
		s.bytes += e.size
		metrics.CacheEntries.Inc()
		metrics.CacheBytes.Add(float64(e.size))
		c.evictLocked(s)
		return true
	}
	e := el.Value.(*entry)
	if e.pending {
		return false
	}
	e.pending = true
	return true
}

// Complete records a lookup outcome for k and clears the in-flight mark.
// On success the target and TTLs are installed and any failure backoff is
// reset. On failure the previous target, if still unexpired, is left in
// place; transient failures arm the entry's retry backoff, permanent ones
// do not pace explicit re-requests but are never retried in the background.
func (c *Cache) Complete(k keybuilder.Key, res *lookup.Result, err error) {
	s := c.shardFor(k)
	now := c.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[k.Canonical()]
	if !ok {
		// The pending pin prevents eviction, so the entry must exist.
		return
	}
	e := el.Value.(*entry)
	e.pending = false
	e.lastUsed = now

	if err != nil {
		e.lastErr = err
		if !lookup.IsPermanent(err) {
			if e.retry == nil {
				e.retry = c.policy.NewState()
			}
			e.backoffUntil = now.Add(e.retry.Next())
		} else {
			e.retry = nil
			e.backoffUntil = time.Time{}
		}
		return
	}

	oldSize := e.size
	e.target = res.Target
	e.headerData = res.HeaderData
	e.validUntil = now.Add(c.maxAge)
	if c.staleAge > 0 {
		e.staleAt = now.Add(c.staleAge)
	} else {
		e.staleAt = e.validUntil
	}
	e.lastErr = nil
	e.retry = nil
	e.backoffUntil = time.Time{}
	e.size = int64(k.Size()+len(e.target)+len(e.headerData)) + entryOverhead

	s.bytes += e.size - oldSize
	metrics.CacheBytes.Add(float64(e.size - oldSize))
	s.lru.MoveToFront(el)
	c.evictLocked(s)
}

// evictLocked removes least-recently-used entries until the shard is within
// budget. Entries with an in-flight lookup are pinned and skipped.
func (c *Cache) evictLocked(s *shard) {
	el := s.lru.Back()
	for s.bytes > c.shardBudget && el != nil {
		prev := el.Prev()
		e := el.Value.(*entry)
		if !e.pending {
			c.removeLocked(s, el, e)
			metrics.CacheEvictions.Inc()
		}
		el = prev
	}
}

func (c *Cache) removeLocked(s *shard, el *list.Element, e *entry) {
	s.lru.Remove(el)
	delete(s.entries, e.key)
	s.bytes -= e.size
	metrics.CacheEntries.Dec()
	metrics.CacheBytes.Sub(float64(e.size))
}

// PurgeExpired removes entries that are expired and have not been touched
// for purgeAfter. Called periodically by the engine's janitor.
func (c *Cache) PurgeExpired() {
	now := c.now()
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for el := s.lru.Back(); el != nil; {
			prev := el.Prev()
			e := el.Value.(*entry)
			if !e.pending && !now.Before(e.validUntil) && now.Sub(e.lastUsed) > purgeAfter {
				c.removeLocked(s, el, e)
			}
			el = prev
		}
		s.mu.Unlock()
	}
}

// Len returns the total number of entries.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Bytes returns the total estimated size.
func (c *Cache) Bytes() int64 {
	var n int64
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += s.bytes
		s.mu.Unlock()
	}
	return n
}
