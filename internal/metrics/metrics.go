// Package metrics exposes Prometheus collectors for the route lookup engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Target pick states, used as the "state" label of TargetPicks.
const (
	PickHit     = "hit"
	PickStale   = "stale_hit"
	PickLookup  = "lookup"
	PickDefault = "default_target"
	PickError   = "error"
	PickBackoff = "backoff"
)

var (
	// TargetPicks counts routing decisions by cache state.
	TargetPicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rls",
		Name:      "target_picks_total",
		Help:      "Routing decisions by cache state.",
	}, []string{"state"})

	// Lookups counts lookup RPCs by reason (miss, stale) and result.
	Lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rls",
		Name:      "lookups_total",
		Help:      "Route lookup RPCs by reason and result.",
	}, []string{"reason", "result"})

	// LookupsCoalesced counts callers that attached to an already-pending
	// lookup instead of starting their own.
	LookupsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rls",
		Name:      "lookups_coalesced_total",
		Help:      "Callers that shared an in-flight lookup.",
	})

	// RefreshesThrottled counts background refreshes suppressed by the
	// refresh rate limiter.
	RefreshesThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rls",
		Name:      "refreshes_throttled_total",
		Help:      "Background refreshes dropped by the rate limiter.",
	})

	// CacheEntries is the current number of cached keys.
	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rls",
		Name:      "cache_entries",
		Help:      "Entries currently in the route cache.",
	})

	// CacheBytes is the current estimated cache size.
	CacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rls",
		Name:      "cache_size_bytes",
		Help:      "Estimated bytes held by the route cache.",
	})

	// CacheEvictions counts LRU evictions.
	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rls",
		Name:      "cache_evictions_total",
		Help:      "Route cache entries evicted to stay within the byte budget.",
	})
)
