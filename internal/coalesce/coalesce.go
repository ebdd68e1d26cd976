// Package coalesce deduplicates concurrent route lookups for the same key
// map into one shared in-flight RPC.
package coalesce

import (
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/wudi/routelookup/internal/lookup"
	"github.com/wudi/routelookup/internal/metrics"
)

// Outcome is the shared result of one in-flight lookup, fanned out to every
// attached caller.
type Outcome struct {
	Res    *lookup.Result
	Err    error
	Shared bool
}

// Stats holds coalescing counters.
type Stats struct {
	Started   int64 `json:"started"`
	Coalesced int64 `json:"coalesced"`
	InFlight  int64 `json:"in_flight"`
}

// Group deduplicates lookups by canonical key. The executing function owns
// its own context and always runs to completion; callers that stop waiting
// (timeout, cancellation) abandon the channel without affecting the RPC or
// the other waiters.
type Group struct {
	sf singleflight.Group

	started   atomic.Int64
	coalesced atomic.Int64
	inFlight  atomic.Int64
}

// DoChan runs fn for key unless one is already in flight, in which case the
// caller attaches to it. The returned channel is buffered; dropping it does
// not leak the result.
func (g *Group) DoChan(key string, fn func() (*lookup.Result, error)) <-chan Outcome {
	// Set only when this caller's closure is the one singleflight executes;
	// the channel receive below orders the read after the write.
	executed := false
	ch := g.sf.DoChan(key, func() (interface{}, error) {
		executed = true
		g.started.Add(1)
		g.inFlight.Add(1)
		defer g.inFlight.Add(-1)
		return fn()
	})

	out := make(chan Outcome, 1)
	go func() {
		r := <-ch
		var res *lookup.Result
		if r.Val != nil {
			res = r.Val.(*lookup.Result)
		}
		if !executed {
			g.coalesced.Add(1)
			metrics.LookupsCoalesced.Inc()
		}
		out <- Outcome{Res: res, Err: r.Err, Shared: r.Shared}
	}()
	return out
}

// Stats returns a snapshot of the counters.
func (g *Group) Stats() Stats {
	return Stats{
		Started:   g.started.Load(),
		Coalesced: g.coalesced.Load(),
		InFlight:  g.inFlight.Load(),
	}
}
