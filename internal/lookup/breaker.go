package lookup

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerLookuper wraps a Lookuper with a circuit breaker so a failing
// lookup service is not hammered by every cache miss. While the breaker is
// open, lookups fail fast with a transient error; half-open probes restore
// service once the lookup service recovers.
type BreakerLookuper struct {
	next Lookuper
	cb   *gobreaker.CircuitBreaker[*Result]
}

// NewBreaker wraps next. maxFailures is the number of consecutive failures
// before the breaker opens; openTimeout is how long it stays open before a
// half-open probe.
func NewBreaker(next Lookuper, maxFailures uint32, openTimeout time.Duration) *BreakerLookuper {
	if maxFailures == 0 {
		maxFailures = 5
	}
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:    "route-lookup",
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
	return &BreakerLookuper{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[*Result](settings),
	}
}

// Lookup implements Lookuper.
func (b *BreakerLookuper) Lookup(ctx context.Context, keys map[string]string, reason Reason, staleHeaderData string) (*Result, error) {
	res, err := b.cb.Execute(func() (*Result, error) {
		return b.next.Lookup(ctx, keys, reason, staleHeaderData)
	})
	if err != nil {
		return nil, Classify(err)
	}
	return res, nil
}

// State returns the current breaker state for introspection.
func (b *BreakerLookuper) State() gobreaker.State {
	return b.cb.State()
}
