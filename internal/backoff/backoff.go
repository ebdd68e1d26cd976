// Package backoff paces retries of failed route lookups. Each cache entry
// with a failed resolution owns its own backoff state; while the backoff
// deadline has not passed, new lookups for that key are answered with the
// recorded error instead of another RPC.
package backoff

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy holds the parameters used to build per-entry backoff state.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultPolicy paces failed-entry retries from 1s up to 2 minutes.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: time.Second,
		MaxInterval:     2 * time.Minute,
		Multiplier:      1.6,
	}
}

// State is the retry pacing state for a single cache entry.
type State struct {
	eb *backoff.ExponentialBackOff
}

// NewState creates fresh pacing state under the policy.
func (p Policy) NewState() *State {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.Multiplier = p.Multiplier
	eb.MaxElapsedTime = 0 // entries retry for as long as they are asked for
	eb.Reset()
	return &State{eb: eb}
}

// Next returns the delay before the next retry may be issued.
func (s *State) Next() time.Duration {
	return s.eb.NextBackOff()
}
