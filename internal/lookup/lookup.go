// Package lookup defines the route lookup service collaborator: the
// interface the engine calls on cache misses, error classification for its
// failures, and a circuit breaker decorator.
package lookup

import (
	"context"
	"fmt"
)

// Reason reports why a lookup is being issued.
type Reason int

const (
	// ReasonMiss is a lookup for a key with no usable cached target.
	ReasonMiss Reason = iota
	// ReasonStale is a background refresh of a still-usable cached target.
	ReasonStale
)

func (r Reason) String() string {
	switch r {
	case ReasonMiss:
		return "miss"
	case ReasonStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Result is a successful lookup response. HeaderData is opaque passthrough
// data the caller attaches to the routed request.
type Result struct {
	Target     string
	HeaderData string
}

// Lookuper issues a route lookup RPC. Implementations own the transport;
// the engine only sees the extracted key map and the response. For stale
// refreshes the previously returned header data is passed back so the
// service can diff or reuse it.
type Lookuper interface {
	Lookup(ctx context.Context, keys map[string]string, reason Reason, staleHeaderData string) (*Result, error)
}

// Func adapts a plain function to the Lookuper interface.
type Func func(ctx context.Context, keys map[string]string, reason Reason, staleHeaderData string) (*Result, error)

// Lookup implements Lookuper.
func (f Func) Lookup(ctx context.Context, keys map[string]string, reason Reason, staleHeaderData string) (*Result, error) {
	return f(ctx, keys, reason, staleHeaderData)
}

// InvalidTargetError reports a lookup response whose target is outside the
// configured valid target set. It is permanent: retrying the same lookup
// would yield the same rejected target.
type InvalidTargetError struct {
	Target string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("lookup returned target %q outside the valid target set", e.Target)
}
