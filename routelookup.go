// Package routelookup implements a route lookup service (RLS) client: per
// request it extracts a key map from the request's method, headers, and
// query parameters according to configured key builders, consults a
// time- and size-bounded route cache, and on miss issues a deduplicated
// lookup RPC to an external lookup service per the configured strategy.
package routelookup

import (
	"net/http"

	"google.golang.org/grpc/metadata"

	"github.com/wudi/routelookup/internal/keybuilder"
	"github.com/wudi/routelookup/internal/lookup"
)

// Target is a routing decision: the backend address to use and opaque
// header data returned by the lookup service to attach to the request.
type Target struct {
	Addr       string
	HeaderData string
}

// Lookuper is the lookup service collaborator injected into the client.
// Implementations own the RPC transport and must honor the context
// deadline. See the internal/lookup package for the full contract.
type Lookuper = lookup.Lookuper

// LookupFunc adapts a function to the Lookuper interface.
type LookupFunc = lookup.Func

// Result is a successful lookup response.
type Result = lookup.Result

// Reason reports why a lookup was issued.
type Reason = lookup.Reason

// Lookup reasons.
const (
	ReasonMiss  = lookup.ReasonMiss
	ReasonStale = lookup.ReasonStale
)

// RequestData is the per-request source of method identity, header values,
// and query-parameter values.
type RequestData = keybuilder.RequestData

// FromHTTP adapts an *http.Request for key extraction.
func FromHTTP(r *http.Request) RequestData {
	return keybuilder.FromHTTP(r)
}

// FromGRPCMetadata adapts a gRPC request's identity and incoming metadata
// for key extraction.
func FromGRPCMetadata(service, method string, md metadata.MD) RequestData {
	return keybuilder.FromGRPCMetadata(service, method, md)
}
