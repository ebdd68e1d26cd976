package keybuilder

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/grpc/metadata"
)

// RequestData is the per-request source the key extractor reads from: the
// method identity (gRPC service/method or HTTP host/path) plus multi-valued
// header and query-parameter accessors.
type RequestData interface {
	// GRPCMethod returns the service and method for gRPC requests.
	GRPCMethod() (service, method string, ok bool)
	// HTTPTarget returns the host (without port) and the request path,
	// including any trailing custom-method suffix, for HTTP requests.
	HTTPTarget() (host, path string, ok bool)
	// HeaderValues returns every value of the named header, in order.
	HeaderValues(name string) []string
	// QueryValues returns every value of the named query parameter, in order.
	QueryValues(name string) []string
}

type httpRequest struct {
	host  string
	path  string
	hdr   http.Header
	query url.Values
}

// FromHTTP adapts an *http.Request.
func FromHTTP(r *http.Request) RequestData {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return &httpRequest{
		host:  strings.ToLower(host),
		path:  r.URL.Path,
		hdr:   r.Header,
		query: r.URL.Query(),
	}
}

func (h *httpRequest) GRPCMethod() (string, string, bool) { return "", "", false }

func (h *httpRequest) HTTPTarget() (string, string, bool) { return h.host, h.path, true }

func (h *httpRequest) HeaderValues(name string) []string { return h.hdr.Values(name) }

func (h *httpRequest) QueryValues(name string) []string { return h.query[name] }

type grpcRequest struct {
	service string
	method  string
	md      metadata.MD
}

// FromGRPCMetadata adapts a gRPC request's identity and incoming metadata.
func FromGRPCMetadata(service, method string, md metadata.MD) RequestData {
	return &grpcRequest{service: service, method: method, md: md}
}

func (g *grpcRequest) GRPCMethod() (string, string, bool) { return g.service, g.method, true }

func (g *grpcRequest) HTTPTarget() (string, string, bool) { return "", "", false }

func (g *grpcRequest) HeaderValues(name string) []string {
	return g.md.Get(name) // metadata keys are normalized to lowercase
}

func (g *grpcRequest) QueryValues(string) []string { return nil }
