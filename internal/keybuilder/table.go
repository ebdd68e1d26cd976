// Package keybuilder resolves incoming requests to their configured key
// builder and extracts the key map sent to the route lookup service.
package keybuilder

import (
	"fmt"
	"strings"
	"time"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/wudi/routelookup/config"
	"github.com/wudi/routelookup/internal/pattern"
)

const (
	// HTTP resolution is a linear scan over the builder list; request key
	// spaces are highly repetitive, so resolutions are memoized briefly.
	memoSize = 4096
	memoTTL  = 30 * time.Second
)

type grpcBuilder struct {
	headers []config.NameMatcher
}

type httpBuilder struct {
	hosts   []*pattern.Template
	paths   []*pattern.Template
	query   []config.NameMatcher
	headers []config.NameMatcher
}

// httpResolution is the outcome of matching one request against the builder
// list: the winning builder and the merged host/path captures. A nil value
// memoizes "nothing matched".
type httpResolution struct {
	builder  *httpBuilder
	captures map[string]string
}

// Table holds the validated, compiled key builders and dispatches requests
// to them.
type Table struct {
	grpc map[config.GrpcMethod]*grpcBuilder
	http []*httpBuilder
	memo *expirable.LRU[string, *httpResolution]
}

// NewTable validates cfg and compiles its key builders.
func NewTable(cfg *config.RouteLookupConfig) (*Table, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	t := &Table{
		grpc: make(map[config.GrpcMethod]*grpcBuilder),
		memo: expirable.NewLRU[string, *httpResolution](memoSize, nil, memoTTL),
	}

	for _, b := range cfg.GrpcKeyBuilders {
		gb := &grpcBuilder{headers: b.Headers}
		for _, name := range b.Names {
			t.grpc[name] = gb
		}
	}

	for i, b := range cfg.HTTPKeyBuilders {
		hb := &httpBuilder{query: b.QueryParameters, headers: b.Headers}
		for _, p := range b.HostPatterns {
			tmpl, err := pattern.Compile(p, pattern.Host)
			if err != nil {
				return nil, fmt.Errorf("http_key_builders[%d]: %w", i, err)
			}
			hb.hosts = append(hb.hosts, tmpl)
		}
		for _, p := range b.PathPatterns {
			tmpl, err := pattern.Compile(p, pattern.Path)
			if err != nil {
				return nil, fmt.Errorf("http_key_builders[%d]: %w", i, err)
			}
			hb.paths = append(hb.paths, tmpl)
		}
		t.http = append(t.http, hb)
	}

	return t, nil
}

// resolveGRPC returns the builder for (service, method): exact match first,
// then the method-wildcard entry (service, "").
func (t *Table) resolveGRPC(service, method string) *grpcBuilder {
	if b, ok := t.grpc[config.GrpcMethod{Service: service, Method: method}]; ok {
		return b
	}
	return t.grpc[config.GrpcMethod{Service: service}]
}

// resolveHTTP scans the ordered builder list and returns the last builder
// whose host and path pattern lists both accept the request, together with
// the merged captures. Within one pattern list every pattern is evaluated
// and later matches override earlier captures of the same name.
func (t *Table) resolveHTTP(host, path string) *httpResolution {
	memoKey := host + "\n" + path
	if res, ok := t.memo.Get(memoKey); ok {
		return res
	}

	var winner *httpResolution
	for _, b := range t.http {
		captures := make(map[string]string)
		if !matchList(b.hosts, host, captures) {
			continue
		}
		if !matchList(b.paths, path, captures) {
			continue
		}
		winner = &httpResolution{builder: b, captures: captures}
	}

	t.memo.Add(memoKey, winner)
	return winner
}

// matchList evaluates every template in order against input. An empty list
// accepts anything. Later matches override earlier captures.
func matchList(list []*pattern.Template, input string, captures map[string]string) bool {
	if len(list) == 0 {
		return true
	}
	matched := false
	for _, tmpl := range list {
		if caps, ok := tmpl.Match(input); ok {
			matched = true
			for k, v := range caps {
				captures[k] = v
			}
		}
	}
	return matched
}

// BuildKey derives the lookup key map for a request. Requests with no
// applicable builder, and builders whose required matcher finds no value,
// both yield the empty key; neither is an error.
func (t *Table) BuildKey(req RequestData) Key {
	if service, method, ok := req.GRPCMethod(); ok {
		b := t.resolveGRPC(service, method)
		if b == nil {
			return NewKey(nil)
		}
		out := make(map[string]string)
		// requiredMatch is accepted but has no effect for gRPC builders.
		evalMatchers(b.headers, req.HeaderValues, out, false)
		return NewKey(out)
	}

	host, path, ok := req.HTTPTarget()
	if !ok {
		return NewKey(nil)
	}
	res := t.resolveHTTP(host, path)
	if res == nil {
		return NewKey(nil)
	}

	out := make(map[string]string)
	if !evalMatchers(res.builder.query, req.QueryValues, out, true) {
		return NewKey(nil)
	}
	if !evalMatchers(res.builder.headers, req.HeaderValues, out, true) {
		return NewKey(nil)
	}
	for k, v := range res.captures {
		out[k] = v
	}
	return NewKey(out)
}

// evalMatchers runs one NameMatcher list against a value source. It returns
// false when enforceRequired is set and a required matcher found no value,
// in which case the whole builder fails to match.
func evalMatchers(matchers []config.NameMatcher, source func(string) []string, out map[string]string, enforceRequired bool) bool {
	for _, nm := range matchers {
		found := false
		for _, name := range nm.Names {
			vals := source(name)
			if len(vals) == 0 {
				continue
			}
			// Multi-valued sources are joined in original order before the
			// non-emptiness test.
			joined := strings.Join(vals, ",")
			if joined == "" {
				continue
			}
			out[nm.Key] = joined
			found = true
			break
		}
		if !found && enforceRequired && nm.RequiredMatch {
			return false
		}
	}
	return true
}
