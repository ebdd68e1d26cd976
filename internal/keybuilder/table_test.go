package keybuilder

import (
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc/metadata"

	"github.com/wudi/routelookup/config"
)

func baseConfig() *config.RouteLookupConfig {
	cfg := config.DefaultConfig()
	cfg.LookupService = "rls.example.com:443"
	cfg.Strategy = config.StrategySyncDefaultTargetOnError
	return cfg
}

func newTable(t *testing.T, cfg *config.RouteLookupConfig) *Table {
	t.Helper()
	tbl, err := NewTable(cfg)
	if err != nil {
		t.Fatalf("NewTable() failed: %v", err)
	}
	return tbl
}

func TestGrpcDispatch(t *testing.T) {
	cfg := baseConfig()
	cfg.GrpcKeyBuilders = []config.GrpcKeyBuilder{
		{
			Names:   []config.GrpcMethod{{Service: "pkg.Foo", Method: "Bar"}},
			Headers: []config.NameMatcher{{Key: "id", Names: []string{"x-id"}}},
		},
		{
			Names:   []config.GrpcMethod{{Service: "pkg.Foo"}}, // method wildcard
			Headers: []config.NameMatcher{{Key: "any", Names: []string{"x-any"}}},
		},
	}
	tbl := newTable(t, cfg)

	md := metadata.Pairs("x-id", "42", "x-any", "yes")

	// Exact (service, method) wins over the wildcard.
	key := tbl.BuildKey(FromGRPCMetadata("pkg.Foo", "Bar", md))
	if got := key.Map()["id"]; got != "42" {
		t.Errorf("exact dispatch: id = %q, want %q", got, "42")
	}

	// Other methods of the service fall back to the wildcard entry.
	key = tbl.BuildKey(FromGRPCMetadata("pkg.Foo", "Baz", md))
	if got := key.Map()["any"]; got != "yes" {
		t.Errorf("wildcard dispatch: any = %q, want %q", got, "yes")
	}

	// Unknown services produce the empty key, not an error.
	key = tbl.BuildKey(FromGRPCMetadata("pkg.Other", "Bar", md))
	if key.Len() != 0 {
		t.Errorf("unknown service: key = %v, want empty", key.Map())
	}
}

func TestGrpcDuplicateApplicability(t *testing.T) {
	cfg := baseConfig()
	cfg.GrpcKeyBuilders = []config.GrpcKeyBuilder{
		{Names: []config.GrpcMethod{{Service: "Foo", Method: "Bar"}}},
		{Names: []config.GrpcMethod{{Service: "Foo", Method: "Bar"}}},
	}
	if _, err := NewTable(cfg); err == nil {
		t.Fatal("NewTable() succeeded with overlapping gRPC applicability, want error")
	}
}

func TestHTTPPathCapture(t *testing.T) {
	cfg := baseConfig()
	cfg.HTTPKeyBuilders = []config.HttpKeyBuilder{
		{PathPatterns: []string{"/v1/{name=messages/*}"}},
	}
	tbl := newTable(t, cfg)

	r := httptest.NewRequest("GET", "http://svc.example.com/v1/messages/12345", nil)
	key := tbl.BuildKey(FromHTTP(r))

	want := map[string]string{"name": "messages/12345"}
	got := key.Map()
	if len(got) != 1 || got["name"] != want["name"] {
		t.Errorf("BuildKey() = %v, want %v", got, want)
	}
}

func TestHTTPLastMatchWins(t *testing.T) {
	cfg := baseConfig()
	cfg.HTTPKeyBuilders = []config.HttpKeyBuilder{
		{
			PathPatterns:    []string{"/v1/**"},
			QueryParameters: []config.NameMatcher{{Key: "which", Names: []string{"first"}}},
		},
		{
			PathPatterns:    []string{"/v1/users/*"},
			QueryParameters: []config.NameMatcher{{Key: "which", Names: []string{"second"}}},
		},
	}
	tbl := newTable(t, cfg)

	// Both builders match; the later one in the list must win.
	r := httptest.NewRequest("GET", "http://x.test/v1/users/7?first=a&second=b", nil)
	key := tbl.BuildKey(FromHTTP(r))
	if got := key.Map()["which"]; got != "b" {
		t.Errorf("which = %q, want %q (last matching builder wins)", got, "b")
	}
}

func TestHTTPCaptureOverrideWithinList(t *testing.T) {
	cfg := baseConfig()
	cfg.HTTPKeyBuilders = []config.HttpKeyBuilder{
		{PathPatterns: []string{"/v1/{id=**}", "/v1/users/{id}"}},
	}
	tbl := newTable(t, cfg)

	// Both patterns match; the later pattern's capture value wins.
	r := httptest.NewRequest("GET", "http://x.test/v1/users/7", nil)
	key := tbl.BuildKey(FromHTTP(r))
	if got := key.Map()["id"]; got != "7" {
		t.Errorf("id = %q, want %q", got, "7")
	}
}

func TestHTTPHostCondition(t *testing.T) {
	cfg := baseConfig()
	cfg.HTTPKeyBuilders = []config.HttpKeyBuilder{
		{
			HostPatterns: []string{"*.example.com"},
			PathPatterns: []string{"/v1/**"},
		},
	}
	tbl := newTable(t, cfg)

	if res := tbl.resolveHTTP("api.example.com", "/v1/x"); res == nil {
		t.Error("expected host *.example.com to match api.example.com")
	}
	if res := tbl.resolveHTTP("api.example.org", "/v1/x"); res != nil {
		t.Error("expected host *.example.com not to match api.example.org")
	}
}

func TestRequiredMatchFallsBackToEmptyKey(t *testing.T) {
	cfg := baseConfig()
	cfg.HTTPKeyBuilders = []config.HttpKeyBuilder{
		{
			PathPatterns: []string{"/v1/**"},
			Headers:      []config.NameMatcher{{Key: "user", Names: []string{"x-user"}, RequiredMatch: true}},
		},
	}
	tbl := newTable(t, cfg)

	// Header absent: the builder fails to match and the request is treated
	// as having no key builder at all.
	r := httptest.NewRequest("GET", "http://x.test/v1/thing", nil)
	key := tbl.BuildKey(FromHTTP(r))
	if key.Len() != 0 {
		t.Errorf("BuildKey() = %v, want empty key map", key.Map())
	}

	// Header present: normal extraction.
	r.Header.Set("X-User", "u1")
	key = tbl.BuildKey(FromHTTP(r))
	if got := key.Map()["user"]; got != "u1" {
		t.Errorf("user = %q, want %q", got, "u1")
	}
}

func TestMultiValuedJoin(t *testing.T) {
	cfg := baseConfig()
	cfg.HTTPKeyBuilders = []config.HttpKeyBuilder{
		{
			PathPatterns: []string{"/**"},
			Headers:      []config.NameMatcher{{Key: "tags", Names: []string{"x-tag"}}},
		},
	}
	tbl := newTable(t, cfg)

	r := httptest.NewRequest("GET", "http://x.test/a", nil)
	r.Header.Add("X-Tag", "one")
	r.Header.Add("X-Tag", "two")
	key := tbl.BuildKey(FromHTTP(r))
	if got := key.Map()["tags"]; got != "one,two" {
		t.Errorf("tags = %q, want %q", got, "one,two")
	}
}

func TestNameFallbackOrder(t *testing.T) {
	cfg := baseConfig()
	cfg.HTTPKeyBuilders = []config.HttpKeyBuilder{
		{
			PathPatterns:    []string{"/**"},
			QueryParameters: []config.NameMatcher{{Key: "id", Names: []string{"uid", "user_id"}}},
		},
	}
	tbl := newTable(t, cfg)

	// First name missing: the second one is used.
	r := httptest.NewRequest("GET", "http://x.test/a?user_id=9", nil)
	key := tbl.BuildKey(FromHTTP(r))
	if got := key.Map()["id"]; got != "9" {
		t.Errorf("id = %q, want %q", got, "9")
	}

	// First name present: it wins even when both are set.
	r = httptest.NewRequest("GET", "http://x.test/a?uid=1&user_id=9", nil)
	key = tbl.BuildKey(FromHTTP(r))
	if got := key.Map()["id"]; got != "1" {
		t.Errorf("id = %q, want %q", got, "1")
	}
}

func TestCaptureKeyCollisionRejected(t *testing.T) {
	cfg := baseConfig()
	cfg.HTTPKeyBuilders = []config.HttpKeyBuilder{
		{
			PathPatterns:    []string{"/v1/{id}"},
			QueryParameters: []config.NameMatcher{{Key: "id", Names: []string{"id"}}},
		},
	}
	if _, err := NewTable(cfg); err == nil {
		t.Fatal("NewTable() succeeded with capture/matcher key collision, want error")
	}
}

func TestMemoizedResolutionIsStable(t *testing.T) {
	cfg := baseConfig()
	cfg.HTTPKeyBuilders = []config.HttpKeyBuilder{
		{PathPatterns: []string{"/v1/{name=messages/*}"}},
	}
	tbl := newTable(t, cfg)

	first := tbl.resolveHTTP("x.test", "/v1/messages/1")
	second := tbl.resolveHTTP("x.test", "/v1/messages/1")
	if first == nil || second == nil {
		t.Fatal("resolution failed")
	}
	if first != second {
		t.Error("memoized resolution returned a different object")
	}
	if first.captures["name"] != "messages/1" {
		t.Errorf("captures = %v", first.captures)
	}
}
