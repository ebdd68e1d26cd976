package config

import (
	"fmt"

	"github.com/wudi/routelookup/internal/pattern"
)

// Validate checks every load-time invariant. A config that passes here can
// be handed to the engine without further structural errors.
func Validate(cfg *RouteLookupConfig) error {
	if cfg.LookupService == "" {
		return fmt.Errorf("lookup_service must be set")
	}
	if !cfg.Strategy.Valid() {
		return fmt.Errorf("request_processing_strategy %q is not a valid strategy", cfg.Strategy)
	}
	if cfg.LookupServiceTimeout < 0 {
		return fmt.Errorf("lookup_service_timeout must not be negative")
	}
	if cfg.CacheSizeBytes < 0 {
		return fmt.Errorf("cache_size_bytes must not be negative")
	}
	if cfg.BackgroundRefreshRate < 0 {
		return fmt.Errorf("background_refresh_rate must not be negative")
	}

	if err := validateGrpcBuilders(cfg.GrpcKeyBuilders); err != nil {
		return err
	}
	for i, b := range cfg.HTTPKeyBuilders {
		if err := validateHTTPBuilder(b); err != nil {
			return fmt.Errorf("http_key_builders[%d]: %w", i, err)
		}
	}
	return nil
}

func validateGrpcBuilders(builders []GrpcKeyBuilder) error {
	// Applicability must be pairwise disjoint across the whole table. A
	// wildcard entry (method "") claims (service, "") only; it may coexist
	// with exact methods of the same service.
	claimed := make(map[GrpcMethod]bool)
	for i, b := range builders {
		if len(b.Names) == 0 {
			return fmt.Errorf("grpc_key_builders[%d]: at least one (service, method) name required", i)
		}
		for _, name := range b.Names {
			if name.Service == "" {
				return fmt.Errorf("grpc_key_builders[%d]: service must not be empty", i)
			}
			if claimed[name] {
				return fmt.Errorf("grpc_key_builders[%d]: duplicate applicability (%s, %s)", i, name.Service, name.Method)
			}
			claimed[name] = true
		}
		if err := validateMatchers(b.Headers, nil); err != nil {
			return fmt.Errorf("grpc_key_builders[%d]: %w", i, err)
		}
	}
	return nil
}

func validateHTTPBuilder(b HttpKeyBuilder) error {
	captures := make(map[string]bool)
	for _, p := range b.HostPatterns {
		tmpl, err := pattern.Compile(p, pattern.Host)
		if err != nil {
			return fmt.Errorf("host pattern: %w", err)
		}
		for _, name := range tmpl.CaptureNames() {
			captures[name] = true
		}
	}
	for _, p := range b.PathPatterns {
		tmpl, err := pattern.Compile(p, pattern.Path)
		if err != nil {
			return fmt.Errorf("path pattern: %w", err)
		}
		for _, name := range tmpl.CaptureNames() {
			captures[name] = true
		}
	}

	if err := validateMatchers(b.QueryParameters, captures); err != nil {
		return err
	}
	// Query and header matchers write into the same key map; their output
	// keys must be unique across both lists.
	keys := make(map[string]bool)
	for _, nm := range b.QueryParameters {
		keys[nm.Key] = true
	}
	for _, nm := range b.Headers {
		if keys[nm.Key] {
			return fmt.Errorf("output key %q used by both a query and a header matcher", nm.Key)
		}
	}
	return validateMatchers(b.Headers, captures)
}

// validateMatchers checks the NameMatcher invariants for one list, and that
// no output key collides with a pattern capture name.
func validateMatchers(matchers []NameMatcher, captures map[string]bool) error {
	keys := make(map[string]bool)
	for _, nm := range matchers {
		if nm.Key == "" {
			return fmt.Errorf("name matcher with empty output key")
		}
		if len(nm.Names) == 0 {
			return fmt.Errorf("name matcher %q has no source names", nm.Key)
		}
		for _, n := range nm.Names {
			if n == "" {
				return fmt.Errorf("name matcher %q has an empty source name", nm.Key)
			}
		}
		if keys[nm.Key] {
			return fmt.Errorf("duplicate output key %q", nm.Key)
		}
		keys[nm.Key] = true
		if captures[nm.Key] {
			return fmt.Errorf("output key %q collides with a pattern capture name", nm.Key)
		}
	}
	return nil
}
