// Package config defines the route lookup client configuration, its YAML
// decoding, defaulting, validation, and file watching.
package config

import (
	"time"
)

// Strategy selects how the client reacts to cache misses and lookup errors.
type Strategy string

const (
	// StrategyUnspecified is invalid and rejected at load time.
	StrategyUnspecified Strategy = ""

	// StrategySyncDefaultTargetOnError blocks on the lookup; on any lookup
	// error it falls back to the default target when one is configured.
	StrategySyncDefaultTargetOnError Strategy = "SYNC_LOOKUP_DEFAULT_TARGET_ON_ERROR"

	// StrategySyncClientSeesError blocks on the lookup; lookup errors are
	// always surfaced to the caller, never absorbed by the default target.
	StrategySyncClientSeesError Strategy = "SYNC_LOOKUP_CLIENT_SEES_ERROR"

	// StrategyAsyncDefaultTargetOnMiss routes misses to the default target
	// immediately while the lookup proceeds in the background.
	StrategyAsyncDefaultTargetOnMiss Strategy = "ASYNC_LOOKUP_DEFAULT_TARGET_ON_MISS"
)

// Valid reports whether s is one of the recognized strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySyncDefaultTargetOnError,
		StrategySyncClientSeesError,
		StrategyAsyncDefaultTargetOnMiss:
		return true
	}
	return false
}

// Defaults and hard limits.
const (
	DefaultLookupTimeout = 10 * time.Second
	DefaultMaxAge        = 5 * time.Minute

	// MaxAgeLimit is the hard cap applied to MaxAge regardless of what the
	// configuration asks for.
	MaxAgeLimit = 5 * time.Minute

	// DefaultCacheSizeBytes is used when CacheSizeBytes is zero.
	DefaultCacheSizeBytes = 10 << 20
)

// NameMatcher extracts one output key from an ordered list of candidate
// source names (header or query-parameter names). The first present,
// non-empty value wins.
type NameMatcher struct {
	Key           string   `yaml:"key"`
	Names         []string `yaml:"names"`
	RequiredMatch bool     `yaml:"required_match"`
}

// GrpcMethod identifies a gRPC method a key builder applies to. An empty
// Method means every method of the service.
type GrpcMethod struct {
	Service string `yaml:"service"`
	Method  string `yaml:"method"`
}

// GrpcKeyBuilder derives a key map from a gRPC request's headers. The set of
// (service, method) pairs across all builders must be pairwise disjoint.
type GrpcKeyBuilder struct {
	Names   []GrpcMethod  `yaml:"names"`
	Headers []NameMatcher `yaml:"headers"`
}

// HttpKeyBuilder derives a key map from an HTTP request. A builder applies
// when at least one host pattern matches (or none are configured) and at
// least one path pattern matches (or none are configured). Within a pattern
// list, the last matching pattern's captures win.
type HttpKeyBuilder struct {
	HostPatterns    []string      `yaml:"host_patterns"`
	PathPatterns    []string      `yaml:"path_patterns"`
	QueryParameters []NameMatcher `yaml:"query_parameters"`
	Headers         []NameMatcher `yaml:"headers"`
}

// BreakerConfig controls the circuit breaker wrapped around the lookup
// service client.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"` // consecutive failures before opening
	OpenTimeout time.Duration `yaml:"open_timeout"` // how long the breaker stays open
}

// LogRotationConfig controls size-based rotation of the log file.
type LogRotationConfig struct {
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string            `yaml:"level"`
	Output   string            `yaml:"output"` // empty or "stderr"/"stdout", else a file path
	Rotation LogRotationConfig `yaml:"rotation"`
}

// RouteLookupConfig is the root configuration for the route lookup client.
type RouteLookupConfig struct {
	HTTPKeyBuilders []HttpKeyBuilder `yaml:"http_key_builders"`
	GrpcKeyBuilders []GrpcKeyBuilder `yaml:"grpc_key_builders"`

	// LookupService is the routable address of the route lookup service.
	LookupService string `yaml:"lookup_service"`

	// LookupServiceTimeout bounds how long a request waits on a lookup RPC.
	LookupServiceTimeout time.Duration `yaml:"lookup_service_timeout"`

	// MaxAge is how long a resolved target stays usable. Capped at 5 minutes.
	MaxAge time.Duration `yaml:"max_age"`

	// StaleAge is the age after which a cached target is refreshed in the
	// background. Zero, or a value >= MaxAge, disables early refresh.
	StaleAge time.Duration `yaml:"stale_age"`

	// CacheSizeBytes is the soft memory budget for the route cache.
	// Zero selects DefaultCacheSizeBytes.
	CacheSizeBytes int64 `yaml:"cache_size_bytes"`

	// ValidTargets, when non-empty, is the closed set of targets the lookup
	// service may return; anything else is treated as a lookup error.
	ValidTargets []string `yaml:"valid_targets"`

	// DefaultTarget is the fallback target. Empty means no fallback.
	DefaultTarget string `yaml:"default_target"`

	Strategy Strategy `yaml:"request_processing_strategy"`

	// BackgroundRefreshRate limits detached refresh lookups per second.
	// Zero selects the engine default.
	BackgroundRefreshRate float64 `yaml:"background_refresh_rate"`

	Breaker BreakerConfig `yaml:"circuit_breaker"`
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns a config with engine defaults applied.
func DefaultConfig() *RouteLookupConfig {
	return &RouteLookupConfig{
		LookupServiceTimeout: DefaultLookupTimeout,
		MaxAge:               DefaultMaxAge,
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Normalize applies defaults and clamps to an already-decoded config.
func (c *RouteLookupConfig) Normalize() {
	if c.LookupServiceTimeout <= 0 {
		c.LookupServiceTimeout = DefaultLookupTimeout
	}
	if c.MaxAge <= 0 || c.MaxAge > MaxAgeLimit {
		c.MaxAge = MaxAgeLimit
	}
	if c.StaleAge < 0 {
		c.StaleAge = 0
	}
	if c.StaleAge >= c.MaxAge {
		// A stale age at or past the expiry point never fires; treat it the
		// same as unset rather than rejecting the config.
		c.StaleAge = 0
	}
	if c.CacheSizeBytes <= 0 {
		c.CacheSizeBytes = DefaultCacheSizeBytes
	}
}
