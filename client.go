package routelookup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wudi/routelookup/config"
	"github.com/wudi/routelookup/internal/backoff"
	"github.com/wudi/routelookup/internal/cache"
	"github.com/wudi/routelookup/internal/coalesce"
	"github.com/wudi/routelookup/internal/keybuilder"
	"github.com/wudi/routelookup/internal/logging"
	"github.com/wudi/routelookup/internal/lookup"
	"github.com/wudi/routelookup/internal/metrics"
)

// ErrNoTarget is returned when a request cannot be routed: there is no
// usable cached target, the strategy did not produce one, and no default
// target is configured.
var ErrNoTarget = errors.New("routelookup: no target available and no default target configured")

const (
	defaultRefreshRate = 100 // background refreshes per second
	janitorInterval    = time.Minute
)

// Client decides, per request, which backend target to route to.
// It is safe for concurrent use.
type Client struct {
	table    *keybuilder.Table
	cache    *cache.Cache
	flight   coalesce.Group
	lookuper lookup.Lookuper

	strategy      config.Strategy
	defaultTarget string
	validTargets  map[string]struct{}
	timeout       time.Duration

	refreshLimit *rate.Limiter
	log          *zap.Logger
	now          func() time.Time

	stopJanitor chan struct{}
	closeOnce   sync.Once
}

// Option customizes Client construction.
type Option func(*Client)

// WithLogger sets the client's logger. Defaults to the package-global one.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New builds a client from a validated configuration and a lookup service
// collaborator. The configuration is normalized (defaults, clamps) and
// validated; any violation is returned as an error before the client can
// serve requests.
func New(cfg *config.RouteLookupConfig, lk lookup.Lookuper, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("routelookup: nil config")
	}
	if lk == nil {
		return nil, errors.New("routelookup: nil lookuper")
	}

	cfg.Normalize()
	table, err := keybuilder.NewTable(cfg)
	if err != nil {
		return nil, fmt.Errorf("routelookup: %w", err)
	}

	if cfg.Breaker.Enabled {
		lk = lookup.NewBreaker(lk, cfg.Breaker.MaxFailures, cfg.Breaker.OpenTimeout)
	}

	refreshRate := cfg.BackgroundRefreshRate
	if refreshRate <= 0 {
		refreshRate = defaultRefreshRate
	}
	burst := int(refreshRate)
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		table:         table,
		lookuper:      lk,
		strategy:      cfg.Strategy,
		defaultTarget: cfg.DefaultTarget,
		timeout:       cfg.LookupServiceTimeout,
		refreshLimit:  rate.NewLimiter(rate.Limit(refreshRate), burst),
		log:           logging.Global(),
		now:           time.Now,
		stopJanitor:   make(chan struct{}),
	}
	if len(cfg.ValidTargets) > 0 {
		c.validTargets = make(map[string]struct{}, len(cfg.ValidTargets))
		for _, t := range cfg.ValidTargets {
			c.validTargets[t] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cache = cache.New(cache.Options{
		SizeBytes: cfg.CacheSizeBytes,
		MaxAge:    cfg.MaxAge,
		StaleAge:  cfg.StaleAge,
		Backoff:   backoff.DefaultPolicy(),
		Now:       c.now,
	})

	go c.janitor()
	return c, nil
}

// Close releases the client's background resources. In-flight lookups run
// to completion.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.stopJanitor) })
}

func (c *Client) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cache.PurgeExpired()
		case <-c.stopJanitor:
			return
		}
	}
}

// PickTarget routes one request. A valid cache hit returns immediately; a
// stale hit returns the cached target and refreshes in the background; a
// miss follows the configured strategy.
func (c *Client) PickTarget(ctx context.Context, req RequestData) (Target, error) {
	key := c.table.BuildKey(req)
	v := c.cache.Get(key)

	if v.Valid {
		if !v.Stale {
			metrics.TargetPicks.WithLabelValues(metrics.PickHit).Inc()
			return Target{Addr: v.Target, HeaderData: v.HeaderData}, nil
		}
		c.maybeRefresh(key, v)
		metrics.TargetPicks.WithLabelValues(metrics.PickStale).Inc()
		return Target{Addr: v.Target, HeaderData: v.HeaderData}, nil
	}

	// No usable target: the key is missing, never resolved, or expired.

	if v.InBackoff {
		// A recent lookup for this key failed; don't hammer the lookup
		// service, answer with the recorded error under the strategy rules.
		metrics.TargetPicks.WithLabelValues(metrics.PickBackoff).Inc()
		return c.resolveError(v.Err)
	}

	if c.strategy == config.StrategyAsyncDefaultTargetOnMiss {
		c.startLookup(key, lookup.ReasonMiss, "")
		if c.defaultTarget != "" {
			metrics.TargetPicks.WithLabelValues(metrics.PickDefault).Inc()
			return Target{Addr: c.defaultTarget}, nil
		}
		metrics.TargetPicks.WithLabelValues(metrics.PickError).Inc()
		return Target{}, ErrNoTarget
	}

	ch := c.startLookup(key, lookup.ReasonMiss, "")
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case out := <-ch:
		if out.Err != nil {
			return c.resolveError(out.Err)
		}
		metrics.TargetPicks.WithLabelValues(metrics.PickLookup).Inc()
		return Target{Addr: out.Res.Target, HeaderData: out.Res.HeaderData}, nil
	case <-timer.C:
		// The shared lookup keeps running and will populate the cache;
		// this caller gives up waiting.
		return c.resolveError(lookup.Classify(context.DeadlineExceeded))
	case <-ctx.Done():
		return Target{}, ctx.Err()
	}
}

// resolveError applies the strategy's error policy to a lookup failure.
func (c *Client) resolveError(err error) (Target, error) {
	if c.strategy != config.StrategySyncClientSeesError && c.defaultTarget != "" {
		metrics.TargetPicks.WithLabelValues(metrics.PickDefault).Inc()
		return Target{Addr: c.defaultTarget}, nil
	}
	metrics.TargetPicks.WithLabelValues(metrics.PickError).Inc()
	if err == nil {
		err = ErrNoTarget
	}
	return Target{}, err
}

// maybeRefresh starts a detached refresh for a stale entry. At most one
// lookup per key is ever in flight; permanently failed refreshes are not
// retried in the background.
func (c *Client) maybeRefresh(key keybuilder.Key, v cache.View) {
	if v.Pending || v.InBackoff {
		return
	}
	if v.Err != nil && lookup.IsPermanent(v.Err) {
		return
	}
	if !c.refreshLimit.Allow() {
		metrics.RefreshesThrottled.Inc()
		return
	}
	// Claim the entry's pending mark before entering the flight group so
	// racing stale readers cannot start back-to-back refreshes.
	if !c.cache.TryBeginLookup(key) {
		return
	}
	c.startLookup(key, lookup.ReasonStale, v.HeaderData)
}

// startLookup issues (or attaches to) the single in-flight lookup for key.
// The RPC runs on a context detached from any caller so request
// cancellation never aborts a lookup other callers depend on; its result is
// written to the cache regardless of who is still waiting.
func (c *Client) startLookup(key keybuilder.Key, reason lookup.Reason, staleHeaderData string) <-chan coalesce.Outcome {
	return c.flight.DoChan(key.Canonical(), func() (*lookup.Result, error) {
		id := uuid.NewString()
		c.cache.BeginLookup(key)

		lctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		res, err := c.lookuper.Lookup(lctx, key.Map(), reason, staleHeaderData)
		if err == nil {
			err = c.checkResult(res)
		}
		if err != nil {
			lerr := lookup.Classify(err)
			c.cache.Complete(key, nil, lerr)
			metrics.Lookups.WithLabelValues(reason.String(), "error").Inc()
			c.log.Warn("route lookup failed",
				zap.String("lookup_id", id),
				zap.String("reason", reason.String()),
				zap.Int("keys", key.Len()),
				zap.Error(lerr))
			return nil, lerr
		}

		c.cache.Complete(key, res, nil)
		metrics.Lookups.WithLabelValues(reason.String(), "success").Inc()
		c.log.Debug("route lookup complete",
			zap.String("lookup_id", id),
			zap.String("reason", reason.String()),
			zap.String("target", res.Target))
		return res, nil
	})
}

// checkResult rejects responses the client must not route to: an empty
// target, or one outside the configured valid target set.
func (c *Client) checkResult(res *lookup.Result) error {
	if res == nil || res.Target == "" {
		return &lookup.Error{Err: errors.New("lookup returned an empty target"), Permanent: true}
	}
	if c.validTargets != nil {
		if _, ok := c.validTargets[res.Target]; !ok {
			return &lookup.InvalidTargetError{Target: res.Target}
		}
	}
	return nil
}

// CacheStats reports current cache occupancy.
func (c *Client) CacheStats() (entries int, bytes int64) {
	return c.cache.Len(), c.cache.Bytes()
}

// CoalesceStats reports single-flight counters.
func (c *Client) CoalesceStats() coalesce.Stats {
	return c.flight.Stats()
}
