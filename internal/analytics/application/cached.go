package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gasgrid-cloud/internal/cache"
	"gasgrid-cloud/internal/observability/metrics"
)

const defaultCacheTTL = 15 * time.Second

// CachedDashboard fronts the dashboard with a short-TTL side cache.
// Cache failures degrade to a direct read.
type CachedDashboard struct {
	inner  *Dashboard
	kv     cache.KV
	ttl    time.Duration
	logger zerolog.Logger
}

// CachedOption configures the cached dashboard.
type CachedOption func(*CachedDashboard)

// WithCacheTTL overrides the entry lifetime.
func WithCacheTTL(ttl time.Duration) CachedOption {
	return func(c *CachedDashboard) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// NewCachedDashboard wraps a dashboard with a KV cache.
func NewCachedDashboard(inner *Dashboard, kv cache.KV, logger zerolog.Logger, opts ...CachedOption) (*CachedDashboard, error) {
	if inner == nil {
		return nil, errors.New("dashboard: nil inner service")
	}
	if kv == nil {
		return nil, errors.New("dashboard: nil cache")
	}
	cached := &CachedDashboard{
		inner:  inner,
		kv:     kv,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
	for _, opt := range opts {
		opt(cached)
	}
	return cached, nil
}

// Overview serves the fleet summary, cached.
func (c *CachedDashboard) Overview(ctx context.Context) (*Overview, error) {
	var overview Overview
	hit, err := c.lookup(ctx, "dashboard:overview", &overview)
	if err == nil && hit {
		return &overview, nil
	}
	fresh, err := c.inner.Overview(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, "dashboard:overview", fresh)
	return fresh, nil
}

// DeviceDetail serves one device card, cached per client id and limit.
func (c *CachedDashboard) DeviceDetail(ctx context.Context, clientID string, recentLimit int) (*DeviceDetail, error) {
	key := fmt.Sprintf("dashboard:device:%s:%d", clientID, recentLimit)
	var detail DeviceDetail
	hit, err := c.lookup(ctx, key, &detail)
	if err == nil && hit {
		return &detail, nil
	}
	fresh, err := c.inner.DeviceDetail(ctx, clientID, recentLimit)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fresh)
	return fresh, nil
}

// Series serves a parameter history. Windows are caller-chosen so the
// key carries the full fingerprint.
func (c *CachedDashboard) Series(ctx context.Context, clientID, parameter string, from, to time.Time) (*Series, error) {
	key := fmt.Sprintf("dashboard:series:%s:%s:%d:%d", clientID, parameter, from.Unix(), to.Unix())
	var series Series
	hit, err := c.lookup(ctx, key, &series)
	if err == nil && hit {
		return &series, nil
	}
	fresh, err := c.inner.Series(ctx, clientID, parameter, from, to)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fresh)
	return fresh, nil
}

func (c *CachedDashboard) lookup(ctx context.Context, key string, out any) (bool, error) {
	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		metrics.IncCacheLookup("miss")
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		metrics.IncCacheLookup("miss")
		return false, err
	}
	metrics.IncCacheLookup("hit")
	return true, nil
}

func (c *CachedDashboard) store(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.kv.Set(ctx, key, string(raw), c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}
