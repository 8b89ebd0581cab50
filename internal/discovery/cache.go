// Package discovery serves precomputed facet value counts (courts,
// cities, categories) for the discovery endpoint. Counts change only on
// bulk loads, so they are cached with a staleness bound and recomputed
// off the read path.
package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	hukmerrors "github.com/hukm-search/hukm/internal/errors"
	"github.com/hukm-search/hukm/internal/store"
)

const facetsKey = "facets"

// FacetSource computes facet counts from the backing store.
type FacetSource interface {
	FacetCounts(ctx context.Context) (*store.FacetCounts, error)
}

// Config configures the facet cache.
type Config struct {
	// TTL is the freshness bound; reads past it trigger a background
	// recomputation but still serve the last value (default: 5m).
	TTL time.Duration

	// RefreshTimeout bounds a background recomputation (default: 10s).
	RefreshTimeout time.Duration
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		TTL:            5 * time.Minute,
		RefreshTimeout: 10 * time.Second,
	}
}

// Cache serves facet counts with a staleness bound. Reads never block
// on recomputation once a value exists; at most one recomputation is in
// flight at a time.
type Cache struct {
	source FacetSource
	config Config
	fresh  *gocache.Cache
	group  singleflight.Group
	logger *slog.Logger

	mu    sync.RWMutex
	stale *store.FacetCounts
}

// Option configures the cache.
type Option func(*Cache)

// WithLogger sets the cache logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// NewCache creates a facet cache over the given source.
func NewCache(source FacetSource, config Config, opts ...Option) *Cache {
	d := DefaultConfig()
	if config.TTL <= 0 {
		config.TTL = d.TTL
	}
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = d.RefreshTimeout
	}

	c := &Cache{
		source: source,
		config: config,
		fresh:  gocache.New(config.TTL, 2*config.TTL),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Facets returns the facet counts. A fresh cached value is served
// directly; an expired one is served as-is while a single-flighted
// recomputation runs in the background. Only a cold cache blocks.
func (c *Cache) Facets(ctx context.Context) (*store.FacetCounts, error) {
	if v, ok := c.fresh.Get(facetsKey); ok {
		return v.(*store.FacetCounts), nil
	}

	c.mu.RLock()
	stale := c.stale
	c.mu.RUnlock()
	if stale != nil {
		c.refreshAsync()
		return stale, nil
	}

	v, err, _ := c.group.Do(facetsKey, func() (any, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.FacetCounts), nil
}

// Refresh recomputes the counts immediately, bypassing the staleness
// bound. Called after bulk loads.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do(facetsKey, func() (any, error) {
		return c.fetch(ctx)
	})
	return err
}

// Invalidate drops the cached value; the next read recomputes.
func (c *Cache) Invalidate() {
	c.fresh.Delete(facetsKey)
	c.mu.Lock()
	c.stale = nil
	c.mu.Unlock()
}

// refreshAsync kicks off a background recomputation. Concurrent stale
// readers collapse onto one in-flight fetch; a failed refresh keeps the
// stale value in place.
func (c *Cache) refreshAsync() {
	go func() {
		_, err, _ := c.group.Do(facetsKey, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), c.config.RefreshTimeout)
			defer cancel()
			return c.fetch(ctx)
		})
		if err != nil {
			c.logger.Warn("facet refresh failed, serving stale counts", "error", err)
		}
	}()
}

func (c *Cache) fetch(ctx context.Context) (*store.FacetCounts, error) {
	counts, err := c.source.FacetCounts(ctx)
	if err != nil {
		return nil, hukmerrors.Wrap(hukmerrors.ErrCodeIndexUnavailable, "facet recomputation failed", err)
	}

	c.fresh.Set(facetsKey, counts, gocache.DefaultExpiration)
	c.mu.Lock()
	c.stale = counts
	c.mu.Unlock()
	return counts, nil
}
