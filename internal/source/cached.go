package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/bypass"
	"github.com/JakeFAU/fulltext-fetcher/internal/metrics"
)

// DefaultUpstreamTimeout bounds a single adapter call.
const DefaultUpstreamTimeout = 75 * time.Second

// Cached puts the cache in front of an adapter. A hit is returned without
// touching the upstream; a miss calls the adapter and stores the result,
// returning whatever the cache now holds for the key. Concurrent misses for
// the same key share one upstream call, so an enhancement check joins a race
// sibling that is still running instead of calling the source again.
type Cached struct {
	next    article.Fetcher
	cache   article.Cache
	timeout time.Duration
	logger  *zap.Logger
	flights singleflight.Group
}

// NewCached wraps next. A zero timeout selects DefaultUpstreamTimeout.
func NewCached(next article.Fetcher, cache article.Cache, timeout time.Duration, logger *zap.Logger) *Cached {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, cache: cache, timeout: timeout, logger: logger}
}

// Source reports the wrapped adapter's source.
func (c *Cached) Source() article.Source { return c.next.Source() }

// Fetch implements article.Fetcher.
func (c *Cached) Fetch(ctx context.Context, rawURL string, opts article.FetchOptions) (*article.Article, error) {
	normalized, err := article.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	src := c.next.Source()
	key := article.CacheKey(src, normalized)

	if !opts.BypassCache && c.cache != nil {
		if a, ok := c.cache.Get(ctx, key); ok {
			c.logger.Debug("cache hit", zap.String("source", src.String()), zap.String("key", key))
			return a, nil
		}
	}

	// The upstream call outlives any single caller so its result still
	// reaches the cache; each caller stops waiting when its own ctx ends.
	ch := c.flights.DoChan(key, func() (any, error) {
		return c.upstream(context.WithoutCancel(ctx), key, rawURL, opts)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", src, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("joined in-flight fetch", zap.String("source", src.String()), zap.String("key", key))
		}
		return res.Val.(*article.Article), nil
	}
}

func (c *Cached) upstream(ctx context.Context, key, rawURL string, opts article.FetchOptions) (*article.Article, error) {
	src := c.next.Source()
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	a, err := c.next.Fetch(callCtx, rawURL, opts)
	if err == nil && a != nil {
		a = a.Normalize()
		if !a.Cacheable() {
			err = fmt.Errorf("%s: %w", src, article.ErrParse)
		}
	}
	metrics.ObserveSourceFetch(src.String(), rawURL, string(bypass.ClassifyArticle(a, err)), time.Since(start))
	if err != nil {
		c.logger.Debug("source fetch failed",
			zap.String("source", src.String()),
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%s: %w", src, article.ErrParse)
	}

	if c.cache == nil {
		return a, nil
	}
	return c.cache.Put(ctx, key, a), nil
}
