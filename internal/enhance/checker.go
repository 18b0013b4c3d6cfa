// Package enhance looks for a longer version of an article that was already
// served, using the sources the first answer did not come from.
package enhance

import (
	"context"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/metrics"
	"github.com/JakeFAU/fulltext-fetcher/internal/source"
)

// Slots bounds concurrent source calls. *slots.Limiter satisfies it.
type Slots interface {
	Acquire(ctx context.Context) error
	Release()
}

// Result reports whether a longer article was found.
type Result struct {
	Enhanced bool             `json:"enhanced"`
	Source   article.Source   `json:"source,omitempty"`
	Article  *article.Article `json:"article,omitempty"`
}

// Checker runs the non-excluded sources for a URL and keeps the longest
// result. Concurrent checks of the same URL share one set of calls.
type Checker struct {
	registry *source.Registry
	slots    Slots
	logger   *zap.Logger
	group    singleflight.Group
}

// NewChecker wires a Checker. The registry should hold cached fetchers so
// results from earlier races are reused.
func NewChecker(registry *source.Registry, slots Slots, logger *zap.Logger) *Checker {
	if registry == nil {
		registry = source.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{registry: registry, slots: slots, logger: logger}
}

type best struct {
	source  article.Source
	article *article.Article
}

// Check never fails: an invalid URL, a canceled context, or failing sources
// all yield a Result with Enhanced false.
func (c *Checker) Check(ctx context.Context, rawURL string, currentLength int, exclude []article.Source) Result {
	normalized, err := article.NormalizeURL(rawURL)
	if err != nil {
		return Result{}
	}
	fetchers := c.registry.Except(exclude...)
	if len(fetchers) == 0 {
		metrics.ObserveEnhancement("skipped")
		return Result{}
	}

	// Callers may give up; the calls themselves run to completion and warm
	// the cache.
	ch := c.group.DoChan(flightKey(normalized, fetchers), func() (any, error) {
		return c.longest(context.WithoutCancel(ctx), normalized, fetchers), nil
	})

	var found best
	select {
	case <-ctx.Done():
		return Result{}
	case res := <-ch:
		found = res.Val.(best)
	}

	if found.article == nil || found.article.Length <= currentLength {
		metrics.ObserveEnhancement("unchanged")
		return Result{}
	}
	metrics.ObserveEnhancement("enhanced")
	c.logger.Info("enhanced article found",
		zap.String("url", normalized),
		zap.String("source", found.source.String()),
		zap.Int("previous_length", currentLength),
		zap.Int("length", found.article.Length),
	)
	return Result{Enhanced: true, Source: found.source, Article: found.article}
}

func (c *Checker) longest(ctx context.Context, url string, fetchers []article.Fetcher) best {
	var (
		mu  sync.Mutex
		top best
		wg  sync.WaitGroup
	)
	for _, f := range fetchers {
		wg.Add(1)
		go func(f article.Fetcher) {
			defer wg.Done()
			a, err := c.fetch(ctx, f, url)
			if err != nil {
				c.logger.Debug("enhancement source failed",
					zap.String("source", f.Source().String()),
					zap.String("url", url),
					zap.Error(err),
				)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if top.article == nil || a.Length > top.article.Length ||
				(a.Length == top.article.Length && f.Source().Rank() < top.source.Rank()) {
				top = best{source: f.Source(), article: a}
			}
		}(f)
	}
	wg.Wait()
	return top
}

func (c *Checker) fetch(ctx context.Context, f article.Fetcher, url string) (*article.Article, error) {
	if err := c.slots.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.slots.Release()
	a, err := f.Fetch(ctx, url, article.FetchOptions{})
	if err == nil && a == nil {
		err = article.ErrParse
	}
	return a, err
}

func flightKey(url string, fetchers []article.Fetcher) string {
	names := make([]string, 0, len(fetchers))
	for _, f := range fetchers {
		names = append(names, f.Source().String())
	}
	slices.Sort(names)
	return url + "|" + strings.Join(names, ",")
}
