// Package race resolves a URL to an article by running the configured
// sources in latency tiers and returning the first result that clears the
// truncation bar.
//
// Sources inside a tier run concurrently, each under its own fetch slot.
// The orchestrator returns as soon as one result is good enough; the
// remaining sources keep running on a detached context so their results
// still reach the cache, where a later enhancement check can find them.
package race

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/bypass"
	"github.com/JakeFAU/fulltext-fetcher/internal/metrics"
	"github.com/JakeFAU/fulltext-fetcher/internal/source"
)

// DefaultCompleteLength is the text length at which a winner is assumed to
// be the whole article.
const DefaultCompleteLength = 3000

// DefaultTiers groups the known sources by expected latency.
func DefaultTiers() [][]article.Source {
	return [][]article.Source{
		{article.SourceDirect, article.SourcePrerendered},
		{article.SourceArchive},
		{article.SourceExtraction},
	}
}

// Slots bounds concurrent source calls. *slots.Limiter satisfies it.
type Slots interface {
	Acquire(ctx context.Context) error
	Release()
}

// Scheduler receives deferred enhancement checks.
type Scheduler interface {
	Schedule(rawURL string, currentLength int, exclude []article.Source)
}

// Config tunes winner selection.
type Config struct {
	// MinLength is the truncation bar; shorter results fall through.
	MinLength int
	// CompleteLength marks a winner as unlikely to be improved on.
	CompleteLength int
	// Tiers lists sources by latency. Registered sources missing from
	// every tier run last.
	Tiers [][]article.Source
}

// Result is the outcome of a resolved request.
type Result struct {
	Source          article.Source   `json:"source"`
	Article         *article.Article `json:"article"`
	CacheKey        string           `json:"cacheURL"`
	MayHaveEnhanced bool             `json:"mayHaveEnhanced"`
}

// Orchestrator runs races.
type Orchestrator struct {
	registry  *source.Registry
	slots     Slots
	cfg       Config
	scheduler Scheduler
	logger    *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithScheduler hands every race that may improve later to s.
func WithScheduler(s Scheduler) Option {
	return func(o *Orchestrator) { o.scheduler = s }
}

// New wires an Orchestrator.
func New(registry *source.Registry, slots Slots, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if cfg.MinLength <= 0 {
		cfg.MinLength = bypass.DefaultMinLength
	}
	if cfg.CompleteLength <= 0 {
		cfg.CompleteLength = DefaultCompleteLength
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}
	if registry == nil {
		registry = source.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{registry: registry, slots: slots, cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type outcome struct {
	source  article.Source
	article *article.Article
	err     error
}

// Get races the registered sources for rawURL.
func (o *Orchestrator) Get(ctx context.Context, rawURL string, opts article.FetchOptions) (Result, error) {
	normalized, err := article.NormalizeURL(rawURL)
	if err != nil {
		return Result{}, err
	}
	tiers := o.plan()
	if len(tiers) == 0 {
		return Result{}, fmt.Errorf("no sources registered: %w", article.ErrNotConfigured)
	}

	start := time.Now()
	results := make(chan outcome, o.registry.Len())
	// Losers outlive the request so their results still reach the cache.
	taskCtx := context.WithoutCancel(ctx)

	var (
		attempts  []article.Attempt
		fallbacks []outcome
	)
	for i, tier := range tiers {
		if i > 0 {
			metrics.ObserveFallthrough()
			o.logger.Debug("race falling through",
				zap.String("url", normalized),
				zap.Int("tier", i),
				zap.Int("failed", len(attempts)),
				zap.Int("truncated", len(fallbacks)),
			)
		}
		for _, f := range tier {
			go o.run(taskCtx, f, normalized, opts, results)
		}

		for pending := len(tier); pending > 0; {
			var out outcome
			select {
			case out = <-results:
				pending--
			case <-ctx.Done():
				return Result{}, fmt.Errorf("race canceled: %w", ctx.Err())
			}

			if out.err == nil && out.article == nil {
				out.err = fmt.Errorf("%s: %w", out.source, article.ErrParse)
			}
			if out.err != nil {
				attempts = append(attempts, article.Attempt{Source: out.source, Err: out.err})
				continue
			}
			if bypass.Truncated(out.article, nil, o.cfg.MinLength) {
				fallbacks = append(fallbacks, out)
				continue
			}
			res := o.result(normalized, out, pending > 0 || i < len(tiers)-1)
			o.finish(res, start)
			return res, nil
		}
	}

	if best, ok := longest(fallbacks); ok {
		res := o.result(normalized, best, false)
		o.finish(res, start)
		return res, nil
	}
	o.logger.Info("all sources failed", zap.String("url", normalized), zap.Int("attempts", len(attempts)))
	return Result{}, &article.AggregateError{Attempts: attempts}
}

// GetFrom fetches rawURL from a single source.
func (o *Orchestrator) GetFrom(ctx context.Context, rawURL string, src article.Source, opts article.FetchOptions) (Result, error) {
	normalized, err := article.NormalizeURL(rawURL)
	if err != nil {
		return Result{}, err
	}
	f, ok := o.registry.Get(src)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", src, article.ErrNotConfigured)
	}
	if err := o.slots.Acquire(ctx); err != nil {
		return Result{}, err
	}
	defer o.slots.Release()

	a, err := f.Fetch(ctx, normalized, opts)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Source:   src,
		Article:  a,
		CacheKey: article.CacheKey(src, normalized),
	}, nil
}

// run executes one source under a fetch slot and reports on results, which
// is buffered for every registered source so the send never blocks.
func (o *Orchestrator) run(ctx context.Context, f article.Fetcher, url string, opts article.FetchOptions, results chan<- outcome) {
	src := f.Source()
	if err := o.slots.Acquire(ctx); err != nil {
		results <- outcome{source: src, err: err}
		return
	}
	defer o.slots.Release()

	a, err := f.Fetch(ctx, url, opts)
	results <- outcome{source: src, article: a, err: err}
}

func (o *Orchestrator) result(url string, out outcome, remaining bool) Result {
	return Result{
		Source:          out.source,
		Article:         out.article,
		CacheKey:        article.CacheKey(out.source, url),
		MayHaveEnhanced: remaining || out.article.Length < o.cfg.CompleteLength,
	}
}

func (o *Orchestrator) finish(res Result, start time.Time) {
	metrics.ObserveRace(res.Source.String(), time.Since(start))
	o.logger.Debug("race won",
		zap.String("key", res.CacheKey),
		zap.String("source", res.Source.String()),
		zap.Int("length", res.Article.Length),
		zap.Bool("may_have_enhanced", res.MayHaveEnhanced),
	)
	if res.MayHaveEnhanced && o.scheduler != nil {
		_, url, _ := article.SplitCacheKey(res.CacheKey)
		o.scheduler.Schedule(url, res.Article.Length, []article.Source{res.Source})
	}
}

// plan resolves the configured tiers against the registry.
func (o *Orchestrator) plan() [][]article.Fetcher {
	seen := make(map[article.Source]bool)
	var tiers [][]article.Fetcher
	for _, sources := range o.cfg.Tiers {
		var tier []article.Fetcher
		for _, src := range sources {
			f, ok := o.registry.Get(src)
			if !ok || seen[src] {
				continue
			}
			seen[src] = true
			tier = append(tier, f)
		}
		if len(tier) > 0 {
			tiers = append(tiers, tier)
		}
	}
	var rest []article.Fetcher
	for _, f := range o.registry.Ordered() {
		if !seen[f.Source()] {
			rest = append(rest, f)
		}
	}
	if len(rest) > 0 {
		tiers = append(tiers, rest)
	}
	return tiers
}

// longest picks the longest result; earlier arrivals win ties.
func longest(outs []outcome) (outcome, bool) {
	if len(outs) == 0 {
		return outcome{}, false
	}
	best := outs[0]
	for _, out := range outs[1:] {
		if out.article.Length > best.article.Length {
			best = out
		}
	}
	return best, true
}

// Sources reports the registered sources in race order.
func (o *Orchestrator) Sources() []article.Source {
	var out []article.Source
	for _, tier := range o.plan() {
		for _, f := range tier {
			out = append(out, f.Source())
		}
	}
	return out
}
