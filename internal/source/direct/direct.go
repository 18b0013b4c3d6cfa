// Package direct fetches a page straight from its origin with Colly and
// extracts the article from the returned HTML.
package direct

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/bypass"
	"github.com/JakeFAU/fulltext-fetcher/internal/extract"
)

const defaultTimeout = 15 * time.Second

// Pacer delays requests to an origin. *ratelimit.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher is the fast-direct source.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	pacer         Pacer
	detector      *bypass.ShellDetector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// page is what the collector hands back for one visit.
type page struct {
	url    string
	status int
	body   []byte
	err    error
}

// New builds a Fetcher. pacer may be nil.
func New(cfg Config, pacer Pacer, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newRobotsTransport(newHTTPTransport(), logger))

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		pacer:         pacer,
		detector:      bypass.NewShellDetector(0),
		logger:        logger,
	}
}

// Source implements article.Fetcher.
func (f *Fetcher) Source() article.Source { return article.SourceDirect }

// Fetch downloads rawURL and extracts its article.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, _ article.FetchOptions) (*article.Article, error) {
	if f.pacer != nil {
		if err := f.pacer.Wait(ctx, rawURL); err != nil {
			return nil, &article.UpstreamError{Source: article.SourceDirect, Err: err}
		}
	}

	var result page
	collector := f.buildCollector(&result)
	if err := f.runCollector(ctx, collector, rawURL, &result); err != nil {
		return nil, err
	}

	a, err := extract.FromHTML(result.body, result.url)
	if f.detector.ScriptGated(result.body) && (err != nil || a.Length < bypass.DefaultMinLength) {
		return nil, fmt.Errorf("page is rendered client-side: %w", article.ErrParse)
	}
	if err != nil {
		return nil, err
	}
	if f.detector.Metered(result.body) {
		f.logger.Debug("metered page", zap.String("url", rawURL), zap.Int("length", a.Length))
	}
	return a, nil
}

func (f *Fetcher) buildCollector(result *page) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	// Clones share the visited store; a URL may be fetched again.
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	configureCollectorHooks(collector, result)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, result *page) {
	hooks.OnResponse(func(r *colly.Response) {
		result.url = r.Request.URL.String()
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		result.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, result *page) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return &article.UpstreamError{Source: article.SourceDirect, Err: ctx.Err()}
	case err := <-done:
		if err == nil {
			err = result.err
		}
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return &article.UpstreamError{Source: article.SourceDirect, StatusCode: http.StatusForbidden, Err: err}
		}
		if result.status != 0 && (result.status < 200 || result.status > 299) {
			return &article.UpstreamError{Source: article.SourceDirect, StatusCode: result.status}
		}
		if err != nil {
			return &article.UpstreamError{Source: article.SourceDirect, Err: err}
		}
		if result.url == "" {
			result.url = rawURL
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
