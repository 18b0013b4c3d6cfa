package prerender

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
)

const defaultNavigationTimeout = 45 * time.Second

// ChromedpConfig controls the local headless browser.
type ChromedpConfig struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// ChromedpRenderer renders pages in headless Chrome. Browser tabs are
// bounded by MaxParallel independently of the fetch slots.
type ChromedpRenderer struct {
	cfg         ChromedpConfig
	tabs        *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedpRenderer starts an allocator for headless Chrome. The browser
// itself launches on first use.
func NewChromedpRenderer(cfg ChromedpConfig) (*ChromedpRenderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	var tabs *semaphore.Weighted
	if cfg.MaxParallel > 0 {
		tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromedpRenderer{
		cfg:         cfg,
		tabs:        tabs,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (r *ChromedpRenderer) Close() {
	r.allocCancel()
}

// Render navigates to rawURL and returns the rendered DOM.
func (r *ChromedpRenderer) Render(ctx context.Context, rawURL string) (Rendered, error) {
	if err := r.acquire(ctx); err != nil {
		return Rendered{}, err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavigationTimeout)
	defer cancel()

	// Stop the tab when the caller gives up.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	status := new(documentStatus)
	chromedp.ListenTarget(taskCtx, status.capture)

	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return Rendered{}, &article.UpstreamError{Source: article.SourcePrerendered, Err: fmt.Errorf("chromedp run: %w", err)}
	}
	if code := status.get(); code >= 400 {
		return Rendered{}, &article.UpstreamError{Source: article.SourcePrerendered, StatusCode: code}
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	return Rendered{URL: finalURL, HTML: []byte(html)}, nil
}

func (r *ChromedpRenderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *ChromedpRenderer) acquire(ctx context.Context) error {
	if r.tabs == nil {
		return nil
	}
	if err := r.tabs.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("browser tab wait canceled: %w", err)
	}
	return nil
}

func (r *ChromedpRenderer) release() {
	if r.tabs != nil {
		r.tabs.Release(1)
	}
}
