// Package sourcetest provides a scriptable fetcher for tests.
package sourcetest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
)

// Fake is a fetcher that waits Delay, then returns Length characters of
// text or Err.
type Fake struct {
	Src    article.Source
	Delay  time.Duration
	Length int
	Err    error

	calls atomic.Int32
	mu    sync.Mutex
	urls  []string
}

// New returns a Fake that succeeds with length characters after delay.
func New(src article.Source, length int, delay time.Duration) *Fake {
	return &Fake{Src: src, Length: length, Delay: delay}
}

// Failing returns a Fake that fails with err after delay.
func Failing(src article.Source, err error, delay time.Duration) *Fake {
	return &Fake{Src: src, Err: err, Delay: delay}
}

// Source implements article.Fetcher.
func (f *Fake) Source() article.Source { return f.Src }

// Fetch implements article.Fetcher.
func (f *Fake) Fetch(ctx context.Context, url string, _ article.FetchOptions) (*article.Article, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()

	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return Article(string(f.Src), f.Length), nil
}

// Calls reports how many times Fetch ran.
func (f *Fake) Calls() int { return int(f.calls.Load()) }

// URLs returns the URLs Fetch was called with.
func (f *Fake) URLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

// Article builds a normalized article with n characters of text.
func Article(title string, n int) *article.Article {
	return (&article.Article{
		Title:       title,
		Content:     "<p>" + strings.Repeat("x", n) + "</p>",
		TextContent: strings.Repeat("x", n),
		SiteName:    "example.com",
	}).Normalize()
}
