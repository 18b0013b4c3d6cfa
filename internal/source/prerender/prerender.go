// Package prerender reads articles from fully rendered HTML, either from a
// hosted prerendering service or from a local headless Chrome.
package prerender

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/extract"
	"github.com/JakeFAU/fulltext-fetcher/internal/source/httpclient"
)

// Rendered is the DOM of a page after its scripts ran.
type Rendered struct {
	URL  string
	HTML []byte
}

// Renderer produces rendered HTML for a URL.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Rendered, error)
}

// Fetcher is the prerendered-lookup source.
type Fetcher struct {
	renderer Renderer
}

// New builds a Fetcher. A nil renderer makes every call fail with
// article.ErrNotConfigured.
func New(renderer Renderer) *Fetcher {
	return &Fetcher{renderer: renderer}
}

// Source implements article.Fetcher.
func (f *Fetcher) Source() article.Source { return article.SourcePrerendered }

// Fetch renders rawURL and extracts its article.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, _ article.FetchOptions) (*article.Article, error) {
	if f.renderer == nil {
		return nil, fmt.Errorf("%s: %w", article.SourcePrerendered, article.ErrNotConfigured)
	}
	page, err := f.renderer.Render(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	pageURL := page.URL
	if pageURL == "" {
		pageURL = rawURL
	}
	return extract.FromHTML(page.HTML, pageURL)
}

// DefaultRemoteEndpoint is the hosted prerender service.
const DefaultRemoteEndpoint = "https://service.prerender.io"

// RemoteRenderer asks a prerendering service for the cached render of a
// URL: GET {endpoint}/{url} with the account token in a header.
type RemoteRenderer struct {
	client   *httpclient.Client
	endpoint string
	token    string
}

// NewRemoteRenderer builds a RemoteRenderer.
func NewRemoteRenderer(client *httpclient.Client, endpoint, token string) *RemoteRenderer {
	if endpoint == "" {
		endpoint = DefaultRemoteEndpoint
	}
	return &RemoteRenderer{client: client, endpoint: strings.TrimRight(endpoint, "/"), token: token}
}

// Render implements Renderer.
func (r *RemoteRenderer) Render(ctx context.Context, rawURL string) (Rendered, error) {
	if r.token == "" {
		return Rendered{}, fmt.Errorf("%s: %w", article.SourcePrerendered, article.ErrNotConfigured)
	}
	header := http.Header{"X-Prerender-Token": {r.token}}
	body, err := r.client.Get(ctx, article.SourcePrerendered, r.endpoint+"/"+rawURL, header)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{URL: rawURL, HTML: body}, nil
}
