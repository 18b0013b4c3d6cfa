// Package extraction calls a hosted article-extraction API.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/extract"
	"github.com/JakeFAU/fulltext-fetcher/internal/source/httpclient"
)

// DefaultEndpoint is the article endpoint of the extraction API.
const DefaultEndpoint = "https://api.diffbot.com/v3/article"

// Config points the fetcher at the API.
type Config struct {
	Endpoint string
	Token    string
}

// Fetcher is the slow-extraction source.
type Fetcher struct {
	client *httpclient.Client
	cfg    Config
}

// New builds a Fetcher. Without a token every call fails with
// article.ErrNotConfigured.
func New(client *httpclient.Client, cfg Config) *Fetcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	return &Fetcher{client: client, cfg: cfg}
}

// Source implements article.Fetcher.
func (f *Fetcher) Source() article.Source { return article.SourceExtraction }

type response struct {
	Objects []object `json:"objects"`
	Error   string   `json:"error"`
}

type object struct {
	Title         string `json:"title"`
	Text          string `json:"text"`
	HTML          string `json:"html"`
	Author        string `json:"author"`
	Date          string `json:"date"`
	EstimatedDate string `json:"estimatedDate"`
	SiteName      string `json:"siteName"`
	HumanLanguage string `json:"humanLanguage"`
	PageURL       string `json:"pageUrl"`
}

// Fetch asks the API to extract rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, _ article.FetchOptions) (*article.Article, error) {
	if f.cfg.Token == "" {
		return nil, fmt.Errorf("%s: %w", article.SourceExtraction, article.ErrNotConfigured)
	}

	q := url.Values{}
	q.Set("token", f.cfg.Token)
	q.Set("url", rawURL)
	endpoint := f.cfg.Endpoint
	if strings.Contains(endpoint, "?") {
		endpoint += "&" + q.Encode()
	} else {
		endpoint += "?" + q.Encode()
	}

	body, err := f.client.Get(ctx, article.SourceExtraction, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &article.UpstreamError{Source: article.SourceExtraction, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.Error != "" {
		return nil, &article.UpstreamError{Source: article.SourceExtraction, Err: fmt.Errorf("api error: %s", resp.Error)}
	}
	if len(resp.Objects) == 0 {
		return nil, fmt.Errorf("extraction returned no objects: %w", article.ErrParse)
	}
	return toArticle(resp.Objects[0], rawURL)
}

func toArticle(obj object, rawURL string) (*article.Article, error) {
	text := strings.TrimSpace(obj.Text)
	if text == "" {
		return nil, fmt.Errorf("extraction returned empty text: %w", article.ErrParse)
	}
	published := obj.Date
	if published == "" {
		published = obj.EstimatedDate
	}
	siteName := obj.SiteName
	if siteName == "" {
		siteName = article.Hostname(rawURL)
	}
	content := obj.HTML
	if content == "" {
		content = paragraphs(text)
	}
	a := &article.Article{
		Title:         strings.TrimSpace(obj.Title),
		Content:       content,
		TextContent:   text,
		SiteName:      siteName,
		Byline:        obj.Author,
		PublishedTime: published,
		Lang:          obj.HumanLanguage,
		HTMLContent:   obj.HTML,
		Excerpt:       excerpt(text),
	}
	return a.Normalize(), nil
}

func paragraphs(text string) string {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		line = extract.CleanText(line)
		if line == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(extract.EscapeHTML(line))
		b.WriteString("</p>")
	}
	return b.String()
}

func excerpt(text string) string {
	const limit = 200
	runes := []rune(extract.CleanText(text))
	if len(runes) <= limit {
		return string(runes)
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
