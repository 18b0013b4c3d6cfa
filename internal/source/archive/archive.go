// Package archive reads articles from a Wayback Machine style web archive.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/extract"
	"github.com/JakeFAU/fulltext-fetcher/internal/source/httpclient"
)

// DefaultBaseURL is the public Wayback Machine.
const DefaultBaseURL = "https://archive.org"

// Fetcher is the archive-mirror source.
type Fetcher struct {
	client  *httpclient.Client
	baseURL string
}

// New builds a Fetcher. An empty baseURL selects DefaultBaseURL.
func New(client *httpclient.Client, baseURL string) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Fetcher{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Source implements article.Fetcher.
func (f *Fetcher) Source() article.Source { return article.SourceArchive }

type availability struct {
	ArchivedSnapshots struct {
		Closest *struct {
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
			Status    string `json:"status"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

// Fetch looks up the closest snapshot of rawURL and extracts it.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, _ article.FetchOptions) (*article.Article, error) {
	snapshot, err := f.closest(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	body, err := f.client.Get(ctx, article.SourceArchive, RawSnapshotURL(snapshot), nil)
	if err != nil {
		return nil, err
	}
	a, err := extract.FromHTML(body, rawURL)
	if err != nil {
		return nil, fmt.Errorf("archive snapshot: %w", err)
	}
	return a, nil
}

func (f *Fetcher) closest(ctx context.Context, rawURL string) (string, error) {
	lookup := f.baseURL + "/wayback/available?url=" + url.QueryEscape(rawURL)
	body, err := f.client.Get(ctx, article.SourceArchive, lookup, nil)
	if err != nil {
		return "", err
	}
	var resp availability
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &article.UpstreamError{Source: article.SourceArchive, Err: fmt.Errorf("decode availability: %w", err)}
	}
	closest := resp.ArchivedSnapshots.Closest
	if closest == nil || !closest.Available || closest.URL == "" {
		return "", &article.UpstreamError{
			Source:     article.SourceArchive,
			StatusCode: http.StatusNotFound,
			Err:        fmt.Errorf("no snapshot for %s", rawURL),
		}
	}
	return closest.URL, nil
}

// RawSnapshotURL rewrites a snapshot URL to the "id_" form, which serves the
// archived page without the archive's toolbar and link rewriting.
func RawSnapshotURL(snapshot string) string {
	const marker = "/web/"
	i := strings.Index(snapshot, marker)
	if i < 0 {
		return snapshot
	}
	rest := snapshot[i+len(marker):]
	slash := strings.IndexByte(rest, '/')
	if slash <= 0 {
		return snapshot
	}
	stamp := rest[:slash]
	if strings.HasSuffix(stamp, "id_") {
		return snapshot
	}
	return snapshot[:i+len(marker)] + stamp + "id_" + rest[slash:]
}
