package direct

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
)

var storyHTML = `<!doctype html><html lang="en"><head><title>Harbor Report</title>
<meta property="og:site_name" content="Harbor Daily"></head><body><article><h1>Harbor Report</h1>` +
	strings.Repeat("<p>The harbor authority published its quarterly shipping figures today, showing steady growth.</p>", 12) +
	`</article></body></html>`

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestFetchExtractsArticle(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fulltext-test", r.UserAgent())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, storyHTML)
	})

	f := New(Config{UserAgent: "fulltext-test", Timeout: time.Second}, nil, nil)
	require.Equal(t, article.SourceDirect, f.Source())

	a, err := f.Fetch(context.Background(), server.URL+"/story", article.FetchOptions{})
	require.NoError(t, err)
	require.Contains(t, a.TextContent, "quarterly shipping figures")
	require.Equal(t, "en", a.Lang)
	require.Greater(t, a.Length, 500)

	again, err := f.Fetch(context.Background(), server.URL+"/story", article.FetchOptions{})
	require.NoError(t, err, "the same URL can be fetched twice")
	require.Equal(t, a.Length, again.Length)
}

func TestFetchNon2xxIsUpstreamError(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	f := New(Config{Timeout: time.Second}, nil, nil)
	_, err := f.Fetch(context.Background(), server.URL+"/blocked", article.FetchOptions{})

	var upErr *article.UpstreamError
	require.True(t, errors.As(err, &upErr))
	require.Equal(t, http.StatusForbidden, upErr.StatusCode)
	require.Equal(t, article.SourceDirect, upErr.Source)
}

func TestFetchClientRenderedShell(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html><body><div id="root"></div><script src="/app.js"></script></body></html>`)
	})

	f := New(Config{Timeout: time.Second}, nil, nil)
	_, err := f.Fetch(context.Background(), server.URL+"/spa", article.FetchOptions{})
	require.ErrorIs(t, err, article.ErrParse)
}

func TestFetchRespectsRobots(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = io.WriteString(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		_, _ = io.WriteString(w, storyHTML)
	})

	f := New(Config{RespectRobots: true, Timeout: time.Second}, nil, nil)
	_, err := f.Fetch(context.Background(), server.URL+"/private/story", article.FetchOptions{})

	var upErr *article.UpstreamError
	require.True(t, errors.As(err, &upErr))
	require.Equal(t, http.StatusForbidden, upErr.StatusCode)
}

type recordingPacer struct {
	calls atomic.Int32
	err   error
}

func (p *recordingPacer) Wait(context.Context, string) error {
	p.calls.Add(1)
	return p.err
}

func TestFetchWaitsForPacer(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, storyHTML)
	})

	pacer := &recordingPacer{err: context.Canceled}
	f := New(Config{Timeout: time.Second}, pacer, nil)
	_, err := f.Fetch(context.Background(), server.URL+"/story", article.FetchOptions{})
	require.ErrorIs(t, err, article.ErrUpstream)
	require.Equal(t, int32(1), pacer.calls.Load())
	require.Zero(t, hits.Load())
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = io.WriteString(w, storyHTML)
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: time.Second}, nil, nil)
	_, err := f.Fetch(ctx, server.URL+"/slow", article.FetchOptions{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
