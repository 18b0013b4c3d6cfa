package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/config"
	"github.com/JakeFAU/fulltext-fetcher/internal/enhance"
	indexMemory "github.com/JakeFAU/fulltext-fetcher/internal/index/memory"
	"github.com/JakeFAU/fulltext-fetcher/internal/race"
	"github.com/JakeFAU/fulltext-fetcher/internal/slots"
	"github.com/JakeFAU/fulltext-fetcher/internal/source/sourcetest"
)

func TestServer_GetArticle_Auto(t *testing.T) {
	t.Parallel()

	arts := &fakeArticles{res: race.Result{
		Source:          article.SourceDirect,
		Article:         sourcetest.Article("Story", 1800),
		CacheKey:        "fast-direct:https://news.example/a",
		MayHaveEnhanced: true,
	}}
	server := newTestServer(arts, config.Config{})

	rec := serve(server, "/article?url=https://news.example/a&refresh=true")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "fast-direct", body["source"])
	require.Equal(t, "fast-direct:https://news.example/a", body["cacheURL"])
	require.Equal(t, "success", body["status"])
	require.EqualValues(t, 1800, body["contentLength"])
	require.Equal(t, true, body["mayHaveEnhanced"])
	require.Equal(t, "Story", body["article"].(map[string]any)["title"])

	call := arts.last()
	require.Equal(t, "https://news.example/a", call.url)
	require.Empty(t, call.source)
	require.True(t, call.opts.BypassCache)
}

func TestServer_GetArticle_SingleSource(t *testing.T) {
	t.Parallel()

	arts := &fakeArticles{res: race.Result{
		Source:   article.SourceArchive,
		Article:  sourcetest.Article("Story", 900),
		CacheKey: "archive-mirror:https://news.example/a",
	}}
	server := newTestServer(arts, config.Config{})

	rec := serve(server, "/article?url=https://news.example/a&source=archive-mirror")

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "mayHaveEnhanced")
	require.Equal(t, article.SourceArchive, arts.last().source)
}

func TestServer_GetArticle_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "missing url", path: "/article", wantStatus: http.StatusBadRequest, wantBody: "url is required"},
		{name: "unknown source", path: "/article?url=https://a.com&source=fax", wantStatus: http.StatusBadRequest, wantBody: "invalid source"},
		{
			name:       "invalid url",
			path:       "/article?url=ftp://a.com",
			err:        &article.ValidationError{Field: "url", Reason: "scheme must be http or https"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "all failed",
			path:       "/article?url=https://a.com",
			err:        &article.AggregateError{Attempts: []article.Attempt{{Source: article.SourceDirect, Err: article.ErrParse}}},
			wantStatus: http.StatusBadGateway,
			wantBody:   "all retrieval methods exhausted",
		},
		{
			name: "all slots timed out",
			path: "/article?url=https://a.com",
			err: &article.AggregateError{Attempts: []article.Attempt{
				{Source: article.SourceDirect, Err: &article.SlotTimeoutError{Waited: time.Second}},
			}},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "single source slot timeout",
			path:       "/article?url=https://a.com&source=fast-direct",
			err:        &article.SlotTimeoutError{Waited: time.Second},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "not configured",
			path:       "/article?url=https://a.com&source=slow-extraction",
			err:        article.ErrNotConfigured,
			wantStatus: http.StatusNotImplemented,
		},
		{
			name:       "upstream",
			path:       "/article?url=https://a.com&source=fast-direct",
			err:        &article.UpstreamError{Source: article.SourceDirect, StatusCode: 403},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "unexpected",
			path:       "/article?url=https://a.com",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "client disconnected",
			path:       "/article?url=https://a.com",
			err:        fmt.Errorf("race canceled: %w", context.Canceled),
			wantStatus: statusClientClosedRequest,
			wantBody:   "client closed request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := newTestServer(&fakeArticles{err: tt.err}, config.Config{})
			rec := serve(server, tt.path)
			require.Equal(t, tt.wantStatus, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, "error", body.Status)
			if tt.wantBody != "" {
				require.Contains(t, body.Error, tt.wantBody)
			}
			if tt.wantStatus == http.StatusServiceUnavailable {
				require.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestServer_ClientDisconnectIsNotAServerFault(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	arts := &fakeArticles{err: fmt.Errorf("race canceled: %w", context.Canceled)}
	server := NewServer(Deps{Articles: arts, Enhancer: &fakeEnhancer{}, Slots: newLimiter()}, config.Config{}, zap.New(core))

	rec := serve(server, "/article?url=https://news.example/a")

	require.Equal(t, statusClientClosedRequest, rec.Code)
	require.Zero(t, logs.FilterLevelExact(zap.WarnLevel).FilterMessage("article request failed").Len())
	require.Equal(t, 1, logs.FilterMessage("client went away before the article was ready").Len())
}

func TestServer_GetEnhanced(t *testing.T) {
	t.Parallel()

	enh := &fakeEnhancer{res: enhance.Result{
		Enhanced: true,
		Source:   article.SourceExtraction,
		Article:  sourcetest.Article("Longer", 5000),
	}}
	server := NewServer(Deps{Articles: &fakeArticles{}, Enhancer: enh, Slots: newLimiter()}, config.Config{}, zap.NewNop())

	rec := serve(server, "/article/enhanced?url=https://a.com/x&currentLength=1200&exclude=fast-direct&exclude=archive-mirror,prerendered-lookup")
	require.Equal(t, http.StatusOK, rec.Code)

	var body enhance.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Enhanced)
	require.Equal(t, article.SourceExtraction, body.Source)
	require.Equal(t, 5000, body.Article.Length)

	require.Equal(t, 1200, enh.length)
	require.Equal(t, []article.Source{
		article.SourceDirect,
		article.SourceArchive,
		article.SourcePrerendered,
	}, enh.exclude)

	for _, path := range []string{
		"/article/enhanced",
		"/article/enhanced?url=notaurl",
		"/article/enhanced?url=https://a.com&currentLength=-3",
		"/article/enhanced?url=https://a.com&exclude=nope",
	} {
		require.Equal(t, http.StatusBadRequest, serve(server, path).Code, path)
	}

	enh.res = enhance.Result{}
	rec = serve(server, "/article/enhanced?url=https://a.com/x")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"enhanced":false}`, rec.Body.String())
}

func TestServer_ListRecent(t *testing.T) {
	t.Parallel()

	idx := indexMemory.New()
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, key := range []string{"fast-direct:https://a.com/1", "archive-mirror:https://a.com/2"} {
		require.NoError(t, idx.Upsert(context.Background(), article.Metadata{
			Key:       key,
			Length:    100 * (i + 1),
			UpdatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}
	server := NewServer(Deps{Articles: &fakeArticles{}, Index: idx, Slots: newLimiter()}, config.Config{}, zap.NewNop())

	rec := serve(server, "/v1/articles/recent?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Articles []article.Metadata `json:"articles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Articles, 1)
	require.Equal(t, "archive-mirror:https://a.com/2", body.Articles[0].Key)

	require.Equal(t, http.StatusBadRequest, serve(server, "/v1/articles/recent?limit=zero").Code)

	noIndex := newTestServer(&fakeArticles{}, config.Config{})
	require.Equal(t, http.StatusServiceUnavailable, serve(noIndex, "/v1/articles/recent").Code)
}

func TestServer_SlotsAndSources(t *testing.T) {
	t.Parallel()

	arts := &fakeArticles{sources: []article.Source{article.SourceArchive, article.SourceDirect}}
	server := newTestServer(arts, config.Config{})

	rec := serve(server, "/v1/slots")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"active":0,"queued":0,"max":3}`, rec.Body.String())

	rec = serve(server, "/v1/sources")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sources []sourceDTO `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sources, 4)
	require.Equal(t, article.SourceArchive, body.Sources[0].Name)
	require.True(t, body.Sources[1].Configured)
	require.False(t, body.Sources[2].Configured)
	require.Equal(t, article.SourcePrerendered, body.Sources[2].Name)
}

func TestServer_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	ready := errors.New("cache unreachable")
	server := NewServer(Deps{
		Articles: &fakeArticles{},
		Slots:    newLimiter(),
		Ready:    func(context.Context) error { return ready },
	}, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "k"}}, zap.NewNop())

	require.Equal(t, http.StatusOK, serve(server, "/healthz").Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(server, "/readyz").Code)
	require.Equal(t, http.StatusOK, serve(server, "/metrics").Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server := newTestServer(&fakeArticles{}, cfg)

	require.Equal(t, http.StatusForbidden, serve(server, "/v1/slots").Code)
	require.Equal(t, http.StatusOK, serve(server, "/v1/slots?api_key=secret").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/slots", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeArticles{panicMsg: "kaboom"}, config.Config{})
	rec := serve(server, "/article?url=https://a.com")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeArticles{}, config.Config{})
	rec := serve(server, "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.Error(t, err)

	hijacker := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: hijacker}
	conn, _, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, hijacker.CloseClient())
}

// --- helpers/fakes ---

type articlesCall struct {
	url    string
	source article.Source
	opts   article.FetchOptions
}

type fakeArticles struct {
	mu       sync.Mutex
	res      race.Result
	err      error
	sources  []article.Source
	panicMsg string
	calls    []articlesCall
}

func (f *fakeArticles) record(c articlesCall) (race.Result, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.res, f.err
}

func (f *fakeArticles) Get(_ context.Context, rawURL string, opts article.FetchOptions) (race.Result, error) {
	return f.record(articlesCall{url: rawURL, opts: opts})
}

func (f *fakeArticles) GetFrom(_ context.Context, rawURL string, src article.Source, opts article.FetchOptions) (race.Result, error) {
	return f.record(articlesCall{url: rawURL, source: src, opts: opts})
}

func (f *fakeArticles) Sources() []article.Source { return f.sources }

func (f *fakeArticles) last() articlesCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeEnhancer struct {
	res     enhance.Result
	length  int
	exclude []article.Source
}

func (f *fakeEnhancer) Check(_ context.Context, _ string, length int, exclude []article.Source) enhance.Result {
	f.length = length
	f.exclude = exclude
	return f.res
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}

func newLimiter() *slots.Limiter {
	return slots.New(slots.Options{MaxConcurrent: 3, SlotTimeout: time.Second}, zap.NewNop())
}

func newTestServer(arts Articles, cfg config.Config) *Server {
	return NewServer(Deps{Articles: arts, Enhancer: &fakeEnhancer{}, Slots: newLimiter()}, cfg, zap.NewNop())
}

func serve(server *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}
