// Package httpclient builds the retrying HTTP client shared by the sources
// that talk to archive, extraction, and prerender services.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
)

// DefaultMaxBody caps how much of a response body is read.
const DefaultMaxBody = 10 << 20

// Config tunes the client.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	MaxBody      int64
}

// Client issues GET requests with retries and maps failures to
// *article.UpstreamError.
type Client struct {
	rc        *retryablehttp.Client
	userAgent string
	maxBody   int64
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}
	rc.Logger = leveledLogger{logger: logger.Sugar()}
	// Hand the last response back so callers can report its status.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	return &Client{rc: rc, userAgent: cfg.UserAgent, maxBody: maxBody}
}

// StandardClient exposes the retrying client as a plain *http.Client.
func (c *Client) StandardClient() *http.Client {
	return c.rc.StandardClient()
}

// Get fetches rawURL on behalf of src and returns the body of a 2xx response.
func (c *Client) Get(ctx context.Context, src article.Source, rawURL string, header http.Header) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &article.UpstreamError{Source: src, Err: fmt.Errorf("build request: %w", err)}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.rc.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, &article.UpstreamError{Source: src, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed below

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, &article.UpstreamError{Source: src, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &article.UpstreamError{Source: src, StatusCode: resp.StatusCode}
	}
	return body, nil
}

type leveledLogger struct {
	logger *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.logger.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.logger.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.logger.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.logger.Debugw(msg, kv...) }
