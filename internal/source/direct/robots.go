package direct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fulltext-fetcher/internal/metrics"
)

const (
	robotsAttempts   = 3
	robotsFirstDelay = 250 * time.Millisecond
	permissiveRobots = "User-agent: *\nAllow: /"
)

// robotsTransport wraps the collector transport. Article requests pass
// straight through; robots.txt requests that keep timing out are answered
// with a permissive document so colly can go on to fetch the article.
type robotsTransport struct {
	next     http.RoundTripper
	logger   *zap.Logger
	attempts int
	delay    time.Duration
}

func newRobotsTransport(next http.RoundTripper, logger *zap.Logger) *robotsTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &robotsTransport{next: next, logger: logger, attempts: robotsAttempts, delay: robotsFirstDelay}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("direct transport: request has no URL")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("direct roundtrip: %w", err)
		}
		return resp, nil
	}
	return t.fetchRobots(req)
}

func (t *robotsTransport) fetchRobots(req *http.Request) (*http.Response, error) {
	attempts := max(t.attempts, 1)
	delay := t.delay
	var lastErr error
	for i := range attempts {
		resp, err := t.next.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !timedOut(err) {
			return nil, fmt.Errorf("robots.txt %s: %w", req.URL.Host, err)
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if err := pause(req.Context(), delay); err != nil {
			return nil, err
		}
		delay *= 2
	}

	metrics.ObserveRobotsFallback()
	t.logger.Warn("robots.txt unreachable, treating host as permissive",
		zap.String("host", req.URL.Host),
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        http.StatusText(http.StatusOK),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(permissiveRobots)),
		ContentLength: int64(len(permissiveRobots)),
		Request:       req,
	}, nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots.txt wait: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

// timedOut matches errors worth another robots.txt attempt.
func timedOut(err error) bool {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &netErr) && netErr.Timeout():
		return true
	default:
		return strings.Contains(err.Error(), "handshake timeout")
	}
}
