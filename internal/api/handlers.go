package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/race"
)

// retryAfterSeconds is advertised when no fetch slot was free.
const retryAfterSeconds = "5"

// statusClientClosedRequest is nginx's code for a client that went away
// before the response was ready.
const statusClientClosedRequest = 499

type articleResponse struct {
	Source          article.Source   `json:"source"`
	CacheURL        string           `json:"cacheURL"`
	Article         *article.Article `json:"article"`
	Status          string           `json:"status"`
	ContentLength   int              `json:"contentLength"`
	MayHaveEnhanced *bool            `json:"mayHaveEnhanced,omitempty"`
}

// getArticle handles GET /article?url=&source=&refresh=. Without a source,
// or with source=auto, every configured source is raced.
func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawURL := strings.TrimSpace(q.Get("url"))
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	opts := article.FetchOptions{BypassCache: parseBool(q.Get("refresh"))}

	var (
		res  race.Result
		err  error
		auto bool
	)
	switch name := strings.TrimSpace(q.Get("source")); {
	case name == "" || strings.EqualFold(name, article.SourceAuto):
		auto = true
		res, err = s.deps.Articles.Get(r.Context(), rawURL, opts)
	default:
		src, perr := article.ParseSource(name)
		if perr != nil {
			s.writeFailure(w, r, perr)
			return
		}
		res, err = s.deps.Articles.GetFrom(r.Context(), rawURL, src, opts)
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	resp := articleResponse{
		Source:        res.Source,
		CacheURL:      res.CacheKey,
		Article:       res.Article,
		Status:        "success",
		ContentLength: res.Article.Length,
	}
	if auto {
		may := res.MayHaveEnhanced
		resp.MayHaveEnhanced = &may
	}
	writeJSON(w, http.StatusOK, resp)
}

// getEnhanced handles GET /article/enhanced?url=&currentLength=&exclude=.
// It answers 200 with enhanced=false on any failure past validation.
func (s *Server) getEnhanced(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawURL := strings.TrimSpace(q.Get("url"))
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if _, err := article.NormalizeURL(rawURL); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	current := 0
	if raw := q.Get("currentLength"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid currentLength")
			return
		}
		current = n
	}
	exclude, err := article.ParseSources(q["exclude"])
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Enhancer.Check(r.Context(), rawURL, current, exclude))
}

// listRecent handles GET /v1/articles/recent?limit=.
func (s *Server) listRecent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Index == nil {
		writeError(w, http.StatusServiceUnavailable, "article index unavailable")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := s.deps.Index.Recent(ctx, limit)
	if err != nil {
		s.logger.Error("list recent articles failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list articles")
		return
	}
	if list == nil {
		list = []article.Metadata{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": list})
}

// slotStats handles GET /v1/slots.
func (s *Server) slotStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Slots.Stats())
}

type sourceDTO struct {
	Name       article.Source `json:"name"`
	Rank       int            `json:"rank"`
	Configured bool           `json:"configured"`
}

// listSources handles GET /v1/sources: every known source in race order.
func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	configured := make(map[article.Source]bool)
	order := s.deps.Articles.Sources()
	for _, src := range order {
		configured[src] = true
	}
	out := make([]sourceDTO, 0, len(article.Sources()))
	for _, src := range order {
		out = append(out, sourceDTO{Name: src, Rank: src.Rank(), Configured: true})
	}
	for _, src := range article.Sources() {
		if !configured[src] {
			out = append(out, sourceDTO{Name: src, Rank: src.Rank()})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

// writeFailure maps engine errors onto HTTP statuses.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == statusClientClosedRequest {
		s.logger.Debug("client went away before the article was ready",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("url", r.URL.Query().Get("url")),
		)
		writeError(w, status, "client closed request")
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("article request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("url", r.URL.Query().Get("url")),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	msg := err.Error()
	if errors.Is(err, article.ErrAllSourcesFailed) {
		msg = article.ErrAllSourcesFailed.Error()
	}
	writeError(w, status, msg)
}

func statusFor(err error) int {
	var (
		vErr   *article.ValidationError
		aggErr *article.AggregateError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	case errors.As(err, &aggErr):
		// Every source waited out the slot timeout: the service is saturated.
		if len(aggErr.Attempts) == 0 {
			return http.StatusBadGateway
		}
		for _, a := range aggErr.Attempts {
			if !errors.Is(a.Err, article.ErrSlotTimeout) {
				return http.StatusBadGateway
			}
		}
		return http.StatusServiceUnavailable
	case errors.Is(err, article.ErrSlotTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, article.ErrNotConfigured):
		return http.StatusNotImplemented
	case errors.Is(err, article.ErrUpstream),
		errors.Is(err, article.ErrParse):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}
