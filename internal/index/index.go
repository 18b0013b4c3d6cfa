// Package index keeps a listing of cached article metadata, fed by cache
// improvements, so recent articles can be listed without reading bodies.
package index

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/clock/system"
)

// DefaultRecentLimit caps Recent when the caller passes no limit.
const DefaultRecentLimit = 50

// Index stores article metadata. Upsert must keep the longer entry when the
// key already exists.
type Index interface {
	Upsert(ctx context.Context, meta article.Metadata) error
	Recent(ctx context.Context, limit int) ([]article.Metadata, error)
}

// Recorder adapts an Index to cache.Observer.
type Recorder struct {
	index  Index
	clock  article.Clock
	logger *zap.Logger
}

// NewRecorder creates a Recorder. A nil clock uses the system clock.
func NewRecorder(idx Index, clock article.Clock, logger *zap.Logger) *Recorder {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{index: idx, clock: clock, logger: logger}
}

// OnImproved records the new metadata. Failures are logged only.
func (r *Recorder) OnImproved(ctx context.Context, key string, _ int, a *article.Article) {
	src, url, ok := article.SplitCacheKey(key)
	if !ok {
		r.logger.Warn("index skipped malformed cache key", zap.String("cache_key", key))
		return
	}
	meta := article.MetadataOf(key, src, url, a, r.clock.Now())
	if err := r.index.Upsert(ctx, meta); err != nil {
		r.logger.Warn("index upsert failed", zap.String("cache_key", key), zap.Error(err))
	}
}

// ClampLimit normalizes a caller supplied listing limit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > 500:
		return 500
	default:
		return limit
	}
}

// SortRecent orders metadata newest first, breaking ties by key.
func SortRecent(list []article.Metadata) {
	slices.SortFunc(list, byRecency)
}

func byRecency(a, b article.Metadata) int {
	if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
		return c
	}
	switch {
	case a.Key < b.Key:
		return -1
	case a.Key > b.Key:
		return 1
	}
	return 0
}
