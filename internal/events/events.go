// Package events announces cache improvements to subscribers.
package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/clock/system"
	"github.com/JakeFAU/fulltext-fetcher/internal/id/uuid"
)

// Announcer turns cache improvements into published events. It satisfies
// cache.Observer.
type Announcer struct {
	publisher article.Publisher
	ids       article.IDGenerator
	clock     article.Clock
	logger    *zap.Logger
}

// NewAnnouncer creates an Announcer. Nil ids and clock use UUIDv7 and the
// system clock.
func NewAnnouncer(pub article.Publisher, ids article.IDGenerator, clock article.Clock, logger *zap.Logger) *Announcer {
	if ids == nil {
		ids = uuid.New()
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Announcer{publisher: pub, ids: ids, clock: clock, logger: logger}
}

// OnImproved publishes one Improvement. Failures are logged only.
func (a *Announcer) OnImproved(ctx context.Context, key string, previous int, art *article.Article) {
	src, url, ok := article.SplitCacheKey(key)
	if !ok {
		return
	}
	id, err := a.ids.NewID()
	if err != nil {
		a.logger.Warn("event id generation failed", zap.Error(err))
		return
	}
	event := article.Improvement{
		ID:             id,
		Key:            key,
		Source:         src,
		URL:            url,
		PreviousLength: previous,
		Length:         art.Length,
		At:             a.clock.Now().UTC(),
	}
	if err := a.publisher.Publish(ctx, event); err != nil {
		a.logger.Warn("publish improvement failed", zap.String("cache_key", key), zap.Error(err))
	}
}
