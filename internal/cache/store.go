// Package cache holds the best-known article per cache key.
//
// Entries only ever improve: Put writes an article when the key is absent or
// the new article is strictly longer than the stored one, and otherwise
// hands back the stored article. Writes are compare-and-swap against the
// backend revision, so any number of concurrent writers converge on the
// longest article. Backend failures never reach callers: reads degrade to a
// miss and writes are best effort.
package cache

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/clock/system"
	"github.com/JakeFAU/fulltext-fetcher/internal/metrics"
)

// Observer is notified after a write improves an entry. previous is 0 when
// the key was absent.
type Observer interface {
	OnImproved(ctx context.Context, key string, previous int, a *article.Article)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, key string, previous int, a *article.Article)

// OnImproved calls f.
func (f ObserverFunc) OnImproved(ctx context.Context, key string, previous int, a *article.Article) {
	f(ctx, key, previous, a)
}

// Option customizes a Store.
type Option func(*Store)

// WithObserver registers observers for improvements.
func WithObserver(obs ...Observer) Option {
	return func(s *Store) { s.observers = append(s.observers, obs...) }
}

// WithClock overrides the clock used to stamp stored values.
func WithClock(c article.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Store applies the longer-wins merge rule over a KV backend.
type Store struct {
	kv        KV
	codec     *Codec
	logger    *zap.Logger
	clock     article.Clock
	observers []Observer

	writes inflight
}

// inflight counts running Puts. idle is closed whenever the count drops to
// zero and replaced when the next write begins.
type inflight struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (f *inflight) begin() {
	f.mu.Lock()
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
	f.mu.Unlock()
}

func (f *inflight) end() {
	f.mu.Lock()
	f.n--
	if f.n == 0 {
		close(f.idle)
	}
	f.mu.Unlock()
}

func (f *inflight) drained() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		done := make(chan struct{})
		close(done)
		return done
	}
	return f.idle
}

// NewStore wires a Store.
func NewStore(kv KV, codec *Codec, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		kv:     kv,
		codec:  codec,
		logger: logger,
		clock:  system.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the stored article, or false on a miss. Backend errors and
// corrupt values are misses.
func (s *Store) Get(ctx context.Context, key string) (*article.Article, bool) {
	a, _, err := s.read(ctx, key)
	switch {
	case err == nil && a != nil:
		metrics.ObserveCache("get", "hit")
		return a, true
	case err == nil, errors.Is(err, ErrKeyNotFound):
		metrics.ObserveCache("get", "miss")
	default:
		metrics.ObserveCache("get", "error")
		s.logger.Warn("cache read failed", zap.String("cache_key", key), zap.Error(err))
	}
	return nil, false
}

// Put offers a to the store and returns the best known article for key:
// a itself when it was written, or the longer stored article otherwise.
// Articles that are not cacheable are never written. Writes in progress are
// tracked for Flush, whichever goroutine issued them.
func (s *Store) Put(ctx context.Context, key string, a *article.Article) *article.Article {
	s.writes.begin()
	defer s.writes.end()
	if !a.Cacheable() {
		metrics.ObserveCache("put", "invalid")
		if cur, ok := s.Get(ctx, key); ok {
			return cur
		}
		return a
	}

	// Every conflict means another writer stored something strictly longer
	// than what it read, so the loop ends once the stored length reaches
	// a.Length or a write lands.
	for {
		if ctx.Err() != nil {
			break
		}
		cur, entry, err := s.read(ctx, key)
		exists := err == nil
		if err != nil && !errors.Is(err, ErrKeyNotFound) && !errors.Is(err, article.ErrCache) {
			metrics.ObserveCache("put", "error")
			s.logger.Warn("cache read before write failed", zap.String("cache_key", key), zap.Error(err))
			return a
		}
		if errors.Is(err, article.ErrCache) {
			// Corrupt values are overwritten at their current revision.
			exists = true
		}

		if cur != nil && a.Length <= cur.Length {
			metrics.ObserveCache("put", "rejected")
			return cur
		}

		value, err := s.codec.Encode(a, s.clock.Now())
		if err != nil {
			metrics.ObserveCache("put", "error")
			s.logger.Warn("cache encode failed", zap.String("cache_key", key), zap.Error(err))
			return a
		}

		if exists {
			_, err = s.kv.Update(ctx, key, value, entry.Revision)
		} else {
			_, err = s.kv.Create(ctx, key, value)
		}
		switch {
		case err == nil:
			metrics.ObserveCache("put", "written")
			previous := 0
			if cur != nil {
				previous = cur.Length
			}
			s.logger.Debug("cache improved",
				zap.String("cache_key", key),
				zap.Int("previous_length", previous),
				zap.Int("length", a.Length),
			)
			for _, obs := range s.observers {
				obs.OnImproved(ctx, key, previous, a)
			}
			return a
		case errors.Is(err, ErrConflict):
			metrics.ObserveCache("put", "conflict")
			continue
		default:
			metrics.ObserveCache("put", "error")
			s.logger.Warn("cache write failed", zap.String("cache_key", key), zap.Error(err))
			return a
		}
	}

	if cur, ok := s.Get(ctx, key); ok && cur.Length >= a.Length {
		return cur
	}
	return a
}

// Flush waits for every Put in progress to finish, or for ctx to end.
func (s *Store) Flush(ctx context.Context) error {
	select {
	case <-s.writes.drained():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) read(ctx context.Context, key string) (*article.Article, Entry, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, Entry{}, err
	}
	a, err := s.codec.Decode(entry.Value)
	if err != nil {
		return nil, entry, err
	}
	return a, entry, nil
}
