package source_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/cache"
	"github.com/JakeFAU/fulltext-fetcher/internal/cache/memory"
	"github.com/JakeFAU/fulltext-fetcher/internal/source"
	"github.com/JakeFAU/fulltext-fetcher/internal/source/sourcetest"
)

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	codec, err := cache.NewCodec(false)
	require.NoError(t, err)
	t.Cleanup(codec.Close)
	return cache.NewStore(memory.New(), codec, zap.NewNop())
}

func TestRegistryOrdersBySource(t *testing.T) {
	t.Parallel()

	reg := source.NewRegistry(
		sourcetest.New(article.SourceExtraction, 1, 0),
		nil,
		sourcetest.New(article.SourceDirect, 1, 0),
		sourcetest.New(article.SourceArchive, 1, 0),
	)

	require.Equal(t, 3, reg.Len())
	require.Equal(t, []article.Source{
		article.SourceDirect,
		article.SourceArchive,
		article.SourceExtraction,
	}, reg.Sources())

	_, ok := reg.Get(article.SourcePrerendered)
	require.False(t, ok)
	f, ok := reg.Get(article.SourceArchive)
	require.True(t, ok)
	require.Equal(t, article.SourceArchive, f.Source())

	rest := reg.Except(article.SourceDirect, article.SourceExtraction)
	require.Len(t, rest, 1)
	require.Equal(t, article.SourceArchive, rest[0].Source())
}

func TestCachedMissThenHit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	fake := sourcetest.New(article.SourceDirect, 1200, 0)
	cached := source.NewCached(fake, store, time.Second, zap.NewNop())

	first, err := cached.Fetch(ctx, "https://Example.com/story/", article.FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, 1200, first.Length)

	second, err := cached.Fetch(ctx, "https://example.com/story", article.FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, 1200, second.Length)
	require.Equal(t, 1, fake.Calls(), "normalized URLs share a cache entry")

	_, ok := store.Get(ctx, "fast-direct:https://example.com/story")
	require.True(t, ok)
}

func TestCachedBypassStillKeepsLongest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	key := "archive-mirror:https://example.com/a"
	store.Put(ctx, key, sourcetest.Article("stored", 5000))

	fake := sourcetest.New(article.SourceArchive, 900, 0)
	cached := source.NewCached(fake, store, 0, nil)

	got, err := cached.Fetch(ctx, "https://example.com/a", article.FetchOptions{BypassCache: true})
	require.NoError(t, err)
	require.Equal(t, 1, fake.Calls())
	require.Equal(t, 5000, got.Length, "a shorter fresh result yields the stored article")
}

func TestCachedRejectsEmptyArticle(t *testing.T) {
	t.Parallel()

	fake := sourcetest.New(article.SourceDirect, 0, 0)
	cached := source.NewCached(fake, newStore(t), time.Second, nil)

	_, err := cached.Fetch(context.Background(), "https://example.com/empty", article.FetchOptions{})
	require.ErrorIs(t, err, article.ErrParse)
}

func TestCachedPropagatesErrors(t *testing.T) {
	t.Parallel()

	upstream := &article.UpstreamError{Source: article.SourceDirect, StatusCode: 403}
	cached := source.NewCached(sourcetest.Failing(article.SourceDirect, upstream, 0), newStore(t), time.Second, nil)

	_, err := cached.Fetch(context.Background(), "https://example.com/blocked", article.FetchOptions{})
	var upErr *article.UpstreamError
	require.True(t, errors.As(err, &upErr))
	require.Equal(t, 403, upErr.StatusCode)
}

func TestCachedValidatesURL(t *testing.T) {
	t.Parallel()

	fake := sourcetest.New(article.SourceDirect, 10, 0)
	cached := source.NewCached(fake, newStore(t), time.Second, nil)

	_, err := cached.Fetch(context.Background(), "ftp://example.com/file", article.FetchOptions{})
	var vErr *article.ValidationError
	require.True(t, errors.As(err, &vErr))
	require.Zero(t, fake.Calls())
}

func TestCachedBoundsUpstreamCall(t *testing.T) {
	t.Parallel()

	fake := sourcetest.New(article.SourceExtraction, 10, time.Second)
	cached := source.NewCached(fake, nil, 20*time.Millisecond, nil)

	_, err := cached.Fetch(context.Background(), "https://example.com/slow", article.FetchOptions{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCachedConcurrentMissesShareOneUpstreamCall(t *testing.T) {
	t.Parallel()

	fake := sourcetest.New(article.SourcePrerendered, 4200, 80*time.Millisecond)
	cached := source.NewCached(fake, newStore(t), time.Second, nil)

	// A race sibling is still in flight when the enhancement check arrives.
	type fetched struct {
		a   *article.Article
		err error
	}
	sibling := make(chan fetched, 1)
	go func() {
		a, err := cached.Fetch(context.Background(), "https://a.com/story", article.FetchOptions{})
		sibling <- fetched{a, err}
	}()
	require.Eventually(t, func() bool { return fake.Calls() == 1 }, time.Second, time.Millisecond)

	joined, err := cached.Fetch(context.Background(), "https://a.com/story/", article.FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, 4200, joined.Length)
	first := <-sibling
	require.NoError(t, first.err)
	require.Equal(t, 4200, first.a.Length)
	require.Equal(t, 1, fake.Calls())
}

func TestCachedCallerLeavesWhileUpstreamFillsCache(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	fake := sourcetest.New(article.SourceArchive, 3100, 60*time.Millisecond)
	cached := source.NewCached(fake, store, time.Second, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := cached.Fetch(ctx, "https://a.com/story", article.FetchOptions{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	key := article.CacheKey(article.SourceArchive, "https://a.com/story")
	require.Eventually(t, func() bool {
		a, ok := store.Get(context.Background(), key)
		return ok && a.Length == 3100
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, fake.Calls())
}
