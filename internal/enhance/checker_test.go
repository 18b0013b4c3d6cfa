package enhance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/slots"
	"github.com/JakeFAU/fulltext-fetcher/internal/source"
	"github.com/JakeFAU/fulltext-fetcher/internal/source/sourcetest"
)

const storyURL = "https://news.example/story"

func newChecker(fetchers ...article.Fetcher) (*Checker, *slots.Limiter) {
	limiter := slots.New(slots.Options{MaxConcurrent: 4, SlotTimeout: time.Second}, zap.NewNop())
	return NewChecker(source.NewRegistry(fetchers...), limiter, zap.NewNop()), limiter
}

func TestCheckFindsLongerArticle(t *testing.T) {
	t.Parallel()

	direct := sourcetest.New(article.SourceDirect, 1000, 0)
	archive := sourcetest.New(article.SourceArchive, 3000, 0)
	extraction := sourcetest.New(article.SourceExtraction, 5000, 10*time.Millisecond)
	c, limiter := newChecker(direct, archive, extraction)

	res := c.Check(context.Background(), storyURL, 1000, []article.Source{article.SourceDirect})
	require.True(t, res.Enhanced)
	require.Equal(t, article.SourceExtraction, res.Source)
	require.Equal(t, 5000, res.Article.Length)
	require.Zero(t, direct.Calls(), "excluded sources are not called")
	require.Zero(t, limiter.Stats().Active)
}

func TestCheckNotLonger(t *testing.T) {
	t.Parallel()

	c, _ := newChecker(
		sourcetest.New(article.SourceArchive, 2000, 0),
		sourcetest.Failing(article.SourceExtraction, article.ErrNotConfigured, 0),
	)

	res := c.Check(context.Background(), storyURL, 2000, nil)
	require.False(t, res.Enhanced, "equal length is not an enhancement")
	require.Nil(t, res.Article)
}

func TestCheckSwallowsFailures(t *testing.T) {
	t.Parallel()

	c, _ := newChecker(
		sourcetest.Failing(article.SourceArchive, &article.UpstreamError{Source: article.SourceArchive, StatusCode: 500}, 0),
		sourcetest.Failing(article.SourceExtraction, article.ErrParse, 0),
	)

	require.Equal(t, Result{}, c.Check(context.Background(), storyURL, 10, nil))
	require.Equal(t, Result{}, c.Check(context.Background(), "not a url", 10, nil))
	require.Equal(t, Result{}, c.Check(context.Background(), storyURL, 10, []article.Source{
		article.SourceArchive, article.SourceExtraction,
	}))
}

func TestCheckSharesInFlightCalls(t *testing.T) {
	t.Parallel()

	archive := sourcetest.New(article.SourceArchive, 4000, 50*time.Millisecond)
	c, _ := newChecker(archive)

	var wg sync.WaitGroup
	results := make([]Result, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Check(context.Background(), storyURL, 100*i, []article.Source{article.SourceDirect})
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, archive.Calls())
	for _, res := range results {
		require.True(t, res.Enhanced)
		require.Equal(t, 4000, res.Article.Length)
	}
}

func TestCheckCallerCancellationLeavesCallsRunning(t *testing.T) {
	t.Parallel()

	archive := sourcetest.New(article.SourceArchive, 4000, 40*time.Millisecond)
	c, limiter := newChecker(archive)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	require.False(t, c.Check(ctx, storyURL, 0, nil).Enhanced)

	require.Eventually(t, func() bool {
		return archive.Calls() == 1 && limiter.Stats().Active == 0
	}, time.Second, 5*time.Millisecond)
}
