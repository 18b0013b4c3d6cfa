package bypass

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
)

func intPtr(v int) *int { return &v }

func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, article.OutcomeBlocked, Classify(nil, false))
	require.Equal(t, article.OutcomeBlocked, Classify(intPtr(0), false))
	require.Equal(t, article.OutcomeBlocked, Classify(intPtr(500), true))
	require.Equal(t, article.OutcomeSuccess, Classify(intPtr(500), false))
	require.Equal(t, article.OutcomeSuccess, Classify(intPtr(1), false))
}

func TestClassifyArticle(t *testing.T) {
	t.Parallel()

	a := (&article.Article{TextContent: "some text"}).Normalize()
	require.Equal(t, article.OutcomeSuccess, ClassifyArticle(a, nil))
	require.Equal(t, article.OutcomeBlocked, ClassifyArticle(nil, nil))
	require.Equal(t, article.OutcomeBlocked, ClassifyArticle(a, errors.New("boom")))
}

func TestTruncated(t *testing.T) {
	t.Parallel()

	short := (&article.Article{TextContent: "tiny"}).Normalize()
	long := (&article.Article{TextContent: string(make([]byte, 600))}).Normalize()

	require.True(t, Truncated(nil, nil, 10))
	require.True(t, Truncated(long, errors.New("x"), 10))
	require.True(t, Truncated(short, nil, DefaultMinLength))
	require.False(t, Truncated(short, nil, 4))
	require.False(t, Truncated(long, nil, DefaultMinLength))
}
