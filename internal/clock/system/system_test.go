package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
)

var _ article.Clock = New()

func TestNowStampsUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()
	after := time.Now().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.WithinRange(t, got, before, after)
}

func TestNowFeedsMetadataTimestamps(t *testing.T) {
	t.Parallel()

	clk := New()
	first := article.MetadataOf("fast-direct:https://a.com/x", article.SourceDirect, "https://a.com/x",
		&article.Article{Title: "t"}, clk.Now())
	second := clk.Now()

	require.False(t, second.Before(first.UpdatedAt))
	require.Equal(t, time.UTC, first.UpdatedAt.Location())
}
