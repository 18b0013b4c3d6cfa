package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
)

func TestIndexKeepsLongerAndOrdersByRecency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := New()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, idx.Upsert(ctx, article.Metadata{Key: "a", Length: 100, Title: "a1", UpdatedAt: base}))
	require.NoError(t, idx.Upsert(ctx, article.Metadata{Key: "b", Length: 50, UpdatedAt: base.Add(time.Minute)}))
	require.NoError(t, idx.Upsert(ctx, article.Metadata{Key: "a", Length: 80, Title: "a-short", UpdatedAt: base.Add(time.Hour)}))
	require.NoError(t, idx.Upsert(ctx, article.Metadata{Key: "c", Length: 10, UpdatedAt: base.Add(2 * time.Minute)}))

	got, err := idx.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []string{"c", "b", "a"}, []string{got[0].Key, got[1].Key, got[2].Key})
	require.Equal(t, "a1", got[2].Title)

	limited, err := idx.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, "c", limited[0].Key)
}
