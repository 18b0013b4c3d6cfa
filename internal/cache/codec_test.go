package cache

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
)

func TestCodecCompressesAndReadsPlainValues(t *testing.T) {
	t.Parallel()

	a := (&article.Article{Title: "T", TextContent: strings.Repeat("lorem ipsum ", 200)}).Normalize()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	compressed, err := NewCodec(true)
	require.NoError(t, err)
	defer compressed.Close()
	plain, err := NewCodec(false)
	require.NoError(t, err)
	defer plain.Close()

	packed, err := compressed.Encode(a, at)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(packed, zstdMagic))

	raw, err := plain.Encode(a, at)
	require.NoError(t, err)
	require.Less(t, len(packed), len(raw))

	// Either codec reads either representation.
	for _, value := range [][]byte{packed, raw} {
		got, err := plain.Decode(value)
		require.NoError(t, err)
		require.Equal(t, a, got)
	}
}

func TestCodecRejectsInvalidArticles(t *testing.T) {
	t.Parallel()

	c, err := NewCodec(true)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Decode([]byte(`{"v":1,"article":null}`))
	require.ErrorIs(t, err, article.ErrCache)
	_, err = c.Decode(nil)
	require.ErrorIs(t, err, article.ErrCache)
}
