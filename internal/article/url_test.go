package article

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercases host", in: "https://Example.COM/Path", want: "https://example.com/Path"},
		{name: "strips trailing slash", in: "https://a.com/x/", want: "https://a.com/x"},
		{name: "root path", in: "https://a.com/", want: "https://a.com"},
		{name: "sorts query", in: "https://a.com/x?b=2&a=1", want: "https://a.com/x?a=1&b=2"},
		{name: "drops fragment", in: "https://a.com/x#comments", want: "https://a.com/x"},
		{name: "drops default port", in: "http://a.com:80/x", want: "http://a.com/x"},
		{name: "keeps custom port", in: "https://a.com:8443/x", want: "https://a.com:8443/x"},
		{name: "drops empty query", in: "https://a.com/x?", want: "https://a.com/x"},
		{name: "trims whitespace", in: "  https://a.com/x  ", want: "https://a.com/x"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLCosmeticVariantsShareKey(t *testing.T) {
	t.Parallel()

	a, err := NormalizeURL("https://NEWS.example.com/story/?utm=x&id=7#top")
	require.NoError(t, err)
	b, err := NormalizeURL("https://news.example.com/story?id=7&utm=x")
	require.NoError(t, err)
	require.Equal(t, CacheKey(SourceDirect, a), CacheKey(SourceDirect, b))
	require.Equal(t, "fast-direct:https://news.example.com/story?id=7&utm=x", CacheKey(SourceDirect, a))
}

func TestNormalizeURLRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not a url", "ftp://a.com/x", "https:///nohost", "://bad"} {
		_, err := NormalizeURL(raw)
		require.Error(t, err, raw)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), raw)
		require.Equal(t, "url", verr.Field)
	}
}

func TestHostname(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a.com", Hostname("https://A.com:8080/x"))
	require.Equal(t, "", Hostname("://bad"))
}

func TestSplitCacheKey(t *testing.T) {
	t.Parallel()

	src, u, ok := SplitCacheKey("archive-mirror:https://a.com/x?a=1")
	require.True(t, ok)
	require.Equal(t, SourceArchive, src)
	require.Equal(t, "https://a.com/x?a=1", u)

	_, _, ok = SplitCacheKey("fast:https://a.com/x")
	require.False(t, ok)
	_, _, ok = SplitCacheKey("no-colon")
	require.False(t, ok)
}
