package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/fulltext-fetcher/internal/cache"
)

func newTestKV(t *testing.T, handler http.Handler) *KV {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	kv, err := New(client, Config{Bucket: "test-bucket", Prefix: "/articles/"})
	require.NoError(t, err)
	return kv
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck // test cleanup

	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestObjectNameIsPrefixedDigest(t *testing.T) {
	t.Parallel()

	kv := newTestKV(t, http.NotFoundHandler())
	name := kv.ObjectName("fast-direct:https://a.com/x")
	require.True(t, strings.HasPrefix(name, "articles/"))
	require.Len(t, strings.TrimPrefix(name, "articles/"), 64)
}

func TestCreateSendsDoesNotExistPrecondition(t *testing.T) {
	t.Parallel()

	var kv *KV
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"))
		assert.Equal(t, kv.ObjectName("k"), r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "payload")

		fmt.Fprintf(w, `{"name":%q,"bucket":"test-bucket","generation":"7"}`, kv.ObjectName("k"))
	})
	kv = newTestKV(t, handler)

	rev, err := kv.Create(context.Background(), "k", []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, uint64(7), rev)
}

func TestUpdateMapsPreconditionFailure(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("ifGenerationMatch"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprint(w, `{"error":{"code":412,"message":"conditionNotMet"}}`)
	})
	kv := newTestKV(t, handler)

	_, err := kv.Update(context.Background(), "k", []byte("payload"), 3)
	require.ErrorIs(t, err, cache.ErrConflict)
}

func TestWriteServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	kv := newTestKV(t, handler)

	_, err := kv.Create(context.Background(), "k", []byte("payload"))
	require.Error(t, err)
	require.NotErrorIs(t, err, cache.ErrConflict)
}
