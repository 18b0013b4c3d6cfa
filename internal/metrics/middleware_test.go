package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByStatus(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/articles/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	ok := httpRequestsTotal.WithLabelValues(http.MethodGet, "200")
	gone := httpRequestsTotal.WithLabelValues(http.MethodGet, "410")
	beforeOK, beforeGone := testutil.ToFloat64(ok), testutil.ToFloat64(gone)

	for _, path := range []string{"/articles/1", "/articles/2", "/gone"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, beforeOK+2, testutil.ToFloat64(ok), 0.001)
	require.InDelta(t, beforeGone+1, testutil.ToFloat64(gone), 0.001)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestRouteOfFallsBackForUnroutedRequests(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	require.Equal(t, "unmatched", routeOf(req))
}
