package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NotPanics(t, func() {
		Register(reg)
		Register(reg)
	})
}

func TestObserveRebuild(t *testing.T) {
	ObserveRebuild("observe-test", "success", 3*time.Second, 10, 2)
	ObserveRebuild("observe-test", "skipped", 0, 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(RebuildsTotal.WithLabelValues("observe-test", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(RebuildsTotal.WithLabelValues("observe-test", "skipped")))
	assert.Equal(t, 10.0, testutil.ToFloat64(DocumentsTotal.WithLabelValues("observe-test", "indexed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(DocumentsTotal.WithLabelValues("observe-test", "failed")))
	assert.Greater(t, testutil.ToFloat64(LastSuccessTimestamp.WithLabelValues("observe-test")), 0.0)
}

func TestObserveChunk(t *testing.T) {
	ObserveChunk("chunk-test", 2048)
	ObserveChunk("chunk-test", 4096)
	assert.Equal(t, 2.0, testutil.ToFloat64(BulkRequestsTotal.WithLabelValues("chunk-test")))
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Post("/collections/{name}/regenerate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/collections/a/regenerate", "/collections/b/regenerate"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, http.NoBody))
		assert.Equal(t, http.StatusAccepted, rr.Code)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	assert.Equal(t, 2.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "/collections/{name}/regenerate", "202")))
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/health", "200")))
}
