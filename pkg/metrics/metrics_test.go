package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareRecordsRequest(t *testing.T) {
	m := New("test_blog_pipeline")

	router := mux.NewRouter()
	router.Use(Middleware(m))
	router.HandleFunc("/blogs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/blogs/42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)

	count := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/blogs/{id}", "418"))
	assert.Equal(t, float64(1), count)
}

func TestRecordJobCompletedIncrementsCounter(t *testing.T) {
	m := New("test_blog_pipeline2")
	m.RecordJobCompleted("success", 0)
	assert.NotNil(t, m.jobsCompleted)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobsCompleted.WithLabelValues("success")))
}
