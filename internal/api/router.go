package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fyi-network/blog-pipeline/internal/artifact"
	"github.com/fyi-network/blog-pipeline/internal/ledger"
	"github.com/fyi-network/blog-pipeline/internal/llm"
	"github.com/fyi-network/blog-pipeline/internal/queue"
	"github.com/fyi-network/blog-pipeline/internal/threshold"
	"github.com/fyi-network/blog-pipeline/pkg/envelope"
	"github.com/fyi-network/blog-pipeline/pkg/metrics"
)

// Deps bundles the API's collaborating stores and capabilities.
type Deps struct {
	LedgerStore      ledger.Store
	QueueStore       queue.Store
	Artifacts        artifact.Store
	ThresholdCounter threshold.Counter
	LLMClient        llm.Client
	AdminKey         string
	Metrics          *metrics.Metrics
}

// NewRouter builds the full mux.Router for the public and admin surfaces.
func NewRouter(deps Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoveryMiddleware)
	if deps.Metrics != nil {
		r.Use(metrics.Middleware(deps.Metrics))
		r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)

	h := &handler{deps: deps}

	public := r.PathPrefix("/").Subrouter()
	public.Use(publisherAuthMiddleware(deps.LedgerStore))
	public.HandleFunc("/questions/check-and-load", h.checkAndLoad).Methods(http.MethodGet)
	public.HandleFunc("/questions/by-url", h.questionsByURL).Methods(http.MethodGet)
	public.HandleFunc("/questions/{question_id}", h.questionByID).Methods(http.MethodGet)
	public.HandleFunc("/questions/{blog_id}", h.deleteQuestions).Methods(http.MethodDelete)
	public.HandleFunc("/search/similar", h.searchSimilar).Methods(http.MethodPost)
	public.HandleFunc("/qa/ask", h.qaAsk).Methods(http.MethodPost)
	public.HandleFunc("/publishers/metadata", h.publisherMetadata).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(adminAuthMiddleware(deps.AdminKey))
	admin.HandleFunc("/publishers", h.adminCreatePublisher).Methods(http.MethodPost)
	admin.HandleFunc("/publishers", h.adminListPublishers).Methods(http.MethodGet)
	admin.HandleFunc("/publishers/{id}", h.adminGetPublisher).Methods(http.MethodGet)
	admin.HandleFunc("/publishers/{id}", h.adminUpdatePublisher).Methods(http.MethodPut)
	admin.HandleFunc("/publishers/{id}/regenerate-key", h.adminRegenerateKey).Methods(http.MethodPost)
	admin.HandleFunc("/reprocess", h.adminReprocess).Methods(http.MethodPost)
	admin.HandleFunc("/queue-stats", h.adminQueueStats).Methods(http.MethodGet)
	admin.HandleFunc("/jobs/status", h.adminJobStatus).Methods(http.MethodGet)

	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	envelope.OK(w, r, map[string]string{"status": "ok"})
}

type handler struct {
	deps Deps
}
