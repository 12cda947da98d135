package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/fyi-network/blog-pipeline/internal/ledger"
	"github.com/fyi-network/blog-pipeline/internal/queue"
	"github.com/fyi-network/blog-pipeline/pkg/apierrors"
	"github.com/fyi-network/blog-pipeline/pkg/envelope"
)

type createPublisherRequest struct {
	Name    string                 `json:"name"`
	Domains []string               `json:"domains"`
	Plan    string                 `json:"plan"`
	Config  ledger.PublisherConfig `json:"config"`
	Widget  map[string]interface{} `json:"widget"`
}

func (h *handler) adminCreatePublisher(w http.ResponseWriter, r *http.Request) {
	var req createPublisherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		envelope.Fail(w, r, apierrors.ValidationError("name", "required"))
		return
	}

	cfg := req.Config
	if cfg.QuestionsPerBlog == 0 {
		cfg = mergeDefaults(cfg)
	}

	pub := &ledger.Publisher{
		Name:    req.Name,
		APIKey:  generateAPIKey(),
		Domains: req.Domains,
		Plan:    req.Plan,
		Status:  ledger.StatusActive,
		Config:  cfg,
		Widget:  req.Widget,
	}
	if err := h.deps.LedgerStore.Create(r.Context(), pub); err != nil {
		envelope.Fail(w, r, apierrors.Internal(err))
		return
	}
	envelope.Created(w, r, pub)
}

func (h *handler) adminListPublishers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	publishers, total, err := h.deps.LedgerStore.List(r.Context(), ledger.Status(r.URL.Query().Get("status")), page, pageSize)
	if err != nil {
		envelope.Fail(w, r, apierrors.Internal(err))
		return
	}
	envelope.Write(w, r, http.StatusOK, publishers, "", map[string]interface{}{"total": total})
}

func (h *handler) adminGetPublisher(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pub, err := h.deps.LedgerStore.GetByID(r.Context(), id)
	if err != nil {
		envelope.Fail(w, r, apierrors.NotFound("publisher", id))
		return
	}
	envelope.OK(w, r, pub)
}

func (h *handler) adminUpdatePublisher(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pub, err := h.deps.LedgerStore.GetByID(r.Context(), id)
	if err != nil {
		envelope.Fail(w, r, apierrors.NotFound("publisher", id))
		return
	}

	var req createPublisherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		envelope.Fail(w, r, apierrors.ValidationError("body", "invalid JSON"))
		return
	}
	if req.Name != "" {
		pub.Name = req.Name
	}
	if req.Domains != nil {
		pub.Domains = req.Domains
	}
	if req.Plan != "" {
		pub.Plan = req.Plan
	}
	pub.Config = req.Config
	if req.Widget != nil {
		pub.Widget = req.Widget
	}

	if err := h.deps.LedgerStore.Update(r.Context(), pub); err != nil {
		envelope.Fail(w, r, apierrors.Internal(err))
		return
	}
	envelope.OK(w, r, pub)
}

func (h *handler) adminRegenerateKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pub, err := h.deps.LedgerStore.RegenerateAPIKey(r.Context(), id, generateAPIKey())
	if err != nil {
		envelope.Fail(w, r, apierrors.NotFound("publisher", id))
		return
	}
	envelope.OK(w, r, pub)
}

type reprocessRequest struct {
	BlogURL     string `json:"blog_url"`
	PublisherID string `json:"publisher_id"`
	Reason      string `json:"reason"`
}

// adminReprocess re-queues a terminal (completed or failed) queue entry,
// rejecting non-terminal states with QUEUE_CONFLICT per spec §6.
func (h *handler) adminReprocess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req reprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BlogURL == "" {
		envelope.Fail(w, r, apierrors.ValidationError("blog_url", "required"))
		return
	}

	entry, err := h.deps.QueueStore.GetByURL(ctx, req.BlogURL)
	if err != nil {
		envelope.Fail(w, r, apierrors.NotFound("queue entry", req.BlogURL))
		return
	}

	var updated *queue.Entry
	switch entry.Status {
	case queue.StatusCompleted:
		updated, err = h.deps.QueueStore.AtomicUpdateStatus(ctx, req.BlogURL, queue.StatusCompleted, queue.StatusQueued, map[string]interface{}{
			"attempts":           0,
			"reprocessed_count":  entry.ReprocessedCount + 1,
			"processed":          true,
		})
	case queue.StatusFailed:
		updated, err = h.deps.QueueStore.AtomicRequeueFailed(ctx, req.BlogURL, true)
	default:
		envelope.Fail(w, r, apierrors.QueueConflict(req.BlogURL))
		return
	}
	if err != nil {
		envelope.Fail(w, r, apierrors.Internal(err))
		return
	}

	if err := h.deps.LedgerStore.ReserveBlogSlot(ctx, entry.PublisherID); err != nil {
		envelope.Fail(w, r, err)
		return
	}

	envelope.OK(w, r, updated)
}

func (h *handler) adminQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.QueueStore.GetStats(r.Context())
	if err != nil {
		envelope.Fail(w, r, apierrors.Internal(err))
		return
	}
	envelope.OK(w, r, stats)
}

func (h *handler) adminJobStatus(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		envelope.Fail(w, r, apierrors.ValidationError("url", "required"))
		return
	}
	entry, err := h.deps.QueueStore.GetByURL(r.Context(), url)
	if err != nil {
		envelope.Fail(w, r, apierrors.NotFound("queue entry", url))
		return
	}
	envelope.OK(w, r, entry)
}

func generateAPIKey() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func mergeDefaults(cfg ledger.PublisherConfig) ledger.PublisherConfig {
	defaults := ledger.DefaultPublisherConfig()
	defaults.CustomSummaryPrompt = cfg.CustomSummaryPrompt
	defaults.CustomQuestionPrompt = cfg.CustomQuestionPrompt
	defaults.UseGrounding = cfg.UseGrounding
	defaults.DailyBlogLimit = cfg.DailyBlogLimit
	defaults.MaxTotalBlogs = cfg.MaxTotalBlogs
	defaults.ThresholdBeforeProcessingBlog = cfg.ThresholdBeforeProcessingBlog
	defaults.WhitelistedBlogURLs = cfg.WhitelistedBlogURLs
	return defaults
}
