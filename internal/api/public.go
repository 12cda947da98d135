package api

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/gorilla/mux"

	"github.com/fyi-network/blog-pipeline/internal/artifact"
	"github.com/fyi-network/blog-pipeline/internal/ledger"
	"github.com/fyi-network/blog-pipeline/internal/llm"
	"github.com/fyi-network/blog-pipeline/internal/queue"
	"github.com/fyi-network/blog-pipeline/pkg/apierrors"
	"github.com/fyi-network/blog-pipeline/pkg/envelope"
)

// checkAndLoad implements the §4.H fast-path, 8-step ordered algorithm.
func (h *handler) checkAndLoad(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pub := publisherFromContext(ctx)
	blogURL := strings.TrimSpace(r.URL.Query().Get("blog_url"))
	if blogURL == "" {
		envelope.Fail(w, r, apierrors.ValidationError("blog_url", "required"))
		return
	}

	// Step 1: domain validation.
	if !ledger.DomainMatches(firstDomain(pub), blogURL) && !anyDomainMatches(pub.Domains, blogURL) {
		envelope.Fail(w, r, apierrors.DomainMismatch(blogURL))
		return
	}

	// Step 2: existing questions short-circuit to ready.
	questions, err := h.deps.Artifacts.GetQuestionsByURL(ctx, blogURL)
	if err != nil && err != artifact.ErrNotFound {
		envelope.Fail(w, r, apierrors.Internal(err))
		return
	}
	if len(questions) > 0 {
		blog, err := h.deps.Artifacts.GetBlogByURL(ctx, blogURL)
		if err != nil && err != artifact.ErrNotFound {
			envelope.Fail(w, r, apierrors.Internal(err))
			return
		}
		envelope.OK(w, r, map[string]interface{}{
			"state":     "ready",
			"questions": shufflePublic(questions),
			"blog":      blogSummary(blog),
		})
		return
	}

	// Step 3: threshold gate.
	count, err := h.deps.ThresholdCounter.IncrementAndGet(ctx, blogURL, pub.ID)
	if err != nil {
		envelope.Fail(w, r, apierrors.Internal(err))
		return
	}
	if count <= int64(pub.Config.ThresholdBeforeProcessingBlog) {
		envelope.OK(w, r, map[string]interface{}{
			"state":    "threshold_not_met",
			"progress": strconv.FormatInt(count, 10) + "/" + strconv.Itoa(pub.Config.ThresholdBeforeProcessingBlog+1),
		})
		return
	}

	// Step 4: get-or-create the queue entry.
	entry, isNew, err := h.deps.QueueStore.AtomicGetOrCreate(ctx, blogURL, pub.ID)
	if err != nil {
		envelope.Fail(w, r, apierrors.Internal(err))
		return
	}

	// Step 5: newly-created entries must pass the whitelist, then reserve.
	if isNew {
		if !ledger.URLWhitelisted(pub.Config.WhitelistedBlogURLs, blogURL) {
			_ = h.deps.QueueStore.DeleteByURL(ctx, blogURL)
			envelope.Fail(w, r, apierrors.NotWhitelisted(blogURL))
			return
		}
		if err := h.deps.LedgerStore.ReserveBlogSlot(ctx, pub.ID); err != nil {
			_ = h.deps.QueueStore.DeleteByURL(ctx, blogURL)
			envelope.Fail(w, r, err)
			return
		}
		envelope.OK(w, r, map[string]interface{}{"state": "not_started"})
		return
	}

	// Step 6: non-terminal in-flight states are returned verbatim.
	switch entry.Status {
	case queue.StatusQueued, queue.StatusProcessing, queue.StatusRetry:
		envelope.OK(w, r, map[string]interface{}{"state": string(entry.Status)})
		return
	}

	// Step 7: completed-but-no-questions is a store/queue disagreement; self-heal.
	if entry.Status == queue.StatusCompleted {
		updated, err := h.deps.QueueStore.AtomicUpdateStatus(ctx, blogURL, queue.StatusCompleted, queue.StatusQueued, map[string]interface{}{
			"attempts": 0,
		})
		if err != nil {
			current, _ := h.deps.QueueStore.GetByURL(ctx, blogURL)
			if current != nil {
				envelope.OK(w, r, map[string]interface{}{"state": string(current.Status)})
				return
			}
			envelope.Fail(w, r, apierrors.Internal(err))
			return
		}
		envelope.OK(w, r, map[string]interface{}{"state": string(updated.Status)})
		return
	}

	// Step 8: failed entries are auto-requeued with a fresh reservation.
	if entry.Status == queue.StatusFailed {
		requeued, err := h.deps.QueueStore.AtomicRequeueFailed(ctx, blogURL, true)
		if err != nil {
			envelope.OK(w, r, map[string]interface{}{"state": "failed"})
			return
		}
		if err := h.deps.LedgerStore.ReserveBlogSlot(ctx, pub.ID); err != nil {
			_, _ = h.deps.QueueStore.AtomicUpdateStatus(ctx, blogURL, queue.StatusQueued, queue.StatusFailed, nil)
			envelope.Fail(w, r, err)
			return
		}
		envelope.OK(w, r, map[string]interface{}{"state": string(requeued.Status)})
		return
	}

	envelope.OK(w, r, map[string]interface{}{"state": "unknown"})
}

func (h *handler) questionsByURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	blogURL := strings.TrimSpace(r.URL.Query().Get("blog_url"))
	if blogURL == "" {
		envelope.Fail(w, r, apierrors.ValidationError("blog_url", "required"))
		return
	}

	questions, err := h.deps.Artifacts.GetQuestionsByURL(ctx, blogURL)
	if err != nil || len(questions) == 0 {
		envelope.Fail(w, r, apierrors.NotFound("questions", blogURL))
		return
	}
	blog, _ := h.deps.Artifacts.GetBlogByURL(ctx, blogURL)

	envelope.OK(w, r, map[string]interface{}{
		"questions": shufflePublic(questions),
		"blog":      blogSummary(blog),
	})
}

func (h *handler) questionByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["question_id"]
	q, err := h.deps.Artifacts.GetQuestionByID(r.Context(), id)
	if err != nil {
		envelope.Fail(w, r, apierrors.NotFound("question", id))
		return
	}
	envelope.OK(w, r, q.Public())
}

func (h *handler) deleteQuestions(w http.ResponseWriter, r *http.Request) {
	blogID := mux.Vars(r)["blog_id"]
	if err := h.deps.Artifacts.DeleteBlog(r.Context(), blogID); err != nil {
		envelope.Fail(w, r, apierrors.NotFound("blog", blogID))
		return
	}
	envelope.OK(w, r, map[string]string{"blog_id": blogID, "deleted": "true"})
}

type searchSimilarRequest struct {
	QuestionID string `json:"question_id"`
	Limit      int    `json:"limit"`
}

// searchSimilar loads the seed question's embedding, runs the native KNN
// path, falls back to in-process cosine similarity on failure, and
// increments the seed question's click counter on every call.
func (h *handler) searchSimilar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pub := publisherFromContext(ctx)

	var req searchSimilarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		envelope.Fail(w, r, apierrors.ValidationError("body", "invalid JSON"))
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	seed, err := h.deps.Artifacts.GetQuestionByID(ctx, req.QuestionID)
	if err != nil {
		envelope.Fail(w, r, apierrors.NotFound("question", req.QuestionID))
		return
	}

	domainSuffix := firstDomain(pub)
	results, err := h.deps.Artifacts.SearchSimilarNative(ctx, seed.Embedding, domainSuffix, req.Limit)
	if err != nil || results == nil {
		results, err = h.deps.Artifacts.SearchSimilarFallback(ctx, seed.Embedding, domainSuffix, req.Limit)
		if err != nil {
			envelope.Fail(w, r, apierrors.Internal(err))
			return
		}
	}

	if err := h.deps.Artifacts.IncrementQuestionClickCount(ctx, req.QuestionID); err != nil {
		// Click accounting is best-effort; the search result still stands.
		_ = err
	}

	envelope.OK(w, r, map[string]interface{}{"results": results})
}

type qaAskRequest struct {
	Question string `json:"question"`
}

// qaAsk answers a free-form reader question with a capped-length LLM call,
// using the publisher's chat model and a 350-token ceiling per spec.
func (h *handler) qaAsk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pub := publisherFromContext(ctx)

	var req qaAskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		envelope.Fail(w, r, apierrors.ValidationError("question", "required"))
		return
	}

	maxTokens := pub.Config.ChatMaxTokens
	if maxTokens <= 0 || maxTokens > 350 {
		maxTokens = 350
	}

	result, err := h.deps.LLMClient.GenerateText(ctx, llm.GenerateParams{
		Model:        pub.Config.ChatModel,
		SystemPrompt: "Answer the reader's question in at most 200 words, plainly and directly.",
		UserPrompt:   req.Question,
		Temperature:  pub.Config.ChatTemperature,
		MaxTokens:    maxTokens,
		UseGrounding: false,
	})
	if err != nil {
		envelope.Fail(w, r, apierrors.Internal(err))
		return
	}
	if err := llm.CheckFinishReason(result.FinishReason, result.BlockDetail); err != nil {
		envelope.Fail(w, r, apierrors.LLMBlocked(result.BlockDetail))
		return
	}

	envelope.OK(w, r, map[string]string{"answer": result.Text})
}

// publisherMetadata returns the publisher's widget record and, under
// "ad_variation", the requested ad-variation sub-record found via a jsonpath
// lookup (null when the lookup fails). The other ad variations are not
// nulled: they stay as they are inside the returned widget record.
func (h *handler) publisherMetadata(w http.ResponseWriter, r *http.Request) {
	pub := publisherFromContext(r.Context())
	adVariation := strings.TrimSpace(r.URL.Query().Get("adVariation"))

	result := map[string]interface{}{"widget": pub.Widget}
	if adVariation != "" {
		path := "$.ad_variations." + adVariation
		value, err := jsonpath.Get(path, map[string]interface{}{"ad_variations": pub.Widget["ad_variations"]})
		if err != nil {
			result["ad_variation"] = nil
		} else {
			result["ad_variation"] = value
		}
	}
	envelope.OK(w, r, result)
}

func shufflePublic(questions []*artifact.Question) []artifact.PublicQuestion {
	shuffled := make([]*artifact.Question, len(questions))
	copy(shuffled, questions)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	out := make([]artifact.PublicQuestion, len(shuffled))
	for i, q := range shuffled {
		out[i] = q.Public()
	}
	return out
}

func blogSummary(blog *artifact.BlogContent) map[string]interface{} {
	if blog == nil {
		return nil
	}
	return map[string]interface{}{
		"blog_id": blog.ID,
		"url":     blog.URL,
		"title":   blog.Title,
	}
}

func firstDomain(pub *ledger.Publisher) string {
	if len(pub.Domains) == 0 {
		return ""
	}
	return pub.Domains[0]
}

func anyDomainMatches(domains []string, requestURL string) bool {
	return ledger.BestSuffixMatch(domains, requestURL) >= 0
}
