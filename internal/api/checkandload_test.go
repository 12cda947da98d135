package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyi-network/blog-pipeline/internal/artifact"
	"github.com/fyi-network/blog-pipeline/internal/ledger"
	"github.com/fyi-network/blog-pipeline/internal/llm"
	"github.com/fyi-network/blog-pipeline/internal/queue"
)

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

// fakeLedgerStore is a single-publisher in-memory ledger.Store, keyed by a
// fixed api key, sufficient for exercising the public API's auth and
// reservation paths without a database.
type fakeLedgerStore struct {
	pub            *ledger.Publisher
	reserveErr     error
	reserveCalls   int
	releaseCalls   int
}

func (f *fakeLedgerStore) Create(ctx context.Context, p *ledger.Publisher) error { return nil }
func (f *fakeLedgerStore) GetByID(ctx context.Context, id string) (*ledger.Publisher, error) {
	if id != f.pub.ID {
		return nil, ledger.ErrNotFound
	}
	return f.pub, nil
}
func (f *fakeLedgerStore) GetByDomain(ctx context.Context, domain string, allowSuffix bool) (*ledger.Publisher, error) {
	return f.pub, nil
}
func (f *fakeLedgerStore) GetByAPIKey(ctx context.Context, apiKey string) (*ledger.Publisher, error) {
	if apiKey != f.pub.APIKey {
		return nil, ledger.ErrNotFound
	}
	return f.pub, nil
}
func (f *fakeLedgerStore) Update(ctx context.Context, p *ledger.Publisher) error { return nil }
func (f *fakeLedgerStore) RegenerateAPIKey(ctx context.Context, id, newAPIKey string) (*ledger.Publisher, error) {
	f.pub.APIKey = newAPIKey
	return f.pub, nil
}
func (f *fakeLedgerStore) List(ctx context.Context, status ledger.Status, page, pageSize int) ([]*ledger.Publisher, int, error) {
	return []*ledger.Publisher{f.pub}, 1, nil
}
func (f *fakeLedgerStore) ReserveBlogSlot(ctx context.Context, publisherID string) error {
	f.reserveCalls++
	return f.reserveErr
}
func (f *fakeLedgerStore) ReleaseBlogSlot(ctx context.Context, publisherID string, processed bool, questionsGenerated int) error {
	f.releaseCalls++
	return nil
}

// fakeQueueStore is a single-entry in-memory queue.Store.
type fakeQueueStore struct {
	entry   *queue.Entry
	created bool
}

func (f *fakeQueueStore) GetByURL(ctx context.Context, url string) (*queue.Entry, error) {
	if f.entry == nil || f.entry.URL != url {
		return nil, queue.ErrNotFound
	}
	return f.entry, nil
}
func (f *fakeQueueStore) AtomicGetOrCreate(ctx context.Context, url, publisherID string) (*queue.Entry, bool, error) {
	if f.entry != nil && f.entry.URL == url {
		return f.entry, false, nil
	}
	f.entry = &queue.Entry{ID: "q-1", URL: url, PublisherID: publisherID, Status: queue.StatusQueued}
	f.created = true
	return f.entry, true, nil
}
func (f *fakeQueueStore) AtomicUpdateStatus(ctx context.Context, url string, from, to queue.Status, updates map[string]interface{}) (*queue.Entry, error) {
	if f.entry == nil || f.entry.URL != url || f.entry.Status != from {
		return nil, queue.ErrStatusMismatch
	}
	f.entry.Status = to
	return f.entry, nil
}
func (f *fakeQueueStore) AtomicRequeueFailed(ctx context.Context, url string, resetAttempts bool) (*queue.Entry, error) {
	if f.entry == nil || f.entry.URL != url || f.entry.Status != queue.StatusFailed {
		return nil, queue.ErrStatusMismatch
	}
	f.entry.Status = queue.StatusQueued
	if resetAttempts {
		f.entry.AttemptCount = 0
	}
	return f.entry, nil
}
func (f *fakeQueueStore) AtomicWorkerPickJob(ctx context.Context, workerID string) (*queue.Entry, error) {
	return nil, queue.ErrNotFound
}
func (f *fakeQueueStore) AtomicBatchPickSequential(ctx context.Context, workerID string, batchSize int) ([]*queue.Entry, error) {
	return nil, nil
}
func (f *fakeQueueStore) UpdateHeartbeat(ctx context.Context, workerID, url string) error { return nil }
func (f *fakeQueueStore) DeleteByURL(ctx context.Context, url string) error {
	if f.entry != nil && f.entry.URL == url {
		f.entry = nil
	}
	return nil
}
func (f *fakeQueueStore) GetStats(ctx context.Context) (*queue.Stats, error) { return &queue.Stats{}, nil }
func (f *fakeQueueStore) ListStalled(ctx context.Context, olderThan time.Duration) ([]*queue.Entry, error) {
	return nil, nil
}

// fakeArtifactStore is a single-blog in-memory artifact.Store.
type fakeArtifactStore struct {
	blog      *artifact.BlogContent
	questions []*artifact.Question
}

func (f *fakeArtifactStore) SaveBlogContent(ctx context.Context, b *artifact.BlogContent) error { return nil }
func (f *fakeArtifactStore) SaveSummary(ctx context.Context, s *artifact.Summary) error          { return nil }
func (f *fakeArtifactStore) SaveQuestions(ctx context.Context, blogID, blogURL string, questions []*artifact.Question) error {
	return nil
}
func (f *fakeArtifactStore) GetBlogByURL(ctx context.Context, url string) (*artifact.BlogContent, error) {
	if f.blog == nil || f.blog.URL != url {
		return nil, artifact.ErrNotFound
	}
	return f.blog, nil
}
func (f *fakeArtifactStore) GetBlogsByURLs(ctx context.Context, urls []string) (map[string]*artifact.BlogContent, error) {
	return nil, nil
}
func (f *fakeArtifactStore) GetQuestionsByURL(ctx context.Context, blogURL string) ([]*artifact.Question, error) {
	if f.blog == nil || f.blog.URL != blogURL {
		return nil, nil
	}
	return f.questions, nil
}
func (f *fakeArtifactStore) GetQuestionByID(ctx context.Context, id string) (*artifact.Question, error) {
	for _, q := range f.questions {
		if q.ID == id {
			return q, nil
		}
	}
	return nil, artifact.ErrNotFound
}
func (f *fakeArtifactStore) IncrementQuestionClickCount(ctx context.Context, id string) error { return nil }
func (f *fakeArtifactStore) DeleteBlog(ctx context.Context, blogID string) error               { return nil }
func (f *fakeArtifactStore) IncrementTriggeredCount(ctx context.Context, url string) (int, error) {
	return 1, nil
}
func (f *fakeArtifactStore) GetSummaryByBlogID(ctx context.Context, blogID string) (*artifact.Summary, error) {
	return nil, artifact.ErrNotFound
}
func (f *fakeArtifactStore) SearchSimilarNative(ctx context.Context, embedding []float64, domainSuffix string, limit int) ([]artifact.SimilarBlog, error) {
	return nil, nil
}
func (f *fakeArtifactStore) SearchSimilarFallback(ctx context.Context, embedding []float64, domainSuffix string, limit int) ([]artifact.SimilarBlog, error) {
	return []artifact.SimilarBlog{{BlogID: "other", URL: "https://example.com/b", Title: "B"}}, nil
}

// fakeThresholdCounter is an in-memory monotone counter.
type fakeThresholdCounter struct{ count int64 }

func (f *fakeThresholdCounter) IncrementAndGet(ctx context.Context, url, publisherID string) (int64, error) {
	f.count++
	return f.count, nil
}

// fakeLLMClient returns a fixed answer for GenerateText.
type fakeLLMClient struct {
	finishReason llm.FinishReason
}

func (f *fakeLLMClient) GenerateText(ctx context.Context, params llm.GenerateParams) (*llm.GenerateResult, error) {
	reason := f.finishReason
	if reason == "" {
		reason = llm.FinishStop
	}
	return &llm.GenerateResult{Text: "a plain answer", FinishReason: reason}, nil
}
func (f *fakeLLMClient) GenerateEmbedding(ctx context.Context, model, text string) ([]float64, error) {
	return []float64{0.1, 0.2}, nil
}

func testPublisher() *ledger.Publisher {
	cfg := ledger.DefaultPublisherConfig()
	cfg.ThresholdBeforeProcessingBlog = 0
	cfg.WhitelistedBlogURLs = nil
	return &ledger.Publisher{
		ID:      "pub-1",
		Name:    "Example Publishing",
		APIKey:  "secret-key",
		Domains: []string{"example.com"},
		Status:  ledger.StatusActive,
		Config:  cfg,
	}
}

type testDeps struct {
	ledger    *fakeLedgerStore
	queue     *fakeQueueStore
	artifacts *fakeArtifactStore
	threshold *fakeThresholdCounter
	llm       *fakeLLMClient
}

func newTestDeps(pub *ledger.Publisher) (Deps, *testDeps) {
	td := &testDeps{
		ledger:    &fakeLedgerStore{pub: pub},
		queue:     &fakeQueueStore{},
		artifacts: &fakeArtifactStore{},
		threshold: &fakeThresholdCounter{},
		llm:       &fakeLLMClient{},
	}
	deps := Deps{
		LedgerStore:      td.ledger,
		QueueStore:       td.queue,
		Artifacts:        td.artifacts,
		ThresholdCounter: td.threshold,
		LLMClient:        td.llm,
		AdminKey:         "admin-secret",
	}
	return deps, td
}

func doCheckAndLoad(t *testing.T, r *mux.Router, apiKey, blogURL string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/questions/check-and-load?blog_url="+blogURL, nil)
	req.Header.Set("X-API-Key", apiKey)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestCheckAndLoadNewURLReservesAndReturnsNotStarted(t *testing.T) {
	pub := testPublisher()
	deps, td := newTestDeps(pub)
	r := NewRouter(deps)

	code, body := doCheckAndLoad(t, r, pub.APIKey, "https://example.com/a")
	require.Equal(t, http.StatusOK, code)
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "not_started", result["state"])
	assert.Equal(t, 1, td.ledger.reserveCalls)
	assert.True(t, td.queue.created)
}

func TestCheckAndLoadReturnsReadyWhenQuestionsExist(t *testing.T) {
	pub := testPublisher()
	deps, td := newTestDeps(pub)
	blogURL := "https://example.com/a"
	td.artifacts.blog = &artifact.BlogContent{ID: "blog-1", URL: blogURL, Title: "A"}
	td.artifacts.questions = []*artifact.Question{{ID: "q-1", BlogID: "blog-1", BlogURL: blogURL, Question: "Q?", Answer: "A."}}
	r := NewRouter(deps)

	code, body := doCheckAndLoad(t, r, pub.APIKey, blogURL)
	require.Equal(t, http.StatusOK, code)
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "ready", result["state"])
	questions := result["questions"].([]interface{})
	assert.Len(t, questions, 1)
}

func TestCheckAndLoadBelowThresholdDoesNotReserve(t *testing.T) {
	pub := testPublisher()
	pub.Config.ThresholdBeforeProcessingBlog = 3
	deps, td := newTestDeps(pub)
	r := NewRouter(deps)

	code, body := doCheckAndLoad(t, r, pub.APIKey, "https://example.com/a")
	require.Equal(t, http.StatusOK, code)
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "threshold_not_met", result["state"])
	assert.Equal(t, 0, td.ledger.reserveCalls)
	assert.False(t, td.queue.created)
}

func TestCheckAndLoadDomainMismatchRejected(t *testing.T) {
	pub := testPublisher()
	deps, _ := newTestDeps(pub)
	r := NewRouter(deps)

	code, body := doCheckAndLoad(t, r, pub.APIKey, "https://not-example.net/a")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Contains(t, body, "error")
}

func TestCheckAndLoadMissingAPIKeyRejected(t *testing.T) {
	pub := testPublisher()
	deps, _ := newTestDeps(pub)
	r := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/questions/check-and-load?blog_url=https://example.com/a", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckAndLoadInFlightStatusPassesThrough(t *testing.T) {
	pub := testPublisher()
	deps, td := newTestDeps(pub)
	blogURL := "https://example.com/a"
	td.queue.entry = &queue.Entry{ID: "q-1", URL: blogURL, PublisherID: pub.ID, Status: queue.StatusProcessing}
	r := NewRouter(deps)

	code, body := doCheckAndLoad(t, r, pub.APIKey, blogURL)
	require.Equal(t, http.StatusOK, code)
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "processing", result["state"])
	assert.Equal(t, 0, td.ledger.reserveCalls)
}

func TestCheckAndLoadFailedAutoRequeuesWithReservation(t *testing.T) {
	pub := testPublisher()
	deps, td := newTestDeps(pub)
	blogURL := "https://example.com/a"
	td.queue.entry = &queue.Entry{ID: "q-1", URL: blogURL, PublisherID: pub.ID, Status: queue.StatusFailed}
	r := NewRouter(deps)

	code, body := doCheckAndLoad(t, r, pub.APIKey, blogURL)
	require.Equal(t, http.StatusOK, code)
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "queued", result["state"])
	assert.Equal(t, 1, td.ledger.reserveCalls)
}

func TestQAAskReturnsAnswerForAuthenticatedPublisher(t *testing.T) {
	pub := testPublisher()
	deps, _ := newTestDeps(pub)
	r := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/qa/ask", jsonBody(t, map[string]string{"question": "What is this about?"}))
	req.Header.Set("X-API-Key", pub.APIKey)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "a plain answer", result["answer"])
}

func TestQAAskBlockedBySafetyFilterReturns422(t *testing.T) {
	pub := testPublisher()
	deps, td := newTestDeps(pub)
	td.llm.finishReason = llm.FinishSafety
	r := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/qa/ask", jsonBody(t, map[string]string{"question": "anything"}))
	req.Header.Set("X-API-Key", pub.APIKey)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAdminReprocessConflictsOnNonTerminalStatus(t *testing.T) {
	pub := testPublisher()
	deps, td := newTestDeps(pub)
	blogURL := "https://example.com/a"
	td.queue.entry = &queue.Entry{ID: "q-1", URL: blogURL, PublisherID: pub.ID, Status: queue.StatusProcessing}
	r := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/admin/reprocess", jsonBody(t, map[string]string{"blog_url": blogURL}))
	req.Header.Set("X-Admin-Key", "admin-secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminReprocessUnknownURLReturns404(t *testing.T) {
	pub := testPublisher()
	deps, _ := newTestDeps(pub)
	r := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/admin/reprocess", jsonBody(t, map[string]string{"blog_url": "https://example.com/missing"}))
	req.Header.Set("X-Admin-Key", "admin-secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminReprocessSucceedsOnCompletedEntry(t *testing.T) {
	pub := testPublisher()
	deps, td := newTestDeps(pub)
	blogURL := "https://example.com/a"
	td.queue.entry = &queue.Entry{ID: "q-1", URL: blogURL, PublisherID: pub.ID, Status: queue.StatusCompleted, ReprocessedCount: 0}
	r := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/admin/reprocess", jsonBody(t, map[string]string{"blog_url": blogURL}))
	req.Header.Set("X-Admin-Key", "admin-secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, td.ledger.reserveCalls)
}

func TestAdminRoutesRejectMissingAdminKey(t *testing.T) {
	pub := testPublisher()
	deps, _ := newTestDeps(pub)
	r := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/admin/queue-stats", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
