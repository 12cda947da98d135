// Package pipeline implements the Processing Pipeline worker (component
// G): a long-lived polling loop that picks batches off the Queue Store
// and runs each job as an independent concurrent task.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyi-network/blog-pipeline/internal/artifact"
	"github.com/fyi-network/blog-pipeline/internal/crawler"
	"github.com/fyi-network/blog-pipeline/internal/ledger"
	"github.com/fyi-network/blog-pipeline/internal/llm"
	"github.com/fyi-network/blog-pipeline/internal/queue"
)

// crawlerClient is the subset of *crawler.Crawler the worker depends on,
// narrowed to an interface so tests can substitute a fake.
type crawlerClient interface {
	Crawl(ctx context.Context, url string) (*crawler.Result, error)
}

// orchestratorClient is the subset of *llm.Orchestrator the worker
// depends on.
type orchestratorClient interface {
	Summarize(ctx context.Context, req llm.SummaryRequest) (*llm.SummaryResponse, error)
	GenerateQuestions(ctx context.Context, req llm.QuestionsRequest) ([]llm.QuestionResponse, error)
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float64, error)
}

// Config controls the worker's polling cadence and concurrency.
type Config struct {
	WorkerID                 string
	PollInterval             time.Duration
	BatchSize                int
	Concurrency              int
	HeartbeatIntervalSeconds int
	DefaultMaxRetries        int
	// EmbeddingModel is the fixed provider/model identifier embeddings are
	// generated against (e.g. "google/text-embedding-004"), independent of
	// a publisher's summary/questions model — PublisherConfig has no
	// embedding-model knob, and not every provider backend supports
	// embeddings (anthropic, bedrock do not).
	EmbeddingModel string
}

// Worker is one of many long-lived processes draining the Queue Store.
type Worker struct {
	cfg          Config
	queueStore   queue.Store
	ledgerStore  ledger.Store
	artifacts    artifact.Store
	crawler      crawlerClient
	orchestrator orchestratorClient

	log *logrus.Entry

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	sem     chan struct{}
}

// New constructs a Worker over its collaborating stores and capabilities.
func New(cfg Config, queueStore queue.Store, ledgerStore ledger.Store, artifacts artifact.Store, c crawlerClient, orchestrator orchestratorClient) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Worker{
		cfg:          cfg,
		queueStore:   queueStore,
		ledgerStore:  ledgerStore,
		artifacts:    artifacts,
		crawler:      c,
		orchestrator: orchestrator,
		log:          logrus.WithField("component", "pipeline-worker").WithField("worker_id", cfg.WorkerID),
		stopCh:       make(chan struct{}),
		sem:          make(chan struct{}, cfg.Concurrency),
	}
}

// Start begins the poll loop in a background goroutine.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("starting processing pipeline worker")
	go w.pollLoop(ctx)
	return nil
}

// Stop ends the poll loop; in-flight jobs are allowed to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stopCh)
		w.running = false
	}
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	jobs, err := w.queueStore.AtomicBatchPickSequential(ctx, w.cfg.WorkerID, w.cfg.BatchSize)
	if err != nil {
		w.log.WithError(err).Error("batch pick failed")
		return
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		job := job
		wg.Add(1)
		w.sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-w.sem }()
			w.runJob(ctx, job)
		}()
	}
	wg.Wait()
}

// runJob wraps processJob with heartbeat maintenance and terminal-state
// bookkeeping on failure.
func (w *Worker) runJob(ctx context.Context, job *queue.Entry) {
	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go w.heartbeatLoop(hbCtx, job)

	log := w.log.WithField("url", job.URL)
	if err := w.processJob(ctx, job); err != nil {
		log.WithError(err).Warn("process_job failed")
		w.handleFailure(ctx, job, err)
		return
	}
	log.Info("process_job completed")
}

func (w *Worker) heartbeatLoop(ctx context.Context, job *queue.Entry) {
	interval := time.Duration(w.cfg.HeartbeatIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queueStore.UpdateHeartbeat(ctx, w.cfg.WorkerID, job.URL); err != nil {
				w.log.WithError(err).Debug("heartbeat update failed")
			}
		}
	}
}

// processJob implements the 8-step pipeline run described in the
// processing pipeline's design.
func (w *Worker) processJob(ctx context.Context, job *queue.Entry) error {
	// Step 1: content retrieval, with a cache-hit path.
	blog, err := w.artifacts.GetBlogByURL(ctx, job.URL)
	var content *crawler.Result
	if err == nil && crawler.PassesQualityGate(blog.Content) {
		content = &crawler.Result{
			Title: blog.Title, Content: blog.Content, Language: blog.Language,
			WordCount: blog.WordCount, Metadata: blog.Metadata,
		}
	} else {
		content, err = w.crawler.Crawl(ctx, job.URL)
		if err != nil {
			return fmt.Errorf("crawl: %w", err)
		}

		hash := sha256.Sum256([]byte(content.Content))
		newBlog := &artifact.BlogContent{
			PublisherID: job.PublisherID,
			URL:         job.URL,
			Title:       content.Title,
			Content:     content.Content,
			Language:    content.Language,
			ContentHash: hex.EncodeToString(hash[:]),
			WordCount:   content.WordCount,
			Metadata:    content.Metadata,
		}
		if saveErr := w.artifacts.SaveBlogContent(ctx, newBlog); saveErr != nil {
			w.log.WithError(saveErr).Warn("persist crawled content failed, continuing with in-memory result")
		} else {
			blog = newBlog
		}
	}

	// Step 2: threshold gate on the artifact-store demand counter.
	triggeredCount, err := w.artifacts.IncrementTriggeredCount(ctx, job.URL)
	if err != nil {
		return fmt.Errorf("db_error: increment triggered count: %w", err)
	}

	pub, err := w.ledgerStore.GetByID(ctx, job.PublisherID)
	if err != nil {
		return fmt.Errorf("db_error: load publisher: %w", err)
	}

	if triggeredCount <= pub.Config.ThresholdBeforeProcessingBlog {
		return w.skipBelowThreshold(ctx, job)
	}

	// Step 3: summary.
	summaryResp, err := w.orchestrator.Summarize(ctx, llm.SummaryRequest{
		Content:           content.Content,
		Model:             pub.Config.SummaryModel,
		Temperature:       pub.Config.SummaryTemperature,
		MaxTokens:         pub.Config.SummaryMaxTokens,
		CustomInstruction: derefString(pub.Config.CustomSummaryPrompt),
	})
	if err != nil {
		return fmt.Errorf("llm_error: summarize: %w", err)
	}

	// Step 4: questions.
	questionResps, err := w.orchestrator.GenerateQuestions(ctx, llm.QuestionsRequest{
		Content:           content.Content,
		Model:             pub.Config.QuestionsModel,
		Temperature:       pub.Config.QuestionsTemperature,
		MaxTokens:         pub.Config.QuestionsMaxTokens,
		CustomInstruction: derefString(pub.Config.CustomQuestionPrompt),
		QuestionsPerBlog:  pub.Config.QuestionsPerBlog,
		UseGrounding:      pub.Config.UseGrounding,
	})
	if err != nil {
		return fmt.Errorf("llm_error: generate questions: %w", err)
	}
	if len(questionResps) < pub.Config.QuestionsPerBlog {
		w.log.WithField("url", job.URL).Warn("under-production of questions")
	}

	// Step 5: embeddings — one for the summary, one per retained question.
	title := summaryResp.Title
	if title == "" {
		title = blog.Title
	}

	texts := make([]string, 0, 1+len(questionResps))
	texts = append(texts, summaryResp.Summary)
	for _, q := range questionResps {
		texts = append(texts, q.Question+" "+q.Answer)
	}

	embeddings, err := w.orchestrator.EmbedBatch(ctx, w.cfg.EmbeddingModel, texts)
	if err != nil {
		return fmt.Errorf("llm_error: embeddings: %w", err)
	}

	// Step 6: persist blog (title preference), summary, then questions.
	blog.Title = title
	if err := w.artifacts.SaveBlogContent(ctx, blog); err != nil {
		return fmt.Errorf("db_error: upsert blog: %w", err)
	}

	summary := &artifact.Summary{
		BlogID:      blog.ID,
		BlogURL:     blog.URL,
		PublisherID: job.PublisherID,
		Title:       title,
		Summary:     summaryResp.Summary,
		KeyPoints:   summaryResp.KeyPoints,
		Embedding:   embeddings[0],
		Model:       pub.Config.SummaryModel,
	}
	if err := w.artifacts.SaveSummary(ctx, summary); err != nil {
		return fmt.Errorf("db_error: upsert summary: %w", err)
	}

	questions := make([]*artifact.Question, len(questionResps))
	for i, q := range questionResps {
		var anchor *string
		if q.KeywordAnchor != "" {
			anchor = &q.KeywordAnchor
		}
		questions[i] = &artifact.Question{
			PublisherID:   job.PublisherID,
			Question:      q.Question,
			Answer:        q.Answer,
			KeywordAnchor: anchor,
			Probability:   q.Probability,
			Embedding:     embeddings[i+1],
			Model:         pub.Config.QuestionsModel,
		}
	}
	if err := w.artifacts.SaveQuestions(ctx, blog.ID, blog.URL, questions); err != nil {
		return fmt.Errorf("db_error: replace questions: %w", err)
	}

	// Step 7/8: terminal transition and slot release.
	return w.completeJob(ctx, job, len(questions))
}

func (w *Worker) skipBelowThreshold(ctx context.Context, job *queue.Entry) error {
	_, err := w.queueStore.AtomicUpdateStatus(ctx, job.URL, queue.StatusProcessing, queue.StatusCompleted, map[string]interface{}{
		"completed_at": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("db_error: skip below threshold: %w", err)
	}
	return w.ledgerStore.ReleaseBlogSlot(ctx, job.PublisherID, false, 0)
}

// completeJob compare-and-sets processing→completed and releases the
// reservation as processed=true only on the URL's first completed run
// for this publisher, avoiding double-counting on reprocess.
func (w *Worker) completeJob(ctx context.Context, job *queue.Entry, questionsGenerated int) error {
	wasAlreadyCompleted := job.WasPreviouslyCompleted

	_, err := w.queueStore.AtomicUpdateStatus(ctx, job.URL, queue.StatusProcessing, queue.StatusCompleted, map[string]interface{}{
		"completed_at": time.Now().UTC(),
		"processed":    true,
	})
	if err != nil {
		return fmt.Errorf("db_error: complete job: %w", err)
	}

	return w.ledgerStore.ReleaseBlogSlot(ctx, job.PublisherID, !wasAlreadyCompleted, questionsGenerated)
}

// handleFailure classifies err and routes the job to retry or failed,
// releasing the slot only on terminal failure.
func (w *Worker) handleFailure(ctx context.Context, job *queue.Entry, procErr error) {
	kind := Classify(procErr)
	maxRetries := job.MaxRetries
	if maxRetries == 0 {
		maxRetries = w.cfg.DefaultMaxRetries
	}

	errMsg := procErr.Error()
	kindStr := string(kind)

	if job.AttemptCount < maxRetries && Retriable(procErr) {
		_, err := w.queueStore.AtomicUpdateStatus(ctx, job.URL, queue.StatusProcessing, queue.StatusRetry, map[string]interface{}{
			"last_error":   errMsg,
			"failure_kind": kindStr,
		})
		if err != nil {
			w.log.WithError(err).Error("could not move job to retry; leaving slot reserved")
		}
		return
	}

	_, err := w.queueStore.AtomicUpdateStatus(ctx, job.URL, queue.StatusProcessing, queue.StatusFailed, map[string]interface{}{
		"last_error":   errMsg,
		"failure_kind": kindStr,
	})
	if err != nil {
		w.log.WithError(err).Error("could not move job to failed; leaving slot reserved as a safety bias")
		return
	}

	if releaseErr := w.ledgerStore.ReleaseBlogSlot(ctx, job.PublisherID, false, 0); releaseErr != nil {
		w.log.WithError(releaseErr).Error("release slot on failure")
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
