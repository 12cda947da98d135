package pipeline

import (
	"errors"
	"strings"

	"github.com/fyi-network/blog-pipeline/internal/crawler"
	"github.com/fyi-network/blog-pipeline/internal/llm"
)

// FailureKind classifies an error raised anywhere in process_job, by
// substring match against the error's chain, for the queue's failure
// primitive.
type FailureKind string

const (
	FailureCrawl      FailureKind = "crawl_error"
	FailureLLM        FailureKind = "llm_error"
	FailureDB         FailureKind = "db_error"
	FailureValidation FailureKind = "validation_error"
	FailureUnknown    FailureKind = "unknown"
)

// Classify buckets err into one of the known failure kinds.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}

	var ce *crawler.CrawlError
	if errors.As(err, &ce) {
		return FailureCrawl
	}

	var be *llm.BlockedError
	if errors.As(err, &be) || errors.Is(err, llm.ErrNoQuestions) {
		return FailureLLM
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "crawl_error") || strings.Contains(msg, "crawl:"):
		return FailureCrawl
	case strings.Contains(msg, "llm_error") || strings.Contains(msg, "llm:"):
		return FailureLLM
	case strings.Contains(msg, "sql") || strings.Contains(msg, "db_error") || strings.Contains(msg, "artifact:") || strings.Contains(msg, "queue:"):
		return FailureDB
	case strings.Contains(msg, "validation_error") || strings.Contains(msg, "invalid"):
		return FailureValidation
	default:
		return FailureUnknown
	}
}

// Retriable reports whether a failure of this kind should be retried
// under the job's remaining attempt budget. Only a crawl error whose
// own Retriable() is false (an HTTP 4xx) fails terminally regardless of
// budget; everything else, llm no-questions included, defers to the
// attempt-count check at the call site.
func Retriable(err error) bool {
	var ce *crawler.CrawlError
	if errors.As(err, &ce) {
		return ce.Retriable()
	}
	return true
}
