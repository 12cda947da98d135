// Package apierrors provides a unified structured error type for the blog
// pipeline's public and admin APIs.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a distinct API error condition.
type Code string

const (
	CodeAuthRequired       Code = "AUTH_REQUIRED"
	CodeDomainMismatch     Code = "DOMAIN_MISMATCH"
	CodeNotWhitelisted     Code = "NOT_WHITELISTED"
	CodeUsageLimitExceeded Code = "USAGE_LIMIT_EXCEEDED"
	CodeDailyLimitExceeded Code = "DAILY_LIMIT_EXCEEDED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeValidationError    Code = "VALIDATION_ERROR"
	CodeQueueConflict      Code = "QUEUE_CONFLICT"
	CodeLLMBlocked         Code = "LLM_BLOCKED"
	CodeCrawlFailed        Code = "CRAWL_FAILED"
	CodeInternalError      Code = "INTERNAL_ERROR"
)

// APIError is a structured error carrying an HTTP status and a stable code,
// suitable for rendering through pkg/envelope.
type APIError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// WithDetails attaches a detail key/value pair and returns the receiver.
func (e *APIError) WithDetails(key string, value interface{}) *APIError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New builds a bare APIError.
func New(code Code, message string, httpStatus int) *APIError {
	return &APIError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap builds an APIError carrying an underlying cause.
func Wrap(code Code, message string, httpStatus int, err error) *APIError {
	return &APIError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// AuthRequired signals a missing or invalid publisher API key.
func AuthRequired(message string) *APIError {
	if message == "" {
		message = "a valid X-API-Key header is required"
	}
	return New(CodeAuthRequired, message, http.StatusUnauthorized)
}

// DomainMismatch signals the requesting origin does not belong to the
// authenticated publisher.
func DomainMismatch(domain string) *APIError {
	return New(CodeDomainMismatch, "request domain does not match publisher", http.StatusForbidden).
		WithDetails("domain", domain)
}

// NotWhitelisted signals a URL outside the publisher's configured domain set.
func NotWhitelisted(url string) *APIError {
	return New(CodeNotWhitelisted, "url is not whitelisted for this publisher", http.StatusForbidden).
		WithDetails("url", url)
}

// UsageLimitExceeded signals the publisher has exhausted its plan quota.
func UsageLimitExceeded(limit int) *APIError {
	return New(CodeUsageLimitExceeded, "usage limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit)
}

// DailyLimitExceeded signals the publisher has exhausted its daily quota.
func DailyLimitExceeded(limit int) *APIError {
	return New(CodeDailyLimitExceeded, "daily limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit)
}

// NotFound signals a missing resource.
func NotFound(resource, id string) *APIError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound).
		WithDetails("id", id)
}

// ValidationError signals malformed or missing request input.
func ValidationError(field, reason string) *APIError {
	return New(CodeValidationError, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// QueueConflict signals a conflicting reservation/state transition on the
// processing queue.
func QueueConflict(url string) *APIError {
	return New(CodeQueueConflict, "queue entry already reserved or in a terminal state", http.StatusConflict).
		WithDetails("url", url)
}

// LLMBlocked signals a response withheld by the model's safety filter.
func LLMBlocked(reason string) *APIError {
	return New(CodeLLMBlocked, "model declined to respond", http.StatusUnprocessableEntity).
		WithDetails("finish_reason", reason)
}

// CrawlFailed signals a terminal crawl failure, wrapping the typed crawl
// error from internal/crawler.
func CrawlFailed(err error) *APIError {
	return Wrap(CodeCrawlFailed, "failed to retrieve page content", http.StatusBadGateway, err)
}

// Internal wraps an unexpected error for a 500 response.
func Internal(err error) *APIError {
	return Wrap(CodeInternalError, "internal server error", http.StatusInternalServerError, err)
}

// As extracts an *APIError from err, if present in its chain.
func As(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
