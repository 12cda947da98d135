// Package envelope renders the uniform JSON response shape used by the
// public and admin APIs, generalizing the teacher's writeJSON/writeError
// helpers into a single success/error envelope.
package envelope

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fyi-network/blog-pipeline/pkg/apierrors"
	"github.com/fyi-network/blog-pipeline/pkg/logging"
)

// Envelope is the response body shape returned by every handler.
type Envelope struct {
	Status     string                 `json:"status"`
	StatusCode int                    `json:"status_code"`
	Message    string                 `json:"message,omitempty"`
	Result     interface{}            `json:"result,omitempty"`
	Error      *ErrorBody             `json:"error,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// ErrorBody is the error portion of the envelope.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// OK writes a 200 envelope carrying result.
func OK(w http.ResponseWriter, r *http.Request, result interface{}) {
	Write(w, r, http.StatusOK, result, "", nil)
}

// Created writes a 201 envelope carrying result.
func Created(w http.ResponseWriter, r *http.Request, result interface{}) {
	Write(w, r, http.StatusCreated, result, "", nil)
}

// Write renders a success envelope with the given HTTP status.
func Write(w http.ResponseWriter, r *http.Request, status int, result interface{}, message string, metadata map[string]interface{}) {
	env := Envelope{
		Status:     "ok",
		StatusCode: status,
		Message:    message,
		Result:     result,
		Metadata:   metadata,
		RequestID:  logging.RequestIDFromContext(r.Context()),
		Timestamp:  time.Now().UTC(),
	}
	render(w, status, env)
}

// Fail writes an error envelope derived from err. If err wraps an
// *apierrors.APIError its code/message/details and HTTP status are used
// directly; otherwise it is treated as an opaque internal error.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := apierrors.As(err)
	if !ok {
		apiErr = apierrors.Internal(err)
	}

	env := Envelope{
		Status:     "error",
		StatusCode: apiErr.HTTPStatus,
		Error: &ErrorBody{
			Code:    string(apiErr.Code),
			Message: apiErr.Message,
			Details: apiErr.Details,
		},
		RequestID: logging.RequestIDFromContext(r.Context()),
		Timestamp: time.Now().UTC(),
	}
	render(w, apiErr.HTTPStatus, env)
}

func render(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
