// Package api implements the Read API + Check-and-Load surface (component
// H): a gorilla/mux router exposing the public read endpoints and the
// admin management endpoints, all rendered through pkg/envelope.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fyi-network/blog-pipeline/internal/ledger"
	"github.com/fyi-network/blog-pipeline/pkg/apierrors"
	"github.com/fyi-network/blog-pipeline/pkg/envelope"
	"github.com/fyi-network/blog-pipeline/pkg/logging"
)

type contextKey string

const publisherContextKey contextKey = "publisher"

// requestIDMiddleware stamps every request with a correlation id, following
// the teacher's trace-ID logging middleware idiom.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = logging.NewRequestID()
		}
		ctx := logging.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoveryMiddleware converts a panic in a handler into a 500 envelope
// instead of crashing the process.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				envelope.Fail(w, r, apierrors.Internal(panicError{rec}))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type panicError struct{ v interface{} }

func (p panicError) Error() string { return "panic recovered in handler" }

// publisherAuthMiddleware resolves the X-API-Key header to a Publisher and
// attaches it to the request context; missing/invalid keys short-circuit
// with AUTH_REQUIRED.
func publisherAuthMiddleware(ledgerStore ledger.Store) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				envelope.Fail(w, r, apierrors.AuthRequired(""))
				return
			}
			pub, err := ledgerStore.GetByAPIKey(r.Context(), apiKey)
			if err != nil {
				envelope.Fail(w, r, apierrors.AuthRequired("unknown api key"))
				return
			}
			ctx := context.WithValue(r.Context(), publisherContextKey, pub)
			ctx = logging.WithPublisherID(ctx, pub.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// publisherFromContext retrieves the authenticated publisher attached by
// publisherAuthMiddleware.
func publisherFromContext(ctx context.Context) *ledger.Publisher {
	pub, _ := ctx.Value(publisherContextKey).(*ledger.Publisher)
	return pub
}

// adminAuthMiddleware gates every /admin route behind a single static key,
// the spec's "admin key header" — simpler than per-publisher auth because
// the admin surface operates across tenants.
func adminAuthMiddleware(adminKey string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminKey == "" || r.Header.Get("X-Admin-Key") != adminKey {
				envelope.Fail(w, r, apierrors.AuthRequired("a valid X-Admin-Key header is required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
