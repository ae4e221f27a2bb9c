package httpx

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// contextKey is an unexported type for context keys in this package, so
// they cannot collide with keys from other packages.
type contextKey string

const (
	headerRequestID = "X-Request-Id"

	// ContextKeyRequestID carries the request id for downstream logging.
	ContextKeyRequestID contextKey = "x-request-id"
)

// AttachRequestMetadata copies the chi request id into the context under a
// typed key and echoes it back on the response, so a caller can correlate a
// saga run with its HTTP request.
func AttachRequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		ctx := context.WithValue(r.Context(), ContextKeyRequestID, requestID)
		w.Header().Set(headerRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
