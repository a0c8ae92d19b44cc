package observability

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse/pkg/contextkeys"
)

// RequestIDMiddleware assigns each request a UUID, exposes it in the
// X-Request-ID response header, and stores it in the context for log
// correlation. An inbound X-Request-ID is trusted and propagated.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
