package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/username/twirlmap/backend/src/logger"
)

// RequestIDMiddleware tags every request with an id, echoes it in the
// X-Request-ID response header and stores an annotated logger in the
// request context for handlers to pick up via logger.FromContext.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		reqLogger := logger.L.With("requestID", requestID)
		ctx := logger.IntoContext(r.Context(), reqLogger)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		reqLogger.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}
