package origin

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rpccache/pkg/logger"
)

type contextKey string

const requestIDKey contextKey = "requestID"

func contextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// chain tags each request with an ID, recovers panics and logs completion.
func chain(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := uuid.New().String()
		r = r.WithContext(contextWithRequestID(r.Context(), requestID))
		w.Header().Set("X-Request-Id", requestID)

		reqLog := log.WithRequestID(requestID)
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if err := recover(); err != nil {
				reqLog.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path))
				wrapped.WriteHeader(http.StatusInternalServerError)
				wrapped.Write([]byte("Internal Server Error"))
			}

			reqLog.Debug("Request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.status),
				zap.Duration("duration", time.Since(start)))
		}()

		next.ServeHTTP(wrapped, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.status = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}
