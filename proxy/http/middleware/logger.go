package middleware

import (
	"net/http"
	"time"

	"github.com/julienstroheker/tcprelay/internal/logging"
)

// Logger logs each request on arrival and on completion.
// The logger, enriched with the request ids, is stored in the request context for handlers.
func Logger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			var ids []logging.Field
			if id := GetRequestID(r.Context()); id != "" {
				ids = append(ids, logging.String("request_id", id))
			}
			if id := GetClientRequestID(r.Context()); id != "" {
				ids = append(ids, logging.String("client_request_id", id))
			}

			reqLogger := logger.With(ids...)
			r = r.WithContext(logging.WithContext(r.Context(), reqLogger))

			reqLogger.Debug("Request received",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.String("remote_addr", r.RemoteAddr))

			rw := wrap(w)
			next.ServeHTTP(rw, r)

			reqLogger.Info("Response sent",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", rw.statusCode),
				logging.Duration("duration", time.Since(start)))
		})
	}
}
