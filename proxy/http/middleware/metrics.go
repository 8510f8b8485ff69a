package middleware

import (
	"net/http"
	"time"

	"github.com/julienstroheker/tcprelay/internal/metrics"
)

// Metrics records the count and latency of admin requests
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)
			m.ObserveRequest(r.Method, rw.statusCode, time.Since(start))
		})
	}
}
