package handlers

import (
	"net/http"

	"github.com/julienstroheker/tcprelay/internal/logging"
)

// HealthHandler reports that the process is alive
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	// Ignore write error for health check as status is already set
	_, _ = w.Write([]byte("OK"))
}

// NewReadyHandler reports whether the relay is accepting connections.
// It answers 503 until the listener is bound and after the loop has stopped.
func NewReadyHandler(src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		if src == nil || !src.Ready() {
			logging.FromContext(r.Context()).Debug("Readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}
