package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienstroheker/tcprelay/internal/logging"
	"github.com/julienstroheker/tcprelay/internal/relay"
)

const (
	// DefaultStreamInterval is the delay between two snapshots on the stream
	DefaultStreamInterval = time.Second

	streamWriteWait = 10 * time.Second
)

// StatsSource is implemented by *relay.Server
type StatsSource interface {
	Ready() bool
	Stats() relay.Snapshot
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// NewStatsHandler returns the current relay counters as JSON
func NewStatsHandler(src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context())

		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if src == nil {
			http.Error(w, "relay not running", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(src.Stats()); err != nil {
			logger.Error("Failed to encode stats", logging.Error(err))
		}
	}
}

// NewStatsStreamHandler upgrades to a websocket and pushes one snapshot per interval
// until the client goes away or the request context is cancelled
func NewStatsStreamHandler(src StatsSource, interval time.Duration) http.HandlerFunc {
	if interval <= 0 {
		interval = DefaultStreamInterval
	}

	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context())

		if src == nil {
			http.Error(w, "relay not running", http.StatusServiceUnavailable)
			return
		}

		// The handshake is written on the raw connection, so carry the headers set so far
		conn, err := upgrader.Upgrade(w, r, w.Header().Clone())
		if err != nil {
			// Upgrade has already answered the client
			logger.Debug("Websocket upgrade failed", logging.Error(err))
			return
		}
		defer func() {
			_ = conn.Close()
		}()

		// The reader only watches for the client going away
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(src.Stats()); err != nil {
				logger.Debug("Stats stream write failed", logging.Error(err))
				return
			}

			select {
			case <-ticker.C:
			case <-gone:
				return
			case <-r.Context().Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
		}
	}
}
