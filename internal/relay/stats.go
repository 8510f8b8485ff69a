package relay

import "sync/atomic"

// stats are written by the dispatch loop and read from any goroutine
type stats struct {
	accepted        atomic.Int64
	established     atomic.Int64
	active          atomic.Int64
	closed          atomic.Int64
	connectFailures atomic.Int64
	acceptErrors    atomic.Int64
	pendingConnects atomic.Int64
	bytesUpstream   atomic.Int64
	bytesDownstream atomic.Int64
}

// Snapshot is a point-in-time copy of the relay counters
type Snapshot struct {
	ListenAddr      string `json:"listen_addr"`
	RemoteAddr      string `json:"remote_addr"`
	Ready           bool   `json:"ready"`
	Accepted        int64  `json:"accepted"`
	Established     int64  `json:"established"`
	Active          int64  `json:"active"`
	Closed          int64  `json:"closed"`
	ConnectFailures int64  `json:"connect_failures"`
	AcceptErrors    int64  `json:"accept_errors"`
	PendingConnects int64  `json:"pending_connects"`
	BytesUpstream   int64  `json:"bytes_upstream"`
	BytesDownstream int64  `json:"bytes_downstream"`
}

func (s *stats) snapshot() Snapshot {
	return Snapshot{
		Accepted:        s.accepted.Load(),
		Established:     s.established.Load(),
		Active:          s.active.Load(),
		Closed:          s.closed.Load(),
		ConnectFailures: s.connectFailures.Load(),
		AcceptErrors:    s.acceptErrors.Load(),
		PendingConnects: s.pendingConnects.Load(),
		BytesUpstream:   s.bytesUpstream.Load(),
		BytesDownstream: s.bytesDownstream.Load(),
	}
}
