package relay

import (
	"strings"
	"time"
)

// Interest is the set of readiness conditions a socket is polled for
type Interest uint8

const (
	// Readable asks to be notified when the socket has data or a pending connection
	Readable Interest = 1 << iota
	// Writable asks to be notified when the socket can accept writes
	Writable
)

// String returns a compact representation such as "r", "w", "rw" or "-"
func (i Interest) String() string {
	var b strings.Builder
	if i&Readable != 0 {
		b.WriteByte('r')
	}
	if i&Writable != 0 {
		b.WriteByte('w')
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}

// Event is one readiness report from a Poller
type Event struct {
	FD       int
	Readable bool
	Writable bool
	// Hangup is set when both directions of the socket are shut down
	Hangup bool
	// Err is set when the socket has a pending error
	Err bool
}

// Poller is a level-triggered readiness multiplexer
type Poller interface {
	// Add starts watching fd for the given interest
	Add(fd int, in Interest) error

	// Modify replaces the interest of a watched fd
	Modify(fd int, in Interest) error

	// Remove stops watching fd
	Remove(fd int) error

	// Wait blocks for at most timeout and fills events, returning how many were filled.
	// An interrupted or woken wait returns zero events and no error.
	Wait(events []Event, timeout time.Duration) (int, error)

	// Wake interrupts a concurrent Wait. Safe to call from any goroutine.
	Wake() error

	// Close releases the multiplexer
	Close() error
}

// Socket is a connected non-blocking stream socket identified by its descriptor
type Socket interface {
	// FD returns the connection identifier
	FD() int

	// Read returns io.EOF on orderly close and ErrWouldBlock when no data is available
	Read(p []byte) (int, error)

	// Write may write fewer bytes than len(p) and returns ErrWouldBlock when the send buffer is full
	Write(p []byte) (int, error)

	// Close releases the socket; a second call returns ErrSocketClosed
	Close() error

	// RemoteAddr returns the peer address as host:port
	RemoteAddr() string
}

// Listener is a non-blocking listening socket
type Listener interface {
	// FD returns the listening descriptor
	FD() int

	// Accept returns one pending connection or ErrWouldBlock
	Accept() (Socket, error)

	// Addr returns the bound address as host:port
	Addr() string

	// Close closes the listener
	Close() error
}

// Dialer starts one outbound connection to the configured remote.
// connected reports whether the connect completed immediately; otherwise
// completion is signaled by writable readiness on the returned socket.
type Dialer func() (sock Socket, connected bool, err error)

// connectResult is implemented by sockets whose connect completes asynchronously
type connectResult interface {
	// ConnectError reports the outcome of the connect, nil on success
	ConnectError() error
}
