package relay

import "errors"

var (
	// ErrWouldBlock is returned by non-blocking socket operations that cannot make progress yet.
	// For accept it means no connection is pending.
	ErrWouldBlock = errors.New("operation would block")
	// ErrSocketClosed is returned when operating on a socket that was already closed
	ErrSocketClosed = errors.New("socket is closed")
	// ErrAlreadyRegistered is returned when either socket of a pair is already in the registry
	ErrAlreadyRegistered = errors.New("connection already registered")
	// ErrNotRegistered is returned when a connection has no registry entry
	ErrNotRegistered = errors.New("connection not registered")
	// ErrUnsupportedPlatform is returned by the relay engine outside Linux
	ErrUnsupportedPlatform = errors.New("relay engine requires linux epoll")
	// ErrServerClosed is returned by Serve after the server has shut down
	ErrServerClosed = errors.New("relay server closed")
)
