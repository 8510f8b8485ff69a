package relay

import (
	"errors"
	"io"
)

// pipeState is the half-duplex state of one direction, derived from the pipe flags
type pipeState int

const (
	stateWaitReadable pipeState = iota
	stateReadyToRelay
	stateWaitWritable
)

func (s pipeState) String() string {
	switch s {
	case stateWaitReadable:
		return "WAIT_READABLE"
	case stateReadyToRelay:
		return "READY_TO_RELAY"
	case stateWaitWritable:
		return "WAIT_WRITABLE"
	default:
		return "UNKNOWN"
	}
}

// pipe moves bytes from src to dst.
// Bytes read but not yet written stay in pending, which never grows past highWater.
type pipe struct {
	src Socket
	dst Socket

	// srcReady is set by a readable event and cleared after each read
	srcReady bool
	// dstReady is set by a writable event and cleared after each write attempt
	dstReady bool
	// started is set once the first byte has been read
	started bool
	// eof is set once src reported orderly close
	eof bool

	pending   []byte
	chunkSize int

	transferred int64
}

func newPipe(src, dst Socket, chunkSize, highWater int) *pipe {
	if highWater < chunkSize {
		highWater = chunkSize
	}
	return &pipe{
		src:       src,
		dst:       dst,
		pending:   make([]byte, 0, highWater),
		chunkSize: chunkSize,
	}
}

func (p *pipe) room() int {
	return cap(p.pending) - len(p.pending)
}

func (p *pipe) canRead() bool {
	return p.srcReady && !p.eof && p.room() > 0
}

func (p *pipe) canWrite() bool {
	return p.dstReady && len(p.pending) > 0
}

// isReady reports whether relay can make progress right now
func (p *pipe) isReady() bool {
	return p.canRead() || p.canWrite()
}

// wantsRead reports whether src should be polled for readability.
// A full buffer stops reading until dst drains it.
func (p *pipe) wantsRead() bool {
	return !p.eof && p.room() > 0
}

// wantsWrite reports whether dst should be polled for writability.
// Writability is only trusted again after an explicit notification.
func (p *pipe) wantsWrite() bool {
	return !p.dstReady
}

func (p *pipe) state() pipeState {
	switch {
	case p.isReady():
		return stateReadyToRelay
	case len(p.pending) > 0 || !p.dstReady:
		return stateWaitWritable
	default:
		return stateWaitReadable
	}
}

// relay performs at most one read and at most one write.
// It returns the number of bytes written to dst and whether the pipe is finished,
// either because src closed and everything was flushed or because of an I/O fault.
func (p *pipe) relay() (written int, done bool, err error) {
	if p.canRead() {
		start := len(p.pending)
		want := min(p.chunkSize, p.room())

		n, rerr := p.src.Read(p.pending[start : start+want])
		p.srcReady = false
		switch {
		case rerr == nil && n > 0:
			p.pending = p.pending[:start+n]
			p.started = true
		case rerr == nil, errors.Is(rerr, io.EOF):
			p.eof = true
		case errors.Is(rerr, ErrWouldBlock):
		default:
			return 0, true, rerr
		}
	}

	if p.canWrite() {
		n, werr := p.dst.Write(p.pending)
		p.dstReady = false
		if n > 0 {
			p.pending = p.pending[:copy(p.pending, p.pending[n:])]
			p.transferred += int64(n)
			written = n
		}
		if werr != nil && !errors.Is(werr, ErrWouldBlock) {
			return written, true, werr
		}
	}

	return written, p.eof && len(p.pending) == 0, nil
}
