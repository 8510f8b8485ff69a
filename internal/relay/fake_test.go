package relay

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSocket is an in-memory Socket with scriptable read and write behavior
type fakeSocket struct {
	fd   int
	addr string

	in      []byte // data returned by Read
	eof     bool   // Read returns io.EOF once in is drained
	readErr error

	out        []byte
	writeLimit int  // max bytes accepted per Write, 0 means unlimited
	blocked    bool // Write returns ErrWouldBlock
	writeErr   error

	reads      int
	closes     int
	connectErr error
}

func newFakeSocket(fd int) *fakeSocket {
	return &fakeSocket{fd: fd, addr: fmt.Sprintf("127.0.0.1:%d", 40000+fd)}
}

func (s *fakeSocket) FD() int            { return s.fd }
func (s *fakeSocket) RemoteAddr() string { return s.addr }

func (s *fakeSocket) Read(p []byte) (int, error) {
	if s.closes > 0 {
		return 0, ErrSocketClosed
	}
	s.reads++
	if s.readErr != nil {
		return 0, s.readErr
	}
	if len(s.in) == 0 {
		if s.eof {
			return 0, io.EOF
		}
		return 0, ErrWouldBlock
	}
	n := copy(p, s.in)
	s.in = s.in[n:]
	return n, nil
}

func (s *fakeSocket) Write(p []byte) (int, error) {
	if s.closes > 0 {
		return 0, ErrSocketClosed
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	if s.blocked {
		return 0, ErrWouldBlock
	}
	n := len(p)
	if s.writeLimit > 0 && n > s.writeLimit {
		n = s.writeLimit
	}
	s.out = append(s.out, p[:n]...)
	return n, nil
}

func (s *fakeSocket) Close() error {
	s.closes++
	if s.closes > 1 {
		return ErrSocketClosed
	}
	return nil
}

func (s *fakeSocket) ConnectError() error {
	return s.connectErr
}

// fakeListener hands out queued sockets
type fakeListener struct {
	fd        int
	pending   []Socket
	acceptErr error
	closes    int
}

func (l *fakeListener) FD() int      { return l.fd }
func (l *fakeListener) Addr() string { return "127.0.0.1:5000" }

func (l *fakeListener) Accept() (Socket, error) {
	if l.acceptErr != nil {
		err := l.acceptErr
		l.acceptErr = nil
		return nil, err
	}
	if len(l.pending) == 0 {
		return nil, ErrWouldBlock
	}
	s := l.pending[0]
	l.pending = l.pending[1:]
	return s, nil
}

func (l *fakeListener) Close() error {
	l.closes++
	return nil
}

// fakePoller returns queued event batches and tracks installed interest
type fakePoller struct {
	interest map[int]Interest
	batches  [][]Event
	modifies int
	woken    atomic.Int32
	closed   bool

	// wakeGate, when set, holds Wake until it is closed
	wakeGate        chan struct{}
	released        atomic.Bool
	wokeAfterClosed atomic.Bool
}

func newFakePoller() *fakePoller {
	return &fakePoller{interest: make(map[int]Interest)}
}

func (p *fakePoller) Add(fd int, in Interest) error {
	if _, ok := p.interest[fd]; ok {
		return fmt.Errorf("fd %d already watched", fd)
	}
	p.interest[fd] = in
	return nil
}

func (p *fakePoller) Modify(fd int, in Interest) error {
	if _, ok := p.interest[fd]; !ok {
		return fmt.Errorf("fd %d not watched", fd)
	}
	p.interest[fd] = in
	p.modifies++
	return nil
}

func (p *fakePoller) Remove(fd int) error {
	if _, ok := p.interest[fd]; !ok {
		return fmt.Errorf("fd %d not watched", fd)
	}
	delete(p.interest, fd)
	return nil
}

func (p *fakePoller) Wait(events []Event, _ time.Duration) (int, error) {
	if len(p.batches) == 0 {
		return 0, nil
	}
	batch := p.batches[0]
	p.batches = p.batches[1:]
	return copy(events, batch), nil
}

func (p *fakePoller) Wake() error {
	if p.wakeGate != nil {
		<-p.wakeGate
	}
	if p.released.Load() {
		p.wokeAfterClosed.Store(true)
	}
	p.woken.Add(1)
	return nil
}

func (p *fakePoller) Close() error {
	if p.closed {
		return errors.New("poller already closed")
	}
	p.closed = true
	p.released.Store(true)
	return nil
}

func (p *fakePoller) push(events ...Event) {
	p.batches = append(p.batches, events)
}

// queueDialer returns the given remotes in order
func queueDialer(connected bool, remotes ...*fakeSocket) Dialer {
	return func() (Socket, bool, error) {
		if len(remotes) == 0 {
			return nil, false, errors.New("no remote available")
		}
		r := remotes[0]
		remotes = remotes[1:]
		return r, connected, nil
	}
}

const listenerFD = 3

// newTestServer builds a Server over fakes with a tiny chunk size so buffering is easy to observe
func newTestServer(t *testing.T, dialer Dialer) (*Server, *fakePoller, *fakeListener) {
	t.Helper()

	srv, err := NewServer(&Options{
		ListenAddr: "127.0.0.1:5000",
		RemoteAddr: "127.0.0.1:6000",
		ChunkSize:  4,
		HighWater:  8,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	poller := newFakePoller()
	listener := &fakeListener{fd: listenerFD}
	if err := srv.attach(listener, poller, dialer); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	return srv, poller, listener
}

// runBatch queues one batch of events and runs a single loop iteration
func runBatch(t *testing.T, srv *Server, poller *fakePoller, events ...Event) {
	t.Helper()
	poller.push(events...)
	if err := srv.poll(0); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
}

func readable(fd int) Event { return Event{FD: fd, Readable: true} }
func writable(fd int) Event { return Event{FD: fd, Writable: true} }
