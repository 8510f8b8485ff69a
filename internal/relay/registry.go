package relay

import (
	"time"

	"github.com/google/uuid"
)

type pairState int

const (
	pairEstablished pairState = iota
	pairClosing
	pairClosed
)

func (s pairState) String() string {
	switch s {
	case pairEstablished:
		return "ESTABLISHED"
	case pairClosing:
		return "CLOSING"
	case pairClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// pair is the lifecycle unit: two sockets and the two pipes between them
type pair struct {
	id     string
	client Socket
	remote Socket

	// upstream moves client bytes to the remote, downstream the reverse
	upstream   *pipe
	downstream *pipe

	clientInterest Interest
	remoteInterest Interest

	created time.Time
	state   pairState
}

func newPair(client, remote Socket, chunkSize, highWater int) *pair {
	return &pair{
		id:         "pair-" + uuid.New().String()[:8],
		client:     client,
		remote:     remote,
		upstream:   newPipe(client, remote, chunkSize, highWater),
		downstream: newPipe(remote, client, chunkSize, highWater),
		created:    time.Now(),
		state:      pairEstablished,
	}
}

// pipeFrom returns the pipe reading from fd
func (p *pair) pipeFrom(fd int) *pipe {
	if fd == p.client.FD() {
		return p.upstream
	}
	return p.downstream
}

// pipeTo returns the pipe writing to fd
func (p *pair) pipeTo(fd int) *pipe {
	if fd == p.client.FD() {
		return p.downstream
	}
	return p.upstream
}

func (p *pair) peer(fd int) int {
	if fd == p.client.FD() {
		return p.remote.FD()
	}
	return p.client.FD()
}

func (p *pair) socket(fd int) Socket {
	if fd == p.client.FD() {
		return p.client
	}
	return p.remote
}

// wantInterest derives the minimal interest mask for fd from both pipes
func (p *pair) wantInterest(fd int) Interest {
	var in Interest
	if p.pipeFrom(fd).wantsRead() {
		in |= Readable
	}
	if p.pipeTo(fd).wantsWrite() {
		in |= Writable
	}
	return in
}

func (p *pair) interest(fd int) Interest {
	if fd == p.client.FD() {
		return p.clientInterest
	}
	return p.remoteInterest
}

func (p *pair) setInterest(fd int, in Interest) {
	if fd == p.client.FD() {
		p.clientInterest = in
	} else {
		p.remoteInterest = in
	}
}

// registry maps both descriptors of every established pair to the same record.
// It is owned by the dispatch loop and is not safe for concurrent use.
type registry struct {
	pairs map[int]*pair
}

func newRegistry() *registry {
	return &registry{pairs: make(map[int]*pair)}
}

// registerPair inserts both descriptors of p
func (r *registry) registerPair(p *pair) error {
	a, b := p.client.FD(), p.remote.FD()
	if _, ok := r.pairs[a]; ok {
		return ErrAlreadyRegistered
	}
	if _, ok := r.pairs[b]; ok {
		return ErrAlreadyRegistered
	}
	r.pairs[a] = p
	r.pairs[b] = p
	return nil
}

// lookup returns the pipe whose source is fd, the peer descriptor and the socket for fd
func (r *registry) lookup(fd int) (*pipe, int, Socket, bool) {
	p, ok := r.pairs[fd]
	if !ok {
		return nil, -1, nil, false
	}
	return p.pipeFrom(fd), p.peer(fd), p.socket(fd), true
}

func (r *registry) pairOf(fd int) (*pair, bool) {
	p, ok := r.pairs[fd]
	return p, ok
}

// unregisterPair removes both descriptors of the pair containing fd.
// A second call for the same pair returns ErrNotRegistered.
func (r *registry) unregisterPair(fd int) (*pair, error) {
	p, ok := r.pairs[fd]
	if !ok {
		return nil, ErrNotRegistered
	}
	delete(r.pairs, p.client.FD())
	delete(r.pairs, p.remote.FD())
	return p, nil
}

// len returns the number of registered pairs
func (r *registry) len() int {
	return len(r.pairs) / 2
}

// each calls fn once per registered pair
func (r *registry) each(fn func(*pair)) {
	for fd, p := range r.pairs {
		if fd == p.client.FD() {
			fn(p)
		}
	}
}
