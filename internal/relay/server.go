package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/julienstroheker/tcprelay/internal/logging"
	"github.com/julienstroheker/tcprelay/internal/metrics"
	"go.uber.org/multierr"
)

const (
	// DefaultChunkSize is the largest single read from a source socket
	DefaultChunkSize = 4096
	// DefaultBacklog is the listen backlog
	DefaultBacklog = 1024
	// DefaultPollTimeout bounds each wait so the loop stays responsive
	DefaultPollTimeout = time.Second
	// DefaultMaxEvents is the size of one event batch
	DefaultMaxEvents = 128
)

// Options contains configuration for the relay server
type Options struct {
	ListenAddr string // e.g., "127.0.0.1:5000"
	RemoteAddr string // e.g., "10.0.0.2:80"

	ChunkSize   int
	HighWater   int // pending bytes per direction before the source stops being read; defaults to ChunkSize
	Backlog     int
	PollTimeout time.Duration
	MaxEvents   int

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// dial is an accepted client waiting for its outbound connect to complete
type dial struct {
	client  Socket
	remote  Socket
	started time.Time
}

// Server runs the relay dispatch loop.
// Everything except Stats, Ready and Addr must be called from a single goroutine.
type Server struct {
	opts    Options
	logger  *logging.Logger
	metrics *metrics.Metrics

	listener Listener
	poller   Poller
	dialer   Dialer
	addr     string

	registry  *registry
	dials     map[int]*dial
	graveyard []Socket
	events    []Event

	stats  stats
	ready  atomic.Bool
	closed bool
}

// NewServer creates a relay server. Sockets are not opened until Listen or Serve.
func NewServer(opts *Options) (*Server, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if opts.RemoteAddr == "" {
		return nil, fmt.Errorf("remote address is required")
	}

	o := *opts
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.HighWater < o.ChunkSize {
		o.HighWater = o.ChunkSize
	}
	if o.Backlog <= 0 {
		o.Backlog = DefaultBacklog
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.MaxEvents <= 0 {
		o.MaxEvents = DefaultMaxEvents
	}

	logger := o.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Server{
		opts:     o,
		logger:   logger,
		metrics:  o.Metrics,
		registry: newRegistry(),
		dials:    make(map[int]*dial),
		events:   make([]Event, o.MaxEvents),
	}, nil
}

// Listen resolves the remote address, binds the listening socket and creates the poller.
// Failures here are startup faults.
func (s *Server) Listen() error {
	if s.closed {
		return ErrServerClosed
	}
	if s.listener != nil {
		return nil
	}

	dialer, err := newDialer(s.opts.RemoteAddr)
	if err != nil {
		return fmt.Errorf("resolve remote %s: %w", s.opts.RemoteAddr, err)
	}

	poller, err := newPoller()
	if err != nil {
		return fmt.Errorf("create poller: %w", err)
	}

	listener, err := listenTCP(s.opts.ListenAddr, s.opts.Backlog)
	if err != nil {
		return multierr.Append(fmt.Errorf("listen on %s: %w", s.opts.ListenAddr, err), poller.Close())
	}

	return s.attach(listener, poller, dialer)
}

func (s *Server) attach(listener Listener, poller Poller, dialer Dialer) error {
	if err := poller.Add(listener.FD(), Readable); err != nil {
		return multierr.Combine(fmt.Errorf("watch listener: %w", err), listener.Close(), poller.Close())
	}

	s.listener = listener
	s.poller = poller
	s.dialer = dialer
	s.addr = listener.Addr()

	s.logger.Info("Relay listening",
		logging.String("listen", s.addr),
		logging.String("remote", s.opts.RemoteAddr))
	return nil
}

// Serve runs the dispatch loop until ctx is cancelled, then closes every
// connection, the listener and the poller. It calls Listen if needed.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	defer s.shutdown()

	woken := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(woken)
		if err := s.poller.Wake(); err != nil {
			s.logger.Debug("Failed to wake poller", logging.Error(err))
		}
	})
	// A wake already in flight must finish before shutdown closes the poller
	defer func() {
		if !stop() {
			<-woken
		}
	}()

	s.ready.Store(true)
	defer s.ready.Store(false)

	for ctx.Err() == nil {
		if err := s.poll(s.opts.PollTimeout); err != nil {
			return err
		}
	}
	return nil
}

// Addr returns the bound listen address, empty before Listen
func (s *Server) Addr() string {
	return s.addr
}

// Ready reports whether the dispatch loop is running
func (s *Server) Ready() bool {
	return s.ready.Load()
}

// Stats returns a snapshot of the relay counters
func (s *Server) Stats() Snapshot {
	snap := s.stats.snapshot()
	snap.ListenAddr = s.addr
	snap.RemoteAddr = s.opts.RemoteAddr
	snap.Ready = s.Ready()
	return snap
}

// poll runs one loop iteration
func (s *Server) poll(timeout time.Duration) error {
	n, err := s.poller.Wait(s.events, timeout)
	if err != nil {
		return fmt.Errorf("wait for events: %w", err)
	}

	for _, ev := range s.events[:n] {
		s.dispatch(ev)
	}
	s.reap()
	return nil
}

func (s *Server) dispatch(ev Event) {
	if ev.FD == s.listener.FD() {
		if ev.Readable || ev.Err || ev.Hangup {
			s.acceptOne()
		}
		return
	}
	if d, ok := s.dials[ev.FD]; ok {
		s.completeDial(d, ev)
		return
	}
	s.handlePair(ev)
}

func (s *Server) acceptOne() {
	client, err := s.listener.Accept()
	if errors.Is(err, ErrWouldBlock) {
		return
	}
	if err != nil {
		s.stats.acceptErrors.Add(1)
		s.metrics.Error("accept")
		s.logger.Warn("Failed to accept connection", logging.Error(err))
		return
	}
	s.stats.accepted.Add(1)
	s.metrics.Accepted()

	remote, connected, err := s.dialer()
	if err != nil {
		s.connectFailed(client, err)
		return
	}
	if connected {
		s.establish(client, remote, false)
		return
	}

	if err := s.poller.Add(remote.FD(), Writable); err != nil {
		s.bury(remote)
		s.connectFailed(client, err)
		return
	}
	s.dials[remote.FD()] = &dial{client: client, remote: remote, started: time.Now()}
	s.stats.pendingConnects.Add(1)
	s.metrics.DialStarted()

	s.logger.Debug("Connecting to remote",
		logging.String("client", client.RemoteAddr()),
		logging.String("remote", s.opts.RemoteAddr))
}

// completeDial finishes an asynchronous connect on its first readiness event
func (s *Server) completeDial(d *dial, ev Event) {
	delete(s.dials, d.remote.FD())
	s.stats.pendingConnects.Add(-1)
	s.metrics.DialFinished()

	var err error
	if cr, ok := d.remote.(connectResult); ok {
		err = cr.ConnectError()
	}
	if err == nil && (ev.Err || ev.Hangup) {
		err = fmt.Errorf("connection to %s hung up", s.opts.RemoteAddr)
	}
	if err != nil {
		if rerr := s.poller.Remove(d.remote.FD()); rerr != nil {
			s.logger.Debug("Failed to unwatch remote", logging.Error(rerr))
		}
		s.bury(d.remote)
		s.connectFailed(d.client, err)
		return
	}

	s.logger.Debug("Connected to remote",
		logging.String("client", d.client.RemoteAddr()),
		logging.Duration("took", time.Since(d.started)))
	s.establish(d.client, d.remote, true)
}

// connectFailed discards the client of a failed outbound connect; nothing stays registered
func (s *Server) connectFailed(client Socket, err error) {
	s.stats.connectFailures.Add(1)
	s.metrics.Error("connect")
	s.logger.Warn("Failed to connect to remote",
		logging.String("client", client.RemoteAddr()),
		logging.String("remote", s.opts.RemoteAddr),
		logging.Error(err))
	s.bury(client)
}

// establish registers a pair and installs interest on both sockets.
// watched tells whether remote is already known to the poller.
func (s *Server) establish(client, remote Socket, watched bool) {
	p := newPair(client, remote, s.opts.ChunkSize, s.opts.HighWater)
	if err := s.registry.registerPair(p); err != nil {
		s.logger.Error("Failed to register pair", logging.String("pair_id", p.id), logging.Error(err))
		if watched {
			_ = s.poller.Remove(remote.FD())
		}
		s.bury(client, remote)
		return
	}

	clientFD, remoteFD := client.FD(), remote.FD()
	clientIn, remoteIn := p.wantInterest(clientFD), p.wantInterest(remoteFD)

	err := s.poller.Add(clientFD, clientIn)
	if err == nil {
		if watched {
			err = s.poller.Modify(remoteFD, remoteIn)
		} else {
			err = s.poller.Add(remoteFD, remoteIn)
		}
	}
	if err != nil {
		_, _ = s.registry.unregisterPair(clientFD)
		_ = multierr.Combine(s.poller.Remove(clientFD), s.poller.Remove(remoteFD))
		s.bury(client, remote)
		s.stats.connectFailures.Add(1)
		s.metrics.Error("connect")
		s.logger.Warn("Failed to watch pair", logging.String("pair_id", p.id), logging.Error(err))
		return
	}
	p.clientInterest, p.remoteInterest = clientIn, remoteIn

	s.stats.established.Add(1)
	s.stats.active.Add(1)
	s.metrics.PairOpened()

	s.logger.Info("Connection pair established",
		logging.String("pair_id", p.id),
		logging.String("client", client.RemoteAddr()),
		logging.String("remote", remote.RemoteAddr()))
}

func (s *Server) handlePair(ev Event) {
	p, ok := s.registry.pairOf(ev.FD)
	if !ok {
		// stale event for a pair torn down earlier in this batch
		return
	}

	if ev.Err || ev.Hangup {
		s.cleanup(p, fmt.Errorf("%s: peer hung up", p.socket(ev.FD).RemoteAddr()))
		return
	}

	if ev.Readable {
		pp := p.pipeFrom(ev.FD)
		pp.srcReady = true
		if pp.isReady() && s.step(p, pp) {
			return
		}
	}
	if ev.Writable {
		pp := p.pipeTo(ev.FD)
		pp.dstReady = true
		if pp.isReady() && s.step(p, pp) {
			return
		}
	}

	s.rearm(p)
}

// step relays once on pp and reports whether the pair was torn down
func (s *Server) step(p *pair, pp *pipe) bool {
	started := pp.started
	n, done, err := pp.relay()

	if n > 0 {
		if pp == p.upstream {
			s.stats.bytesUpstream.Add(int64(n))
			s.metrics.Transferred(metrics.Upstream, n)
		} else {
			s.stats.bytesDownstream.Add(int64(n))
			s.metrics.Transferred(metrics.Downstream, n)
		}
	}
	if !started && pp.started {
		s.logger.Debug("First transfer",
			logging.String("pair_id", p.id),
			logging.String("from", pp.src.RemoteAddr()),
			logging.String("to", pp.dst.RemoteAddr()))
	}
	if err != nil {
		s.metrics.Error("io")
		s.logger.Debug("Relay I/O fault", logging.String("pair_id", p.id), logging.Error(err))
	}

	if done {
		s.cleanup(p, err)
		return true
	}
	return false
}

// rearm installs the interest derived from the pipe flags, touching only masks that changed
func (s *Server) rearm(p *pair) {
	for _, fd := range [2]int{p.client.FD(), p.remote.FD()} {
		want := p.wantInterest(fd)
		if want == p.interest(fd) {
			continue
		}
		if err := s.poller.Modify(fd, want); err != nil {
			s.logger.Debug("Failed to update interest", logging.String("pair_id", p.id), logging.Error(err))
			s.cleanup(p, err)
			return
		}
		p.setInterest(fd, want)
	}
}

// cleanup tears down both sides of a pair. The sockets are closed at the end of the iteration.
func (s *Server) cleanup(p *pair, cause error) {
	clientFD, remoteFD := p.client.FD(), p.remote.FD()
	if _, err := s.registry.unregisterPair(clientFD); err != nil {
		s.logger.Debug("Pair already cleaned up", logging.String("pair_id", p.id), logging.Error(err))
		return
	}
	p.state = pairClosing

	if err := multierr.Combine(s.poller.Remove(clientFD), s.poller.Remove(remoteFD)); err != nil {
		s.logger.Debug("Failed to unwatch pair", logging.String("pair_id", p.id), logging.Error(err))
	}
	s.bury(p.client, p.remote)
	p.state = pairClosed

	lifetime := time.Since(p.created)
	s.stats.active.Add(-1)
	s.stats.closed.Add(1)
	s.metrics.PairClosed(lifetime)

	s.logger.Info("Connection pair closed",
		logging.String("pair_id", p.id),
		logging.Int64("bytes_up", p.upstream.transferred),
		logging.Int64("bytes_down", p.downstream.transferred),
		logging.Duration("lifetime", lifetime),
		logging.Error(cause))
}

// bury queues sockets to be closed once the current batch is dispatched
func (s *Server) bury(socks ...Socket) {
	s.graveyard = append(s.graveyard, socks...)
}

func (s *Server) reap() {
	for i, sock := range s.graveyard {
		if err := sock.Close(); err != nil {
			s.logger.Debug("Failed to close socket", logging.Int("fd", sock.FD()), logging.Error(err))
		}
		s.graveyard[i] = nil
	}
	s.graveyard = s.graveyard[:0]
}

// shutdown closes dials, pairs, the listener and the poller on a best-effort basis
func (s *Server) shutdown() {
	for fd, d := range s.dials {
		_ = s.poller.Remove(fd)
		s.bury(d.client, d.remote)
		delete(s.dials, fd)
		s.stats.pendingConnects.Add(-1)
		s.metrics.DialFinished()
	}

	var open []*pair
	s.registry.each(func(p *pair) { open = append(open, p) })
	for _, p := range open {
		s.cleanup(p, context.Canceled)
	}
	s.reap()

	err := multierr.Combine(
		s.poller.Remove(s.listener.FD()),
		s.listener.Close(),
		s.poller.Close(),
	)
	if err != nil {
		s.logger.Warn("Failed to release listener", logging.Error(err))
	}
	s.closed = true

	s.logger.Info("Relay stopped",
		logging.Int64("accepted", s.stats.accepted.Load()),
		logging.Int64("closed", s.stats.closed.Load()))
}

// Serve listens on local and relays every client to remote until ctx is cancelled
func Serve(ctx context.Context, local, remote string, logger *logging.Logger) error {
	srv, err := NewServer(&Options{
		ListenAddr: local,
		RemoteAddr: remote,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}
