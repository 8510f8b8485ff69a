// Package relay implements a transparent TCP relay on a single-threaded,
// level-triggered readiness loop.
//
// Every client accepted on the listening socket is paired with one outbound
// connection to a fixed remote address. Bytes are forwarded verbatim in both
// directions until either side closes or fails, at which point both sockets
// of the pair are torn down together.
//
// # Components
//
// Socket primitives wrap non-blocking descriptors: a listener that accepts
// without blocking, and a dialer whose connect completes asynchronously
// through writable readiness so a slow remote never stalls the loop.
//
// A pipe moves bytes in one direction. It keeps read-but-unwritten bytes in a
// pending buffer bounded by a high-water mark, so short writes never lose data
// and a slow destination stops the source from being read.
//
// The registry keeps one record per connection pair, indexed by both
// descriptors. Pipe, peer and socket lookups are all derived from that record.
//
// The server runs the dispatch loop: it polls, routes each event to accept,
// connect completion or pipe relay, derives the minimal interest mask for every
// socket it touched, and closes sockets only at the end of an iteration so a
// reused descriptor number is never confused with a stale event.
//
// # Usage Example
//
//	srv, err := relay.NewServer(&relay.Options{
//	    ListenAddr: "127.0.0.1:5000",
//	    RemoteAddr: "10.0.0.2:80",
//	    Logger:     logger,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Listen(); err != nil {
//	    log.Fatal(err)
//	}
//	// Serve returns once ctx is cancelled
//	if err := srv.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// The engine uses epoll and is only available on Linux.
package relay
