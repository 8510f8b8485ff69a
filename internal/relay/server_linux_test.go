//go:build linux

package relay

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net"
	"testing"
	"time"
)

// startLoopback creates a listening relay on an ephemeral port forwarding to remote
func startLoopback(t *testing.T, remote string) *Server {
	t.Helper()

	srv, err := NewServer(&Options{
		ListenAddr:  "127.0.0.1:0",
		RemoteAddr:  remote,
		PollTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(srv.shutdown)
	return srv
}

// drive runs loop iterations on the test goroutine until cond holds
func drive(t *testing.T, srv *Server, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out driving the relay")
		}
		if err := srv.poll(10 * time.Millisecond); err != nil {
			t.Fatalf("poll failed: %v", err)
		}
	}
}

func received(ch <-chan []byte, out *[]byte) func() bool {
	return func() bool {
		select {
		case b := <-ch:
			*out = b
			return true
		default:
			return false
		}
	}
}

func readAsync(t *testing.T, conn net.Conn, n int) <-chan []byte {
	t.Helper()

	ch := make(chan []byte, 1)
	go func() {
		buf := make([]byte, n)
		if _, err := io.ReadFull(conn, buf); err != nil {
			t.Errorf("Read failed: %v", err)
			ch <- nil
			return
		}
		ch <- buf
	}()
	return ch
}

func TestLoopback_PingPong(t *testing.T) {
	responder, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start responder: %v", err)
	}
	defer func() { _ = responder.Close() }()

	gotPing := make(chan []byte, 1)
	go func() {
		conn, err := responder.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		buf := make([]byte, 4)
		if _, err := io.ReadFull(conn, buf); err != nil {
			gotPing <- nil
			return
		}
		gotPing <- buf
		_, _ = conn.Write([]byte("PONG"))
	}()

	srv := startLoopback(t, responder.Addr().String())

	client, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = client.Close() }()

	if _, err := client.Write([]byte("PING")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	pong := readAsync(t, client, 4)

	var ping, reply []byte
	drive(t, srv, received(gotPing, &ping))
	drive(t, srv, received(pong, &reply))

	if string(ping) != "PING" {
		t.Errorf("Expected responder to receive 'PING', got: %q", ping)
	}
	if string(reply) != "PONG" {
		t.Errorf("Expected client to receive 'PONG', got: %q", reply)
	}
}

func TestLoopback_ByteTransparency(t *testing.T) {
	echo, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start echo server: %v", err)
	}
	defer func() { _ = echo.Close() }()

	go func() {
		conn, err := echo.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		_, _ = io.Copy(conn, conn)
	}()

	srv := startLoopback(t, echo.Addr().String())

	payload := make([]byte, 1<<20)
	if _, err := rand.Read(payload); err != nil {
		t.Fatalf("Failed to generate payload: %v", err)
	}

	client, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = client.Close() }()

	go func() {
		if _, err := client.Write(payload); err != nil {
			t.Errorf("Write failed: %v", err)
		}
	}()
	echoed := readAsync(t, client, len(payload))

	var got []byte
	drive(t, srv, received(echoed, &got))

	if !bytes.Equal(got, payload) {
		t.Error("Expected echoed bytes to match the payload exactly")
	}
	stats := srv.Stats()
	if stats.BytesUpstream != int64(len(payload)) || stats.BytesDownstream != int64(len(payload)) {
		t.Errorf("Expected %d bytes each way, got: %d %d", len(payload), stats.BytesUpstream, stats.BytesDownstream)
	}
}

func TestLoopback_AbruptDisconnect(t *testing.T) {
	remote, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start remote: %v", err)
	}
	defer func() { _ = remote.Close() }()

	remoteDone := make(chan error, 1)
	go func() {
		conn, err := remote.Accept()
		if err != nil {
			remoteDone <- err
			return
		}
		defer func() { _ = conn.Close() }()
		_, err = io.Copy(io.Discard, conn)
		remoteDone <- err
	}()

	srv := startLoopback(t, remote.Addr().String())

	client, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	drive(t, srv, func() bool { return srv.registry.len() == 1 })

	if _, err := client.Write([]byte("partial")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	// Reset instead of an orderly close
	if err := client.(*net.TCPConn).SetLinger(0); err != nil {
		t.Fatalf("SetLinger failed: %v", err)
	}
	_ = client.Close()

	drive(t, srv, func() bool { return srv.registry.len() == 0 })

	select {
	case <-remoteDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected the outbound connection to be closed")
	}

	stats := srv.Stats()
	if stats.Closed != 1 || stats.Active != 0 {
		t.Errorf("Expected 1 closed and 0 active, got: %+v", stats)
	}
}

func TestLoopback_ConnectRefused(t *testing.T) {
	// Reserve a port and release it so nothing listens there
	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	deadAddr := reserved.Addr().String()
	_ = reserved.Close()

	srv := startLoopback(t, deadAddr)

	for i := 1; i <= 2; i++ {
		client, err := net.Dial("tcp", srv.Addr())
		if err != nil {
			t.Fatalf("Dial %d failed: %v", i, err)
		}

		drive(t, srv, func() bool { return srv.Stats().ConnectFailures == int64(i) })

		_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, err := client.Read(make([]byte, 1)); err == nil {
			t.Error("Expected the client connection to be closed")
		}
		_ = client.Close()
	}

	if srv.registry.len() != 0 || len(srv.dials) != 0 {
		t.Error("Expected no residual entries after refused connects")
	}
	if srv.Stats().Accepted != 2 {
		t.Errorf("Expected the listener to keep accepting, got: %d", srv.Stats().Accepted)
	}
}

func TestLoopback_Serve(t *testing.T) {
	echo, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start echo server: %v", err)
	}
	defer func() { _ = echo.Close() }()

	go func() {
		conn, err := echo.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		_, _ = io.Copy(conn, conn)
	}()

	srv, err := NewServer(&Options{
		ListenAddr:  "127.0.0.1:0",
		RemoteAddr:  echo.Addr().String(),
		PollTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	client, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = client.Close() }()

	_ = client.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("Expected 'hello', got: %q", buf)
	}
	if !srv.Ready() {
		t.Error("Expected server to be ready while serving")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil error after cancel, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if _, err := net.DialTimeout("tcp", srv.Addr(), time.Second); err == nil {
		t.Error("Expected listener closed after Serve returned")
	}
}

func TestListen_AddressInUse(t *testing.T) {
	first := startLoopback(t, "127.0.0.1:9")

	srv, err := NewServer(&Options{ListenAddr: first.Addr(), RemoteAddr: "127.0.0.1:9"})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Listen(); err == nil {
		t.Error("Expected listen on a bound address to fail")
	}
}

func TestResolveSockaddr(t *testing.T) {
	tests := []struct {
		address  string
		expected string
	}{
		{"127.0.0.1:8080", "127.0.0.1:8080"},
		{"[::1]:443", "[::1]:443"},
		{":0", "[::]:0"},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			sa, _, err := resolveSockaddr(tt.address)
			if err != nil {
				t.Fatalf("resolveSockaddr failed: %v", err)
			}
			if got := sockaddrString(sa); got != tt.expected {
				t.Errorf("Expected %s, got: %s", tt.expected, got)
			}
		})
	}

	if _, _, err := resolveSockaddr("no-port"); err == nil {
		t.Error("Expected error for address without port")
	}
}
