//go:build linux

package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"

	"golang.org/x/sys/unix"
)

const socketFlags = unix.SOCK_STREAM | unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC

// fdSocket is a non-blocking TCP socket owned by the dispatch loop
type fdSocket struct {
	fd     int
	remote string
	closed bool
}

func (s *fdSocket) FD() int {
	return s.fd
}

func (s *fdSocket) RemoteAddr() string {
	return s.remote
}

func (s *fdSocket) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrSocketClosed
	}
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("read", err)
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

func (s *fdSocket) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrSocketClosed
	}
	for {
		n, err := unix.SendmsgN(s.fd, p, nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("sendmsg", err)
		}
		return n, nil
	}
}

func (s *fdSocket) Close() error {
	if s.closed {
		return ErrSocketClosed
	}
	s.closed = true
	return os.NewSyscallError("close", unix.Close(s.fd))
}

// ConnectError reads SO_ERROR once an asynchronous connect has signaled readiness
func (s *fdSocket) ConnectError() error {
	code, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if code != 0 {
		return os.NewSyscallError("connect", unix.Errno(code))
	}
	return nil
}

// tcpListener is a non-blocking listening socket
type tcpListener struct {
	fd     int
	addr   string
	closed bool
}

// listenTCP binds address with SO_REUSEADDR and the given backlog
func listenTCP(address string, backlog int) (Listener, error) {
	sa, family, err := resolveSockaddr(address)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, socketFlags, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("getsockname", err)
	}

	return &tcpListener{fd: fd, addr: sockaddrString(bound)}, nil
}

func (l *tcpListener) FD() int {
	return l.fd
}

func (l *tcpListener) Addr() string {
	return l.addr
}

func (l *tcpListener) Accept() (Socket, error) {
	if l.closed {
		return nil, ErrSocketClosed
	}
	for {
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil, ErrWouldBlock
		case err != nil:
			return nil, os.NewSyscallError("accept4", err)
		}
		// Nagle only delays small relayed writes
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		return &fdSocket{fd: fd, remote: sockaddrString(sa)}, nil
	}
}

func (l *tcpListener) Close() error {
	if l.closed {
		return ErrSocketClosed
	}
	l.closed = true
	return os.NewSyscallError("close", unix.Close(l.fd))
}

// newDialer resolves remote once and returns a Dialer issuing non-blocking connects to it
func newDialer(remote string) (Dialer, error) {
	sa, family, err := resolveSockaddr(remote)
	if err != nil {
		return nil, err
	}
	addr := sockaddrString(sa)

	return func() (Socket, bool, error) {
		fd, err := unix.Socket(family, socketFlags, unix.IPPROTO_TCP)
		if err != nil {
			return nil, false, os.NewSyscallError("socket", err)
		}
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		sock := &fdSocket{fd: fd, remote: addr}
		err = unix.Connect(fd, sa)
		switch {
		case err == nil:
			return sock, true, nil
		case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR):
			return sock, false, nil
		default:
			_ = unix.Close(fd)
			return nil, false, os.NewSyscallError("connect", err)
		}
	}, nil
}

// resolveSockaddr turns host:port into a socket address. Names are resolved once, here.
func resolveSockaddr(address string) (unix.Sockaddr, int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, 0, err
	}

	ap := tcpAddr.AddrPort()
	ip := ap.Addr().Unmap()
	port := int(ap.Port())

	switch {
	case !ip.IsValid():
		return &unix.SockaddrInet6{Port: port}, unix.AF_INET6, nil
	case ip.Is4():
		return &unix.SockaddrInet4{Port: port, Addr: ip.As4()}, unix.AF_INET, nil
	}

	sa := &unix.SockaddrInet6{Port: port, Addr: ip.As16()}
	if zone := ip.Zone(); zone != "" {
		ifi, err := net.InterfaceByName(zone)
		if err != nil {
			return nil, 0, fmt.Errorf("zone %q: %w", zone, err)
		}
		sa.ZoneId = uint32(ifi.Index)
	}
	return sa, unix.AF_INET6, nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port)).String()
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port)).String()
	default:
		return ""
	}
}
