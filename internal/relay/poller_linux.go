//go:build linux

package relay

import (
	"encoding/binary"
	"errors"
	"os"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// epoll is a level-triggered Poller with an eventfd used to interrupt Wait
type epoll struct {
	fd   int
	wake int
	buf  []unix.EpollEvent
}

func newPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	wake, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("eventfd", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wake)}
	if err := unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, wake, &ev); err != nil {
		_ = unix.Close(wake)
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("epoll_ctl", err)
	}

	return &epoll{fd: fd, wake: wake}, nil
}

func epollEvents(in Interest) uint32 {
	var events uint32
	if in&Readable != 0 {
		events |= unix.EPOLLIN
	}
	if in&Writable != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func (e *epoll) ctl(op, fd int, in Interest) error {
	ev := unix.EpollEvent{Events: epollEvents(in), Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, op, fd, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

func (e *epoll) Add(fd int, in Interest) error {
	return e.ctl(unix.EPOLL_CTL_ADD, fd, in)
}

func (e *epoll) Modify(fd int, in Interest) error {
	return e.ctl(unix.EPOLL_CTL_MOD, fd, in)
}

func (e *epoll) Remove(fd int) error {
	return e.ctl(unix.EPOLL_CTL_DEL, fd, 0)
}

func (e *epoll) Wait(events []Event, timeout time.Duration) (int, error) {
	if len(e.buf) < len(events) {
		e.buf = make([]unix.EpollEvent, len(events))
	}

	msec := -1
	if timeout >= 0 {
		msec = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}

	n, err := unix.EpollWait(e.fd, e.buf[:len(events)], msec)
	if errors.Is(err, unix.EINTR) {
		return 0, nil
	}
	if err != nil {
		return 0, os.NewSyscallError("epoll_wait", err)
	}

	count := 0
	for _, raw := range e.buf[:n] {
		if int(raw.Fd) == e.wake {
			e.drainWake()
			continue
		}
		events[count] = Event{
			FD:       int(raw.Fd),
			Readable: raw.Events&unix.EPOLLIN != 0,
			Writable: raw.Events&unix.EPOLLOUT != 0,
			Hangup:   raw.Events&unix.EPOLLHUP != 0,
			Err:      raw.Events&unix.EPOLLERR != 0,
		}
		count++
	}
	return count, nil
}

func (e *epoll) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(e.wake, buf[:])
}

func (e *epoll) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(e.wake, buf[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return os.NewSyscallError("write", err)
	}
	return nil
}

func (e *epoll) Close() error {
	return multierr.Combine(
		os.NewSyscallError("close", unix.Close(e.wake)),
		os.NewSyscallError("close", unix.Close(e.fd)),
	)
}
