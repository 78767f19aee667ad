// Package event wraps the Linux readiness-notification primitives the
// worker loops are built on: an epoll instance for multiplexing flows and
// an eventfd for the cooperative stop signal.
package event

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Readiness mask bits, aliased so callers don't reach into unix directly.
const (
	In    = uint32(unix.EPOLLIN)
	Out   = uint32(unix.EPOLLOUT)
	Pri   = uint32(unix.EPOLLPRI)
	Err   = uint32(unix.EPOLLERR)
	Hup   = uint32(unix.EPOLLHUP)
	RdHup = uint32(unix.EPOLLRDHUP)
)

// Poller is one epoll instance owned by a single worker.
type Poller struct {
	fd int
}

// NewPoller creates the epoll instance.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Poller{fd: fd}, nil
}

// Add registers fd with the given readiness interest. The event payload
// carries the fd; pointers cannot cross the epoll boundary in Go.
func (p *Poller) Add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	return nil
}

// Mod changes the readiness interest for an already registered fd.
func (p *Poller) Mod(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod fd %d: %w", fd, err)
	}
	return nil
}

// Del removes fd from the interest set.
func (p *Poller) Del(fd int) error {
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks until readiness events arrive or the timeout expires.
// timeoutMs of -1 blocks indefinitely. EINTR is surfaced to the caller;
// the worker loop decides whether to retry.
func (p *Poller) Wait(events []unix.EpollEvent, timeoutMs int) (int, error) {
	return unix.EpollWait(p.fd, events, timeoutMs)
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}
