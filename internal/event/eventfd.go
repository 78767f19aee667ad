package event

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// EventFD is the stop-signalling descriptor shared between the
// orchestrator and every worker. Each worker registers it on its poller as
// a sentinel flow; a single Signal wakes them all.
type EventFD struct {
	fd int
}

// NewEventFD creates a nonblocking eventfd.
func NewEventFD() (*EventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &EventFD{fd: fd}, nil
}

// FD returns the raw descriptor for poller registration.
func (e *EventFD) FD() int {
	return e.fd
}

// Signal wakes every poller the descriptor is registered with.
func (e *EventFD) Signal() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(e.fd, buf[:]); err != nil {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

// Drain consumes the pending counter so the descriptor can be reused.
func (e *EventFD) Drain() error {
	var buf [8]byte
	_, err := unix.Read(e.fd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// Close releases the descriptor.
func (e *EventFD) Close() error {
	if e.fd < 0 {
		return nil
	}
	err := unix.Close(e.fd)
	e.fd = -1
	return err
}
