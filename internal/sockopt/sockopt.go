// Package sockopt sets the per-socket options the workloads need and
// reads the kernel limits that constrain them.
package sockopt

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const somaxconnProcfile = "/proc/sys/net/core/somaxconn"

// SetNonblocking flips fd into nonblocking mode.
func SetNonblocking(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set nonblocking fd %d: %w", fd, err)
	}
	return nil
}

// SetDebug enables SO_DEBUG.
func SetDebug(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_DEBUG, 1); err != nil {
		return fmt.Errorf("setsockopt SO_DEBUG: %w", err)
	}
	return nil
}

// SetReuseAddr enables SO_REUSEADDR.
func SetReuseAddr(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	return nil
}

// SetReusePort enables SO_REUSEPORT so every server thread can bind the
// same data port.
func SetReusePort(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fmt.Errorf("setsockopt SO_REUSEPORT: %w", err)
	}
	return nil
}

// SetMaxPacingRate caps the socket's pacing rate. The kernel takes a
// 32-bit value.
func SetMaxPacingRate(fd int, rate uint32) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_MAX_PACING_RATE, int(rate)); err != nil {
		return fmt.Errorf("setsockopt SO_MAX_PACING_RATE: %w", err)
	}
	return nil
}

// SetTCPNoDelay disables Nagle on a TCP data socket.
func SetTCPNoDelay(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("setsockopt TCP_NODELAY: %w", err)
	}
	return nil
}

// Somaxconn reads the system listen backlog ceiling.
func Somaxconn() (int, error) {
	data, err := os.ReadFile(somaxconnProcfile)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", somaxconnProcfile, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", somaxconnProcfile, err)
	}
	return n, nil
}
