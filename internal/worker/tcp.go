package worker

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/jsitnicki/rushit/internal/flow"
	"github.com/jsitnicki/rushit/internal/sockopt"
)

// TCPTransport is the request/response TCP data plane: clients write
// request-size messages and read response-size replies, servers mirror.
type TCPTransport struct{}

func (TCPTransport) domain(cfg *Config) int {
	if cfg.IPv6 {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

func (tr TCPTransport) Socket(t *Thread) (int, error) {
	fd, err := unix.Socket(tr.domain(t.Config), unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	return fd, nil
}

// setDataSockopts applies the per-socket options every data socket gets.
func setDataSockopts(t *Thread, fd int) error {
	cfg := t.Config
	if cfg.Nonblocking {
		if err := sockopt.SetNonblocking(fd); err != nil {
			return err
		}
	}
	if cfg.Debug {
		if err := sockopt.SetDebug(fd); err != nil {
			return err
		}
	}
	if cfg.MaxPacingRate > 0 {
		if err := sockopt.SetMaxPacingRate(fd, cfg.MaxPacingRate); err != nil {
			return err
		}
	}
	return sockopt.SetTCPNoDelay(fd)
}

func (tr TCPTransport) Connect(t *Thread, fd int) error {
	cfg := t.Config
	if err := setDataSockopts(t, fd); err != nil {
		return err
	}
	if cfg.LocalHost != "" {
		local, err := resolveSockaddr(cfg.LocalHost, 0, cfg.IPv6)
		if err != nil {
			return err
		}
		if err := unix.Bind(fd, local); err != nil {
			return fmt.Errorf("bind %s: %w", cfg.LocalHost, err)
		}
	}
	sa, err := resolveSockaddr(cfg.Host, cfg.Port, cfg.IPv6)
	if err != nil {
		return err
	}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (tr TCPTransport) Listener(t *Thread) (int, error) {
	cfg := t.Config
	fd, err := unix.Socket(tr.domain(cfg), unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := sockopt.SetReuseAddr(fd); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	// Every server thread multiplexes the same data port.
	if err := sockopt.SetReusePort(fd); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if cfg.Nonblocking {
		if err := sockopt.SetNonblocking(fd); err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
	}
	sa, err := resolveSockaddr(cfg.LocalHost, cfg.Port, cfg.IPv6)
	if err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("bind port %d: %w", cfg.Port, err)
	}
	if err := unix.Listen(fd, cfg.ListenBacklog); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

func (TCPTransport) Accept(t *Thread, listenFD int) (int, error) {
	flags := unix.SOCK_CLOEXEC
	if t.Config.Nonblocking {
		flags |= unix.SOCK_NONBLOCK
	}
	fd, _, err := unix.Accept4(listenFD, flags)
	if err != nil {
		return -1, err
	}
	if err := sockopt.SetTCPNoDelay(fd); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func (TCPTransport) Send(t *Thread, f *flow.Flow, buf []byte) (int, error) {
	return unix.Write(f.FD, buf)
}

func (TCPTransport) Recv(t *Thread, f *flow.Flow, buf []byte) (int, error) {
	return unix.Read(f.FD, buf)
}

// resolveSockaddr turns host/port into a raw sockaddr. An empty host
// resolves to the wildcard address.
func resolveSockaddr(host string, port int, ipv6 bool) (unix.Sockaddr, error) {
	if ipv6 {
		sa := &unix.SockaddrInet6{Port: port}
		if host != "" {
			ip, err := lookupIP(host, true)
			if err != nil {
				return nil, err
			}
			copy(sa.Addr[:], ip.To16())
		}
		return sa, nil
	}
	sa := &unix.SockaddrInet4{Port: port}
	if host != "" {
		ip, err := lookupIP(host, false)
		if err != nil {
			return nil, err
		}
		copy(sa.Addr[:], ip.To4())
	}
	return sa, nil
}

func lookupIP(host string, ipv6 bool) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range addrs {
		if ipv6 && ip.To4() == nil {
			return ip, nil
		}
		if !ipv6 && ip.To4() != nil {
			return ip, nil
		}
	}
	return nil, fmt.Errorf("resolve %s: no address in the requested family", host)
}
