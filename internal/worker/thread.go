// Package worker drives the per-thread event loops over their share of
// flows and orchestrates worker startup, the measurement window, and the
// cooperative stop.
package worker

import (
	"golang.org/x/sys/unix"

	"github.com/jsitnicki/rushit/internal/event"
	"github.com/jsitnicki/rushit/internal/flow"
	"github.com/jsitnicki/rushit/internal/interfaces"
	"github.com/jsitnicki/rushit/internal/logging"
	"github.com/jsitnicki/rushit/internal/script"
)

// Config carries the options the worker loops need. Shared read-only
// between every thread.
type Config struct {
	Client     bool
	NumFlows   int
	NumThreads int
	MaxEvents  int

	Nonblocking bool
	PinCPU      bool

	BufferSize    int
	RequestSize   int
	ResponseSize  int
	ListenBacklog int
	MaxPacingRate uint32
	Debug         bool

	Host      string
	LocalHost string
	Port      int
	IPv6      bool

	TestLength int
	Interval   float64
}

// PollFunc is the readiness-wait a worker loop calls each iteration. The
// default delegates to the poller; the dummy workload substitutes a fake
// that feeds a canned event sequence first.
type PollFunc func(p *event.Poller, events []unix.EpollEvent, timeoutMs int) (int, error)

// Transport supplies the wire-level pieces a workload variant plugs into
// the common loop. A nil transport (the dummy workload) runs the loops
// without a data plane.
type Transport interface {
	// Socket creates one client data socket.
	Socket(t *Thread) (int, error)

	// Connect sets socket options and starts connecting fd.
	Connect(t *Thread, fd int) error

	// Listener returns a bound, listening server socket.
	Listener(t *Thread) (int, error)

	// Accept takes the next connection off the listener.
	Accept(t *Thread, listenFD int) (int, error)

	// Send writes buf to the flow; Recv reads into buf.
	Send(t *Thread, f *flow.Flow, buf []byte) (int, error)
	Recv(t *Thread, f *flow.Flow, buf []byte) (int, error)
}

// Thread is the per-worker context shared between the orchestrator and
// one worker loop.
type Thread struct {
	Index     int
	Config    *Config
	Ready     *Barrier
	Stop      *event.EventFD
	Slave     *script.Slave
	Log       *logging.Logger
	Observer  interfaces.Observer
	Transport Transport
	Poll      PollFunc

	// stop is the thread-local flag set when the sentinel flow fires.
	stop bool
}

// poll runs the configured poll function, falling back to the real wait.
func (t *Thread) poll(p *event.Poller, events []unix.EpollEvent, timeoutMs int) (int, error) {
	if t.Poll != nil {
		return t.Poll(p, events, timeoutMs)
	}
	return p.Wait(events, timeoutMs)
}

// flowsInThread spreads numFlows across numThreads, giving earlier
// threads the remainder.
func flowsInThread(flows, threads, index int) int {
	n := flows / threads
	if index < flows%threads {
		n++
	}
	return n
}

// pinToCPU binds the calling thread to one CPU, round-robin by worker
// index. Failure is logged and ignored.
func pinToCPU(t *Thread, ncpu int) {
	if ncpu <= 0 {
		return
	}
	var mask unix.CPUSet
	mask.Set(t.Index % ncpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		t.Log.Warnf("thread %d: failed to pin to CPU: %v", t.Index, err)
	}
}
