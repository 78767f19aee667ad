package worker

import (
	"golang.org/x/sys/unix"

	"github.com/jsitnicki/rushit/internal/event"
)

// The dummy workload exercises the common worker and script paths without
// a data plane: no sockets are opened and readiness is faked for a short
// canned sequence before falling through to the real wait. It doubles as
// a skeleton for new workload variants.

var dummyClientSequence = []uint32{event.Out, event.In, event.Pri}
var dummyServerSequence = []uint32{event.In, event.Out, event.Pri}

// FakePoll returns a poll function that feeds the canned event sequence
// for the role, one event per call, against the dummy flow (fd -1). The
// cursor is local to the returned closure; workloads with a real data
// plane never use this helper.
func FakePoll(client bool) PollFunc {
	seq := dummyServerSequence
	if client {
		seq = dummyClientSequence
	}
	i := 0
	return func(p *event.Poller, events []unix.EpollEvent, timeoutMs int) (int, error) {
		if i < len(seq) {
			events[0] = unix.EpollEvent{Events: seq[i], Fd: -1}
			i++
			return 1, nil
		}
		return p.Wait(events, timeoutMs)
	}
}
