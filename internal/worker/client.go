package worker

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/jsitnicki/rushit/internal/event"
	"github.com/jsitnicki/rushit/internal/flow"
)

// RunClient is the client worker loop: open this thread's share of flows,
// sync on the ready barrier, then dispatch readiness events until the
// stop sentinel fires. Prelude failures are fatal to the process; hook
// errors abort the worker cleanly.
func RunClient(t *Thread) error {
	cfg := t.Config

	poller, err := event.NewPoller()
	if err != nil {
		t.Log.Fatalf("thread %d: %v", t.Index, err)
	}
	defer poller.Close()

	flows := flow.NewTable()
	sentinel := flow.Sentinel(t.Stop.FD())
	flows.Add(sentinel)
	if err := poller.Add(sentinel.FD, event.In); err != nil {
		t.Log.Fatalf("thread %d: %v", t.Index, err)
	}

	for i := 0; i < flowsInThread(cfg.NumFlows, cfg.NumThreads, t.Index); i++ {
		clientConnect(t, poller, flows, i)
	}

	events := make([]unix.EpollEvent, cfg.MaxEvents)
	buf := make([]byte, cfg.BufferSize)

	t.Ready.Wait()

	for !t.stop {
		ms := -1
		if cfg.Nonblocking {
			ms = 10 // milliseconds
		}
		n, err := t.poll(poller, events, ms)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			t.Log.Fatalf("thread %d: epoll_wait: %v", t.Index, err)
		}
		if err := clientEvents(t, poller, flows, events[:n], buf); err != nil {
			t.Log.Errorf("thread %d: %v", t.Index, err)
			return err
		}
	}

	return drainFlows(t, flows, sentinel)
}

// clientConnect opens one data socket, runs the socket hook between
// creation and option setup, connects, and registers output interest.
func clientConnect(t *Thread, p *event.Poller, flows *flow.Table, i int) {
	fd := -1
	if t.Transport != nil {
		var err error
		fd, err = t.Transport.Socket(t)
		if err != nil {
			t.Log.Fatalf("thread %d: %v", t.Index, err)
		}
	}

	if _, err := t.Slave.SocketHook(fd); err != nil {
		t.Log.Fatalf("thread %d: %v", t.Index, err)
	}

	if t.Transport != nil {
		if err := t.Transport.Connect(t, fd); err != nil {
			t.Log.Fatalf("thread %d: %v", t.Index, err)
		}
	}

	f := &flow.Flow{FD: fd, Index: i, Thread: t.Index, Role: flow.RoleClient}
	flows.Add(f)
	t.Observer.ObserveFlowOpen()

	if fd >= 0 {
		if err := p.Add(fd, event.Out|event.RdHup); err != nil {
			t.Log.Fatalf("thread %d: %v", t.Index, err)
		}
	}
}

// clientEvents dispatches one batch of readiness events. Within one event
// only the first matching branch runs: output, then input, then priority.
func clientEvents(t *Thread, p *event.Poller, flows *flow.Table, events []unix.EpollEvent, buf []byte) error {
	for i := range events {
		ev := &events[i]
		f := flows.Lookup(int(ev.Fd))
		if f == nil {
			continue
		}
		if f.FD == t.Stop.FD() {
			t.stop = true
			break
		}
		if ev.Events&(event.Hup|event.RdHup) != 0 {
			if err := teardownFlow(t, p, flows, f); err != nil {
				return err
			}
			continue
		}
		switch {
		case ev.Events&event.Out != 0:
			if err := clientSend(t, p, f, buf); err != nil {
				return err
			}
		case ev.Events&event.In != 0:
			if err := clientRecv(t, p, flows, f, buf); err != nil {
				return err
			}
		case ev.Events&event.Pri != 0:
			if _, err := t.Slave.RecverrHook(f.FD, len(buf)); err != nil {
				return err
			}
			t.Observer.ObserveRecvErr()
		}
	}
	return nil
}

func clientSend(t *Thread, p *event.Poller, f *flow.Flow, buf []byte) error {
	if _, err := t.Slave.SendmsgHook(f.FD, t.Config.RequestSize); err != nil {
		return err
	}
	if t.Transport == nil {
		return nil
	}
	n, err := t.Transport.Send(t, f, buf[:t.Config.RequestSize])
	if err != nil {
		if err == unix.EAGAIN {
			return nil
		}
		t.Observer.ObserveSend(0, false)
		t.Log.Warnf("thread %d: flow %d: send: %v", t.Index, f.Index, err)
		return nil
	}
	t.Observer.ObserveSend(uint64(n), true)
	f.LastSend = time.Now()
	f.Pending = t.Config.ResponseSize
	return p.Mod(f.FD, event.In|event.RdHup)
}

func clientRecv(t *Thread, p *event.Poller, flows *flow.Table, f *flow.Flow, buf []byte) error {
	if _, err := t.Slave.RecvmsgHook(f.FD, len(buf)); err != nil {
		return err
	}
	if t.Transport == nil {
		return nil
	}
	n, err := t.Transport.Recv(t, f, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil
		}
		t.Observer.ObserveRecv(0, false)
		return teardownFlow(t, p, flows, f)
	}
	if n == 0 {
		return teardownFlow(t, p, flows, f)
	}
	t.Observer.ObserveRecv(uint64(n), true)
	f.Pending -= n
	if f.Pending <= 0 {
		t.Observer.ObserveTransaction(uint64(time.Since(f.LastSend)))
		f.Pending = 0
		return p.Mod(f.FD, event.Out|event.RdHup)
	}
	return nil
}

// teardownFlow runs the close hook and releases the flow's descriptor.
func teardownFlow(t *Thread, p *event.Poller, flows *flow.Table, f *flow.Flow) error {
	_, err := t.Slave.CloseHook(f.FD)
	flows.Remove(f.FD)
	if f.FD >= 0 {
		_ = p.Del(f.FD)
		_ = unix.Close(f.FD)
	}
	t.Observer.ObserveFlowClose()
	return err
}

// drainFlows closes every data flow left after the loop exits, running
// the close hook per flow.
func drainFlows(t *Thread, flows *flow.Table, sentinel *flow.Flow) error {
	var firstErr error
	flows.Each(func(f *flow.Flow) {
		if f == sentinel {
			return
		}
		if _, err := t.Slave.CloseHook(f.FD); err != nil && firstErr == nil {
			firstErr = err
		}
		if f.FD >= 0 {
			_ = unix.Close(f.FD)
		}
		t.Observer.ObserveFlowClose()
	})
	return firstErr
}
