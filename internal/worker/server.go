package worker

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/jsitnicki/rushit/internal/event"
	"github.com/jsitnicki/rushit/internal/flow"
)

// RunServer is the server worker loop. It starts from a listening socket
// registered for input readiness; readiness on the listener accepts and
// registers the resulting flow, readiness on a data flow dispatches in
// the order input, output, priority.
func RunServer(t *Thread) error {
	cfg := t.Config

	listenFD := -1
	if t.Transport != nil {
		var err error
		listenFD, err = t.Transport.Listener(t)
		if err != nil {
			t.Log.Fatalf("thread %d: %v", t.Index, err)
		}
	}
	if _, err := t.Slave.SocketHook(listenFD); err != nil {
		t.Log.Fatalf("thread %d: %v", t.Index, err)
	}

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

	if t.Transport == nil {
		// No data plane: track one pseudo-flow so faked readiness
		// events still resolve to a flow.
		flows.Add(&flow.Flow{FD: -1, Index: 0, Thread: t.Index, Role: flow.RoleServer})
		t.Observer.ObserveFlowOpen()
	}

	var listener *flow.Flow
	if listenFD >= 0 {
		listener = &flow.Flow{FD: listenFD, Index: -1, Thread: t.Index, Role: flow.RoleServer}
		flows.Add(listener)
		if err := poller.Add(listenFD, event.In); err != nil {
			t.Log.Fatalf("thread %d: %v", t.Index, err)
		}
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
		if err := serverEvents(t, poller, flows, listener, events[:n], buf); err != nil {
			t.Log.Errorf("thread %d: %v", t.Index, err)
			return err
		}
	}

	if listener != nil {
		flows.Remove(listener.FD)
		_ = unix.Close(listener.FD)
	}
	return drainFlows(t, flows, sentinel)
}

func serverEvents(t *Thread, p *event.Poller, flows *flow.Table, listener *flow.Flow, events []unix.EpollEvent, buf []byte) error {
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
		if listener != nil && f == listener {
			if err := serverAccept(t, p, flows, listener); err != nil {
				return err
			}
			continue
		}
		if ev.Events&(event.Hup|event.RdHup) != 0 {
			if err := teardownFlow(t, p, flows, f); err != nil {
				return err
			}
			continue
		}
		switch {
		case ev.Events&event.In != 0:
			if err := serverRecv(t, p, flows, f, buf); err != nil {
				return err
			}
		case ev.Events&event.Out != 0:
			if err := serverSend(t, p, f, buf); err != nil {
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

// serverAccept takes one connection off the listener and registers it for
// input readiness.
func serverAccept(t *Thread, p *event.Poller, flows *flow.Table, listener *flow.Flow) error {
	fd, err := t.Transport.Accept(t, listener.FD)
	if err != nil {
		if err == unix.EAGAIN {
			return nil
		}
		t.Log.Warnf("thread %d: accept: %v", t.Index, err)
		return nil
	}
	if _, err := t.Slave.SocketHook(fd); err != nil {
		_ = unix.Close(fd)
		return err
	}
	f := &flow.Flow{FD: fd, Index: flows.Len(), Thread: t.Index, Role: flow.RoleServer}
	f.Pending = t.Config.RequestSize
	flows.Add(f)
	t.Observer.ObserveFlowOpen()
	return p.Add(fd, event.In|event.RdHup)
}

func serverRecv(t *Thread, p *event.Poller, flows *flow.Table, f *flow.Flow, buf []byte) error {
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
		f.Pending = 0
		return p.Mod(f.FD, event.Out|event.RdHup)
	}
	return nil
}

func serverSend(t *Thread, p *event.Poller, f *flow.Flow, buf []byte) error {
	if _, err := t.Slave.SendmsgHook(f.FD, t.Config.ResponseSize); err != nil {
		return err
	}
	if t.Transport == nil {
		return nil
	}
	n, err := t.Transport.Send(t, f, buf[:t.Config.ResponseSize])
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
	f.Pending = t.Config.RequestSize
	return p.Mod(f.FD, event.In|event.RdHup)
}
