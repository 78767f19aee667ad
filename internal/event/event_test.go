package event

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestPollerCreateClose(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	// Close is idempotent.
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestEventFDWakesPoller(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	efd, err := NewEventFD()
	if err != nil {
		t.Fatalf("NewEventFD: %v", err)
	}
	defer efd.Close()

	if err := p.Add(efd.FD(), In); err != nil {
		t.Fatalf("Add: %v", err)
	}

	events := make([]unix.EpollEvent, 4)

	// Nothing pending yet.
	n, err := p.Wait(events, 0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no events before signal, got %d", n)
	}

	if err := efd.Signal(); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	n, err = p.Wait(events, 1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event after signal, got %d", n)
	}
	if int(events[0].Fd) != efd.FD() {
		t.Errorf("event fd = %d, want %d", events[0].Fd, efd.FD())
	}
	if events[0].Events&In == 0 {
		t.Errorf("event mask %#x missing input readiness", events[0].Events)
	}
}

func TestEventFDDrain(t *testing.T) {
	efd, err := NewEventFD()
	if err != nil {
		t.Fatalf("NewEventFD: %v", err)
	}
	defer efd.Close()

	if err := efd.Signal(); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if err := efd.Drain(); err != nil {
		t.Errorf("Drain after signal: %v", err)
	}
	// Draining an empty eventfd reports no error (EAGAIN is absorbed).
	if err := efd.Drain(); err != nil {
		t.Errorf("Drain when empty: %v", err)
	}
}

func TestPollerModDel(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	efd, err := NewEventFD()
	if err != nil {
		t.Fatalf("NewEventFD: %v", err)
	}
	defer efd.Close()

	if err := p.Add(efd.FD(), In); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Mod(efd.FD(), In|Out); err != nil {
		t.Errorf("Mod: %v", err)
	}
	if err := p.Del(efd.FD()); err != nil {
		t.Errorf("Del: %v", err)
	}
	if err := p.Del(efd.FD()); err == nil {
		t.Error("Del of unregistered fd should fail")
	}
}
