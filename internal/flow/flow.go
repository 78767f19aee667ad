// Package flow tracks per-connection state for the worker event loops.
package flow

import "time"

// Role says which side of the benchmark a flow belongs to.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Flow is one application-level connection tracked by the event loop.
// A sentinel flow (Index < 0) stands in for the stop eventfd.
type Flow struct {
	FD     int
	Index  int
	Thread int
	Role   Role

	// Pending is the byte count outstanding for the current
	// request/response exchange. LastSend stamps the most recent request
	// so the response completion can be timed.
	Pending  int
	LastSend time.Time

	// Context is opaque script-side state attached to this flow.
	Context any
}

// Sentinel wraps the stop eventfd as a pseudo-flow so the event loop
// needs no special casing in its lookup path.
func Sentinel(fd int) *Flow {
	return &Flow{FD: fd, Index: -1}
}

// Table maps descriptors to flows for one worker. Epoll payloads carry
// only the fd, so each worker resolves readiness events here.
type Table struct {
	flows map[int]*Flow
}

// NewTable creates an empty flow table.
func NewTable() *Table {
	return &Table{flows: make(map[int]*Flow)}
}

// Add tracks a flow under its descriptor.
func (t *Table) Add(f *Flow) {
	t.flows[f.FD] = f
}

// Lookup resolves a descriptor to its flow, nil if untracked.
func (t *Table) Lookup(fd int) *Flow {
	return t.flows[fd]
}

// Remove stops tracking fd and returns the flow that was there.
func (t *Table) Remove(fd int) *Flow {
	f := t.flows[fd]
	delete(t.flows, fd)
	return f
}

// Len reports the number of tracked flows, sentinel included.
func (t *Table) Len() int {
	return len(t.flows)
}

// Each calls fn for every tracked flow.
func (t *Table) Each(fn func(*Flow)) {
	for _, f := range t.flows {
		fn(f)
	}
}
