package worker

import "sync"

// Barrier blocks arriving participants until the configured count has
// arrived, then releases them all together. Reusable across generations.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	count      int
	waiting    int
	generation int
}

// NewBarrier creates a barrier for count participants.
func NewBarrier(count int) *Barrier {
	b := &Barrier{count: count}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until count participants have called Wait.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.generation
	b.waiting++
	if b.waiting == b.count {
		b.waiting = 0
		b.generation++
		b.cond.Broadcast()
		return
	}
	for gen == b.generation {
		b.cond.Wait()
	}
}
