package persistence

import (
	"context"
	"sync"
	"sync/atomic"
)

// batch is one group of commit requests served by a single write.
type batch struct {
	done chan struct{}
	err  error
}

// Committer implements group commit for one actor.
//
// write must snapshot the actor's state when it is called and persist it.
// Commit returns once a write that started after the call has finished, so
// every mutation made before Commit is durable when it returns nil.
// Requests arriving while a write is in flight share the next write.
type Committer struct {
	write func(ctx context.Context) error

	mu      sync.Mutex
	cond    *sync.Cond
	writing bool
	next    *batch // open batch, nil when none is waiting

	generation atomic.Uint64 // completed writes
	requests   atomic.Uint64
}

// NewCommitter returns a Committer calling write.
func NewCommitter(write func(ctx context.Context) error) *Committer {
	c := &Committer{write: write}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Commit persists the current state, merging with concurrent requests.
func (c *Committer) Commit(ctx context.Context) error {
	c.mu.Lock()
	c.requests.Add(1)
	b := c.next
	leader := b == nil
	if leader {
		b = &batch{done: make(chan struct{})}
		c.next = b
	}
	c.mu.Unlock()

	if !leader {
		select {
		case <-b.done:
			return b.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Wait for the in-flight write; everyone joining meanwhile rides along.
	c.mu.Lock()
	for c.writing {
		c.cond.Wait()
	}
	c.writing = true
	c.next = nil
	c.mu.Unlock()

	// Followers depend on this write, so it must not be cut short by the
	// leader's context.
	err := c.write(context.WithoutCancel(ctx))

	c.mu.Lock()
	c.writing = false
	c.generation.Add(1)
	c.cond.Broadcast()
	c.mu.Unlock()

	b.err = err
	close(b.done)
	return err
}

// Writes returns the number of completed writes.
func (c *Committer) Writes() uint64 {
	return c.generation.Load()
}

// Requests returns the number of Commit calls.
func (c *Committer) Requests() uint64 {
	return c.requests.Load()
}
