// Package tpool provides a fixed-size worker pool fed by a bounded ring of
// task slots.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package tpool

import (
	"sync"

	"github.com/solidoss/solidframe/cmn/atomic"
	"github.com/solidoss/solidframe/cmn/debug"
)

// SynchContext serializes its tasks: they run in submission order, one at a
// time, on whichever worker acquires the context - never pinned to a thread.
// The handle is reference-counted; Close releases the owner's reference,
// in-flight tasks still complete.
type SynchContext[T, M any] struct {
	p      *Pool[T, M]
	q      []T
	mu     sync.Mutex
	locked bool // a worker currently owns the context
	refs   atomic.Int64
	closed atomic.Bool
}

// NewSynchronizationContext returns an owning handle.
func (p *Pool[T, M]) NewSynchronizationContext() *SynchContext[T, M] {
	c := &SynchContext[T, M]{p: p}
	c.refs.Inc() // the owner's reference
	return c
}

// Push schedules a task to run exclusively with respect to all other tasks
// of this context, in Push order.
func (c *SynchContext[T, M]) Push(task T) error {
	if c.closed.Load() {
		return ErrStopped
	}
	p := c.p
	if p.stopped.Load() {
		return ErrStopped
	}
	c.refs.Inc()
	c.mu.Lock()
	c.q = append(c.q, task)
	c.mu.Unlock()

	p.numSynch.Inc()
	p.inflight.Inc()
	var zero T
	if err := p.push(kindSynch, zero, c); err != nil {
		c.release()
		return err
	}
	return nil
}

func (c *SynchContext[T, M]) Close() {
	if c.closed.CAS(false, true) {
		c.release()
	}
}

func (c *SynchContext[T, M]) release() {
	n := c.refs.Dec()
	debug.Assert(n >= 0)
}

// exec is invoked by the worker that popped this context's ring token.
// First acquire wins and drains the mailbox; losers park their task there -
// it is already queued, so they simply back off.
func (c *SynchContext[T, M]) exec(w *worker[T, M]) {
	p := c.p
	c.mu.Lock()
	if c.locked || len(c.q) == 0 {
		c.mu.Unlock()
		p.inflight.Dec()
		c.release()
		return
	}
	c.locked = true
	for len(c.q) > 0 {
		task := c.q[0]
		c.q = c.q[1:]
		c.mu.Unlock()
		p.taskFn(w.wix, task)
		c.mu.Lock()
	}
	c.locked = false
	c.mu.Unlock()
	p.inflight.Dec()
	c.release()
}
