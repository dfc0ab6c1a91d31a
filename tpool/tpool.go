// Package tpool provides a fixed-size worker pool fed by a bounded ring of
// task slots, with unicast, broadcast, and serialized (synchronization
// context) submission modes.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package tpool

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/solidoss/solidframe/cmn/atomic"
	"github.com/solidoss/solidframe/cmn/debug"
	"github.com/solidoss/solidframe/cmn/nlog"
	"github.com/solidoss/solidframe/sys"
)

var ErrStopped = errors.New("thread pool stopped")

type slotState uint32

const (
	slotEmpty slotState = iota
	slotPushing
	slotFilled
	slotStopping
)

type slotKind uint8

const (
	kindTask slotKind = iota
	kindSynch
)

type (
	slot[T, M any] struct {
		cond  *sync.Cond
		sctx  *SynchContext[T, M]
		task  T
		mu    sync.Mutex
		state slotState
		kind  slotKind
	}
	worker[T, M any] struct {
		p      *Pool[T, M]
		wait   atomic.Pointer // *slot[T, M] currently blocked on, nil otherwise
		mq     []M            // broadcast mailbox, FIFO
		mu     sync.Mutex
		nmcast atomic.Int64
		wix    int
	}

	// Pool runs tasks and broadcasts across a fixed worker set. Producers
	// block only when their fetched-and-incremented slot is not Empty;
	// consumers only when their slot is not Filled.
	Pool[T, M any] struct {
		taskFn   func(int, T)
		mcastFn  func(int, M)
		onStart  func(int)
		onStop   func(int)
		slots    []slot[T, M]
		workers  []*worker[T, M]
		wg       sync.WaitGroup
		mcastMu  sync.Mutex
		capacity uint64
		pushIdx  atomic.Uint64
		popIdx   atomic.Uint64
		inflight atomic.Int64
		stopped  atomic.Bool

		// statistics
		numOne   atomic.Int64
		numAll   atomic.Int64
		numSynch atomic.Int64
	}
	Config struct {
		Workers  int // 0: sys.NumCPU()
		Capacity int // task-slot ring size; must be >= Workers
		OnStart  func(wix int)
		OnStop   func(wix int)
	}
)

// New starts the pool; taskFn handles unicast tasks, mcastFn broadcasts.
func New[T, M any](cfg Config, taskFn func(wix int, task T), mcastFn func(wix int, m M)) *Pool[T, M] {
	if cfg.Workers <= 0 {
		cfg.Workers = sys.NumCPU()
	}
	if cfg.Capacity < cfg.Workers {
		cfg.Capacity = cfg.Workers * 64
	}
	p := &Pool[T, M]{
		taskFn:   taskFn,
		mcastFn:  mcastFn,
		onStart:  cfg.OnStart,
		onStop:   cfg.OnStop,
		slots:    make([]slot[T, M], cfg.Capacity),
		capacity: uint64(cfg.Capacity),
	}
	for i := range p.slots {
		p.slots[i].cond = sync.NewCond(&p.slots[i].mu)
	}
	p.workers = make([]*worker[T, M], cfg.Workers)
	for i := range p.workers {
		w := &worker[T, M]{p: p, wix: i}
		p.workers[i] = w
		p.wg.Add(1)
		go w.loop()
	}
	return p
}

func (p *Pool[T, M]) Size() int { return len(p.workers) }

// PushOne enqueues a unicast task; blocks when the ring is at capacity.
func (p *Pool[T, M]) PushOne(task T) error {
	if p.stopped.Load() {
		return ErrStopped
	}
	p.inflight.Inc()
	p.numOne.Inc()
	return p.push(kindTask, task, nil)
}

// TryPushOne is the non-blocking variant: false when the ring is full or
// the pool stopped.
func (p *Pool[T, M]) TryPushOne(task T) bool {
	if p.stopped.Load() {
		return false
	}
	if p.inflight.Load() >= int64(p.capacity) {
		return false
	}
	p.inflight.Inc()
	p.numOne.Inc()
	return p.push(kindTask, task, nil) == nil
}

func (p *Pool[T, M]) push(kind slotKind, task T, sctx *SynchContext[T, M]) error {
	i := p.pushIdx.Inc() - 1
	s := &p.slots[i%p.capacity]
	s.mu.Lock()
	for s.state != slotEmpty {
		if s.state == slotStopping {
			s.mu.Unlock()
			p.inflight.Dec()
			return ErrStopped
		}
		s.cond.Wait()
	}
	s.state = slotPushing
	s.kind = kind
	s.task = task
	s.sctx = sctx
	s.state = slotFilled
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// PushAll enqueues a broadcast: every worker executes mcastFn(m) exactly
// once, and all workers observe broadcasts in the same (submission) order.
func (p *Pool[T, M]) PushAll(m M) error {
	if p.stopped.Load() {
		return ErrStopped
	}
	p.numAll.Inc()
	p.mcastMu.Lock()
	for _, w := range p.workers {
		w.mu.Lock()
		w.mq = append(w.mq, m)
		w.nmcast.Inc()
		w.mu.Unlock()
	}
	p.mcastMu.Unlock()
	// wake the sleepers
	for _, w := range p.workers {
		if v := w.wait.Load(); v != nil {
			s := (*slot[T, M])(v)
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		}
	}
	return nil
}

// Stop lets queued work drain, then joins the workers. Subsequent
// submissions fail with ErrStopped.
func (p *Pool[T, M]) Stop() {
	if !p.stopped.CAS(false, true) {
		return
	}
	// one stop marker per worker, ordered after everything already pushed
	for range p.workers {
		i := p.pushIdx.Inc() - 1
		s := &p.slots[i%p.capacity]
		s.mu.Lock()
		for s.state != slotEmpty {
			s.cond.Wait()
		}
		s.state = slotStopping
		s.cond.Broadcast()
		s.mu.Unlock()
	}
	p.wg.Wait()
	if n := p.inflight.Load(); n != 0 {
		nlog.Warningf("tpool: stopped with %d task(s) in flight", n)
	}
}

func (p *Pool[T, M]) Statistic() string {
	return fmt.Sprintf("tpool[workers=%d cap=%d one=%d all=%d synch=%d inflight=%d]",
		len(p.workers), p.capacity, p.numOne.Load(), p.numAll.Load(), p.numSynch.Load(), p.inflight.Load())
}

//
// worker
//

func (w *worker[T, M]) loop() {
	p := w.p
	defer p.wg.Done()
	if p.onStart != nil {
		p.onStart(w.wix)
	}
	defer func() {
		if p.onStop != nil {
			p.onStop(w.wix)
		}
	}()
	for {
		w.runMcasts()

		i := p.popIdx.Inc() - 1
		s := &p.slots[i%p.capacity]
		s.mu.Lock()
		w.wait.Store(pslot(s))
		for s.state != slotFilled && s.state != slotStopping {
			if w.nmcast.Load() > 0 {
				s.mu.Unlock()
				w.runMcasts()
				s.mu.Lock()
				continue
			}
			s.cond.Wait()
		}
		w.wait.Store(nil)
		if s.state == slotStopping {
			s.mu.Unlock()
			w.runMcasts() // final drain
			return
		}
		kind, task, sctx := s.kind, s.task, s.sctx
		var zero T
		s.task = zero
		s.sctx = nil
		s.state = slotEmpty
		s.cond.Broadcast()
		s.mu.Unlock()

		switch kind {
		case kindTask:
			p.taskFn(w.wix, task)
			p.inflight.Dec()
		case kindSynch:
			debug.Assert(sctx != nil)
			sctx.exec(w)
		}
	}
}

func pslot[T, M any](s *slot[T, M]) unsafe.Pointer { return unsafe.Pointer(s) }

func (w *worker[T, M]) runMcasts() {
	for {
		w.mu.Lock()
		if len(w.mq) == 0 {
			w.mu.Unlock()
			return
		}
		m := w.mq[0]
		w.mq = w.mq[1:]
		w.nmcast.Dec()
		w.mu.Unlock()
		w.p.mcastFn(w.wix, m)
	}
}
