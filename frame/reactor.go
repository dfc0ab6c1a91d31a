// Package frame provides the reactor/actor substrate.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package frame

import (
	"sync"
	"time"

	"github.com/solidoss/solidframe/cmn/atomic"
	"github.com/solidoss/solidframe/cmn/cos"
	"github.com/solidoss/solidframe/cmn/debug"
	"github.com/solidoss/solidframe/cmn/mono"
	"github.com/solidoss/solidframe/cmn/nlog"
)

// Actor is an event-driven unit scheduled on exactly one reactor; all its
// OnEvent invocations execute on that reactor's thread.
type Actor interface {
	OnEvent(ctx *ReactorContext, ev Event)
}

type actorState uint8

const (
	actorFree actorState = iota
	actorActive
	actorStopping
)

type (
	execEvent struct {
		fn func(*ReactorContext, Event)
		ev Event
	}
	actorStub struct {
		actor      Actor
		finalizer  func(*ReactorContext, Event)
		events     []Event
		finalEvent Event
		unique     uint32
		state      actorState
		queued     bool
		ntimers    int
	}

	// Reactor drives a set of actors on a single goroutine, over three
	// event sources: posted events, expired timers, and cross-thread
	// notifications.
	Reactor struct {
		mu     sync.Mutex
		wakeCh chan struct{}
		stopCh *cos.StopCh
		actors []*actorStub
		cache  []uint64 // free slots, LIFO
		runq   []uint64
		timers timerHeap // loop-thread only
		nact   atomic.Int64
		ord    uint64
	}
)

const eventExec EventKind = 0xff // internal: posted closure

func newReactor(ord uint64) *Reactor {
	return &Reactor{
		ord:    ord,
		wakeCh: make(chan struct{}, 1),
		stopCh: cos.NewStopCh(),
	}
}

func (r *Reactor) wake() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

// StartActor registers the actor with this reactor and posts the start
// event; the returned id stays valid until the actor retires.
func (r *Reactor) StartActor(actor Actor, startEvent Event) ActorId {
	r.mu.Lock()
	var slot uint64
	if l := len(r.cache); l > 0 {
		slot = r.cache[l-1]
		r.cache = r.cache[:l-1]
	} else {
		slot = uint64(len(r.actors))
		r.actors = append(r.actors, &actorStub{})
	}
	stub := r.actors[slot]
	stub.actor = actor
	stub.state = actorActive
	stub.events = append(stub.events, startEvent)
	stub.queued = true
	r.runq = append(r.runq, slot)
	id := ActorId{Index: packActorIndex(r.ord, slot), Unique: stub.unique}
	r.mu.Unlock()

	r.nact.Inc()
	r.wake()
	return id
}

// Notify enqueues an event toward an actor; false iff the actor retired or
// was never registered. Safe from any thread, including another reactor.
func (r *Reactor) Notify(id ActorId, ev Event) bool {
	_, slot := unpackActorIndex(id.Index)
	r.mu.Lock()
	if slot >= uint64(len(r.actors)) {
		r.mu.Unlock()
		return false
	}
	stub := r.actors[slot]
	if stub.state == actorFree || stub.unique != id.Unique {
		r.mu.Unlock()
		return false
	}
	stub.events = append(stub.events, ev)
	if !stub.queued {
		stub.queued = true
		r.runq = append(r.runq, slot)
	}
	r.mu.Unlock()
	r.wake()
	return true
}

func (r *Reactor) stop() { r.stopCh.Close(); r.wake() }

// run is the cooperative loop: drain posted work, fire expired timers,
// block until the earlier of (next deadline, external wake).
func (r *Reactor) run() error {
	tmr := time.NewTimer(time.Hour)
	defer tmr.Stop()
	for {
		r.drain()
		r.fireTimers()

		if r.stopCh.Stopped() {
			if n := r.nact.Load(); n > 0 {
				nlog.Warningf("reactor[%d]: stopping with %d actor%s still registered", r.ord, n, cos.Plural(int(n)))
			}
			return nil
		}

		wait := r.timers.untilNext()
		if wait == 0 {
			continue
		}
		if wait > 0 {
			if !tmr.Stop() {
				select {
				case <-tmr.C:
				default:
				}
			}
			tmr.Reset(wait)
			select {
			case <-r.wakeCh:
			case <-tmr.C:
			case <-r.stopCh.Listen():
			}
		} else {
			select {
			case <-r.wakeCh:
			case <-r.stopCh.Listen():
			}
		}
	}
}

// drain processes queued actors one batch at a time, FIFO per actor.
func (r *Reactor) drain() {
	for {
		r.mu.Lock()
		if len(r.runq) == 0 {
			r.mu.Unlock()
			return
		}
		slot := r.runq[0]
		r.runq = r.runq[1:]
		stub := r.actors[slot]
		debug.Assert(stub.queued)
		evs := stub.events
		stub.events = nil
		stub.queued = false
		actor, unique := stub.actor, stub.unique
		r.mu.Unlock()

		ctx := ReactorContext{r: r, slot: slot, unique: unique, now: mono.NanoTime()}
		for i := range evs {
			if ee, ok := evs[i].Any.(execEvent); ok && evs[i].Kind == eventExec {
				ee.fn(&ctx, ee.ev)
			} else {
				actor.OnEvent(&ctx, evs[i])
			}
			ctx.err = nil
		}
		r.maybeRetire(slot, stub)
	}
}

// maybeRetire frees the slot of a stopping actor once its queue is empty;
// live timers get a Clear delivery first, then the finalizer runs.
func (r *Reactor) maybeRetire(slot uint64, stub *actorStub) {
	r.mu.Lock()
	if stub.state != actorStopping || stub.queued {
		r.mu.Unlock()
		return
	}
	finalizer, finalEvent := stub.finalizer, stub.finalEvent
	unique := stub.unique
	stub.state = actorFree // no deliveries past this point
	stub.unique++
	stub.actor = nil
	stub.finalizer = nil
	r.cache = append(r.cache, slot)
	r.mu.Unlock()

	ctx := ReactorContext{r: r, slot: slot, unique: unique, now: mono.NanoTime()}
	if stub.ntimers > 0 {
		r.timers.clearActor(&ctx, slot, unique)
		stub.ntimers = 0
	}
	if finalizer != nil {
		finalizer(&ctx, finalEvent)
	}
	r.nact.Dec()
}

func (r *Reactor) fireTimers() {
	now := mono.NanoTime()
	for {
		t := r.timers.popExpired(now)
		if t == nil {
			return
		}
		r.mu.Lock()
		stub := r.actors[t.slot]
		stale := stub.state == actorFree || stub.unique != t.unique
		r.mu.Unlock()
		if stale {
			continue
		}
		stub.ntimers--
		ctx := ReactorContext{r: r, slot: t.slot, unique: t.unique, now: now}
		t.fn(&ctx)
	}
}
