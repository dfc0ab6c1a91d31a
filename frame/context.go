// Package frame provides the reactor/actor substrate.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package frame

// ReactorContext is threaded through every callback; it carries the current
// time, a clearable error slot, and back-references to the owning actor and
// reactor. Contexts are stack-scoped - callbacks must not retain them.
type ReactorContext struct {
	r      *Reactor
	err    error
	now    int64
	slot   uint64
	unique uint32
}

func (ctx *ReactorContext) Reactor() *Reactor { return ctx.r }
func (ctx *ReactorContext) NanoTime() int64   { return ctx.now }

func (ctx *ReactorContext) ActorId() ActorId {
	return ActorId{Index: packActorIndex(ctx.r.ord, ctx.slot), Unique: ctx.unique}
}

func (ctx *ReactorContext) Error() error       { return ctx.err }
func (ctx *ReactorContext) SetError(err error) { ctx.err = err }
func (ctx *ReactorContext) ClearError()        { ctx.err = nil }

// Post schedules fn(ctx, ev) on the current actor, FIFO with respect to
// everything already queued for it.
func (ctx *ReactorContext) Post(fn func(*ReactorContext, Event), ev Event) {
	ok := ctx.r.Notify(ctx.ActorId(), Event{Kind: eventExec, Any: execEvent{fn: fn, ev: ev}})
	if !ok {
		ctx.SetError(ErrActorNotFound)
	}
}

// PostStop marks the current actor for teardown; in-flight events still
// drain, then nothing further is delivered.
func (ctx *ReactorContext) PostStop() {
	ctx.PostStopF(nil, Event{Kind: EventStop})
}

// PostStopF is PostStop with a finalizer that runs after the last event;
// by then the slot is already back on the free list and the old ActorId
// receives no notifications.
func (ctx *ReactorContext) PostStopF(finalizer func(*ReactorContext, Event), ev Event) {
	r := ctx.r
	r.mu.Lock()
	stub := r.actors[ctx.slot]
	if stub.state == actorActive && stub.unique == ctx.unique {
		stub.state = actorStopping
		stub.finalizer = finalizer
		stub.finalEvent = ev
		if !stub.queued { // nothing pending: retire on the next drain pass
			stub.queued = true
			stub.events = append(stub.events, Event{Kind: eventExec, Any: execEvent{fn: func(*ReactorContext, Event) {}, ev: Event{}}})
			r.runq = append(r.runq, ctx.slot)
		}
	}
	r.mu.Unlock()
	r.wake()
}
