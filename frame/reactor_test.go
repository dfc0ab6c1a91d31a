// Package frame provides the reactor/actor substrate.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package frame_test

import (
	"sync"
	"testing"
	"time"

	"github.com/solidoss/solidframe/cmn/atomic"
	"github.com/solidoss/solidframe/frame"
	"github.com/solidoss/solidframe/tools/tassert"
)

type recordingActor struct {
	mu     sync.Mutex
	events []int
	doneCh chan struct{}
	want   int
}

func (a *recordingActor) OnEvent(_ *frame.ReactorContext, ev frame.Event) {
	if ev.Kind != frame.EventGeneric {
		return
	}
	a.mu.Lock()
	a.events = append(a.events, ev.Any.(int))
	n := len(a.events)
	a.mu.Unlock()
	if n == a.want {
		close(a.doneCh)
	}
}

// Each posted event arrives exactly once, in submission order per source.
func TestReactorEventOrder(t *testing.T) {
	const cnt = 10000
	s := frame.NewScheduler()
	tassert.CheckFatal(t, s.Start(2))
	defer s.Stop()

	a := &recordingActor{doneCh: make(chan struct{}), want: cnt}
	id, err := s.StartActor(a, frame.Event{Kind: frame.EventStart})
	tassert.CheckFatal(t, err)

	for i := 0; i < cnt; i++ {
		tassert.Fatal(t, s.Notify(id, frame.MakeEvent(frame.EventGeneric, i)), "notify failed")
	}
	select {
	case <-a.doneCh:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for events")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	tassert.Equalf(t, len(a.events), cnt, "event count")
	for i, v := range a.events {
		if v != i {
			t.Fatalf("event %d out of order: got %d", i, v)
		}
	}
}

type stoppingActor struct {
	finalized atomic.Bool
	stoppedCh chan struct{}
	nevents   atomic.Int64
}

func (a *stoppingActor) OnEvent(ctx *frame.ReactorContext, ev frame.Event) {
	switch ev.Kind {
	case frame.EventStart:
		// queue a couple of posts, then request teardown; the posts must
		// still drain before the finalizer
		ctx.Post(func(*frame.ReactorContext, frame.Event) { a.nevents.Inc() }, frame.Event{})
		ctx.Post(func(*frame.ReactorContext, frame.Event) { a.nevents.Inc() }, frame.Event{})
		ctx.PostStopF(func(*frame.ReactorContext, frame.Event) {
			a.finalized.Store(true)
			close(a.stoppedCh)
		}, frame.Event{Kind: frame.EventStop})
	case frame.EventGeneric:
		a.nevents.Inc()
	}
}

func TestReactorPostStop(t *testing.T) {
	s := frame.NewScheduler()
	tassert.CheckFatal(t, s.Start(1))
	defer s.Stop()

	a := &stoppingActor{stoppedCh: make(chan struct{})}
	id, err := s.StartActor(a, frame.Event{Kind: frame.EventStart})
	tassert.CheckFatal(t, err)

	select {
	case <-a.stoppedCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for finalizer")
	}
	tassert.Fatal(t, a.finalized.Load(), "finalizer must run")
	tassert.Equalf(t, a.nevents.Load(), int64(2), "in-flight posts must drain before teardown")

	// no deliveries after the finalizer
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !s.Notify(id, frame.MakeEvent(frame.EventGeneric, 1)) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	tassert.Fatal(t, !s.Notify(id, frame.MakeEvent(frame.EventGeneric, 1)),
		"notify must fail after the actor retired")
}

func TestReactorNotifyUnknown(t *testing.T) {
	s := frame.NewScheduler()
	tassert.CheckFatal(t, s.Start(1))
	defer s.Stop()

	tassert.Fatal(t, !s.Notify(frame.InvalidId(), frame.Event{}), "invalid id")
	bogus := frame.ActorId{Index: 7, Unique: 3}
	tassert.Fatal(t, !s.Notify(bogus, frame.Event{}), "unregistered id")
}

type timerActor struct {
	mu    sync.Mutex
	fired []int
	tmrA  *frame.Timer
	tmrB  *frame.Timer
	tmrC  *frame.Timer
	done  chan struct{}
}

func (a *timerActor) OnEvent(ctx *frame.ReactorContext, ev frame.Event) {
	if ev.Kind != frame.EventStart {
		return
	}
	a.tmrA = frame.NewTimer()
	a.tmrB = frame.NewTimer()
	a.tmrC = frame.NewTimer()
	ctx.AddTimer(a.tmrB, 40*time.Millisecond, func(*frame.ReactorContext) {
		a.mu.Lock()
		a.fired = append(a.fired, 2)
		a.mu.Unlock()
		close(a.done)
	})
	ctx.AddTimer(a.tmrA, 10*time.Millisecond, func(*frame.ReactorContext) {
		a.mu.Lock()
		a.fired = append(a.fired, 1)
		a.mu.Unlock()
	})
	ctx.AddTimer(a.tmrC, 20*time.Millisecond, func(*frame.ReactorContext) {
		a.mu.Lock()
		a.fired = append(a.fired, 3)
		a.mu.Unlock()
	})
	// cancel C before it fires; canceling twice must no-op
	ctx.RemTimer(a.tmrC)
	ctx.RemTimer(a.tmrC)
}

func TestReactorTimers(t *testing.T) {
	s := frame.NewScheduler()
	tassert.CheckFatal(t, s.Start(1))
	defer s.Stop()

	a := &timerActor{done: make(chan struct{})}
	_, err := s.StartActor(a, frame.Event{Kind: frame.EventStart})
	tassert.CheckFatal(t, err)

	select {
	case <-a.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for timers")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	tassert.Equalf(t, len(a.fired), 2, "fired timer count")
	tassert.Equalf(t, a.fired[0], 1, "deadline order")
	tassert.Equalf(t, a.fired[1], 2, "deadline order")
}

type clearTimerActor struct {
	canceled chan error
}

func (a *clearTimerActor) OnEvent(ctx *frame.ReactorContext, ev frame.Event) {
	if ev.Kind != frame.EventStart {
		return
	}
	tmr := frame.NewTimer()
	ctx.AddTimer(tmr, time.Hour, func(tctx *frame.ReactorContext) {
		a.canceled <- tctx.Error()
	})
	ctx.PostStop()
}

// A reactor-initiated cancellation (actor teardown with a live timer)
// delivers the handler once with ErrTimerCanceled.
func TestReactorTimerClearOnStop(t *testing.T) {
	s := frame.NewScheduler()
	tassert.CheckFatal(t, s.Start(1))
	defer s.Stop()

	a := &clearTimerActor{canceled: make(chan error, 1)}
	_, err := s.StartActor(a, frame.Event{Kind: frame.EventStart})
	tassert.CheckFatal(t, err)

	select {
	case err := <-a.canceled:
		tassert.Fatal(t, err == frame.ErrTimerCanceled, "handler must see ErrTimerCanceled")
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for timer clear")
	}
}

// Cross-reactor notifications: an actor on one reactor notifying an actor
// on another, ping-pong style.
func TestReactorCrossNotify(t *testing.T) {
	const rounds = 1000
	s := frame.NewScheduler()
	tassert.CheckFatal(t, s.Start(2))
	defer s.Stop()

	done := make(chan struct{})
	var aid, bid frame.ActorId
	var once sync.Once

	ping := func(self *frame.ActorId, peer *frame.ActorId) frame.Actor {
		return actorFn(func(ctx *frame.ReactorContext, ev frame.Event) {
			if ev.Kind != frame.EventGeneric {
				return
			}
			n := ev.Any.(int)
			if n >= rounds {
				once.Do(func() { close(done) })
				return
			}
			s.Notify(*peer, frame.MakeEvent(frame.EventGeneric, n+1))
		})
	}
	var err error
	aid, err = s.StartActor(ping(&aid, &bid), frame.Event{Kind: frame.EventStart})
	tassert.CheckFatal(t, err)
	bid, err = s.StartActor(ping(&bid, &aid), frame.Event{Kind: frame.EventStart})
	tassert.CheckFatal(t, err)

	s.Notify(aid, frame.MakeEvent(frame.EventGeneric, 0))
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout in ping-pong")
	}
}

type actorFn func(*frame.ReactorContext, frame.Event)

func (f actorFn) OnEvent(ctx *frame.ReactorContext, ev frame.Event) { f(ctx, ev) }
