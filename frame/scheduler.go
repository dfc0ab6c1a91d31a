// Package frame provides the reactor/actor substrate.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package frame

import (
	"golang.org/x/sync/errgroup"

	"github.com/solidoss/solidframe/cmn/atomic"
	"github.com/solidoss/solidframe/cmn/cos"
	"github.com/solidoss/solidframe/cmn/nlog"
)

// Scheduler binds N reactors to N goroutines and places actors on them
// round-robin. Actor affinity is fixed at registration.
type Scheduler struct {
	reactors []*Reactor
	group    *errgroup.Group
	rr       atomic.Uint64
	running  atomic.Bool
}

func NewScheduler() *Scheduler { return &Scheduler{} }

func (s *Scheduler) Start(threadCount int) error {
	if threadCount <= 0 || !s.running.CAS(false, true) {
		return ErrStopped
	}
	s.reactors = make([]*Reactor, threadCount)
	s.group = &errgroup.Group{}
	for i := range s.reactors {
		r := newReactor(uint64(i))
		s.reactors[i] = r
		s.group.Go(r.run)
	}
	nlog.Infof("scheduler: started %d reactor%s", threadCount, cos.Plural(threadCount))
	return nil
}

func (s *Scheduler) Stop() {
	if !s.running.CAS(true, false) {
		return
	}
	for _, r := range s.reactors {
		r.stop()
	}
	if err := s.group.Wait(); err != nil {
		nlog.Errorf("scheduler: stopped with: %v", err)
	}
}

// StartActor registers the actor on the next reactor in round-robin order
// and posts the start event.
func (s *Scheduler) StartActor(actor Actor, startEvent Event) (ActorId, error) {
	if !s.running.Load() {
		return InvalidId(), ErrStopped
	}
	r := s.reactors[(s.rr.Inc()-1)%uint64(len(s.reactors))]
	return r.StartActor(actor, startEvent), nil
}

// Notify routes by the reactor ordinal packed into the actor id; false iff
// the actor retired or was never registered.
func (s *Scheduler) Notify(id ActorId, ev Event) bool {
	if id.IsInvalid() || !s.running.Load() {
		return false
	}
	ord, _ := unpackActorIndex(id.Index)
	if ord >= uint64(len(s.reactors)) {
		return false
	}
	return s.reactors[ord].Notify(id, ev)
}
