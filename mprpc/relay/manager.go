// Package relay implements the MPRPC relay engine.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package relay

import (
	"github.com/solidoss/solidframe/cmn/nlog"
	"github.com/solidoss/solidframe/frame"
	"github.com/solidoss/solidframe/tpool"
)

// SchedulerManager routes engine notifications to connection actors
// through the reactor substrate. Notify is non-blocking, which is what
// permits the engine to post while holding its lock.
type SchedulerManager struct {
	s *frame.Scheduler
}

func NewSchedulerManager(s *frame.Scheduler) *SchedulerManager { return &SchedulerManager{s: s} }

func (m *SchedulerManager) NotifyConnection(id frame.ActorId, what Notification) bool {
	return m.s.Notify(id, frame.MakeEvent(frame.EventGeneric, what))
}

//
// pool-backed variant
//

type notifyTask struct {
	id   frame.ActorId
	what Notification
}

// PoolManager offloads notification fan-out to a thread pool. The push is
// non-blocking - the engine calls NotifyConnection under its lock - with a
// direct-notify fallback when the ring is momentarily full. Wake-ups may
// thus arrive late or duplicated, never lost; connections tolerate
// spurious wake-ups by contract.
type PoolManager struct {
	s    *frame.Scheduler
	pool *tpool.Pool[notifyTask, struct{}]
}

func NewPoolManager(s *frame.Scheduler, cfg tpool.Config) *PoolManager {
	m := &PoolManager{s: s}
	m.pool = tpool.New[notifyTask, struct{}](cfg, func(_ int, t notifyTask) {
		if !s.Notify(t.id, frame.MakeEvent(frame.EventGeneric, t.what)) {
			nlog.Warningf("relay: dropped %s notification to %s", t.what, t.id)
		}
	}, func(int, struct{}) {})
	return m
}

func (m *PoolManager) NotifyConnection(id frame.ActorId, what Notification) bool {
	if m.pool.TryPushOne(notifyTask{id: id, what: what}) {
		return true
	}
	return m.s.Notify(id, frame.MakeEvent(frame.EventGeneric, what))
}

func (m *PoolManager) Stop() { m.pool.Stop() }
