// Package cos provides common low-level types and utilities for all solidframe packages
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"github.com/solidoss/solidframe/cmn/atomic"
)

type (
	// StopCh is a one-shot rendezvous: Close is idempotent, Listen never blocks.
	StopCh struct {
		ch      chan struct{}
		stopped atomic.Bool
	}
	// Runner is anything the daemon starts and stops as a unit.
	Runner interface {
		Name() string
		Run() error
		Stop(error)
	}
)

func NewStopCh() *StopCh {
	sch := &StopCh{}
	sch.Init()
	return sch
}

func (sch *StopCh) Init() {
	sch.ch = make(chan struct{})
}

func (sch *StopCh) Listen() <-chan struct{} { return sch.ch }

func (sch *StopCh) Close() {
	if sch.stopped.CAS(false, true) {
		close(sch.ch)
	}
}

func (sch *StopCh) Stopped() bool { return sch.stopped.Load() }
