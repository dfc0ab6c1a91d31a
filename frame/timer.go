// Package frame provides the reactor/actor substrate.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package frame

import (
	"container/heap"
	"time"

	"github.com/solidoss/solidframe/cmn/debug"
	"github.com/solidoss/solidframe/cmn/mono"
)

// Timer is a completion handler bound to one actor. Arm with AddTimer from
// a callback of the owning actor; the callback fires on the same reactor.
// A reactor-initiated cancellation (actor teardown) invokes the callback
// once with ctx.Error() == ErrTimerCanceled.
type Timer struct {
	fn       func(*ReactorContext)
	deadline int64
	slot     uint64
	unique   uint32
	heapIdx  int // stored heap slot; -1 when idle
}

func NewTimer() *Timer { return &Timer{heapIdx: -1} }

func (t *Timer) IsArmed() bool { return t.heapIdx >= 0 }

// AddTimer arms t to fire after d; the stored heap index is kept inside t.
func (ctx *ReactorContext) AddTimer(t *Timer, d time.Duration, fn func(*ReactorContext)) {
	debug.Assert(!t.IsArmed())
	t.fn = fn
	t.deadline = ctx.now + int64(d)
	t.slot, t.unique = ctx.slot, ctx.unique
	heap.Push(&ctx.r.timers, t)
	ctx.r.mu.Lock()
	ctx.r.actors[ctx.slot].ntimers++
	ctx.r.mu.Unlock()
}

// RemTimer disarms t; O(log n). A stale timer (already fired or never
// armed) silently no-ops.
func (ctx *ReactorContext) RemTimer(t *Timer) {
	th := &ctx.r.timers
	idx := t.heapIdx
	if idx < 0 || idx >= len(*th) || (*th)[idx] != t {
		return
	}
	heap.Remove(th, idx)
	ctx.r.mu.Lock()
	ctx.r.actors[t.slot].ntimers--
	ctx.r.mu.Unlock()
}

//
// min-heap keyed by deadline
//

type timerHeap []*Timer

func (th timerHeap) Len() int           { return len(th) }
func (th timerHeap) Less(i, j int) bool { return th[i].deadline < th[j].deadline }

func (th timerHeap) Swap(i, j int) {
	th[i], th[j] = th[j], th[i]
	th[i].heapIdx = i
	th[j].heapIdx = j
}

func (th *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.heapIdx = len(*th)
	*th = append(*th, t)
}

func (th *timerHeap) Pop() any {
	old := *th
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIdx = -1
	*th = old[:n-1]
	return t
}

// untilNext returns 0 when a deadline already expired, -1 when the heap is
// empty, the remaining duration otherwise.
func (th timerHeap) untilNext() time.Duration {
	if len(th) == 0 {
		return -1
	}
	// peek only; caller re-reads the clock
	d := th[0].deadline
	now := mono.NanoTime()
	if d <= now {
		return 0
	}
	return time.Duration(d - now)
}

func (th *timerHeap) popExpired(now int64) *Timer {
	if len(*th) == 0 || (*th)[0].deadline > now {
		return nil
	}
	return heap.Pop(th).(*Timer)
}

// clearActor removes every timer owned by (slot, unique), then delivers the
// cancellation to each removed timer's handler.
func (th *timerHeap) clearActor(ctx *ReactorContext, slot uint64, unique uint32) {
	for i := 0; i < len(*th); {
		t := (*th)[i]
		if t.slot != slot || t.unique != unique {
			i++
			continue
		}
		heap.Remove(th, i)
		ctx.SetError(ErrTimerCanceled)
		t.fn(ctx)
		ctx.ClearError()
	}
}
