// Package relay implements the MPRPC relay engine.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package relay

import (
	"github.com/solidoss/solidframe/cmn/debug"
	"github.com/solidoss/solidframe/frame"
)

// msgList is an intrusive doubly-linked list over the engine's message
// pool, threaded through one of the per-stub link slots. All operations are
// O(1); every method takes the pool explicitly so that views stay valid
// across pool growth.
type msgList struct {
	head, tail uint64 // front, back; InvalidIndex when empty
	size       uint64
	link       int
}

func newMsgList(link int) msgList {
	return msgList{head: frame.InvalidIndex, tail: frame.InvalidIndex, link: link}
}

func (l *msgList) empty() bool       { return l.size == 0 }
func (l *msgList) count() uint64     { return l.size }
func (l *msgList) frontIndex() uint64 { return l.head }
func (l *msgList) backIndex() uint64  { return l.tail }

func (l *msgList) front(dq []*messageStub) *messageStub {
	debug.Assert(l.head != frame.InvalidIndex)
	return dq[l.head]
}

func (l *msgList) back(dq []*messageStub) *messageStub {
	debug.Assert(l.tail != frame.InvalidIndex)
	return dq[l.tail]
}

// previousIndex returns the node closer to the front, InvalidIndex at the
// front itself.
func (l *msgList) previousIndex(dq []*messageStub, idx uint64) uint64 {
	return dq[idx].links[l.link].prev
}

func (l *msgList) pushBack(dq []*messageStub, idx uint64) {
	lnk := &dq[idx].links[l.link]
	lnk.prev, lnk.next = l.tail, frame.InvalidIndex
	if l.tail != frame.InvalidIndex {
		dq[l.tail].links[l.link].next = idx
	} else {
		l.head = idx
	}
	l.tail = idx
	l.size++
}

func (l *msgList) pushFront(dq []*messageStub, idx uint64) {
	lnk := &dq[idx].links[l.link]
	lnk.prev, lnk.next = frame.InvalidIndex, l.head
	if l.head != frame.InvalidIndex {
		dq[l.head].links[l.link].prev = idx
	} else {
		l.tail = idx
	}
	l.head = idx
	l.size++
}

func (l *msgList) popFront(dq []*messageStub) (idx uint64) {
	idx = l.head
	debug.Assert(idx != frame.InvalidIndex)
	l.erase(dq, idx)
	return
}

func (l *msgList) popBack(dq []*messageStub) (idx uint64) {
	idx = l.tail
	debug.Assert(idx != frame.InvalidIndex)
	l.erase(dq, idx)
	return
}

func (l *msgList) erase(dq []*messageStub, idx uint64) {
	lnk := &dq[idx].links[l.link]
	if lnk.prev != frame.InvalidIndex {
		dq[lnk.prev].links[l.link].next = lnk.next
	} else {
		debug.Assert(l.head == idx)
		l.head = lnk.next
	}
	if lnk.next != frame.InvalidIndex {
		dq[lnk.next].links[l.link].prev = lnk.prev
	} else {
		debug.Assert(l.tail == idx)
		l.tail = lnk.prev
	}
	lnk.prev, lnk.next = frame.InvalidIndex, frame.InvalidIndex
	debug.Assert(l.size > 0)
	l.size--
}

// check walks the list verifying link integrity; debug builds only.
func (l *msgList) check(dq []*messageStub) bool {
	var (
		cnt  uint64
		prev = frame.InvalidIndex
	)
	for idx := l.head; idx != frame.InvalidIndex; idx = dq[idx].links[l.link].next {
		if dq[idx].links[l.link].prev != prev {
			return false
		}
		prev = idx
		cnt++
		if cnt > l.size {
			return false
		}
	}
	return cnt == l.size && prev == l.tail
}

func (l *msgList) forEach(dq []*messageStub, fn func(idx uint64, m *messageStub)) {
	for idx := l.head; idx != frame.InvalidIndex; {
		next := dq[idx].links[l.link].next
		fn(idx, dq[idx])
		idx = next
	}
}
