// Package relay implements the MPRPC relay engine.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package relay_test

import (
	"sync"
	"testing"

	"github.com/solidoss/solidframe/frame"
	"github.com/solidoss/solidframe/mprpc"
	"github.com/solidoss/solidframe/mprpc/relay"
	"github.com/solidoss/solidframe/tools/tassert"
)

// fakeManager records notifications instead of posting to reactors.
type fakeManager struct {
	mu    sync.Mutex
	notes map[frame.ActorId][]relay.Notification
	dead  map[frame.ActorId]bool
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		notes: make(map[frame.ActorId][]relay.Notification),
		dead:  make(map[frame.ActorId]bool),
	}
}

func (m *fakeManager) NotifyConnection(id frame.ActorId, what relay.Notification) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead[id] {
		return false
	}
	m.notes[id] = append(m.notes[id], what)
	return true
}

func (m *fakeManager) take(id frame.ActorId) (out []relay.Notification) {
	m.mu.Lock()
	out = m.notes[id]
	m.notes[id] = nil
	m.mu.Unlock()
	return
}

func (m *fakeManager) count(id frame.ActorId, what relay.Notification) (n int) {
	m.mu.Lock()
	for _, w := range m.notes[id] {
		if w == what {
			n++
		}
	}
	m.mu.Unlock()
	return
}

// receiver-side test harness: drains PollNew, completing everything and
// recording what arrived
type (
	accepted struct {
		rd *relay.RelayData
		id relay.MessageId
	}
	testReceiver struct {
		t       *testing.T
		e       *relay.SingleNameEngine
		relayId frame.UniqueId
		gotData [][]byte
		gotHdrs []mprpc.MessageHeader
		gotLast bool
		cancels int
	}
)

// drain pulls everything queued, completing accepted chunks after PollNew
// returns - the writer never calls back into the engine from try_push.
func (r *testReceiver) drain() {
	more := true
	for more {
		var batch []accepted
		r.e.PollNew(r.relayId, func(prd **relay.RelayData, engineId relay.MessageId, receiverId *relay.MessageId, canRetry *bool) bool {
			rd := *prd
			*canRetry = true
			if rd.Buf == nil && rd.IsMessageLast() {
				r.cancels++
				return true // acknowledge the cancel marker in place
			}
			*prd = nil
			*receiverId = engineId
			r.gotData = append(r.gotData, rd.Data)
			r.gotHdrs = append(r.gotHdrs, *rd.PHeader)
			if rd.IsMessageLast() {
				r.gotLast = true
			}
			batch = append(batch, accepted{rd: rd, id: engineId})
			return true
		}, &more)
		for _, a := range batch {
			var m bool
			r.e.Complete(r.relayId, a.rd, a.id, &m)
			more = more || m
		}
	}
}

// sender-side harness: reclaims buffers, records cancels
type testSender struct {
	e        *relay.SingleNameEngine
	relayId  frame.UniqueId
	doneBufs [][]byte
	canceled []*mprpc.MessageHeader
}

func (s *testSender) pollDone() {
	s.e.PollDone(s.relayId,
		func(buf []byte) { s.doneBufs = append(s.doneBufs, buf) },
		func(h *mprpc.MessageHeader) {
			hc := *h
			s.canceled = append(s.canceled, &hc)
		})
}

func mkChunk(size int, last bool) relay.RelayData {
	buf := make([]byte, size)
	rd := relay.RelayData{Buf: buf, Data: buf}
	if last {
		rd.Flags |= relay.RelayDataLast
	}
	return rd
}

func setup(t *testing.T) (*relay.SingleNameEngine, *fakeManager, *testSender, *testReceiver, frame.ActorId, frame.ActorId) {
	mgr := newFakeManager()
	e := relay.NewSingleNameEngine(mgr)

	sndActor := frame.ActorId{Index: 100, Unique: 1}
	rcvActor := frame.ActorId{Index: 200, Unique: 1}

	rcv := &testReceiver{t: t, e: e, relayId: frame.InvalidId()}
	tassert.CheckFatal(t, e.RegisterConnection(rcvActor, &rcv.relayId, 2, 0))

	snd := &testSender{e: e, relayId: frame.InvalidId()}
	return e, mgr, snd, rcv, sndActor, rcvActor
}

func startMessage(t *testing.T, e *relay.SingleNameEngine, snd *testSender, sndActor frame.ActorId,
	flags mprpc.MessageFlags, rd relay.RelayData) relay.MessageId {
	hdr := mprpc.MessageHeader{
		Flags:           flags,
		GroupId:         2,
		ReplicaId:       0,
		SenderRequestId: mprpc.RequestId{Index: 7, Unique: 1},
	}
	var msgId relay.MessageId
	tassert.CheckFatal(t, e.RelayStart(sndActor, &snd.relayId, &hdr, rd, &msgId))
	return msgId
}

// S1: one-way relay, three chunks, strict order, three done-buffers.
func TestRelayOneWay(t *testing.T) {
	e, mgr, snd, rcv, sndActor, rcvActor := setup(t)

	var (
		c1 = mkChunk(4096, false)
		c2 = mkChunk(4096, false)
		c3 = mkChunk(0, true)
	)
	msgId := startMessage(t, e, snd, sndActor, 0, c1)
	tassert.CheckFatal(t, e.Relay(snd.relayId, c2, msgId))
	tassert.CheckFatal(t, e.Relay(snd.relayId, c3, msgId))

	tassert.Fatal(t, mgr.count(rcvActor, relay.NotifyNewData) >= 1, "receiver must be notified")

	rcv.drain()
	tassert.Equalf(t, len(rcv.gotData), 3, "chunks delivered")
	tassert.Fatal(t, rcv.gotLast, "last flag must arrive")
	// strict sender submission order
	tassert.Fatal(t, &rcv.gotData[0][0] == &c1.Data[0], "chunk 1 out of order")
	tassert.Fatal(t, &rcv.gotData[1][0] == &c2.Data[0], "chunk 2 out of order")

	snd.pollDone()
	tassert.Equalf(t, len(snd.doneBufs), 3, "done_fn invocations")
	tassert.Equalf(t, len(snd.canceled), 0, "no cancels expected")

	st := e.ReadStats()
	tassert.Equalf(t, st.Messages, int64(1), "messages")
	tassert.Equalf(t, st.MessagesNow, int64(0), "message stub must be cached again")
}

// S2 + round-trip law: request/response with endpoint swap; the completion
// at the original sender carries its original request id.
func TestRelayRequestResponse(t *testing.T) {
	e, mgr, snd, rcv, sndActor, _ := setup(t)

	msgId := startMessage(t, e, snd, sndActor, mprpc.WaitResponseFlag, mkChunk(1024, true))

	rcv.drain()
	tassert.Equalf(t, len(rcv.gotData), 1, "request delivered")
	snd.pollDone()
	tassert.Equalf(t, len(snd.doneBufs), 1, "request buffer returned")

	// B responds; after deserialization the peer's id sits in
	// RecipientRequestId and the sender id is cleared
	respHdr := mprpc.MessageHeader{
		Flags:              mprpc.ResponseFlag,
		RecipientRequestId: mprpc.RequestId{Index: 7, Unique: 1},
	}
	respChunk := mkChunk(2048, true)
	tassert.CheckFatal(t, e.RelayResponse(rcv.relayId, &respHdr, respChunk, msgId))

	// the original sender's connection now acts as receiver
	tassert.Fatal(t, mgr.count(sndActor, relay.NotifyNewData) >= 1, "responder must wake the original sender")

	back := &testReceiver{t: t, e: e, relayId: snd.relayId}
	back.drain()
	tassert.Equalf(t, len(back.gotData), 1, "response delivered")
	tassert.Equalf(t, len(back.gotData[0]), 2048, "response size")
	// round-trip law: the header flowing back carries the original
	// sender_request_id - the wire swap turns it into the completion's
	// recipient_request_id at the original sender
	tassert.Equalf(t, back.gotHdrs[0].SenderRequestId, mprpc.RequestId{Index: 7, Unique: 1},
		"request-id round trip")

	// response buffer returns to B (the responder)
	respDone := &testSender{e: e, relayId: rcv.relayId}
	respDone.pollDone()
	tassert.Equalf(t, len(respDone.doneBufs), 1, "response buffer returned to responder")

	st := e.ReadStats()
	tassert.Equalf(t, st.MessagesNow, int64(0), "stub must be recycled after the response completes")
}

// S3: sender cancels mid-stream; queued buffers return, the receiver gets
// a synthetic cancel marker and exactly one NewData notification for it.
func TestRelaySenderCancel(t *testing.T) {
	e, mgr, snd, rcv, sndActor, rcvActor := setup(t)

	msgId := startMessage(t, e, snd, sndActor, 0, mkChunk(4096, false))
	tassert.CheckFatal(t, e.Relay(snd.relayId, mkChunk(4096, false), msgId))
	mgr.take(rcvActor)

	var ndone int
	e.Cancel(snd.relayId, nil, msgId, func(buf []byte) { ndone++ })
	tassert.Equalf(t, ndone, 2, "queued buffers must return on sender cancel")
	tassert.Equalf(t, mgr.count(rcvActor, relay.NotifyNewData), 1, "exactly one NewData for the cancel marker")

	rcv.drain()
	tassert.Equalf(t, rcv.cancels, 1, "receiver must see the cancel marker")
	tassert.Equalf(t, len(rcv.gotData), 0, "no data after cancel")

	st := e.ReadStats()
	tassert.Equalf(t, st.MessagesNow, int64(0), "stub must be freed after the marker is acknowledged")
}

// S4: receiver disappears while data is buffered; the sender's send list
// front carries the message in RecvCancel, DoneData fires, and the
// sender's writer learns the cancel via PollDone.
func TestRelayReceiverStops(t *testing.T) {
	e, mgr, snd, rcv, sndActor, _ := setup(t)

	msgId := startMessage(t, e, snd, sndActor, 0, mkChunk(4096, false))
	_ = msgId
	mgr.take(sndActor)

	e.StopConnection(rcv.relayId)

	tassert.Equalf(t, mgr.count(sndActor, relay.NotifyDoneData), 1, "sender must be woken with DoneData")

	snd.pollDone()
	tassert.Equalf(t, len(snd.canceled), 1, "sender's writer must emit one CancelRequest")
	tassert.Equalf(t, len(snd.doneBufs), 1, "buffered chunk must return to the sender")

	st := e.ReadStats()
	tassert.Equalf(t, st.MessagesNow, int64(0), "no stubs may survive")
}

// Sender connection stops: receiver-side messages get SendCancel markers.
func TestRelaySenderStops(t *testing.T) {
	e, mgr, snd, rcv, sndActor, rcvActor := setup(t)

	startMessage(t, e, snd, sndActor, 0, mkChunk(4096, false))
	mgr.take(rcvActor)

	e.StopConnection(snd.relayId)

	tassert.Equalf(t, mgr.count(rcvActor, relay.NotifyNewData), 1, "receiver must be woken for the cancel marker")
	rcv.drain()
	tassert.Equalf(t, rcv.cancels, 1, "receiver must see the cancel marker")

	st := e.ReadStats()
	tassert.Equalf(t, st.MessagesNow, int64(0), "no stubs may survive")
	tassert.Equalf(t, st.Connections, int64(1), "only the receiver stub remains")
}

// Stale tokens: generation mismatches are dropped, never crash.
func TestRelayStaleReferences(t *testing.T) {
	e, _, snd, rcv, sndActor, _ := setup(t)

	msgId := startMessage(t, e, snd, sndActor, 0, mkChunk(16, true))
	rcv.drain()
	snd.pollDone()

	// the message completed; its id is stale now
	err := e.Relay(snd.relayId, mkChunk(16, true), msgId)
	tassert.Fatal(t, err != nil, "relay on a stale message id must fail")

	// a stale connection token is silently dropped on teardown paths
	stale := frame.UniqueId{Index: snd.relayId.Index, Unique: snd.relayId.Unique + 1}
	e.StopConnection(stale)
	st := e.ReadStats()
	tassert.Equalf(t, st.Connections, int64(2), "stale stop must not touch live stubs")
}

// A sender naming an unregistered destination gets a placeholder; queued
// work survives until the destination registers, then flows.
func TestRelayPlaceholderRegistration(t *testing.T) {
	mgr := newFakeManager()
	e := relay.NewSingleNameEngine(mgr)

	var (
		sndActor = frame.ActorId{Index: 100, Unique: 1}
		rcvActor = frame.ActorId{Index: 200, Unique: 1}
		snd      = &testSender{e: e, relayId: frame.InvalidId()}
	)
	hdr := mprpc.MessageHeader{GroupId: 9, ReplicaId: 0, SenderRequestId: mprpc.RequestId{Index: 1, Unique: 1}}
	var msgId relay.MessageId
	tassert.CheckFatal(t, e.RelayStart(sndActor, &snd.relayId, &hdr, mkChunk(128, true), &msgId))

	// nobody to notify yet
	tassert.Equalf(t, mgr.count(rcvActor, relay.NotifyNewData), 0, "no receiver yet")

	rcv := &testReceiver{t: t, e: e, relayId: frame.InvalidId()}
	tassert.CheckFatal(t, e.RegisterConnection(rcvActor, &rcv.relayId, 9, 0))
	tassert.Fatal(t, mgr.count(rcvActor, relay.NotifyNewData) >= 1, "registration must kick the receiver")

	rcv.drain()
	tassert.Equalf(t, len(rcv.gotData), 1, "queued chunk must flow after registration")
}

// Last-writer-wins conflict: a second connection claiming a bound name
// replaces the first.
func TestRelayNameConflict(t *testing.T) {
	mgr := newFakeManager()
	e := relay.NewSingleNameEngine(mgr)

	var (
		first  = frame.ActorId{Index: 1, Unique: 1}
		second = frame.ActorId{Index: 2, Unique: 1}
		firstId  = frame.InvalidId()
		secondId = frame.InvalidId()
	)
	tassert.CheckFatal(t, e.RegisterConnection(first, &firstId, 5, 0))
	tassert.CheckFatal(t, e.RegisterConnection(second, &secondId, 5, 0))
	tassert.Fatal(t, firstId != secondId, "conflicting registration must get its own slot")

	// traffic for group 5 reaches the second connection
	snd := &testSender{e: e, relayId: frame.InvalidId()}
	hdr := mprpc.MessageHeader{GroupId: 5, ReplicaId: 0, SenderRequestId: mprpc.RequestId{Index: 3, Unique: 1}}
	var msgId relay.MessageId
	sndActor := frame.ActorId{Index: 100, Unique: 1}
	tassert.CheckFatal(t, e.RelayStart(sndActor, &snd.relayId, &hdr, mkChunk(64, true), &msgId))
	tassert.Fatal(t, mgr.count(second, relay.NotifyNewData) >= 1, "traffic must reach the replacement")
}

// Buffer accounting under a mixed workload: every buffer handed to the
// engine comes back exactly once, through done_fn or connection teardown.
func TestRelayBufferAccounting(t *testing.T) {
	e, _, snd, rcv, sndActor, _ := setup(t)

	const nmsg = 50
	handed := 0
	for i := 0; i < nmsg; i++ {
		msgId := startMessage(t, e, snd, sndActor, 0, mkChunk(256, false))
		handed++
		tassert.CheckFatal(t, e.Relay(snd.relayId, mkChunk(256, i%2 == 0), msgId))
		handed++
		if i%2 != 0 {
			// leave odd messages unfinished, then cancel them
			e.Cancel(snd.relayId, nil, msgId, func(buf []byte) { handed-- })
		}
	}
	rcv.drain()
	snd.pollDone()
	handed -= len(snd.doneBufs)
	tassert.Equalf(t, handed, 0, "every handed buffer must return exactly once")
}
