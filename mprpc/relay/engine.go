// Package relay implements the MPRPC relay engine.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package relay

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/solidoss/solidframe/cmn/atomic"
	"github.com/solidoss/solidframe/cmn/debug"
	"github.com/solidoss/solidframe/cmn/nlog"
	"github.com/solidoss/solidframe/frame"
	"github.com/solidoss/solidframe/mprpc"
)

var (
	ErrMessageNotFound    = errors.New("relay: message not found")
	ErrConnectionNotFound = errors.New("relay: connection not found")
)

// nameRegistry is the naming policy plugged into EngineCore; see
// SingleNameEngine for the default single-name implementation.
type nameRegistry interface {
	// registerNamed resolves the header's destination to a connection
	// slot, creating a placeholder stub (no ActorId yet) when needed.
	registerNamed(p *proxy, h *mprpc.MessageHeader) uint64
	// unregisterConnectionName drops the slot's name binding, if any.
	unregisterConnectionName(p *proxy, conIdx uint64)
}

// EngineCore is the relay broker. A single mutex guards every pool and
// list mutation: the lists cross-reference each other and per-slot locks
// would deadlock. All work under the lock is pointer surgery plus at most
// one notification; notifying under the lock is fine because Manager
// notifications are non-blocking.
type EngineCore struct {
	mgr Manager
	reg nameRegistry

	mu          sync.Mutex
	msgDq       []*messageStub
	msgCache    msgList // free stubs, threaded through the send hook
	relCacheTop *RelayData
	conDq       []*connectionStub
	conCache    []uint64

	// statistics
	nMessages atomic.Int64
	nData     atomic.Int64
	nCancels  atomic.Int64
	nNotifies atomic.Int64
}

// proxy exposes pool primitives to the naming policy under the engine lock.
type proxy struct {
	e *EngineCore
}

func (e *EngineCore) init(mgr Manager, reg nameRegistry) {
	e.mgr = mgr
	e.reg = reg
	e.msgCache = newMsgList(linkSend)
}

//
// pools (engine lock held)
//

func (e *EngineCore) createRelayData(rd RelayData) (prd *RelayData) {
	if e.relCacheTop != nil {
		prd = e.relCacheTop
		e.relCacheTop = prd.pnext
		*prd = rd
		prd.pnext = nil
	} else {
		prd = &RelayData{}
		*prd = rd
		prd.pnext = nil
	}
	return
}

// createSendCancelRelayData allocates the synthetic marker the receiver's
// writer turns into a Cancel frame; no buffer, Last flag set.
func (e *EngineCore) createSendCancelRelayData() (prd *RelayData) {
	prd = e.createRelayData(RelayData{})
	prd.Flags |= RelayDataLast
	return
}

func (e *EngineCore) eraseRelayData(prd *RelayData) {
	prd.clear()
	prd.pnext = e.relCacheTop
	e.relCacheTop = prd
}

func (e *EngineCore) createMessage() (msgIdx uint64) {
	if !e.msgCache.empty() {
		return e.msgCache.popBack(e.msgDq)
	}
	msgIdx = uint64(len(e.msgDq))
	m := &messageStub{state: stateRelay}
	m.senderConId.Clear()
	m.receiverConId.Clear()
	m.receiverMsgId.Clear()
	for i := range m.links {
		m.links[i] = link{prev: frame.InvalidIndex, next: frame.InvalidIndex}
	}
	e.msgDq = append(e.msgDq, m)
	return
}

func (e *EngineCore) eraseMessage(msgIdx uint64) {
	e.msgCache.pushBack(e.msgDq, msgIdx)
}

func (e *EngineCore) createConnection() (conIdx uint64) {
	if l := len(e.conCache); l > 0 {
		conIdx = e.conCache[l-1]
		e.conCache = e.conCache[:l-1]
	} else {
		conIdx = uint64(len(e.conDq))
		c := newConnectionStub()
		e.conDq = append(e.conDq, &c)
	}
	return
}

func (e *EngineCore) eraseConnection(conIdx uint64) {
	e.conDq[conIdx].clear()
	e.conCache = append(e.conCache, conIdx)
}

func (e *EngineCore) isValidConUid(uid frame.UniqueId) bool {
	return uid.Index < uint64(len(e.conDq)) && e.conDq[uid.Index].unique == uid.Unique
}

func (e *EngineCore) isValidMsgId(id MessageId) bool {
	return id.Index < uint64(len(e.msgDq)) && e.msgDq[id.Index].unique == id.Unique
}

func (e *EngineCore) conUid(conIdx uint64) frame.UniqueId {
	return frame.UniqueId{Index: conIdx, Unique: e.conDq[conIdx].unique}
}

// notifyConnection posts toward the connection's actor; callers pass only
// live connections, so a false return is logged loudly.
func (e *EngineCore) notifyConnection(id frame.ActorId, what Notification) {
	e.nNotifies.Inc()
	if !e.mgr.NotifyConnection(id, what) {
		nlog.Errorf("relay: connection %s should be alive (notify %s)", id, what)
	}
}

//
// registration
//

// registerUnnamedConnection binds a sender connection that has no prior
// registration; relayConUid is in/out, as with the connection context.
func (e *EngineCore) registerUnnamedConnection(conId frame.ActorId, relayConUid *frame.UniqueId) (conIdx uint64) {
	if relayConUid.IsValid() {
		debug.Assert(e.isValidConUid(*relayConUid))
		return relayConUid.Index
	}
	conIdx = e.createConnection()
	rcon := e.conDq[conIdx]
	rcon.id = conId
	*relayConUid = e.conUid(conIdx)
	nlog.Infof("relay: register unnamed %s %s", relayConUid, rcon)
	return
}

//
// public contract - sender side
//

// RelayStart opens a new relayed message: called by the sending
// connection's reader with the first framed chunk. relayConUid and msgId
// are in/out tokens for subsequent calls.
func (e *EngineCore) RelayStart(conId frame.ActorId, relayConUid *frame.UniqueId,
	hdr *mprpc.MessageHeader, rd RelayData, msgID *MessageId) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	debug.Assert(conId.IsValid())

	if relayConUid.IsValid() && !e.isValidConUid(*relayConUid) {
		return ErrConnectionNotFound
	}
	sndConIdx := e.registerUnnamedConnection(conId, relayConUid)
	msgIdx := e.createMessage()
	rmsg := e.msgDq[msgIdx]

	rmsg.header = *hdr
	rmsg.state = stateRelay
	rmsg.lastMessageFlags = rmsg.header.Flags

	// the request ids were already swapped on deserialization
	rmsg.header.RecipientRequestId, rmsg.header.SenderRequestId =
		rmsg.header.SenderRequestId, rmsg.header.RecipientRequestId

	*msgID = MessageId{Index: msgIdx, Unique: rmsg.unique}

	p := proxy{e: e}
	rcvConIdx := e.reg.registerNamed(&p, &rmsg.header)
	var (
		rrcvcon = e.conDq[rcvConIdx]
		rsndcon = e.conDq[sndConIdx]
	)

	// also hold the in-engine connection ids in the message
	rmsg.senderConId = e.conUid(sndConIdx)
	rmsg.receiverConId = e.conUid(rcvConIdx)

	rsndcon.sendMsgList.pushBack(e.msgDq, msgIdx)

	rd.Flags |= RelayDataFirst
	rd.MessageFlags = rmsg.header.Flags

	nlog.Infof("relay: start %s msgid=%s size=%d rcv=%d snd=%d", relayConUid, msgID,
		len(rd.Data), rcvConIdx, sndConIdx)

	debug.Assert(rmsg.pfront == nil)
	rmsg.push(e.createRelayData(rd))
	e.nMessages.Inc()
	e.nData.Inc()

	shouldNotify := rrcvcon.recvMsgList.empty() || !rrcvcon.recvMsgList.back(e.msgDq).hasData()

	rrcvcon.recvMsgList.pushBack(e.msgDq, msgIdx)

	if shouldNotify && rrcvcon.id.IsValid() {
		e.notifyConnection(rrcvcon.id, NotifyNewData)
	}
	return nil
}

// Relay appends one more chunk to an existing message.
func (e *EngineCore) Relay(relayConUid frame.UniqueId, rd RelayData, msgID MessageId) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	debug.Assert(msgID.IsValid())
	debug.Assert(relayConUid.IsValid())
	debug.Assert(e.isValidConUid(relayConUid))

	if !e.isValidConUid(relayConUid) {
		return ErrConnectionNotFound
	}
	if !e.isValidMsgId(msgID) {
		nlog.Errorf("relay: %s message not found %s", relayConUid, msgID)
		return ErrMessageNotFound
	}
	var (
		msgIdx  = msgID.Index
		rmsg    = e.msgDq[msgIdx]
		isEmpty = rmsg.pfront == nil
	)
	rd.MessageFlags = rmsg.lastMessageFlags
	rmsg.push(e.createRelayData(rd))
	e.nData.Inc()

	if rmsg.state != stateRelay {
		// the sending connection is about to be notified about the state
		// change; accept the data meanwhile
		nlog.Warningf("relay: %s message %s not in relay state: %s", relayConUid, msgID, rmsg.state)
		return nil
	}
	if isEmpty {
		rrcvcon := e.conDq[rmsg.receiverConId.Index]
		shouldNotify := rrcvcon.recvMsgList.backIndex() == msgIdx || !rrcvcon.recvMsgList.back(e.msgDq).hasData()

		debug.Assert(!rrcvcon.recvMsgList.empty())

		// move the message to the back of the list so it gets processed
		// sooner - somewhat unfair, but this way a single list serves for
		// both the ready queue and the parked messages
		rrcvcon.recvMsgList.erase(e.msgDq, msgIdx)
		rrcvcon.recvMsgList.pushBack(e.msgDq, msgIdx)

		if shouldNotify {
			e.notifyConnection(rrcvcon.id, NotifyNewData)
		}
	}
	return nil
}

// RelayResponse relays the response of a previously awaited message:
// called by the receiving connection's reader. The sending and receiving
// endpoints of the stub swap roles.
func (e *EngineCore) RelayResponse(relayConUid frame.UniqueId, hdr *mprpc.MessageHeader,
	rd RelayData, msgID MessageId) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	debug.Assert(msgID.IsValid())
	debug.Assert(relayConUid.IsValid())
	debug.Assert(e.isValidConUid(relayConUid))

	if !e.isValidConUid(relayConUid) {
		return ErrConnectionNotFound
	}
	if !e.isValidMsgId(msgID) {
		nlog.Errorf("relay: %s message not found %s", relayConUid, msgID)
		return ErrMessageNotFound
	}
	var (
		msgIdx = msgID.Index
		rmsg   = e.msgDq[msgIdx]
		// the request ids were swapped on RelayStart
		senderRequestId = rmsg.header.RecipientRequestId
	)
	rd.Flags |= RelayDataFirst
	rd.MessageFlags = hdr.Flags
	rmsg.lastMessageFlags = hdr.Flags
	e.nData.Inc()

	switch rmsg.state {
	case stateWaitResponse:
		debug.Assert(rmsg.senderConId.IsValid())
		debug.Assert(rmsg.receiverConId.IsValid())
		debug.Assert(rmsg.pfront == nil)

		rmsg.receiverMsgId.Clear()

		rmsg.receiverConId, rmsg.senderConId = rmsg.senderConId, rmsg.receiverConId

		rmsg.header = *hdr
		rmsg.header.RecipientRequestId, rmsg.header.SenderRequestId =
			rmsg.header.SenderRequestId, rmsg.header.RecipientRequestId
		// set the proper sender request id
		rmsg.header.SenderRequestId = senderRequestId

		rmsg.push(e.createRelayData(rd))
		rmsg.state = stateRelay

		var (
			rcvConIdx = rmsg.receiverConId.Index
			sndConIdx = rmsg.senderConId.Index
		)
		debug.Assert(e.isValidConUid(rmsg.receiverConId))
		debug.Assert(e.isValidConUid(rmsg.senderConId))

		var (
			rrcvcon      = e.conDq[rcvConIdx]
			rsndcon      = e.conDq[sndConIdx]
			shouldNotify = rrcvcon.recvMsgList.empty() || !rrcvcon.recvMsgList.back(e.msgDq).hasData()
		)
		rsndcon.recvMsgList.erase(e.msgDq, msgIdx)
		rrcvcon.sendMsgList.erase(e.msgDq, msgIdx) // must erase before push
		rsndcon.sendMsgList.pushBack(e.msgDq, msgIdx)
		rrcvcon.recvMsgList.pushBack(e.msgDq, msgIdx)

		debug.AssertFunc(func() bool { return rsndcon.sendMsgList.check(e.msgDq) })
		debug.AssertFunc(func() bool { return rrcvcon.sendMsgList.check(e.msgDq) })

		if shouldNotify {
			e.notifyConnection(rrcvcon.id, NotifyNewData)
		}
	case stateRelay:
		// streamed response continuation
		isEmpty := rmsg.pfront == nil
		rmsg.push(e.createRelayData(rd))
		if isEmpty {
			rrcvcon := e.conDq[rmsg.receiverConId.Index]
			shouldNotify := rrcvcon.recvMsgList.backIndex() == msgIdx || !rrcvcon.recvMsgList.back(e.msgDq).hasData()

			debug.Assert(!rrcvcon.recvMsgList.empty())

			rrcvcon.recvMsgList.erase(e.msgDq, msgIdx)
			rrcvcon.recvMsgList.pushBack(e.msgDq, msgIdx)

			if shouldNotify {
				e.notifyConnection(rrcvcon.id, NotifyNewData)
			}
		}
	default:
		// canceled meanwhile; the caller keeps ownership of its buffer
		nlog.Warningf("relay: %s response for message %s in state %s", relayConUid, msgID, rmsg.state)
	}
	return nil
}

//
// public contract - receiver's writer
//

// PollNew pulls queued chunks toward the receiver's writer, walking the
// recv list from the back. Per message the FIFO order is strict; across
// messages the list is a ready queue.
func (e *EngineCore) PollNew(relayConUid frame.UniqueId, tryPush TryPushFunc, more *bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	debug.Assert(relayConUid.IsValid())
	debug.Assert(e.isValidConUid(relayConUid))

	*more = false
	if !e.isValidConUid(relayConUid) {
		return
	}
	var (
		conIdx   = relayConUid.Index
		rcon     = e.conDq[conIdx]
		canRetry = true
		msgIdx   = rcon.recvMsgList.backIndex()
	)
	for canRetry && msgIdx != frame.InvalidIndex && e.msgDq[msgIdx].hasData() {
		var (
			rmsg    = e.msgDq[msgIdx]
			prevIdx = rcon.recvMsgList.previousIndex(e.msgDq, msgIdx)
			pnext   *RelayData
		)
		if rmsg.pfront != nil {
			pnext = rmsg.pfront.pnext
		}
		if tryPush(&rmsg.pfront, MessageId{Index: msgIdx, Unique: rmsg.unique}, &rmsg.receiverMsgId, &canRetry) {
			if rmsg.pfront == nil {
				// data accepted - the writer holds the record until Complete
				rmsg.pfront = pnext
				if rmsg.pfront == nil {
					rmsg.pback = nil
					// no more data, park the message at the front
					rcon.recvMsgList.erase(e.msgDq, msgIdx)
					rcon.recvMsgList.pushFront(e.msgDq, msgIdx)
				}
			} else {
				// the writer acknowledged the SendCancel marker; the
				// message can now be freed
				debug.Assert(rmsg.pfront.Buf == nil)
				debug.Assert(pnext == nil)

				if rmsg.senderConId.IsValid() {
					debug.Assert(e.isValidConUid(rmsg.senderConId))
					rsndcon := e.conDq[rmsg.senderConId.Index]
					rsndcon.sendMsgList.erase(e.msgDq, msgIdx)
				}
				prd := rmsg.pfront
				rmsg.pfront, rmsg.pback = nil, nil
				e.eraseRelayData(prd)
				rcon.recvMsgList.erase(e.msgDq, msgIdx)
				rmsg.clear()
				e.eraseMessage(msgIdx)
				nlog.Infof("relay: %s erase canceled msg %d", relayConUid, msgIdx)
			}
		}
		msgIdx = prevIdx
	}
	*more = !rcon.recvMsgList.empty() && rcon.recvMsgList.back(e.msgDq).hasData()
}

// Complete is the receiver's writer signaling one chunk transmitted; the
// buffer goes back onto the sender's done-stack, and the Last chunk drives
// WaitResponse vs terminal completion.
func (e *EngineCore) Complete(relayConUid frame.UniqueId, prd *RelayData, engineMsgID MessageId, more *bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	debug.Assert(relayConUid.IsValid())
	debug.Assert(e.isValidConUid(relayConUid))
	debug.Assert(prd != nil)

	*more = false
	if e.isValidConUid(relayConUid) && e.isValidMsgId(engineMsgID) {
		var (
			msgIdx = engineMsgID.Index
			rmsg   = e.msgDq[msgIdx]
			// the connection currently calling this method:
			rrcvcon = e.conDq[rmsg.receiverConId.Index]
		)
		if rmsg.senderConId.IsValid() {
			debug.Assert(e.isValidConUid(rmsg.senderConId))

			var (
				rsndcon      = e.conDq[rmsg.senderConId.Index]
				shouldNotify = rsndcon.pdoneRelayDataTop == nil
			)
			prd.pnext = rsndcon.pdoneRelayDataTop
			rsndcon.pdoneRelayDataTop = prd

			if shouldNotify {
				e.notifyConnection(rsndcon.id, NotifyDoneData)
			}

			if prd.IsMessageLast() {
				debug.Assert(rmsg.pfront == nil)

				if rmsg.state == stateRelay && prd.IsRequest() {
					rmsg.state = stateWaitResponse
					rrcvcon.recvMsgList.erase(e.msgDq, msgIdx)
					rrcvcon.recvMsgList.pushFront(e.msgDq, msgIdx)
					nlog.Infof("relay: %s wait response %d", relayConUid, msgIdx)
				} else {
					rrcvcon.recvMsgList.erase(e.msgDq, msgIdx)
					rsndcon.sendMsgList.erase(e.msgDq, msgIdx)
					debug.AssertFunc(func() bool { return rsndcon.sendMsgList.check(e.msgDq) })
					rmsg.clear()
					e.eraseMessage(msgIdx)
				}
			}
			*more = !rrcvcon.recvMsgList.empty() && rrcvcon.recvMsgList.back(e.msgDq).hasData()
			return
		}
		*more = !rrcvcon.recvMsgList.empty() && rrcvcon.recvMsgList.back(e.msgDq).hasData()
	}
	// happens for canceled relayed messages: the sender is gone, nobody to
	// return the buffer to
	e.eraseRelayData(prd)
	nlog.Infof("relay: %s complete with no sender %s", relayConUid, engineMsgID)
}

//
// public contract - sender's writer
//

// PollDone reclaims transmitted buffers (in the order the receiver
// completed them) and reports receiver-side cancellations so the writer
// emits CancelRequest frames.
func (e *EngineCore) PollDone(relayConUid frame.UniqueId, doneFn DoneFunc, cancelFn CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	debug.Assert(relayConUid.IsValid())
	debug.Assert(e.isValidConUid(relayConUid))

	if !e.isValidConUid(relayConUid) {
		return
	}
	var (
		conIdx = relayConUid.Index
		rcon   = e.conDq[conIdx]
		prd    = rcon.pdoneRelayDataTop
		rev    *RelayData
	)
	// the done-stack is LIFO: reverse it so buffers return in completion order
	for prd != nil {
		tmp := prd.pnext
		prd.pnext = rev
		rev = prd
		prd = tmp
	}
	prd = rev
	for prd != nil {
		if prd.Buf != nil {
			doneFn(prd.Buf)
		}
		tmp := prd.pnext
		e.eraseRelayData(prd)
		prd = tmp
	}
	rcon.pdoneRelayDataTop = nil

	debug.AssertFunc(func() bool { return rcon.sendMsgList.check(e.msgDq) })

	for !rcon.sendMsgList.empty() && rcon.sendMsgList.front(e.msgDq).state == stateRecvCancel {
		var (
			rmsg   = rcon.sendMsgList.front(e.msgDq)
			msgIdx = rcon.sendMsgList.popFront(e.msgDq)
		)
		debug.Assert(rmsg.receiverConId.IsInvalid())

		for prd = rmsg.pop(); prd != nil; prd = rmsg.pop() {
			if prd.Buf != nil {
				doneFn(prd.Buf)
			}
			e.eraseRelayData(prd)
		}
		cancelFn(&rmsg.header)
		e.nCancels.Inc()

		rmsg.clear()
		e.eraseMessage(msgIdx)
	}
}

//
// public contract - cancellation
//

// Cancel handles cancellation from either side: the sending peer stopping
// the message mid-stream, or the receiver requesting the cancel.
func (e *EngineCore) Cancel(relayConUid frame.UniqueId, prd *RelayData, engineMsgID MessageId, doneFn DoneFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	debug.Assert(relayConUid.IsValid())
	debug.Assert(e.isValidConUid(relayConUid))

	if !e.isValidConUid(relayConUid) || !e.isValidMsgId(engineMsgID) {
		nlog.Errorf("relay: %s cancel: message not found %s", relayConUid, engineMsgID)
		if prd != nil {
			debug.Assert(prd.Buf == nil)
			e.eraseRelayData(prd)
		}
		return
	}
	var (
		msgIdx = engineMsgID.Index
		rmsg   = e.msgDq[msgIdx]
	)
	e.nCancels.Inc()
	// find out which side we are on
	if rmsg.senderConId == relayConUid {
		// cancel comes from the sender connection. The message cannot be
		// unlinked from it yet: the receiving connection might hold a
		// buffer that MUST return to the sender.
		rsndcon := e.conDq[rmsg.senderConId.Index]

		for p := rmsg.pop(); p != nil; p = rmsg.pop() {
			p.pnext = rsndcon.pdoneRelayDataTop
			rsndcon.pdoneRelayDataTop = p
		}
		p := rsndcon.pdoneRelayDataTop
		for p != nil {
			if p.Buf != nil {
				doneFn(p.Buf)
			}
			tmp := p.pnext
			e.eraseRelayData(p)
			p = tmp
		}
		rsndcon.pdoneRelayDataTop = nil

		if rmsg.receiverConId.IsValid() {
			debug.Assert(e.isValidConUid(rmsg.receiverConId))

			rrcvcon := e.conDq[rmsg.receiverConId.Index]
			rmsg.state = stateSendCancel

			rmsg.push(e.createSendCancelRelayData())

			shouldNotify := rrcvcon.recvMsgList.backIndex() == msgIdx || !rrcvcon.recvMsgList.back(e.msgDq).hasData()

			rrcvcon.recvMsgList.erase(e.msgDq, msgIdx)
			rrcvcon.recvMsgList.pushBack(e.msgDq, msgIdx)

			if shouldNotify {
				nlog.Infof("relay: %s notify receiver of canceled message %s", relayConUid, engineMsgID)
				e.notifyConnection(rrcvcon.id, NotifyNewData)
			}
		} else {
			// no receiver - simply release the message
			rsndcon.sendMsgList.erase(e.msgDq, msgIdx)
			rmsg.clear()
			e.eraseMessage(msgIdx)
		}
		debug.Assert(prd == nil)
		return
	}
	if rmsg.receiverConId.IsValid() {
		debug.Assert(rmsg.receiverConId == relayConUid)

		// cancel comes from the receiving connection; prd, when not nil,
		// holds the last relay data of the message, which returns to the
		// sender
		rrcvcon := e.conDq[rmsg.receiverConId.Index]

		rrcvcon.recvMsgList.erase(e.msgDq, msgIdx)
		rmsg.receiverConId.Clear()
		rmsg.state = stateRecvCancel

		if rmsg.senderConId.IsValid() {
			debug.Assert(e.isValidConUid(rmsg.senderConId))

			var (
				rsndcon      = e.conDq[rmsg.senderConId.Index]
				shouldNotify = rsndcon.pdoneRelayDataTop == nil
			)
			if prd != nil {
				prd.pnext = rsndcon.pdoneRelayDataTop
				rsndcon.pdoneRelayDataTop = prd
				prd = nil
			}

			shouldNotify = shouldNotify ||
				msgIdx == rsndcon.sendMsgList.frontIndex() ||
				rsndcon.sendMsgList.front(e.msgDq).state != stateRecvCancel

			rsndcon.sendMsgList.erase(e.msgDq, msgIdx)
			rsndcon.sendMsgList.pushFront(e.msgDq, msgIdx)
			debug.AssertFunc(func() bool { return rsndcon.sendMsgList.check(e.msgDq) })

			if shouldNotify {
				nlog.Infof("relay: %s notify sender of canceled message %s", relayConUid, engineMsgID)
				e.notifyConnection(rsndcon.id, NotifyDoneData)
			}
		} else {
			// no sender - simply release the message
			rmsg.clear()
			e.eraseMessage(msgIdx)
		}
	}
	if prd != nil {
		debug.Assert(prd.Buf == nil)
		e.eraseRelayData(prd)
	}
}

//
// public contract - teardown
//

// StopConnection drains both lists of a terminated connection: surviving
// messages are canceled against the other endpoint, and every buffer is
// transferred back before the stub is freed.
func (e *EngineCore) StopConnection(relayConUid frame.UniqueId) {
	if relayConUid.IsInvalid() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isValidConUid(relayConUid) {
		return
	}
	e.doStopConnection(relayConUid.Index)
}

func (e *EngineCore) doStopConnection(conIdx uint64) {
	rcon := e.conDq[conIdx]

	for !rcon.recvMsgList.empty() {
		var (
			rmsg      = rcon.recvMsgList.front(e.msgDq)
			msgIdx    = rcon.recvMsgList.popFront(e.msgDq)
			sndConIdx = rmsg.senderConId.Index
		)
		rmsg.receiverConId.Clear() // unlink from the receiver connection

		if rmsg.senderConId.IsValid() {
			switch rmsg.state {
			case stateRelay, stateWaitResponse:
				rmsg.state = stateRecvCancel

				debug.Assert(e.isValidConUid(rmsg.senderConId))

				rsndcon := e.conDq[sndConIdx]
				shouldNotify := msgIdx == rsndcon.sendMsgList.frontIndex() ||
					rsndcon.sendMsgList.front(e.msgDq).state != stateRecvCancel

				rsndcon.sendMsgList.erase(e.msgDq, msgIdx)
				rsndcon.sendMsgList.pushFront(e.msgDq, msgIdx)
				debug.AssertFunc(func() bool { return rsndcon.sendMsgList.check(e.msgDq) })

				if shouldNotify {
					e.notifyConnection(rsndcon.id, NotifyDoneData)
				}
				continue
			default:
				// SendCancel: sender id should be invalid;
				// RecvCancel: message should not be on the recv list
				nlog.Errorf("relay: invalid message state %s on stop", rmsg.state)
			}
		}
		// simply erase the message
		for prd := rmsg.pop(); prd != nil; prd = rmsg.pop() {
			e.eraseRelayData(prd)
		}
		rmsg.clear()
		e.eraseMessage(msgIdx)
	}

	for !rcon.sendMsgList.empty() {
		var (
			rmsg      = rcon.sendMsgList.front(e.msgDq)
			msgIdx    = rcon.sendMsgList.popFront(e.msgDq)
			rcvConIdx = rmsg.receiverConId.Index
		)
		rmsg.senderConId.Clear() // unlink from the sender connection

		// the stopping connection owns these buffers; they die with it
		for prd := rmsg.pop(); prd != nil; prd = rmsg.pop() {
			e.eraseRelayData(prd)
		}

		if rmsg.receiverConId.IsValid() {
			switch rmsg.state {
			case stateRelay, stateWaitResponse:
				rmsg.state = stateSendCancel

				debug.Assert(e.isValidConUid(rmsg.receiverConId))
				rmsg.push(e.createSendCancelRelayData())

				rrcvcon := e.conDq[rcvConIdx]
				shouldNotify := rrcvcon.recvMsgList.backIndex() == msgIdx ||
					!rrcvcon.recvMsgList.back(e.msgDq).hasData()

				rrcvcon.recvMsgList.erase(e.msgDq, msgIdx)
				rrcvcon.recvMsgList.pushBack(e.msgDq, msgIdx)

				if shouldNotify {
					e.notifyConnection(rrcvcon.id, NotifyNewData)
				}
				continue
			default:
				nlog.Errorf("relay: invalid message state %s on stop", rmsg.state)
			}
		}
		// simply erase the message
		rmsg.clear()
		e.eraseMessage(msgIdx)
	}

	// clean up the done-stack
	for prd := rcon.pdoneRelayDataTop; prd != nil; {
		tmp := prd.pnext
		e.eraseRelayData(prd)
		prd = tmp
	}
	rcon.pdoneRelayDataTop = nil

	p := proxy{e: e}
	e.reg.unregisterConnectionName(&p, conIdx)

	nlog.Infof("relay: stop connection %d %s", conIdx, rcon)
	e.eraseConnection(conIdx)
}

//
// diagnostics
//

type Stats struct {
	Messages    int64
	DataChunks  int64
	Cancels     int64
	Notifies    int64
	Connections int64
	MessagesNow int64
}

func (e *EngineCore) ReadStats() (st Stats) {
	st.Messages = e.nMessages.Load()
	st.DataChunks = e.nData.Load()
	st.Cancels = e.nCancels.Load()
	st.Notifies = e.nNotifies.Load()
	e.mu.Lock()
	st.Connections = int64(len(e.conDq) - len(e.conCache))
	st.MessagesNow = int64(len(e.msgDq)) - int64(e.msgCache.count())
	e.mu.Unlock()
	return
}

// DebugDump logs the full engine state.
func (e *EngineCore) DebugDump() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, msg := range e.msgDq {
		datacnt := 0
		for p := msg.pfront; p != nil; p = p.pnext {
			datacnt++
		}
		nlog.Errorf("Msg %d: state %s datacnt=%d hasData=%t rcvcon=%s sndcon=%s",
			i, msg.state, datacnt, msg.hasData(), msg.receiverConId, msg.senderConId)
	}
	for i, con := range e.conDq {
		nlog.Errorf("Con %d: %s done=%t rcvlst=%d sndlst=%d",
			i, con, con.pdoneRelayDataTop != nil, con.recvMsgList.count(), con.sendMsgList.count())
	}
}

//
// proxy
//

func (p *proxy) stopConnection(idx uint64) { p.e.doStopConnection(idx) }

func (p *proxy) notifyConnection(id frame.ActorId, what Notification) {
	p.e.notifyConnection(id, what)
}
