// Package relay implements the MPRPC relay engine: a broker forwarding
// framed chunks of multiplexed messages between established connections,
// with strict per-message ordering, exactly-once buffer return, and
// cancellation that survives either peer disappearing mid-stream.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package relay

import (
	"fmt"

	"github.com/solidoss/solidframe/cmn/debug"
	"github.com/solidoss/solidframe/frame"
	"github.com/solidoss/solidframe/mprpc"
)

type (
	// MessageId is the engine's token for one in-flight relayed message;
	// opaque to connections, generation-validated on every call.
	MessageId = frame.UniqueId

	// Notification is what the engine posts toward a connection's actor.
	Notification uint8

	// Manager notifies connection actors; false iff the actor is gone.
	Manager interface {
		NotifyConnection(id frame.ActorId, what Notification) bool
	}

	RelayDataFlags uint8

	// RelayData is one unit of forwarded bytes. Buf is owned by the
	// sender connection and MUST come back to it exactly once, through
	// the done-stack.
	RelayData struct {
		PHeader      *mprpc.MessageHeader
		Buf          []byte // owned by the sender connection
		Data         []byte // the window within Buf to forward
		pnext        *RelayData
		MessageFlags mprpc.MessageFlags
		Flags        RelayDataFlags
	}

	// DoneFunc returns a buffer to the sender connection's writer.
	DoneFunc func(buf []byte)

	// CancelFunc reports a receiver-side cancellation to the sender's
	// writer, which emits the CancelRequest frame.
	CancelFunc func(h *mprpc.MessageHeader)

	// TryPushFunc is supplied by the receiver's writer to PollNew. On
	// accepting the data the writer nils *prd (taking ownership), records
	// its own id in *receiverId, and sets *canRetry if it can take more.
	// Returning true with *prd left intact acknowledges a cancel marker.
	TryPushFunc func(prd **RelayData, engineId MessageId, receiverId *MessageId, canRetry *bool) bool
)

const (
	NotifyNewData Notification = iota + 1
	NotifyDoneData
)

func (n Notification) String() string {
	switch n {
	case NotifyNewData:
		return "new-data"
	case NotifyDoneData:
		return "done-data"
	}
	return "unknown"
}

const (
	RelayDataFirst RelayDataFlags = 1 << iota
	RelayDataLast
)

func (rd *RelayData) IsMessageBegin() bool { return rd.Flags&RelayDataFirst != 0 }
func (rd *RelayData) IsMessageLast() bool  { return rd.Flags&RelayDataLast != 0 }
func (rd *RelayData) IsRequest() bool      { return rd.MessageFlags.IsWaitResponse() }

func (rd *RelayData) clear() {
	rd.PHeader = nil
	rd.Buf = nil
	rd.Data = nil
	rd.MessageFlags = 0
	rd.Flags = 0
	rd.pnext = nil
}

//
// message stub
//

type messageState uint8

const (
	stateCache messageState = iota
	stateRelay
	stateWaitResponse
	stateRecvCancel
	stateSendCancel
)

func (st messageState) String() string {
	switch st {
	case stateCache:
		return "cache"
	case stateRelay:
		return "relay"
	case stateWaitResponse:
		return "wait-response"
	case stateRecvCancel:
		return "recv-cancel"
	case stateSendCancel:
		return "send-cancel"
	}
	return "unknown"
}

// per-stub intrusive hooks: recv-side list and send-side list (the latter
// doubles as the free-cache hook)
const (
	linkRecv = iota
	linkSend
	linkCount
)

type (
	link struct {
		prev, next uint64
	}
	messageStub struct {
		header           mprpc.MessageHeader
		pfront, pback    *RelayData
		senderConId      frame.UniqueId
		receiverConId    frame.UniqueId
		receiverMsgId    MessageId
		links            [linkCount]link
		lastMessageFlags mprpc.MessageFlags
		unique           uint32
		state            messageState
	}
)

func (m *messageStub) clear() {
	debug.Assert(m.pfront == nil && m.pback == nil)
	m.state = stateCache
	m.pfront, m.pback = nil, nil
	m.unique++
	m.senderConId.Clear()
	m.receiverConId.Clear()
	m.receiverMsgId.Clear()
	m.lastMessageFlags = 0
	m.header = mprpc.MessageHeader{}
}

func (m *messageStub) push(rd *RelayData) {
	if m.pback != nil {
		m.pback.pnext = rd
		m.pback = rd
	} else {
		m.pfront, m.pback = rd, rd
	}
	m.pback.pnext = nil
	m.pback.PHeader = &m.header
}

func (m *messageStub) pop() (rd *RelayData) {
	if m.pfront != nil {
		rd = m.pfront
		m.pfront = rd.pnext
		if m.pfront == nil {
			m.pback = nil
		}
		rd.pnext = nil
	}
	return
}

func (m *messageStub) isCanceled() bool {
	return m.state == stateRecvCancel || m.state == stateSendCancel
}

func (m *messageStub) hasData() bool {
	return m.pback != nil || m.state == stateSendCancel
}

//
// connection stub
//

type connectionStub struct {
	name              string // canonical name; "" while unnamed
	id                frame.ActorId
	pdoneRelayDataTop *RelayData
	sendMsgList       msgList
	recvMsgList       msgList
	groupId           uint32
	replicaId         uint16
	unique            uint32
}

func newConnectionStub() connectionStub {
	return connectionStub{
		id:          frame.InvalidId(),
		groupId:     mprpc.InvalidGroupId,
		sendMsgList: newMsgList(linkSend),
		recvMsgList: newMsgList(linkRecv),
	}
}

func (c *connectionStub) isNamed() bool { return c.name != "" }

func (c *connectionStub) clear() {
	debug.Assert(c.sendMsgList.empty() && c.recvMsgList.empty())
	c.unique++
	c.id = frame.InvalidId()
	c.name = ""
	c.groupId = mprpc.InvalidGroupId
	c.replicaId = 0
	c.pdoneRelayDataTop = nil
	c.sendMsgList = newMsgList(linkSend)
	c.recvMsgList = newMsgList(linkRecv)
}

func (c *connectionStub) String() string {
	return fmt.Sprintf("con[id=%s name=%q grp=(%d,%d)]", c.id, c.name, c.groupId, c.replicaId)
}
