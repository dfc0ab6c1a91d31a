// Package mprpc defines the message-level contract shared by connections
// and the relay engine: headers, flags, request ids, and packet framing.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package mprpc

import (
	"fmt"
	"math"
)

type (
	// RequestId identifies an in-flight request on one side of a
	// connection; zero Index means invalid.
	RequestId struct {
		Index  uint32
		Unique uint32
	}

	MessageFlags uint32

	// MessageHeader carries the routing metadata of one message. The
	// request ids travel swapped on the wire: after Decode,
	// RecipientRequestId holds the peer's id and SenderRequestId is
	// cleared.
	MessageHeader struct {
		Url                string
		Flags              MessageFlags
		SenderRequestId    RequestId
		RecipientRequestId RequestId
		GroupId            uint32
		ReplicaId          uint16
	}
)

const (
	WaitResponseFlag MessageFlags = 1 << iota
	SynchronousFlag
	IdempotentFlag
	OneShotSendFlag
	ResponseFlag
	ResponsePartFlag
	ResponseLastFlag
	OnPeerFlag
	BackOnSenderFlag
	RelayedFlag
)

func (f MessageFlags) Has(flag MessageFlags) bool { return f&flag != 0 }
func (f MessageFlags) IsWaitResponse() bool       { return f.Has(WaitResponseFlag) }
func (f MessageFlags) IsSynchronous() bool        { return f.Has(SynchronousFlag) }
func (f MessageFlags) IsResponse() bool           { return f.Has(ResponseFlag | ResponsePartFlag) }
func (f MessageFlags) IsRelayed() bool            { return f.Has(RelayedFlag) }

func (f MessageFlags) String() string {
	names := []struct {
		flag MessageFlags
		name string
	}{
		{WaitResponseFlag, "wait-response"},
		{SynchronousFlag, "synchronous"},
		{IdempotentFlag, "idempotent"},
		{OneShotSendFlag, "one-shot"},
		{ResponseFlag, "response"},
		{ResponsePartFlag, "response-part"},
		{ResponseLastFlag, "response-last"},
		{OnPeerFlag, "on-peer"},
		{BackOnSenderFlag, "back-on-sender"},
		{RelayedFlag, "relayed"},
	}
	s := ""
	for _, e := range names {
		if f.Has(e.flag) {
			if s != "" {
				s += "|"
			}
			s += e.name
		}
	}
	if s == "" {
		s = "none"
	}
	return s
}

//
// RequestId
//

func (id RequestId) IsValid() bool { return id.Index != 0 }

func (id *RequestId) Clear() { id.Index, id.Unique = 0, 0 }

func (id RequestId) String() string {
	if !id.IsValid() {
		return "{invalid}"
	}
	return fmt.Sprintf("{%d:%d}", id.Index, id.Unique)
}

//
// MessageHeader
//

// InvalidGroupId marks a header routed by URL rather than by group.
const InvalidGroupId = uint32(math.MaxUint32)

func (h *MessageHeader) IsNamedByGroup() bool { return h.GroupId != InvalidGroupId }

func (h *MessageHeader) String() string {
	return fmt.Sprintf("hdr[flags=%s snd=%s rcp=%s url=%q grp=(%d,%d)]",
		h.Flags, h.SenderRequestId, h.RecipientRequestId, h.Url, h.GroupId, h.ReplicaId)
}
