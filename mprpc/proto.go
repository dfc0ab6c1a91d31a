// Package mprpc defines the message-level contract shared by connections
// and the relay engine.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package mprpc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v3"

	"github.com/solidoss/solidframe/cmn/debug"
)

// Packet commands. Message-bearing commands are followed by a compact
// multiplex index and a stub generation byte; data-carrying commands add a
// 16-bit body length.
type PacketCmd uint8

const (
	CmdNewMessage PacketCmd = iota + 1
	CmdFullMessage
	CmdMessage
	CmdEndMessage
	CmdCancelMessage
	CmdCancelRequest
	CmdAckdCount
	CmdUpdate
)

// EndMessageFlag combines with a data-carrying command on the last chunk.
const EndMessageFlag = PacketCmd(0x80)

const (
	cmdMask = PacketCmd(0x7f)

	// MaxMessageCountMultiplex bounds the compact multiplex index.
	MaxMessageCountMultiplex = 64

	// packet header: [flags:1][size:2]
	sizePacketHdr      = 3
	packetCompressedFl = 0x01

	// compress only when it can pay for itself
	minSizeCompress = 512

	MaxPacketDataSize = 0xffff
)

var (
	ErrProtocol      = errors.New("protocol error")
	ErrDeserialize   = errors.New("deserialization error")
	ErrMessageCanceled = errors.New("message canceled")
)

func (cmd PacketCmd) IsEndMessage() bool { return cmd&EndMessageFlag != 0 }
func (cmd PacketCmd) Base() PacketCmd    { return cmd & cmdMask }

func (cmd PacketCmd) HasData() bool {
	switch cmd.Base() {
	case CmdNewMessage, CmdFullMessage, CmdMessage, CmdEndMessage:
		return true
	}
	return false
}

func (cmd PacketCmd) String() string {
	s := "unknown"
	switch cmd.Base() {
	case CmdNewMessage:
		s = "new-message"
	case CmdFullMessage:
		s = "full-message"
	case CmdMessage:
		s = "message"
	case CmdEndMessage:
		s = "end-message"
	case CmdCancelMessage:
		s = "cancel-message"
	case CmdCancelRequest:
		s = "cancel-request"
	case CmdAckdCount:
		s = "ackd-count"
	case CmdUpdate:
		s = "update"
	}
	if cmd.IsEndMessage() {
		s += "+end"
	}
	return s
}

//
// command codec
//

// PackCommand appends cmd + multiplex index + generation (+ 16-bit length
// and data when the command carries any) and returns the grown buffer.
func PackCommand(b []byte, cmd PacketCmd, idx uint32, gen uint8, data []byte) []byte {
	debug.Assert(idx < MaxMessageCountMultiplex, idx)
	debug.Assert(len(data) <= MaxPacketDataSize)
	b = append(b, byte(cmd), byte(idx), gen)
	if cmd.HasData() {
		b = binary.BigEndian.AppendUint16(b, uint16(len(data)))
		b = append(b, data...)
	}
	return b
}

// UnpackCommand parses one command off b; data aliases b.
func UnpackCommand(b []byte) (cmd PacketCmd, idx uint32, gen uint8, data, rest []byte, err error) {
	if len(b) < 3 {
		return 0, 0, 0, nil, nil, fmt.Errorf("%w: short command (%d)", ErrProtocol, len(b))
	}
	cmd, idx, gen = PacketCmd(b[0]), uint32(b[1]), b[2]
	if base := cmd.Base(); base < CmdNewMessage || base > CmdUpdate {
		return 0, 0, 0, nil, nil, fmt.Errorf("%w: invalid command 0x%x", ErrProtocol, byte(cmd))
	}
	if idx >= MaxMessageCountMultiplex {
		return 0, 0, 0, nil, nil, fmt.Errorf("%w: multiplex index %d out of range", ErrProtocol, idx)
	}
	rest = b[3:]
	if cmd.HasData() {
		if len(rest) < 2 {
			return 0, 0, 0, nil, nil, fmt.Errorf("%w: short data length", ErrProtocol)
		}
		l := int(binary.BigEndian.Uint16(rest))
		rest = rest[2:]
		if len(rest) < l {
			return 0, 0, 0, nil, nil, fmt.Errorf("%w: truncated data (%d < %d)", ErrProtocol, len(rest), l)
		}
		data, rest = rest[:l], rest[l:]
	}
	return
}

//
// packet codec
//

// PackPacket frames body into a packet, lz4-compressing when profitable.
func PackPacket(b, body []byte) []byte {
	debug.Assert(len(body) <= MaxPacketDataSize)
	if len(body) >= minSizeCompress {
		var (
			dst = make([]byte, lz4.CompressBlockBound(len(body)))
			ht  = make([]int, 1<<16)
		)
		if n, err := lz4.CompressBlock(body, dst, ht); err == nil && n > 0 && n < len(body) {
			b = append(b, packetCompressedFl)
			b = binary.BigEndian.AppendUint16(b, uint16(n))
			return append(b, dst[:n]...)
		}
	}
	b = append(b, 0)
	b = binary.BigEndian.AppendUint16(b, uint16(len(body)))
	return append(b, body...)
}

// UnpackPacket returns the (decompressed when flagged) body and the
// remaining bytes.
func UnpackPacket(b []byte) (body, rest []byte, err error) {
	if len(b) < sizePacketHdr {
		return nil, nil, fmt.Errorf("%w: short packet header (%d)", ErrProtocol, len(b))
	}
	flags := b[0]
	size := int(binary.BigEndian.Uint16(b[1:]))
	rest = b[sizePacketHdr:]
	if len(rest) < size {
		return nil, nil, fmt.Errorf("%w: truncated packet (%d < %d)", ErrProtocol, len(rest), size)
	}
	body, rest = rest[:size], rest[size:]
	if flags&packetCompressedFl != 0 {
		dst := make([]byte, MaxPacketDataSize)
		n, err := lz4.UncompressBlock(body, dst)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		body = dst[:n]
	}
	return
}

//
// header codec
//

// EncodeHeader appends the header's wire form. The request-id pair is
// written in wire order; DecodeHeader performs the swap so that the
// receiving side sees the peer's id as RecipientRequestId.
func EncodeHeader(b []byte, h *MessageHeader) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(h.Flags))
	b = appendRequestId(b, h.SenderRequestId)
	b = appendRequestId(b, h.RecipientRequestId)
	b = binary.BigEndian.AppendUint32(b, h.GroupId)
	b = binary.BigEndian.AppendUint16(b, h.ReplicaId)
	debug.Assert(len(h.Url) <= MaxPacketDataSize)
	b = binary.BigEndian.AppendUint16(b, uint16(len(h.Url)))
	return append(b, h.Url...)
}

// DecodeHeader parses a header and swaps the request ids: the wire sender
// becomes RecipientRequestId, SenderRequestId is cleared for the relay to
// fill in.
func DecodeHeader(b []byte, h *MessageHeader) (rest []byte, err error) {
	const fixed = 4 + 8 + 8 + 4 + 2 + 2
	if len(b) < fixed {
		return nil, fmt.Errorf("%w: short header (%d)", ErrDeserialize, len(b))
	}
	h.Flags = MessageFlags(binary.BigEndian.Uint32(b))
	wireSender := readRequestId(b[4:])
	_ = readRequestId(b[12:]) // wire recipient: meaningful only to the peer
	h.GroupId = binary.BigEndian.Uint32(b[20:])
	h.ReplicaId = binary.BigEndian.Uint16(b[24:])
	ulen := int(binary.BigEndian.Uint16(b[26:]))
	rest = b[fixed:]
	if len(rest) < ulen {
		return nil, fmt.Errorf("%w: truncated url (%d < %d)", ErrDeserialize, len(rest), ulen)
	}
	h.Url, rest = string(rest[:ulen]), rest[ulen:]
	h.RecipientRequestId = wireSender
	h.SenderRequestId.Clear()
	return
}

func appendRequestId(b []byte, id RequestId) []byte {
	b = binary.BigEndian.AppendUint32(b, id.Index)
	return binary.BigEndian.AppendUint32(b, id.Unique)
}

func readRequestId(b []byte) RequestId {
	return RequestId{Index: binary.BigEndian.Uint32(b), Unique: binary.BigEndian.Uint32(b[4:])}
}
