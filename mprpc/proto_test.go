// Package mprpc defines the message-level contract shared by connections
// and the relay engine.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package mprpc_test

import (
	"bytes"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/solidoss/solidframe/mprpc"
)

var _ = Describe("Proto", func() {
	Describe("command codec", func() {
		It("round-trips a data command", func() {
			data := []byte("some relayed bytes")
			b := mprpc.PackCommand(nil, mprpc.CmdMessage, 5, 3, data)
			cmd, idx, gen, got, rest, err := mprpc.UnpackCommand(b)
			Expect(err).NotTo(HaveOccurred())
			Expect(cmd).To(Equal(mprpc.CmdMessage))
			Expect(idx).To(Equal(uint32(5)))
			Expect(gen).To(Equal(uint8(3)))
			Expect(got).To(Equal(data))
			Expect(rest).To(BeEmpty())
		})

		It("round-trips the end-message flag", func() {
			b := mprpc.PackCommand(nil, mprpc.CmdEndMessage|mprpc.EndMessageFlag, 0, 0, nil)
			cmd, _, _, _, _, err := mprpc.UnpackCommand(b)
			Expect(err).NotTo(HaveOccurred())
			Expect(cmd.IsEndMessage()).To(BeTrue())
			Expect(cmd.Base()).To(Equal(mprpc.CmdEndMessage))
		})

		It("parses back-to-back commands", func() {
			b := mprpc.PackCommand(nil, mprpc.CmdNewMessage, 1, 0, []byte("first"))
			b = mprpc.PackCommand(b, mprpc.CmdCancelRequest, 2, 1, nil)
			cmd, idx, _, data, rest, err := mprpc.UnpackCommand(b)
			Expect(err).NotTo(HaveOccurred())
			Expect(cmd).To(Equal(mprpc.CmdNewMessage))
			Expect(idx).To(Equal(uint32(1)))
			Expect(data).To(Equal([]byte("first")))
			cmd, idx, _, _, rest, err = mprpc.UnpackCommand(rest)
			Expect(err).NotTo(HaveOccurred())
			Expect(cmd).To(Equal(mprpc.CmdCancelRequest))
			Expect(idx).To(Equal(uint32(2)))
			Expect(rest).To(BeEmpty())
		})

		It("rejects an out-of-range multiplex index", func() {
			b := []byte{byte(mprpc.CmdMessage), mprpc.MaxMessageCountMultiplex, 0, 0, 0}
			_, _, _, _, _, err := mprpc.UnpackCommand(b)
			Expect(err).To(MatchError(mprpc.ErrProtocol))
		})

		It("rejects a truncated data frame", func() {
			b := mprpc.PackCommand(nil, mprpc.CmdMessage, 1, 0, []byte("payload"))
			_, _, _, _, _, err := mprpc.UnpackCommand(b[:len(b)-3])
			Expect(err).To(MatchError(mprpc.ErrProtocol))
		})
	})

	Describe("packet codec", func() {
		It("round-trips an uncompressed body", func() {
			body := []byte("short")
			b := mprpc.PackPacket(nil, body)
			got, rest, err := mprpc.UnpackPacket(b)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(body))
			Expect(rest).To(BeEmpty())
		})

		It("compresses a large compressible body transparently", func() {
			body := bytes.Repeat([]byte("solidframe-relay-"), 512)
			b := mprpc.PackPacket(nil, body)
			Expect(len(b)).To(BeNumerically("<", len(body)))
			got, _, err := mprpc.UnpackPacket(b)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(body))
		})

		It("rejects a truncated packet", func() {
			b := mprpc.PackPacket(nil, []byte("hello"))
			_, _, err := mprpc.UnpackPacket(b[:len(b)-2])
			Expect(err).To(MatchError(mprpc.ErrProtocol))
		})
	})

	Describe("header codec", func() {
		It("swaps request ids on decode", func() {
			h := mprpc.MessageHeader{
				Flags:              mprpc.WaitResponseFlag | mprpc.RelayedFlag,
				SenderRequestId:    mprpc.RequestId{Index: 7, Unique: 1},
				RecipientRequestId: mprpc.RequestId{Index: 9, Unique: 4},
				Url:                "service-two",
				GroupId:            mprpc.InvalidGroupId,
			}
			b := mprpc.EncodeHeader(nil, &h)

			var got mprpc.MessageHeader
			rest, err := mprpc.DecodeHeader(b, &got)
			Expect(err).NotTo(HaveOccurred())
			Expect(rest).To(BeEmpty())
			Expect(got.Flags).To(Equal(h.Flags))
			Expect(got.Url).To(Equal(h.Url))
			// the peer's sender id arrives as our recipient id
			Expect(got.RecipientRequestId).To(Equal(h.SenderRequestId))
			Expect(got.SenderRequestId.IsValid()).To(BeFalse())
		})

		It("round-trips group/replica addressing", func() {
			h := mprpc.MessageHeader{GroupId: 2, ReplicaId: 1}
			b := mprpc.EncodeHeader(nil, &h)
			var got mprpc.MessageHeader
			_, err := mprpc.DecodeHeader(b, &got)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.GroupId).To(Equal(uint32(2)))
			Expect(got.ReplicaId).To(Equal(uint16(1)))
			Expect(got.IsNamedByGroup()).To(BeTrue())
		})

		It("rejects a short header", func() {
			_, err := mprpc.DecodeHeader([]byte{1, 2, 3}, &mprpc.MessageHeader{})
			Expect(err).To(MatchError(mprpc.ErrDeserialize))
		})
	})
})
