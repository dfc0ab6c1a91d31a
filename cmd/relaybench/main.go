// relaybench drives a loopback relay: two in-process connection actors
// moving chunked messages through the engine, reporting throughput.
/*
 * Copyright (c) 2022-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/solidoss/solidframe/cmn"
	"github.com/solidoss/solidframe/cmn/mono"
	"github.com/solidoss/solidframe/cmn/nlog"
	"github.com/solidoss/solidframe/frame"
	"github.com/solidoss/solidframe/mprpc"
	"github.com/solidoss/solidframe/mprpc/relay"
	"github.com/solidoss/solidframe/sys"
	"github.com/solidoss/solidframe/tpool"
)

const (
	dstGroup   = 2
	dstReplica = 0
)

func main() {
	app := cli.NewApp()
	app.Name = "relaybench"
	app.Usage = "loopback benchmark for the relay engine"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "framework config (JSON)"},
		cli.IntFlag{Name: "messages", Value: 10000, Usage: "messages to relay"},
		cli.IntFlag{Name: "chunk", Value: 4096, Usage: "chunk size, bytes"},
		cli.IntFlag{Name: "chunks", Value: 3, Usage: "chunks per message"},
		cli.StringFlag{Name: "logdir", Usage: "log directory (default stderr)"},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if dir := c.String("logdir"); dir != "" {
		if err := nlog.SetLogDir(dir); err != nil {
			return err
		}
	}
	config, err := cmn.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	sys.SetMaxProcs()

	sched := frame.NewScheduler()
	if err := sched.Start(config.Frame.Reactors); err != nil {
		return err
	}
	defer sched.Stop()

	mgr := relay.NewPoolManager(sched, tpool.Config{
		Workers:  config.Pool.Workers,
		Capacity: config.Pool.Capacity,
	})
	defer mgr.Stop()

	var (
		engine = relay.NewSingleNameEngine(mgr)
		nmsg   = c.Int("messages")
		nchunk = c.Int("chunks")
		csize  = c.Int("chunk")
		doneCh = make(chan struct{})
	)

	rcv := &receiver{engine: engine}
	rcvId, err := sched.StartActor(rcv, frame.Event{Kind: frame.EventStart})
	if err != nil {
		return err
	}
	snd := &sender{engine: engine, nmsg: nmsg, nchunk: nchunk, csize: csize, doneCh: doneCh}
	if _, err := sched.StartActor(snd, frame.Event{Kind: frame.EventStart}); err != nil {
		return err
	}
	if err := engine.RegisterConnection(rcvId, &rcv.relayId, dstGroup, dstReplica); err != nil {
		return err
	}

	started := mono.NanoTime()
	<-doneCh
	elapsed := mono.Since(started)

	total := int64(nmsg) * int64(nchunk) * int64(csize)
	fmt.Printf("relayed %d messages, %d bytes in %v (%.1f MiB/s)\n",
		nmsg, total, elapsed, float64(total)/(1024*1024)/elapsed.Seconds())
	st := engine.ReadStats()
	fmt.Printf("engine: messages=%d chunks=%d cancels=%d notifies=%d\n",
		st.Messages, st.DataChunks, st.Cancels, st.Notifies)

	engine.StopConnection(rcv.relayId)
	engine.StopConnection(snd.relayId)
	return nil
}

//
// sender connection actor
//

type sender struct {
	engine  *relay.SingleNameEngine
	doneCh  chan struct{}
	relayId frame.UniqueId
	nmsg    int
	nchunk  int
	csize   int
	sent    int
	ndone   int
}

func (s *sender) OnEvent(ctx *frame.ReactorContext, ev frame.Event) {
	switch ev.Kind {
	case frame.EventStart:
		s.sendNext(ctx)
	case frame.EventGeneric:
		if n, ok := ev.Any.(relay.Notification); ok && n == relay.NotifyDoneData {
			s.pollDone(ctx)
		}
	}
}

func (s *sender) sendNext(ctx *frame.ReactorContext) {
	if s.sent == s.nmsg {
		return
	}
	s.sent++
	var (
		hdr = mprpc.MessageHeader{
			GroupId:         dstGroup,
			ReplicaId:       dstReplica,
			SenderRequestId: mprpc.RequestId{Index: uint32(s.sent), Unique: 1},
		}
		msgId relay.MessageId
	)
	for i := 0; i < s.nchunk; i++ {
		buf := make([]byte, s.csize)
		rd := relay.RelayData{Buf: buf, Data: buf}
		if i == s.nchunk-1 {
			rd.Flags |= relay.RelayDataLast
		}
		var err error
		if i == 0 {
			err = s.engine.RelayStart(ctx.ActorId(), &s.relayId, &hdr, rd, &msgId)
		} else {
			err = s.engine.Relay(s.relayId, rd, msgId)
		}
		if err != nil {
			nlog.Errorf("relaybench: send: %v", err)
			close(s.doneCh)
			return
		}
	}
}

func (s *sender) pollDone(ctx *frame.ReactorContext) {
	s.engine.PollDone(s.relayId,
		func(buf []byte) { s.ndone++ },
		func(h *mprpc.MessageHeader) { nlog.Warningf("relaybench: canceled %s", h) })
	if s.ndone == s.nmsg*s.nchunk {
		close(s.doneCh)
		return
	}
	if s.sent < s.nmsg {
		s.sendNext(ctx)
	}
}

//
// receiver connection actor
//

type (
	acceptedData struct {
		rd *relay.RelayData
		id relay.MessageId
	}
	receiver struct {
		engine  *relay.SingleNameEngine
		batch   []acceptedData
		relayId frame.UniqueId
		nrecv   int
	}
)

func (r *receiver) OnEvent(ctx *frame.ReactorContext, ev frame.Event) {
	if ev.Kind != frame.EventGeneric {
		return
	}
	n, ok := ev.Any.(relay.Notification)
	if !ok || n != relay.NotifyNewData {
		return
	}
	more := true
	for more {
		r.batch = r.batch[:0]
		r.engine.PollNew(r.relayId, r.tryPush, &more)
		// complete outside PollNew - the writer never calls back into the
		// engine from try_push
		for _, a := range r.batch {
			var m bool
			r.engine.Complete(r.relayId, a.rd, a.id, &m)
			more = more || m
		}
	}
}

func (r *receiver) tryPush(prd **relay.RelayData, engineId relay.MessageId, receiverId *relay.MessageId, canRetry *bool) bool {
	rd := *prd
	*canRetry = true
	if rd.Buf == nil && rd.IsMessageLast() {
		// cancel marker: acknowledge, let the engine free the message
		return true
	}
	*prd = nil // accept
	*receiverId = engineId
	r.nrecv++
	r.batch = append(r.batch, acceptedData{rd: rd, id: engineId})
	return true
}
