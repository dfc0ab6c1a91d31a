// Package relay implements the MPRPC relay engine.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package relay

import (
	"strconv"
	"strings"

	"github.com/OneOfOne/xxhash"

	"github.com/solidoss/solidframe/cmn/debug"
	"github.com/solidoss/solidframe/cmn/nlog"
	"github.com/solidoss/solidframe/frame"
	"github.com/solidoss/solidframe/mprpc"
)

// SingleNameEngine maps one name - (group id, replica id) or a URL - to
// one connection slot. A sender naming an unregistered destination gets a
// placeholder stub (no ActorId yet); the later RegisterConnection of the
// actual connection attaches to the same slot, preserving queued work.
// Name conflicts resolve last-writer-wins: the prior connection's stub
// loses the name binding but stays registered, with its queued work.
type SingleNameEngine struct {
	EngineCore
	umap map[uint64]uint64 // xxhash(canonical name) -> connection slot
}

func NewSingleNameEngine(mgr Manager) *SingleNameEngine {
	e := &SingleNameEngine{umap: make(map[uint64]uint64)}
	e.EngineCore.init(mgr, e)
	return e
}

func nameOf(groupId uint32, replicaId uint16) string {
	return strconv.FormatUint(uint64(groupId), 10) + "/" + strconv.FormatUint(uint64(replicaId), 10)
}

func canonical(h *mprpc.MessageHeader) string {
	if h.IsNamedByGroup() {
		return nameOf(h.GroupId, h.ReplicaId)
	}
	return strings.ToLower(h.Url)
}

func nameKey(name string) uint64 { return xxhash.ChecksumString64(name) }

func (e *SingleNameEngine) lookup(name string) (uint64, bool) {
	idx, ok := e.umap[nameKey(name)]
	if !ok {
		return frame.InvalidIndex, false
	}
	if e.conDq[idx].name != name { // hash collision: treat as distinct
		nlog.Errorf("relay: name hash collision %q vs %q", name, e.conDq[idx].name)
		return frame.InvalidIndex, false
	}
	return idx, true
}

// RegisterConnection binds (groupId, replicaId) to the calling connection,
// so that senders can reach it by name. relayConUid is the connection's
// current relay token (in/out, as with RelayStart); on return it points at
// the bound slot. The connection gets a NewData kick so any work already
// queued on a placeholder starts flowing.
func (e *SingleNameEngine) RegisterConnection(conId frame.ActorId, relayConUid *frame.UniqueId,
	groupId uint32, replicaId uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		name    = nameOf(groupId, replicaId)
		conIdx  = frame.InvalidIndex
		nameIdx = frame.InvalidIndex
		p       = proxy{e: &e.EngineCore}
	)
	if relayConUid.IsValid() {
		if !e.isValidConUid(*relayConUid) {
			return ErrConnectionNotFound
		}
		conIdx = relayConUid.Index
	}
	if idx, ok := e.lookup(name); ok {
		nameIdx = idx
	}

	switch {
	case conIdx == frame.InvalidIndex && nameIdx == frame.InvalidIndex:
		// full registration
		conIdx = e.createConnection()
		e.bind(conIdx, name, groupId, replicaId)
	case conIdx == frame.InvalidIndex:
		rcon := e.conDq[nameIdx]
		if rcon.id.IsInvalid() || rcon.id == conId {
			// adopt the slot already registered by name (placeholder or
			// re-registration)
			conIdx = nameIdx
		} else {
			// most basic conflict policy: replace the existing connection
			// with the new one
			// TODO: support multiple chained connections sharing one name
			delete(e.umap, nameKey(rcon.name))
			rcon.name = ""
			rcon.groupId = mprpc.InvalidGroupId
			rcon.replicaId = 0
			conIdx = e.createConnection()
			e.bind(conIdx, name, groupId, replicaId)
		}
	case nameIdx != frame.InvalidIndex:
		// conflicting situation: the connection was used for sending
		// relayed messages (registered without a name), while the name is
		// bound to another stub - adopt the named one
		p.stopConnection(conIdx)
		conIdx = nameIdx
	default:
		// simply bind the name to the existing slot
		e.bind(conIdx, name, groupId, replicaId)
	}

	rcon := e.conDq[conIdx]
	rcon.id = conId
	*relayConUid = e.conUid(conIdx)

	nlog.Infof("relay: register %s -> %s %s", name, relayConUid, rcon)

	p.notifyConnection(rcon.id, NotifyNewData)
	return nil
}

func (e *SingleNameEngine) bind(conIdx uint64, name string, groupId uint32, replicaId uint16) {
	rcon := e.conDq[conIdx]
	rcon.name = name
	rcon.groupId = groupId
	rcon.replicaId = replicaId
	e.umap[nameKey(name)] = conIdx
}

//
// nameRegistry
//

func (e *SingleNameEngine) registerNamed(_ *proxy, h *mprpc.MessageHeader) (conIdx uint64) {
	name := canonical(h)
	if idx, ok := e.lookup(name); ok {
		return idx
	}
	// placeholder: no ActorId until the destination registers
	conIdx = e.createConnection()
	rcon := e.conDq[conIdx]
	rcon.name = name
	if h.IsNamedByGroup() {
		rcon.groupId = h.GroupId
		rcon.replicaId = h.ReplicaId
	}
	e.umap[nameKey(name)] = conIdx
	nlog.Infof("relay: placeholder %q -> %d", name, conIdx)
	return
}

func (e *SingleNameEngine) unregisterConnectionName(_ *proxy, conIdx uint64) {
	rcon := e.conDq[conIdx]
	if !rcon.isNamed() {
		return
	}
	debug.AssertFunc(func() bool {
		idx, ok := e.umap[nameKey(rcon.name)]
		return !ok || idx == conIdx
	})
	delete(e.umap, nameKey(rcon.name))
}
