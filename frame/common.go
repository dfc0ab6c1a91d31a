// Package frame provides the reactor/actor substrate: event-driven actors
// scheduled on single-threaded reactors, with timers and cross-thread
// notifications.
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package frame

import (
	"errors"
	"fmt"
	"math"
)

const (
	InvalidIndex  = uint64(math.MaxUint64)
	InvalidUnique = uint32(math.MaxUint32)
)

type (
	// UniqueId references a slot-allocated entity; the Unique generation
	// disambiguates slot reuse. Both fields must match for equality.
	UniqueId struct {
		Index  uint64
		Unique uint32
	}

	// ActorId identifies an actor within a scheduler. The reactor ordinal
	// is packed into the high bits of Index.
	ActorId = UniqueId
)

var (
	ErrStopped       = errors.New("reactor stopped")
	ErrActorNotFound = errors.New("actor not found")
	ErrTimerCanceled = errors.New("timer canceled")
)

func InvalidId() UniqueId { return UniqueId{Index: InvalidIndex, Unique: InvalidUnique} }

func (id UniqueId) IsValid() bool   { return id.Index != InvalidIndex || id.Unique != InvalidUnique }
func (id UniqueId) IsInvalid() bool { return !id.IsValid() }

func (id *UniqueId) Clear() { *id = InvalidId() }

func (id UniqueId) String() string {
	if id.IsInvalid() {
		return "[invalid]"
	}
	return fmt.Sprintf("[%d:%d]", id.Index, id.Unique)
}

// reactor ordinal is packed into the actor-id high bits
const reactorShift = 48

func packActorIndex(reactorOrd, slot uint64) uint64 { return reactorOrd<<reactorShift | slot }
func unpackActorIndex(index uint64) (reactorOrd, slot uint64) {
	return index >> reactorShift, index & (1<<reactorShift - 1)
}
