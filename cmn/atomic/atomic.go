// Package atomic provides typed wrappers on top of sync/atomic
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package atomic

import (
	"sync/atomic"
	"unsafe"
)

type (
	Bool struct {
		v uint32
	}
	Int32 struct {
		v int32
	}
	Uint32 struct {
		v uint32
	}
	Int64 struct {
		v int64
	}
	Uint64 struct {
		v uint64
	}
	Pointer struct {
		v unsafe.Pointer
	}
)

//
// Bool
//

func NewBool(b bool) *Bool {
	p := &Bool{}
	p.Store(b)
	return p
}

func (b *Bool) Load() bool       { return atomic.LoadUint32(&b.v) != 0 }
func (b *Bool) Store(v bool)     { atomic.StoreUint32(&b.v, b2u(v)) }
func (b *Bool) Toggle() (new bool) {
	for {
		old := b.Load()
		new = !old
		if b.CAS(old, new) {
			return
		}
	}
}

func (b *Bool) Swap(v bool) bool     { return atomic.SwapUint32(&b.v, b2u(v)) != 0 }
func (b *Bool) CAS(old, new bool) bool { return atomic.CompareAndSwapUint32(&b.v, b2u(old), b2u(new)) }

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

//
// Int32
//

func NewInt32(v int32) *Int32 { return &Int32{v: v} }

func (i *Int32) Load() int32          { return atomic.LoadInt32(&i.v) }
func (i *Int32) Store(v int32)        { atomic.StoreInt32(&i.v, v) }
func (i *Int32) Add(d int32) int32    { return atomic.AddInt32(&i.v, d) }
func (i *Int32) Inc() int32           { return atomic.AddInt32(&i.v, 1) }
func (i *Int32) Dec() int32           { return atomic.AddInt32(&i.v, -1) }
func (i *Int32) Swap(v int32) int32   { return atomic.SwapInt32(&i.v, v) }
func (i *Int32) CAS(o, n int32) bool  { return atomic.CompareAndSwapInt32(&i.v, o, n) }

//
// Uint32
//

func NewUint32(v uint32) *Uint32 { return &Uint32{v: v} }

func (u *Uint32) Load() uint32         { return atomic.LoadUint32(&u.v) }
func (u *Uint32) Store(v uint32)       { atomic.StoreUint32(&u.v, v) }
func (u *Uint32) Add(d uint32) uint32  { return atomic.AddUint32(&u.v, d) }
func (u *Uint32) Inc() uint32          { return atomic.AddUint32(&u.v, 1) }
func (u *Uint32) Swap(v uint32) uint32 { return atomic.SwapUint32(&u.v, v) }
func (u *Uint32) CAS(o, n uint32) bool { return atomic.CompareAndSwapUint32(&u.v, o, n) }

//
// Int64
//

func NewInt64(v int64) *Int64 { return &Int64{v: v} }

func (i *Int64) Load() int64         { return atomic.LoadInt64(&i.v) }
func (i *Int64) Store(v int64)       { atomic.StoreInt64(&i.v, v) }
func (i *Int64) Add(d int64) int64   { return atomic.AddInt64(&i.v, d) }
func (i *Int64) Inc() int64          { return atomic.AddInt64(&i.v, 1) }
func (i *Int64) Dec() int64          { return atomic.AddInt64(&i.v, -1) }
func (i *Int64) Swap(v int64) int64  { return atomic.SwapInt64(&i.v, v) }
func (i *Int64) CAS(o, n int64) bool { return atomic.CompareAndSwapInt64(&i.v, o, n) }

//
// Uint64
//

func NewUint64(v uint64) *Uint64 { return &Uint64{v: v} }

func (u *Uint64) Load() uint64         { return atomic.LoadUint64(&u.v) }
func (u *Uint64) Store(v uint64)       { atomic.StoreUint64(&u.v, v) }
func (u *Uint64) Add(d uint64) uint64  { return atomic.AddUint64(&u.v, d) }
func (u *Uint64) Inc() uint64          { return atomic.AddUint64(&u.v, 1) }
func (u *Uint64) Swap(v uint64) uint64 { return atomic.SwapUint64(&u.v, v) }
func (u *Uint64) CAS(o, n uint64) bool { return atomic.CompareAndSwapUint64(&u.v, o, n) }

//
// Pointer
//

func (p *Pointer) Load() unsafe.Pointer     { return atomic.LoadPointer(&p.v) }
func (p *Pointer) Store(v unsafe.Pointer)   { atomic.StorePointer(&p.v, v) }
func (p *Pointer) Swap(v unsafe.Pointer) unsafe.Pointer {
	return atomic.SwapPointer(&p.v, v)
}
