//go:build mono

// Package mono provides low-level monotonic time
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import (
	"time"
	_ "unsafe" // for go:linkname
)

// https://golang.org/pkg/runtime/?m=all#nanotime
//
//go:linkname NanoTime runtime.nanotime
func NanoTime() int64

// Since returns the elapsed time, in nanoseconds, from a prior NanoTime.
func Since(start int64) time.Duration { return time.Duration(NanoTime() - start) }
