//go:build !mono

// Package mono provides low-level monotonic time
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import (
	"time"
)

var started = time.Now()

// NanoTime returns monotonically increasing nanoseconds. The `mono` build
// tag switches to the runtime.nanotime fast path.
func NanoTime() int64 { return int64(time.Since(started)) }

// Since returns the elapsed time, in nanoseconds, from a prior NanoTime.
func Since(start int64) time.Duration { return time.Duration(NanoTime() - start) }
