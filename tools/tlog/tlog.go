// Package tlog provides common logf for tests
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package tlog

import (
	"fmt"
	"os"
	"time"
)

func Logf(format string, a ...any) {
	ts := time.Now().Format("15:04:05.000000")
	fmt.Fprintf(os.Stdout, ts+" "+format, a...)
}

func Logln(msg string) {
	Logf("%s\n", msg)
}
