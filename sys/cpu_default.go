//go:build !linux

// Package sys provides methods to read system information
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"errors"
	"runtime"
)

func isContainerized() bool { return false }

func containerNumCPU() (int, error) {
	if !containerized {
		return runtime.NumCPU(), nil
	}
	return 0, errors.New("unsupported platform")
}
