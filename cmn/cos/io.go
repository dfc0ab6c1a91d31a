// Package cos provides common low-level types and utilities for all solidframe packages
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadLines reads a file line by line until the callback returns io.EOF or
// a real error.
func ReadLines(filename string, cb func(string) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := cb(scanner.Text()); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
	return scanner.Err()
}

// ReadOneInt64 reads a single int64 from a (/proc, /sys) file.
func ReadOneInt64(filename string) (int64, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
}

// ReadOneUint64 reads a single uint64 from a (/proc, /sys) file.
func ReadOneUint64(filename string) (uint64, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
}
