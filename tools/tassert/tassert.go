// Package tassert provides common asserts for tests
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package tassert

import (
	"fmt"
	"testing"
)

func CheckFatal(tb testing.TB, err error) {
	if err != nil {
		tb.Helper()
		tb.Fatalf("unexpected error: %v", err)
	}
}

func CheckError(tb testing.TB, err error) {
	if err != nil {
		tb.Helper()
		tb.Errorf("unexpected error: %v", err)
	}
}

func Fatalf(tb testing.TB, cond bool, msg string, args ...any) {
	if !cond {
		tb.Helper()
		tb.Fatalf(msg, args...)
	}
}

func Errorf(tb testing.TB, cond bool, msg string, args ...any) {
	if !cond {
		tb.Helper()
		tb.Errorf(msg, args...)
	}
}

func Fatal(tb testing.TB, cond bool, msg string) {
	if !cond {
		tb.Helper()
		tb.Fatal(msg)
	}
}

func Error(tb testing.TB, cond bool, msg string) {
	if !cond {
		tb.Helper()
		tb.Error(msg)
	}
}

func Equalf[T comparable](tb testing.TB, got, want T, msg string, args ...any) {
	if got != want {
		tb.Helper()
		tb.Fatalf("%s: got %v, want %v", fmt.Sprintf(msg, args...), got, want)
	}
}
