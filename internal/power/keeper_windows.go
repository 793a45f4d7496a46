// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows
// +build windows

package power

import (
	"golang.org/x/sys/windows"
)

const (
	esContinuous     = 0x80000000
	esSystemRequired = 0x00000001
)

var (
	kernel32                    = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadExecutionState = kernel32.NewProc("SetThreadExecutionState")
)

// platformInhibit uses SetThreadExecutionState to keep the system awake.
// ES_CONTINUOUS holds the requirement until cleared, so release resets the
// thread state.
func platformInhibit(reason string) (func(), error) {
	_ = reason // Windows has no per-inhibitor reason string

	ret, _, _ := procSetThreadExecutionState.Call(uintptr(esContinuous | esSystemRequired))
	if ret == 0 {
		return func() {}, nil
	}

	return func() {
		procSetThreadExecutionState.Call(uintptr(esContinuous))
	}, nil
}
