// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows
// +build windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// CREATE_NO_WINDOW prevents a console window from being created for the child.
const CREATE_NO_WINDOW = 0x08000000

// sysProcAttr creates the child in a new process group without a console
// window.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | CREATE_NO_WINDOW,
	}
}

// terminate kills the child. Windows has no SIGTERM equivalent that a console
// helper reliably handles, so Kill is the shutdown path.
func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	cmd.Process.Kill()
}
