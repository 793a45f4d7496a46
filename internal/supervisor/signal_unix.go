// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows
// +build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// sysProcAttr puts the child in its own process group so the whole group can
// be signaled on shutdown without touching our own group.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// terminate sends SIGTERM to the child's process group, reaching any workers
// the backend spawned under itself.
func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		cmd.Process.Signal(syscall.SIGTERM)
		return
	}
	syscall.Kill(-pgid, syscall.SIGTERM)
}
