// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows
// +build !windows

package power

import (
	"os/exec"
	"runtime"
	"syscall"
)

// platformInhibit holds a sleep inhibitor by keeping a helper process alive:
// caffeinate on macOS, systemd-inhibit on Linux. The inhibitor lasts exactly
// as long as the helper, so release is just killing it.
func platformInhibit(reason string) (func(), error) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		// -d display, -i idle, -m disk, -s system sleep
		cmd = exec.Command("caffeinate", "-dims")
	default:
		if _, err := exec.LookPath("systemd-inhibit"); err != nil {
			// No inhibitor available; degrade to a no-op rather than
			// failing the turn.
			return func() {}, nil
		}
		cmd = exec.Command("systemd-inhibit",
			"--what=idle:sleep",
			"--who=strand",
			"--why="+reason,
			"--mode=block",
			"sleep", "infinity")
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return func() {}, nil
	}

	proc := cmd.Process
	go cmd.Wait()

	return func() {
		if proc != nil {
			proc.Kill()
		}
	}, nil
}
