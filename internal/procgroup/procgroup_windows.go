// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build windows

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
	"time"
)

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags = syscall.CREATE_NEW_PROCESS_GROUP
}

// killGroup on Windows falls back to killing the leader process; ffmpeg does
// not fork helpers there, so the leader is the tree.
func killGroup(pid int, grace, timeout time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Kill(); err != nil {
		return nil
	}
	return nil
}
