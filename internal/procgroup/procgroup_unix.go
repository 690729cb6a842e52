// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build unix

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"
)

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalGroup sends sig to the process group. The process's PID equals the
// PGID because Setpgid made it a group leader.
func signalGroup(pid int, sig syscall.Signal) error {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return ErrProcessNotFound
		}
		return err
	}
	if err := syscall.Kill(-pgid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return ErrProcessNotFound
		}
		return err
	}
	return nil
}

func killGroup(pid int, grace, timeout time.Duration) error {
	if err := signalGroup(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, ErrProcessNotFound) {
			return nil // already gone
		}
		return err
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if err := signalGroup(pid, 0); errors.Is(err, ErrProcessNotFound) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := signalGroup(pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, ErrProcessNotFound) {
			return nil
		}
		return err
	}

	deadline = time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := signalGroup(pid, 0); errors.Is(err, ErrProcessNotFound) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return ErrKillFailed
}
