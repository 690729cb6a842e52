// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ffmpeg drives the ffmpeg and ffprobe binaries as child processes.
// The codec work stays inside FFmpeg; this package owns spawning, process
// group reaping, stderr capture and output parsing.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/frameio/internal/config"
	"github.com/ManuGH/frameio/internal/log"
	"github.com/ManuGH/frameio/internal/procgroup"
	"github.com/rs/zerolog"
)

// stderrTailBytes bounds the diagnostic stderr capture per child.
const stderrTailBytes = 8 << 10

// Binaries holds resolved ffmpeg/ffprobe binary paths.
type Binaries struct {
	FFmpeg  string
	FFprobe string
}

// ResolveBinaries resolves binary paths from the environment
// (FRAMEIO_FFMPEG_BIN, FRAMEIO_FFPROBE_BIN) with PATH fallbacks.
func ResolveBinaries() Binaries {
	ffmpeg := config.ResolveFFmpegBin(config.ParseString("FRAMEIO_FFMPEG_BIN", ""))
	ffprobe := config.ResolveFFprobeBin(config.ParseString("FRAMEIO_FFPROBE_BIN", ""), ffmpeg)
	return Binaries{FFmpeg: ffmpeg, FFprobe: ffprobe}
}

// Runner spawns ffmpeg/ffprobe children. One Runner may serve many sessions;
// it holds no per-file state beyond the decoder inventory cache.
type Runner struct {
	Bins        Binaries
	KillTimeout time.Duration
	Logger      zerolog.Logger

	decoderInv  map[string]bool
	decoderOnce sync.Once
	decoderErr  error
}

// NewRunner creates a Runner with the given binaries.
func NewRunner(bins Binaries, killTimeout time.Duration, logger zerolog.Logger) *Runner {
	if killTimeout <= 0 {
		killTimeout = 5 * time.Second
	}
	return &Runner{Bins: bins, KillTimeout: killTimeout, Logger: logger}
}

// NewDefaultRunner creates a Runner from environment resolution.
func NewDefaultRunner() *Runner {
	return NewRunner(ResolveBinaries(), 5*time.Second, log.WithComponent("ffmpeg"))
}

// child wraps a started process with group reaping and a stderr tail.
type child struct {
	cmd    *exec.Cmd
	bin    string
	stderr *tailBuffer
	done   chan struct{}
	waitMu sync.Mutex
	waited bool
	werr   error
}

// start spawns bin with args. Stdout is returned for streaming; stderr is
// drained into a bounded tail for diagnostics. When wantStdin is set the
// child's stdin pipe is returned as well.
func (r *Runner) start(ctx context.Context, bin string, args []string, wantStdin bool) (*child, io.ReadCloser, io.WriteCloser, error) {
	// #nosec G204 -- bin comes from config resolution, args are built internally
	cmd := exec.CommandContext(ctx, bin, args...)
	procgroup.Set(cmd)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return procgroup.KillGroup(cmd.Process.Pid, time.Second, r.KillTimeout)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pipe stdout: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pipe stderr: %w", err)
	}
	var stdin io.WriteCloser
	if wantStdin {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("pipe stdin: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("start %s: %w", bin, err)
	}

	c := &child{cmd: cmd, bin: bin, stderr: newTailBuffer(stderrTailBytes), done: make(chan struct{})}
	go func() {
		defer close(c.done)
		scanner := bufio.NewScanner(stderrPipe)
		scanner.Buffer(make([]byte, 64<<10), 64<<10)
		for scanner.Scan() {
			line := scanner.Text()
			c.stderr.writeLine(line)
			r.Logger.Debug().Str("bin", bin).Int("pid", cmd.Process.Pid).Msg(line)
		}
	}()

	r.Logger.Debug().
		Str("event", "process.spawned").
		Str("bin", bin).
		Int("pid", cmd.Process.Pid).
		Strs("args", args).
		Msg("child started")

	return c, stdout, stdin, nil
}

// wait blocks until the child exits and folds the stderr tail into any error.
// Safe to call more than once.
func (c *child) wait() error {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	if c.waited {
		return c.werr
	}
	c.waited = true
	// Drain stderr before Wait closes the pipes; the scanner goroutine exits
	// on EOF when the child does.
	<-c.done
	err := c.cmd.Wait()
	if err != nil {
		tail := c.stderr.String()
		if tail != "" {
			c.werr = fmt.Errorf("%s: %w (stderr: %s)", c.bin, err, tail)
		} else {
			c.werr = fmt.Errorf("%s: %w", c.bin, err)
		}
	}
	return c.werr
}

// kill reaps the child's process group and waits for exit.
func (c *child) kill(killTimeout time.Duration) {
	if c.cmd.Process != nil {
		_ = procgroup.KillGroup(c.cmd.Process.Pid, time.Second, killTimeout)
	}
	_ = c.wait()
}

// output runs the binary to completion and returns its stdout.
func (r *Runner) output(ctx context.Context, bin string, args ...string) ([]byte, error) {
	c, stdout, _, err := r.start(ctx, bin, args, false)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	_, copyErr := io.Copy(&buf, stdout)
	if werr := c.wait(); werr != nil {
		return nil, werr
	}
	if copyErr != nil {
		return nil, fmt.Errorf("%s: read stdout: %w", bin, copyErr)
	}
	return buf.Bytes(), nil
}

// tailBuffer keeps the last maxBytes of line-oriented output.
type tailBuffer struct {
	mu       sync.Mutex
	lines    []string
	size     int
	maxBytes int
}

func newTailBuffer(maxBytes int) *tailBuffer {
	return &tailBuffer{maxBytes: maxBytes}
}

func (t *tailBuffer) writeLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	t.size += len(line) + 1
	for t.size > t.maxBytes && len(t.lines) > 1 {
		t.size -= len(t.lines[0]) + 1
		t.lines = t.lines[1:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(strings.Join(t.lines, "\n"))
}
