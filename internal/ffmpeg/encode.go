// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// EncodeSpec configures one closed-GOP H.265 encode into an MP4 container.
type EncodeSpec struct {
	Path      string
	Width     int
	Height    int
	FrameRate Rational
	Gray      bool // raw input is GRAY8; RGB24 otherwise
	GopSize   int
	CRF       int
}

// EncodeSession is a running encoder accepting dense row-major raw frames
// on stdin. WriteFrame/Close must be called from one goroutine.
type EncodeSession struct {
	runner *Runner
	child  *child
	stdin  io.WriteCloser

	mu     sync.Mutex
	closed bool
}

// StartEncode spawns the encoder for spec.
//
// The track timescale is pinned to the frame-rate numerator so that one
// frame advances the container PTS by exactly FrameRate.Den ticks; the
// reader's integer frame indexing depends on this.
func (r *Runner) StartEncode(ctx context.Context, spec EncodeSpec) (*EncodeSession, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("encode: invalid dimensions %dx%d", spec.Width, spec.Height)
	}
	if !spec.FrameRate.Valid() {
		return nil, fmt.Errorf("encode: invalid frame rate %s", spec.FrameRate)
	}

	c, stdout, stdin, err := r.start(ctx, r.Bins.FFmpeg, buildEncodeArgs(spec), true)
	if err != nil {
		return nil, err
	}
	// The encoder writes nothing to stdout, but drain it so the child can
	// never block on a full pipe.
	go func() { _, _ = io.Copy(io.Discard, stdout) }()

	return &EncodeSession{runner: r, child: c, stdin: stdin}, nil
}

// buildEncodeArgs assembles the ffmpeg invocation for one encode session.
func buildEncodeArgs(spec EncodeSpec) []string {
	pixFmt := "rgb24"
	gray := "0"
	if spec.Gray {
		pixFmt = "gray"
		gray = "1"
	}

	return []string{
		"-v", "warning",
		"-f", "rawvideo",
		"-pix_fmt", pixFmt,
		"-video_size", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"-framerate", spec.FrameRate.String(),
		"-i", "pipe:0",
		"-an",
		"-c:v", "libx265",
		"-x265-params", fmt.Sprintf("no-open-gop=1:keyint=%d:crf=%d", spec.GopSize, spec.CRF),
		"-pix_fmt", "yuv420p",
		"-sws_flags", "bilinear",
		"-video_track_timescale", fmt.Sprintf("%d", spec.FrameRate.Num),
		"-metadata", "is_grayscale=" + gray,
		"-movflags", "+use_metadata_tags",
		"-f", "mp4",
		"-y", spec.Path,
	}
}

// WriteFrame feeds one raw frame. A write failure surfaces the encoder's
// stderr tail.
func (s *EncodeSession) WriteFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("encode: session closed")
	}
	if _, err := s.stdin.Write(frame); err != nil {
		// The child usually died; its stderr explains why.
		if werr := s.child.wait(); werr != nil {
			return fmt.Errorf("encode: %w", werr)
		}
		return fmt.Errorf("encode: write frame: %w", err)
	}
	return nil
}

// Close flushes the encoder (stdin EOF), waits for the trailer to be
// written, and reaps the child. Idempotent.
func (s *EncodeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.stdin.Close(); err != nil {
		s.child.kill(s.runner.KillTimeout)
		return fmt.Errorf("encode: close stdin: %w", err)
	}
	return s.child.wait()
}

// Abort kills the encoder without flushing. The output file is left
// incomplete; callers remove it.
func (s *EncodeSession) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.stdin.Close()
	s.child.kill(s.runner.KillTimeout)
}
