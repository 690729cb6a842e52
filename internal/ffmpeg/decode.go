// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ManuGH/frameio/internal/metrics"
)

// DecodeRequest asks for a run of decoded frames in presentation order.
type DecodeRequest struct {
	Path string

	// SeekSeconds is the accurate-seek target. The demuxer lands on the
	// preceding keyframe and ffmpeg decodes and discards up to the target,
	// so the first delivered frame is the first one at or after this time.
	SeekSeconds float64

	// FrameCount limits the run; 0 decodes to end of stream.
	FrameCount int

	Width  int
	Height int
	Gray   bool // GRAY8 output; RGB24 otherwise
}

// ErrStopDecode may be returned by a Decode sink to end the run early
// without error (all wanted frames captured).
var ErrStopDecode = errors.New("stop decode")

// frameSize returns the dense row-major byte size of one output frame.
func (q DecodeRequest) frameSize() int {
	ch := 3
	if q.Gray {
		ch = 1
	}
	return q.Width * q.Height * ch
}

// Decode runs one software decode pass and hands each frame's dense
// row-major pixels to sink, in presentation order. The sink's slice is
// reused between calls; consumers copy what they keep.
//
// A fresh process per run gives the post-seek flushed-decoder state the
// random access protocol requires, and process exit is the final flush.
func (r *Runner) Decode(ctx context.Context, req DecodeRequest, sink func(frame []byte) error) error {
	if req.Width <= 0 || req.Height <= 0 {
		return fmt.Errorf("decode: invalid dimensions %dx%d", req.Width, req.Height)
	}

	args := buildDecodeArgs(req)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	c, stdout, _, err := r.start(ctx, r.Bins.FFmpeg, args, false)
	if err != nil {
		return err
	}
	defer metrics.ObserveDecode(time.Since(start))

	buf := make([]byte, req.frameSize())
	delivered := 0
	for {
		_, err := io.ReadFull(stdout, buf)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			c.kill(r.KillTimeout)
			return fmt.Errorf("decode: truncated frame after %d full frames", delivered)
		}
		if err != nil {
			c.kill(r.KillTimeout)
			return fmt.Errorf("decode: read frame: %w", err)
		}
		delivered++
		if serr := sink(buf); serr != nil {
			c.kill(r.KillTimeout)
			if errors.Is(serr, ErrStopDecode) {
				return nil
			}
			return serr
		}
	}
	return c.wait()
}

// buildDecodeArgs assembles the ffmpeg invocation for one decode run.
func buildDecodeArgs(req DecodeRequest) []string {
	pixFmt := "rgb24"
	if req.Gray {
		pixFmt = "gray"
	}

	args := []string{
		"-nostdin",
		"-v", "warning",
		"-accurate_seek",
		"-ss", formatSeconds(req.SeekSeconds),
		"-i", req.Path,
		"-map", "0:v:0",
		"-fps_mode", "passthrough",
	}
	if req.FrameCount > 0 {
		args = append(args, "-frames:v", strconv.Itoa(req.FrameCount))
	}
	return append(args,
		"-pix_fmt", pixFmt,
		"-sws_flags", "bilinear",
		"-f", "rawvideo",
		"pipe:1",
	)
}

// formatSeconds renders a seek offset with microsecond precision, which is
// finer than any supported frame interval.
func formatSeconds(s float64) string {
	if s < 0 {
		s = 0
	}
	return strconv.FormatFloat(s, 'f', 6, 64)
}
