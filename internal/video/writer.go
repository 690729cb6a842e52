// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package video

import (
	"context"
	"os"

	"github.com/ManuGH/frameio/internal/ffmpeg"
	"github.com/ManuGH/frameio/internal/log"
	"github.com/ManuGH/frameio/internal/metrics"
	"github.com/rs/zerolog"
)

// Writer defaults.
const (
	DefaultGopSize = 50
	DefaultCRF     = 18
)

// writerState is the forward-only lifecycle of a write session.
type writerState int8

const (
	writerOpen writerState = iota
	writerClosed
)

// Writer is one write session producing a closed-GOP H.265 MP4 that the
// reader treats as a valid randomly-accessible source. Not safe for
// concurrent use.
type Writer struct {
	path      string
	width     int
	height    int
	frameRate ffmpeg.Rational
	isColor   bool
	gopSize   int
	crf       int

	// nextPTS counts frames accepted so far. The encoder's time base is one
	// frame interval, so PTS values on disk are exactly 0,1,2,… in units of
	// the pts increment.
	nextPTS int64

	sink   EncodeSink
	state  writerState
	logger zerolog.Logger
}

// WriterOption configures NewWriter.
type WriterOption func(*writerConfig)

type writerConfig struct {
	isColor bool
	gopSize int
	crf     int
	encoder Encoder
}

// WithColor selects RGB24 input frames; the default session is grayscale.
func WithColor(color bool) WriterOption {
	return func(c *writerConfig) { c.isColor = color }
}

// WithGopSize sets the keyframe interval (>= 1).
func WithGopSize(gop int) WriterOption {
	return func(c *writerConfig) { c.gopSize = gop }
}

// WithCRF sets the constant rate factor (0..51).
func WithCRF(crf int) WriterOption {
	return func(c *writerConfig) { c.crf = crf }
}

// WithEncoder substitutes the encoder boundary (tests).
func WithEncoder(enc Encoder) WriterOption {
	return func(c *writerConfig) { c.encoder = enc }
}

// NewWriter opens a write session for path at width x height and the given
// frame rate.
func NewWriter(ctx context.Context, path string, width, height int, frameRate ffmpeg.Rational, opts ...WriterOption) (*Writer, error) {
	cfg := writerConfig{gopSize: DefaultGopSize, crf: DefaultCRF}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.encoder == nil {
		cfg.encoder = DefaultDeps().Encoder
	}

	if width <= 0 || height <= 0 {
		return nil, errf(KindBadDimensions, "frame size %dx%d", width, height)
	}
	if !frameRate.Valid() {
		return nil, errf(KindBadFrameRate, "frame rate %s", frameRate)
	}
	if cfg.gopSize < 1 {
		return nil, errf(KindEncodeError, "gop_size %d below 1", cfg.gopSize)
	}
	if cfg.crf < 0 || cfg.crf > 51 {
		return nil, errf(KindEncodeError, "crf %d outside [0,51]", cfg.crf)
	}

	sink, err := cfg.encoder.StartEncode(ctx, ffmpeg.EncodeSpec{
		Path:      path,
		Width:     width,
		Height:    height,
		FrameRate: frameRate,
		Gray:      !cfg.isColor,
		GopSize:   cfg.gopSize,
		CRF:       cfg.crf,
	})
	if err != nil {
		metrics.WriterErrors.WithLabelValues(string(KindEncodeError)).Inc()
		return nil, wrapf(KindEncodeError, err, "start encoder for %s", path)
	}

	w := &Writer{
		path:      path,
		width:     width,
		height:    height,
		frameRate: frameRate,
		isColor:   cfg.isColor,
		gopSize:   cfg.gopSize,
		crf:       cfg.crf,
		sink:      sink,
		logger:    log.Derive(func(c *zerolog.Context) { *c = c.Str("component", "writer").Str("path", path) }),
	}
	w.logger.Debug().
		Str("event", "session.opened").
		Int("width", width).
		Int("height", height).
		Str("fps", frameRate.String()).
		Bool("color", cfg.isColor).
		Int("gop_size", cfg.gopSize).
		Int("crf", cfg.crf).
		Msg("write session opened")
	return w, nil
}

func (w *Writer) inputFormat() Format {
	if w.isColor {
		return RGB24
	}
	return Gray8
}

func (w *Writer) guard() error {
	if w == nil {
		return errf(KindNullHandle, "nil writer handle")
	}
	if w.state == writerClosed {
		return errf(KindAlreadyClosed, "write session for %s already closed", w.path)
	}
	return nil
}

// WriteFrame validates and encodes one frame. The frame's PTS is the count
// of frames written before it.
func (w *Writer) WriteFrame(f Frame) error {
	if err := w.guard(); err != nil {
		return err
	}
	if f.Format != w.inputFormat() {
		metrics.WriterErrors.WithLabelValues(string(KindBadDtype)).Inc()
		return errf(KindBadDtype, "session expects %s frames, got %s", w.inputFormat(), f.Format)
	}
	if err := f.validate(); err != nil {
		metrics.WriterErrors.WithLabelValues(string(KindBadDimensions)).Inc()
		return wrapf(KindBadDimensions, err, "frame %d", w.nextPTS)
	}
	if f.Width != w.width || f.Height != w.height {
		metrics.WriterErrors.WithLabelValues(string(KindBadDimensions)).Inc()
		return errf(KindBadDimensions,
			"frame %d is %dx%d, session is %dx%d", w.nextPTS, f.Width, f.Height, w.width, w.height)
	}

	if err := w.sink.WriteFrame(f.Pix); err != nil {
		metrics.WriterErrors.WithLabelValues(string(KindWriteError)).Inc()
		return wrapf(KindWriteError, err, "frame %d of %s", w.nextPTS, w.path)
	}
	w.nextPTS++
	metrics.FramesWritten.Inc()
	metrics.WriterBytesIn.Add(float64(len(f.Pix)))
	return nil
}

// WriteBatch encodes frames in order, exactly as repeated WriteFrame calls.
func (w *Writer) WriteBatch(frames []Frame) error {
	for k := range frames {
		if err := w.WriteFrame(frames[k]); err != nil {
			return err
		}
	}
	return nil
}

// FramesWritten returns the number of frames accepted so far.
func (w *Writer) FramesWritten() int64 { return w.nextPTS }

// Duration returns the written duration in seconds.
func (w *Writer) Duration() float64 {
	return float64(w.nextPTS) * float64(w.frameRate.Den) / float64(w.frameRate.Num)
}

// Close flushes the encoder and writes the container trailer. Double close
// warns and no-ops; the handle is unusable afterwards.
func (w *Writer) Close() error {
	if w == nil {
		return errf(KindNullHandle, "nil writer handle")
	}
	if w.state == writerClosed {
		w.logger.Warn().Str("event", "session.double_close").Msg("write session already closed")
		return nil
	}
	w.state = writerClosed

	if err := w.sink.Close(); err != nil {
		metrics.WriterErrors.WithLabelValues(string(KindTrailerError)).Inc()
		return wrapf(KindTrailerError, err, "finalize %s after %d frames", w.path, w.nextPTS)
	}
	w.logger.Debug().
		Str("event", "session.closed").
		Int64("frames", w.nextPTS).
		Msg("write session closed")
	return nil
}

// Discard aborts the encode and removes the partial output file. Used on
// error paths where the file must not be observable.
func (w *Writer) Discard() {
	if w == nil || w.state == writerClosed {
		return
	}
	w.state = writerClosed
	w.sink.Abort()
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		w.logger.Warn().Err(err).Str("event", "session.discard_failed").Msg("could not remove partial output")
	}
}
