// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package video

import (
	"context"
	"os"
	"strings"

	"github.com/ManuGH/frameio/internal/ffmpeg"
	"github.com/ManuGH/frameio/internal/log"
	"github.com/ManuGH/frameio/internal/metrics"
	"github.com/rs/zerolog"
)

// Reader is one read session over one file. A Reader is not safe for
// concurrent use; callers issue reads in sequence (distinct Readers over
// distinct files may run in parallel).
type Reader struct {
	path   string
	idx    *Index
	deps   Deps
	gray   bool
	cache  gopCache
	closed bool
	logger zerolog.Logger
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	outputGray *bool
	indexCache IndexCache
	deps       *Deps
}

// WithOutputGray forces the session's output format. Without it, the
// container's is_grayscale metadata decides, then the stream pixel format.
func WithOutputGray(gray bool) Option {
	return func(c *openConfig) { c.outputGray = &gray }
}

// WithIndexCache reuses a persisted index when the file identity matches,
// skipping the two-pass scan.
func WithIndexCache(cache IndexCache) Option {
	return func(c *openConfig) { c.indexCache = cache }
}

// WithDeps substitutes the FFmpeg boundary (tests, custom binaries).
func WithDeps(deps Deps) Option {
	return func(c *openConfig) { c.deps = &deps }
}

// Open builds the frame index of path and returns a read session. Every
// index-build failure is fatal and carries a stable error kind; no partial
// session ever escapes.
func Open(ctx context.Context, path string, opts ...Option) (*Reader, error) {
	var cfg openConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	deps := DefaultDeps()
	if cfg.deps != nil {
		deps = *cfg.deps
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, wrapf(KindOpenFailed, err, "stat %s", path)
	}
	if !fi.Mode().IsRegular() {
		return nil, errf(KindOpenFailed, "%s is not a regular file", path)
	}

	var idx *Index
	if cfg.indexCache != nil {
		if cached, ok := cfg.indexCache.Load(ctx, path, fi.Size(), fi.ModTime().UnixNano()); ok {
			idx = cached
		}
	}
	if idx == nil {
		idx, err = BuildIndex(ctx, deps.Prober, path)
		if err != nil {
			return nil, err
		}
		if cfg.indexCache != nil {
			cfg.indexCache.Save(ctx, path, fi.Size(), fi.ModTime().UnixNano(), idx)
		}
	}

	r := &Reader{
		path:   path,
		idx:    idx,
		deps:   deps,
		gray:   resolveOutputGray(cfg.outputGray, idx),
		cache:  newGopCache(),
		logger: log.Derive(func(c *zerolog.Context) { *c = c.Str("component", "reader").Str("path", path) }),
	}
	r.logger.Debug().
		Str("event", "session.opened").
		Int("frames", idx.FrameCount).
		Str("resolution", idx.String()).
		Bool("gray", r.gray).
		Msg("read session opened")
	return r, nil
}

// resolveOutputGray applies the once-per-session format selection: explicit
// consumer setting, else the metadata hint, else the stream pixel format.
func resolveOutputGray(explicit *bool, idx *Index) bool {
	if explicit != nil {
		return *explicit
	}
	switch idx.GrayHint {
	case GrayYes:
		return true
	case GrayNo:
		return false
	}
	return strings.HasPrefix(idx.PixFmt, "gray")
}

// Info is the read session's readable attributes.
type Info struct {
	Path       string
	FrameCount int
	Width      int
	Height     int
	FrameRate  ffmpeg.Rational
	Duration   float64 // seconds
	IsGray     bool
}

// Info returns the session attributes.
func (r *Reader) Info() Info {
	return Info{
		Path:       r.path,
		FrameCount: r.idx.FrameCount,
		Width:      r.idx.Width,
		Height:     r.idx.Height,
		FrameRate:  r.idx.FrameRate,
		Duration:   r.idx.Duration(),
		IsGray:     r.gray,
	}
}

// NumFrames returns the frame count N.
func (r *Reader) NumFrames() int { return r.idx.FrameCount }

// GopStarts lists 0-based keyframe indices.
func (r *Reader) GopStarts() []int { return r.idx.GopStarts() }

// Index returns the session's immutable frame index.
func (r *Reader) Index() *Index { return r.idx }

func (r *Reader) format() Format {
	if r.gray {
		return Gray8
	}
	return RGB24
}

func (r *Reader) frameSize() int {
	return r.idx.Width * r.idx.Height * r.format().Channels()
}

// guard validates the handle state common to every call.
func (r *Reader) guard() error {
	if r == nil {
		return errf(KindNullHandle, "nil reader handle")
	}
	if r.closed {
		return errf(KindAlreadyClosed, "read session for %s already closed", r.path)
	}
	return nil
}

// ReadFrame returns the decoded image of 1-based frame i. A cache hit is a
// copy-out; a miss decodes the whole enclosing GOP into the cache first.
func (r *Reader) ReadFrame(ctx context.Context, i int) (Frame, error) {
	if err := r.guard(); err != nil {
		return Frame{}, err
	}
	if i < 1 || i > r.idx.FrameCount {
		return Frame{}, errf(KindInvalidIndex,
			"frame index %d outside [1,%d]", i, r.idx.FrameCount)
	}
	frame := i - 1

	pix := r.cache.lookup(frame)
	metrics.RecordCacheLookup(pix != nil)
	if pix == nil {
		if err := r.populateGop(ctx, frame); err != nil {
			r.cache.clear()
			return Frame{}, err
		}
		pix = r.cache.lookup(frame)
		if pix == nil {
			minDTS, maxDTS := r.idx.dtsRange()
			return Frame{}, errf(KindNotFound,
				"frame %d (pts %d) not delivered by decoder; observed dts range [%d,%d]",
				i, r.idx.ptsOf(frame), minDTS, maxDTS)
		}
	}

	out := NewFrame(r.idx.Width, r.idx.Height, r.format())
	copy(out.Pix, pix)
	metrics.FramesRead.WithLabelValues("single").Inc()
	return out, nil
}

// populateGop decodes the full GOP containing 0-based frame target and
// replaces the cache contents with it.
func (r *Reader) populateGop(ctx context.Context, target int) error {
	gopStart, gopEnd := r.idx.GopBounds(target)
	count := gopEnd - gopStart
	r.cache.reset(gopStart, count, r.frameSize())

	r.logger.Debug().
		Str("event", "cache.populate").
		Int("frame", target).
		Int("gop_start", gopStart).
		Int("gop_len", count).
		Msg("gop cache miss")

	delivered := 0
	err := r.deps.Decoder.Decode(ctx, ffmpeg.DecodeRequest{
		Path:        r.path,
		SeekSeconds: r.idx.seekSecondsFor(gopStart),
		FrameCount:  count,
		Width:       r.idx.Width,
		Height:      r.idx.Height,
		Gray:        r.gray,
	}, func(pix []byte) error {
		if delivered >= count {
			return ffmpeg.ErrStopDecode
		}
		r.cache.store(gopStart+delivered, pix)
		delivered++
		if delivered == count {
			return ffmpeg.ErrStopDecode
		}
		return nil
	})
	if err != nil {
		return wrapf(KindDecodeError, err, "decode GOP [%d,%d) of %s", gopStart, gopEnd, r.path)
	}
	if delivered < count {
		minDTS, maxDTS := r.idx.dtsRange()
		return errf(KindNotFound,
			"decoder delivered %d of %d frames for GOP [%d,%d) (target pts %d, dts range [%d,%d])",
			delivered, count, gopStart, gopEnd, r.idx.ptsOf(target), minDTS, maxDTS)
	}
	return nil
}

// ReadRange returns frames start..end (1-based, inclusive) in order. The
// result shares one contiguous pre-allocated block; the GOP cache is
// bypassed, a sustained decode already touches every frame once.
func (r *Reader) ReadRange(ctx context.Context, start, end int) ([]Frame, error) {
	if err := r.guard(); err != nil {
		return nil, err
	}
	if start < 1 || end < start || end > r.idx.FrameCount {
		return nil, errf(KindInvalidRange,
			"frame range [%d,%d] outside [1,%d]", start, end, r.idx.FrameCount)
	}

	first := start - 1
	count := end - start + 1
	frameSize := r.frameSize()
	block := make([]byte, count*frameSize)

	captured := 0
	err := r.deps.Decoder.Decode(ctx, ffmpeg.DecodeRequest{
		Path:        r.path,
		SeekSeconds: r.idx.seekSecondsFor(first),
		FrameCount:  count,
		Width:       r.idx.Width,
		Height:      r.idx.Height,
		Gray:        r.gray,
	}, func(pix []byte) error {
		if captured >= count {
			return ffmpeg.ErrStopDecode
		}
		copy(block[captured*frameSize:], pix)
		captured++
		if captured == count {
			return ffmpeg.ErrStopDecode
		}
		return nil
	})
	if err != nil {
		return nil, wrapf(KindDecodeError, err, "decode range [%d,%d] of %s", start, end, r.path)
	}
	if captured < count {
		minDTS, maxDTS := r.idx.dtsRange()
		return nil, errf(KindNotFound,
			"decoder delivered %d of %d frames for range [%d,%d] (start pts %d, dts range [%d,%d])",
			captured, count, start, end, r.idx.ptsOf(first), minDTS, maxDTS)
	}

	frames := make([]Frame, count)
	for k := 0; k < count; k++ {
		frames[k] = Frame{
			Width:  r.idx.Width,
			Height: r.idx.Height,
			Format: r.format(),
			Pix:    block[k*frameSize : (k+1)*frameSize],
		}
	}
	metrics.FramesRead.WithLabelValues("range").Add(float64(count))
	return frames, nil
}

// Close releases the session. Double close warns and no-ops.
func (r *Reader) Close() error {
	if r == nil {
		return errf(KindNullHandle, "nil reader handle")
	}
	if r.closed {
		r.logger.Warn().Str("event", "session.double_close").Msg("read session already closed")
		return nil
	}
	r.closed = true
	r.cache.clear()
	r.cache.block = nil
	r.logger.Debug().Str("event", "session.closed").Msg("read session closed")
	return nil
}
