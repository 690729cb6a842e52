// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package video

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/frameio/internal/ffmpeg"
	"github.com/ManuGH/frameio/internal/hevc"
	"github.com/ManuGH/frameio/internal/log"
	"github.com/ManuGH/frameio/internal/metrics"
)

// GrayHint is the three-valued container metadata hint.
type GrayHint int8

const (
	GrayUnknown GrayHint = iota
	GrayYes
	GrayNo
)

// Index is the immutable frame index of one file: the deterministic mapping
// from 0-based frame numbers to stream timing. It is safe to share between
// goroutines once built.
type Index struct {
	FrameCount int    `json:"frame_count"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	CodecName  string `json:"codec_name"`
	PixFmt     string `json:"pix_fmt"`

	FrameRate ffmpeg.Rational `json:"frame_rate"`
	TimeBase  ffmpeg.Rational `json:"time_base"`

	// PTSIncrement is the exact number of time-base ticks per frame.
	PTSIncrement int64 `json:"pts_increment"`

	// DTS maps frame number to the packet's decode timestamp (the seek key).
	DTS []int64 `json:"dts"`

	// Keyframe marks frames whose packet carried the keyframe flag; true
	// entries delimit GOPs.
	Keyframe []bool `json:"keyframe"`

	GrayHint GrayHint `json:"gray_hint"`
}

// GopBounds returns the half-open frame interval [start, end) of the GOP
// containing 0-based frame i.
func (idx *Index) GopBounds(i int) (int, int) {
	start := 0
	for f := i; f >= 0; f-- {
		if idx.Keyframe[f] {
			start = f
			break
		}
	}
	end := idx.FrameCount
	for f := i + 1; f < idx.FrameCount; f++ {
		if idx.Keyframe[f] {
			end = f
			break
		}
	}
	return start, end
}

// GopStarts lists the 0-based indices of all keyframes.
func (idx *Index) GopStarts() []int {
	var starts []int
	for f, k := range idx.Keyframe {
		if k {
			starts = append(starts, f)
		}
	}
	return starts
}

// Duration returns the stream duration in seconds.
func (idx *Index) Duration() float64 {
	return float64(idx.FrameCount) * float64(idx.FrameRate.Den) / float64(idx.FrameRate.Num)
}

// ptsOf returns the presentation timestamp of a 0-based frame.
func (idx *Index) ptsOf(frame int) int64 {
	return int64(frame) * idx.PTSIncrement
}

// seekSecondsFor returns the accurate-seek target for a 0-based frame:
// half a frame interval before the frame's presentation time, so float
// rounding can never land past the frame nor reach the one before it.
func (idx *Index) seekSecondsFor(frame int) float64 {
	pts := float64(idx.ptsOf(frame)) * float64(idx.TimeBase.Num) / float64(idx.TimeBase.Den)
	half := 0.5 * float64(idx.FrameRate.Den) / float64(idx.FrameRate.Num)
	s := pts - half
	if s < 0 {
		s = 0
	}
	return s
}

// dtsRange returns the observed min and max DTS, for diagnostics.
func (idx *Index) dtsRange() (int64, int64) {
	if len(idx.DTS) == 0 {
		return 0, 0
	}
	minDTS, maxDTS := idx.DTS[0], idx.DTS[0]
	for _, d := range idx.DTS[1:] {
		if d < minDTS {
			minDTS = d
		}
		if d > maxDTS {
			maxDTS = d
		}
	}
	return minDTS, maxDTS
}

// BuildIndex runs the two-pass scan of §open: stream discovery, the
// PTS-increment check, software decoder enforcement, the HEVC open-GOP NAL
// validation, and the frame→DTS table build. All failures are fatal; no
// partial Index is returned.
func BuildIndex(ctx context.Context, pr Prober, path string) (*Index, error) {
	start := time.Now()
	idx, err := buildIndex(ctx, pr, path)
	if err != nil {
		if kind := KindOf(err); kind != "" {
			metrics.OpenFailures.WithLabelValues(string(kind)).Inc()
		}
		return nil, err
	}
	metrics.IndexBuildDuration.Observe(time.Since(start).Seconds())
	return idx, nil
}

func buildIndex(ctx context.Context, pr Prober, path string) (*Index, error) {
	// 1. Stream discovery.
	info, err := pr.VideoStream(ctx, path)
	if err != nil {
		if ffmpeg.IsNoVideoStream(err) {
			return nil, wrapf(KindNoVideoStream, err, "no video stream in %s", path)
		}
		return nil, wrapf(KindOpenFailed, err, "open %s", path)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, errf(KindStreamInfoFailed, "stream reports dimensions %dx%d", info.Width, info.Height)
	}
	if !info.FrameRate.Valid() {
		return nil, errf(KindStreamInfoFailed, "stream reports frame rate %s", info.FrameRate)
	}
	if !info.TimeBase.Valid() {
		return nil, errf(KindStreamInfoFailed, "stream reports time base %s", info.TimeBase)
	}

	// 2. PTS-increment check: ticks per frame must be an exact integer.
	num := info.TimeBase.Den * info.FrameRate.Den
	den := info.TimeBase.Num * info.FrameRate.Num
	if den <= 0 || num%den != 0 {
		return nil, errf(KindBadFrameRate,
			"pts increment %d/%d is not an integer (time base %s, frame rate %s)",
			num, den, info.TimeBase, info.FrameRate)
	}
	increment := num / den
	if increment <= 0 {
		return nil, errf(KindBadFrameRate, "pts increment %d (time base %s, frame rate %s)",
			increment, info.TimeBase, info.FrameRate)
	}

	// 3. Software decoder enforcement. Hardware paths have returned
	// non-deterministic bytes for identical inputs; refuse them outright.
	sup, err := pr.DecoderSupportFor(ctx, info.CodecName)
	if err != nil {
		return nil, wrapf(KindOpenFailed, err, "enumerate decoders for %s", info.CodecName)
	}
	if !sup.Software {
		if sup.Hardware {
			return nil, errf(KindHardwareDecoder,
				"only hardware decoders available for codec %s", info.CodecName)
		}
		return nil, errf(KindNoDecoder, "no decoder available for codec %s", info.CodecName)
	}

	// 4. Pass 1: count packets; for HEVC, walk every NAL unit and refuse
	// open-GOP types.
	frameCount := 0
	if info.CodecName == "hevc" {
		lengthSize, err := hevc.NALLengthSize(info.Extradata)
		if err != nil {
			return nil, wrapf(KindOpenFailed, err, "hvcC configuration of %s", path)
		}
		packetNo := 0
		err = pr.ScanPacketData(ctx, path, func(meta ffmpeg.PacketMeta, payload []byte) error {
			nalType, found, werr := hevc.FindOpenGopNAL(payload, lengthSize)
			if werr != nil {
				return wrapf(KindOpenFailed, werr, "packet %d of %s", packetNo, path)
			}
			if found {
				return errf(KindOpenGop,
					"open-GOP NAL unit %s in packet %d (pts %d)",
					hevc.TypeName(nalType), packetNo, meta.PTS)
			}
			packetNo++
			return nil
		})
		if err != nil {
			if kindOfOrEmpty(err) != "" {
				return nil, err
			}
			return nil, wrapf(KindOpenFailed, err, "scan packets of %s", path)
		}
		frameCount = packetNo
	} else {
		err = pr.ScanPackets(ctx, path, func(ffmpeg.PacketMeta) error {
			frameCount++
			return nil
		})
		if err != nil {
			return nil, wrapf(KindOpenFailed, err, "scan packets of %s", path)
		}
	}
	if frameCount == 0 {
		return nil, errf(KindNoFrames, "video stream of %s contains no packets", path)
	}

	// 5. Pass 2: build the frame→DTS table from PTS-derived frame numbers.
	idx := &Index{
		FrameCount:   frameCount,
		Width:        info.Width,
		Height:       info.Height,
		CodecName:    info.CodecName,
		PixFmt:       info.PixFmt,
		FrameRate:    info.FrameRate,
		TimeBase:     info.TimeBase,
		PTSIncrement: increment,
		DTS:          make([]int64, frameCount),
		Keyframe:     make([]bool, frameCount),
	}
	occurrences := make([]int, frameCount)
	packetNo := 0
	err = pr.ScanPackets(ctx, path, func(meta ffmpeg.PacketMeta) error {
		defer func() { packetNo++ }()
		if !meta.HasPTS {
			return errf(KindMisalignedPts, "packet %d has no PTS", packetNo)
		}
		if meta.PTS%increment != 0 {
			return errf(KindMisalignedPts,
				"packet %d PTS %d is not a multiple of increment %d", packetNo, meta.PTS, increment)
		}
		frame := meta.PTS / increment
		if frame < 0 || frame >= int64(frameCount) {
			return errf(KindMisalignedPts,
				"packet %d PTS %d maps to frame %d outside [0,%d)", packetNo, meta.PTS, frame, frameCount)
		}
		dts := meta.DTS
		if !meta.HasDTS {
			dts = meta.PTS
		}
		idx.DTS[frame] = dts
		idx.Keyframe[frame] = meta.Keyframe
		occurrences[frame]++
		return nil
	})
	if err != nil {
		if kindOfOrEmpty(err) != "" {
			return nil, err
		}
		return nil, wrapf(KindOpenFailed, err, "scan packets of %s", path)
	}

	// 6. Every frame number must occur exactly once.
	for frame, n := range occurrences {
		switch {
		case n == 0:
			return nil, errf(KindMissingPts,
				"no packet maps to frame %d (pts %d) of %d frames", frame, idx.ptsOf(frame), frameCount)
		case n > 1:
			return nil, errf(KindDuplicatePts,
				"frame %d (pts %d) mapped by %d packets", frame, idx.ptsOf(frame), n)
		}
	}

	// 7. Container metadata hint.
	switch strings.TrimSpace(info.Tags["is_grayscale"]) {
	case "1":
		idx.GrayHint = GrayYes
	case "0":
		idx.GrayHint = GrayNo
	}

	return idx, nil
}

// kindOfOrEmpty mirrors KindOf but reads better at call sites that only
// test for "already classified".
func kindOfOrEmpty(err error) Kind { return KindOf(err) }

var (
	runnerOnce sync.Once
	runner     *ffmpeg.Runner
)

// defaultRunner resolves binaries once per process. FFmpeg verbosity is
// pinned per spawn, so this is the only process-wide initialization.
func defaultRunner() *ffmpeg.Runner {
	runnerOnce.Do(func() {
		runner = ffmpeg.NewRunner(ffmpeg.ResolveBinaries(), 5*time.Second, log.WithComponent("ffmpeg"))
	})
	return runner
}

// Probe builds the frame index of path without opening a read session.
func Probe(ctx context.Context, path string) (*Index, error) {
	return BuildIndex(ctx, DefaultDeps().Prober, path)
}

// String summarizes an index for logs.
func (idx *Index) String() string {
	return fmt.Sprintf("%dx%d %s, %d frames @ %s (increment %d, %d GOPs)",
		idx.Width, idx.Height, idx.CodecName, idx.FrameCount, idx.FrameRate,
		idx.PTSIncrement, len(idx.GopStarts()))
}
