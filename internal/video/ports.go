// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package video

import (
	"context"

	"github.com/ManuGH/frameio/internal/ffmpeg"
)

// Prober is the probing surface the index builder needs. *ffmpeg.Runner
// satisfies it; tests substitute fakes.
type Prober interface {
	VideoStream(ctx context.Context, path string) (ffmpeg.StreamInfo, error)
	ScanPackets(ctx context.Context, path string, fn func(ffmpeg.PacketMeta) error) error
	ScanPacketData(ctx context.Context, path string, fn func(ffmpeg.PacketMeta, []byte) error) error
	DecoderSupportFor(ctx context.Context, codec string) (ffmpeg.DecoderSupport, error)
}

// Decoder produces decoded frames in presentation order. *ffmpeg.Runner
// satisfies it.
type Decoder interface {
	Decode(ctx context.Context, req ffmpeg.DecodeRequest, sink func(frame []byte) error) error
}

// EncodeSink is one running encode accepting raw frames.
type EncodeSink interface {
	WriteFrame(frame []byte) error
	Close() error
	Abort()
}

// Encoder starts encode sessions.
type Encoder interface {
	StartEncode(ctx context.Context, spec ffmpeg.EncodeSpec) (EncodeSink, error)
}

// IndexCache persists immutable frame indexes keyed by file identity.
// Implementations log and swallow their own failures; a miss is never an
// error, and a stale entry is simply not returned.
type IndexCache interface {
	Load(ctx context.Context, path string, size int64, mtimeNS int64) (*Index, bool)
	Save(ctx context.Context, path string, size int64, mtimeNS int64, idx *Index)
}

// Deps bundles the FFmpeg boundary for a session.
type Deps struct {
	Prober  Prober
	Decoder Decoder
	Encoder Encoder
}

// runnerEncoder adapts *ffmpeg.Runner's concrete session type to EncodeSink.
type runnerEncoder struct{ r *ffmpeg.Runner }

func (e runnerEncoder) StartEncode(ctx context.Context, spec ffmpeg.EncodeSpec) (EncodeSink, error) {
	s, err := e.r.StartEncode(ctx, spec)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultDeps builds the production wiring around one shared Runner.
func DefaultDeps() Deps {
	r := defaultRunner()
	return Deps{Prober: r, Decoder: r, Encoder: runnerEncoder{r: r}}
}
