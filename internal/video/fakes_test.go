// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package video

import (
	"context"
	"fmt"
	"math"

	"github.com/ManuGH/frameio/internal/ffmpeg"
)

// fakePacket is one probed packet with optional payload for the NAL pass.
type fakePacket struct {
	meta    ffmpeg.PacketMeta
	payload []byte
}

// fakeProber serves canned probe results.
type fakeProber struct {
	info    ffmpeg.StreamInfo
	infoErr error
	packets []fakePacket
	support ffmpeg.DecoderSupport
}

func (p *fakeProber) VideoStream(context.Context, string) (ffmpeg.StreamInfo, error) {
	return p.info, p.infoErr
}

func (p *fakeProber) ScanPackets(_ context.Context, _ string, fn func(ffmpeg.PacketMeta) error) error {
	for _, pkt := range p.packets {
		if err := fn(pkt.meta); err != nil {
			return err
		}
	}
	return nil
}

func (p *fakeProber) ScanPacketData(_ context.Context, _ string, fn func(ffmpeg.PacketMeta, []byte) error) error {
	for _, pkt := range p.packets {
		if err := fn(pkt.meta, pkt.payload); err != nil {
			return err
		}
	}
	return nil
}

func (p *fakeProber) DecoderSupportFor(context.Context, string) (ffmpeg.DecoderSupport, error) {
	return p.support, nil
}

// fakeDecoder synthesizes deterministic frames: pixel j of frame i is
// (i*31+j)%251. It mimics accurate seeking by deriving the first delivered
// frame from the request's seek offset.
type fakeDecoder struct {
	idx    *Index
	calls  int
	failAt int // fail the nth call (1-based); 0 disables
}

func framePattern(idx *Index, frame int, gray bool) []byte {
	ch := 3
	if gray {
		ch = 1
	}
	pix := make([]byte, idx.Width*idx.Height*ch)
	for j := range pix {
		pix[j] = byte((frame*31 + j) % 251)
	}
	return pix
}

func (d *fakeDecoder) Decode(_ context.Context, req ffmpeg.DecodeRequest, sink func([]byte) error) error {
	d.calls++
	if d.failAt != 0 && d.calls == d.failAt {
		return fmt.Errorf("injected decode failure")
	}
	fps := d.idx.FrameRate.Float()
	first := int(math.Ceil(req.SeekSeconds * fps))
	count := req.FrameCount
	if count == 0 || first+count > d.idx.FrameCount {
		count = d.idx.FrameCount - first
	}
	for k := 0; k < count; k++ {
		if err := sink(framePattern(d.idx, first+k, req.Gray)); err != nil {
			if err == ffmpeg.ErrStopDecode {
				return nil
			}
			return err
		}
	}
	return nil
}

// fakeEncoder records what the writer feeds it.
type fakeEncoder struct {
	spec     ffmpeg.EncodeSpec
	frames   [][]byte
	closed   bool
	aborted  bool
	writeErr error
	closeErr error
	startErr error
}

func (e *fakeEncoder) StartEncode(_ context.Context, spec ffmpeg.EncodeSpec) (EncodeSink, error) {
	if e.startErr != nil {
		return nil, e.startErr
	}
	e.spec = spec
	return e, nil
}

func (e *fakeEncoder) WriteFrame(frame []byte) error {
	if e.writeErr != nil {
		return e.writeErr
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	e.frames = append(e.frames, cp)
	return nil
}

func (e *fakeEncoder) Close() error {
	e.closed = true
	return e.closeErr
}

func (e *fakeEncoder) Abort() { e.aborted = true }

// closedGopProber builds a prober describing a well-formed closed-GOP h264
// stream (h264 skips the NAL pass) with B-frame style PTS reordering.
//
// Stream order per GOP of 4: I P B B with pts offsets 0,3,1,2.
func closedGopProber(frames, gopSize int) *fakeProber {
	const increment = 512
	p := &fakeProber{
		info: ffmpeg.StreamInfo{
			CodecName: "h264",
			Width:     8,
			Height:    4,
			PixFmt:    "yuv420p",
			FrameRate: ffmpeg.Rational{Num: 30, Den: 1},
			TimeBase:  ffmpeg.Rational{Num: 1, Den: 15360},
			Tags:      map[string]string{},
		},
		support: ffmpeg.DecoderSupport{Software: true},
	}
	dts := int64(-increment)
	for gopStart := 0; gopStart < frames; gopStart += gopSize {
		gopLen := gopSize
		if gopStart+gopLen > frames {
			gopLen = frames - gopStart
		}
		order := reorderGop(gopLen)
		for k, rel := range order {
			p.packets = append(p.packets, fakePacket{meta: ffmpeg.PacketMeta{
				PTS:      int64(gopStart+rel) * increment,
				DTS:      dts,
				HasPTS:   true,
				HasDTS:   true,
				Keyframe: k == 0,
			}})
			dts += increment
		}
	}
	return p
}

// reorderGop yields a decode-order permutation of [0,gopLen): the last
// forward reference is sent ahead of the B frames it anchors.
func reorderGop(gopLen int) []int {
	if gopLen <= 2 {
		out := make([]int, gopLen)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := []int{0, gopLen - 1}
	for i := 1; i < gopLen-1; i++ {
		out = append(out, i)
	}
	return out
}
