// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package video

import (
	"context"
	"testing"

	"github.com/ManuGH/frameio/internal/ffmpeg"
	"github.com/ManuGH/frameio/internal/hevc"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildIndexClosedGop(t *testing.T) {
	p := closedGopProber(10, 4)
	idx, err := BuildIndex(context.Background(), p, "test.mp4")
	require.NoError(t, err)

	assert.Equal(t, 10, idx.FrameCount)
	assert.Equal(t, int64(512), idx.PTSIncrement)
	assert.Equal(t, []int{0, 4, 8}, idx.GopStarts())

	// Each frame's DTS must be the timestamp of the packet that carried its
	// PTS, regardless of stream order.
	for f := 0; f < 10; f++ {
		pts := int64(f) * 512
		var want int64
		found := false
		for _, pkt := range p.packets {
			if pkt.meta.PTS == pts {
				want, found = pkt.meta.DTS, true
				break
			}
		}
		require.True(t, found)
		assert.Equal(t, want, idx.DTS[f], "frame %d", f)
	}

	start, end := idx.GopBounds(5)
	assert.Equal(t, 4, start)
	assert.Equal(t, 8, end)
	start, end = idx.GopBounds(9)
	assert.Equal(t, 8, start)
	assert.Equal(t, 10, end)

	assert.InDelta(t, 10.0/30.0, idx.Duration(), 1e-9)
}

func TestBuildIndexBadFrameRate(t *testing.T) {
	p := closedGopProber(4, 4)
	// 600 ticks/s at 7 fps: 600/7 ticks per frame is not an integer.
	p.info.TimeBase = ffmpeg.Rational{Num: 1, Den: 600}
	p.info.FrameRate = ffmpeg.Rational{Num: 7, Den: 1}

	_, err := BuildIndex(context.Background(), p, "test.mp4")
	require.Error(t, err)
	assert.Equal(t, KindBadFrameRate, KindOf(err))
	assert.Contains(t, err.Error(), "600/7")
}

func TestBuildIndexMisalignedPts(t *testing.T) {
	p := closedGopProber(4, 4)
	p.packets[2].meta.PTS += 7

	_, err := BuildIndex(context.Background(), p, "test.mp4")
	require.Error(t, err)
	assert.Equal(t, KindMisalignedPts, KindOf(err))
	assert.Contains(t, err.Error(), "512")
}

func TestBuildIndexDuplicateAndMissingPts(t *testing.T) {
	p := closedGopProber(4, 4)
	// Point frame 1's packet (stream position 2) at frame 2's PTS: frame 2
	// doubles, frame 1 vanishes.
	p.packets[2].meta.PTS = p.packets[3].meta.PTS

	_, err := BuildIndex(context.Background(), p, "test.mp4")
	require.Error(t, err)
	kind := KindOf(err)
	assert.Contains(t, []Kind{KindMissingPts, KindDuplicatePts}, kind)
}

func TestBuildIndexPtsOutOfRange(t *testing.T) {
	p := closedGopProber(4, 4)
	p.packets[1].meta.PTS = 512 * 100

	_, err := BuildIndex(context.Background(), p, "test.mp4")
	require.Error(t, err)
	assert.Equal(t, KindMisalignedPts, KindOf(err))
	assert.Contains(t, err.Error(), "outside [0,4)")
}

func TestBuildIndexNoFrames(t *testing.T) {
	p := closedGopProber(4, 4)
	p.packets = nil

	_, err := BuildIndex(context.Background(), p, "test.mp4")
	require.Error(t, err)
	assert.Equal(t, KindNoFrames, KindOf(err))
}

func TestBuildIndexHardwareOnlyDecoder(t *testing.T) {
	p := closedGopProber(4, 4)
	p.support = ffmpeg.DecoderSupport{Hardware: true}

	_, err := BuildIndex(context.Background(), p, "test.mp4")
	require.Error(t, err)
	assert.Equal(t, KindHardwareDecoder, KindOf(err))

	p.support = ffmpeg.DecoderSupport{}
	_, err = BuildIndex(context.Background(), p, "test.mp4")
	require.Error(t, err)
	assert.Equal(t, KindNoDecoder, KindOf(err))
}

// hevcExtradata builds a minimal hvcC record declaring 4-byte NAL prefixes.
func hevcExtradata() []byte {
	extradata := make([]byte, 23)
	extradata[0] = 1
	extradata[21] = 0xfc | 0x3
	return extradata
}

func hevcSample(nalTypes ...uint8) []byte {
	var sample []byte
	for _, typ := range nalTypes {
		body := []byte{typ << 1, 0x01, 0xaa, 0xbb}
		sample = append(sample, 0, 0, 0, byte(len(body)))
		sample = append(sample, body...)
	}
	return sample
}

func TestBuildIndexRejectsOpenGopHevc(t *testing.T) {
	p := closedGopProber(4, 4)
	p.info.CodecName = "hevc"
	p.info.Extradata = hevcExtradata()
	for i := range p.packets {
		p.packets[i].payload = hevcSample(hevc.NalIdrWRadl, 1)
	}
	p.packets[2].payload = hevcSample(1, hevc.NalCra)

	_, err := BuildIndex(context.Background(), p, "test.mp4")
	require.Error(t, err)
	assert.Equal(t, KindOpenGop, KindOf(err))
	assert.Contains(t, err.Error(), "CRA (Clean Random Access)")
}

func TestBuildIndexAcceptsClosedGopHevc(t *testing.T) {
	p := closedGopProber(4, 4)
	p.info.CodecName = "hevc"
	p.info.Extradata = hevcExtradata()
	for i := range p.packets {
		p.packets[i].payload = hevcSample(hevc.NalIdrWRadl, 1, 0)
	}

	idx, err := BuildIndex(context.Background(), p, "test.mp4")
	require.NoError(t, err)
	assert.Equal(t, 4, idx.FrameCount)
}

func TestBuildIndexHevcMissingExtradata(t *testing.T) {
	p := closedGopProber(4, 4)
	p.info.CodecName = "hevc"

	_, err := BuildIndex(context.Background(), p, "test.mp4")
	require.Error(t, err)
	assert.Equal(t, KindOpenFailed, KindOf(err))
}

func TestBuildIndexGrayHint(t *testing.T) {
	p := closedGopProber(4, 4)
	p.info.Tags["is_grayscale"] = "1"
	idx, err := BuildIndex(context.Background(), p, "test.mp4")
	require.NoError(t, err)
	assert.Equal(t, GrayYes, idx.GrayHint)

	p.info.Tags["is_grayscale"] = "0"
	idx, err = BuildIndex(context.Background(), p, "test.mp4")
	require.NoError(t, err)
	assert.Equal(t, GrayNo, idx.GrayHint)

	delete(p.info.Tags, "is_grayscale")
	idx, err = BuildIndex(context.Background(), p, "test.mp4")
	require.NoError(t, err)
	assert.Equal(t, GrayUnknown, idx.GrayHint)
}

func TestIndexRoundTripsThroughJSONShape(t *testing.T) {
	p := closedGopProber(10, 4)
	idx, err := BuildIndex(context.Background(), p, "test.mp4")
	require.NoError(t, err)

	again, err := BuildIndex(context.Background(), p, "test.mp4")
	require.NoError(t, err)
	if diff := cmp.Diff(idx, again); diff != "" {
		t.Errorf("index build is not deterministic (-first +second):\n%s", diff)
	}
}
