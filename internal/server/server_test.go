// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/frameio/internal/ffmpeg"
	"github.com/ManuGH/frameio/internal/video"
	"github.com/ManuGH/frameio/internal/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProber serves a 10-frame closed-GOP h264 stream, GOPs of 5.
type fakeProber struct{}

const testFrames = 10

func (fakeProber) VideoStream(context.Context, string) (ffmpeg.StreamInfo, error) {
	return ffmpeg.StreamInfo{
		CodecName: "h264",
		Width:     8,
		Height:    4,
		PixFmt:    "yuv420p",
		FrameRate: ffmpeg.Rational{Num: 30, Den: 1},
		TimeBase:  ffmpeg.Rational{Num: 1, Den: 30},
		Tags:      map[string]string{"is_grayscale": "1"},
	}, nil
}

func (fakeProber) ScanPackets(_ context.Context, _ string, fn func(ffmpeg.PacketMeta) error) error {
	for f := 0; f < testFrames; f++ {
		err := fn(ffmpeg.PacketMeta{
			PTS: int64(f), DTS: int64(f) - 1,
			HasPTS: true, HasDTS: true,
			Keyframe: f%5 == 0,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (fakeProber) ScanPacketData(ctx context.Context, path string, fn func(ffmpeg.PacketMeta, []byte) error) error {
	return fakeProber{}.ScanPackets(ctx, path, func(m ffmpeg.PacketMeta) error { return fn(m, nil) })
}

func (fakeProber) DecoderSupportFor(context.Context, string) (ffmpeg.DecoderSupport, error) {
	return ffmpeg.DecoderSupport{Software: true}, nil
}

// fakeDecoder fills each frame with its own index.
type fakeDecoder struct{}

func (fakeDecoder) Decode(_ context.Context, req ffmpeg.DecodeRequest, sink func([]byte) error) error {
	first := int(req.SeekSeconds*30 + 0.5)
	count := req.FrameCount
	if count == 0 || first+count > testFrames {
		count = testFrames - first
	}
	size := req.Width * req.Height
	if !req.Gray {
		size *= 3
	}
	for k := 0; k < count; k++ {
		pix := bytes.Repeat([]byte{byte(first + k)}, size)
		if err := sink(pix); err != nil {
			if err == ffmpeg.ErrStopDecode {
				return nil
			}
			return err
		}
	}
	return nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "cam0.mp4"), []byte("x"), 0o600))

	lib, err := watch.New([]string{root}, []string{".mp4"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	libDone := make(chan error, 1)
	go func() { libDone <- lib.Run(ctx) }()
	require.Eventually(t, func() bool { return len(lib.Videos()) == 1 }, 3*time.Second, 20*time.Millisecond)

	srv := New(lib, Options{
		Opener: func(ctx context.Context, path string) (*video.Reader, error) {
			return video.Open(ctx, path, video.WithDeps(video.Deps{
				Prober:  fakeProber{},
				Decoder: fakeDecoder{},
			}))
		},
	})
	ts := httptest.NewServer(srv.Router())

	srvCtx, srvCancel := context.WithCancel(context.Background())
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Run(srvCtx) }()

	t.Cleanup(func() {
		http.DefaultTransport.(*http.Transport).CloseIdleConnections()
		ts.Close()
		srvCancel()
		require.NoError(t, <-srvDone)
		cancel()
		require.NoError(t, <-libDone)
	})
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url) // #nosec G107 -- test server URL
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestListVideos(t *testing.T) {
	ts := newTestServer(t)

	var out []struct {
		ID string `json:"id"`
	}
	status := getJSON(t, ts.URL+"/api/v1/videos", &out)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, out, 1)
	assert.Equal(t, "cam0.mp4", out[0].ID)
}

func TestVideoInfo(t *testing.T) {
	ts := newTestServer(t)

	var info videoInfoJSON
	status := getJSON(t, ts.URL+"/api/v1/videos/cam0.mp4", &info)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, testFrames, info.FrameCount)
	assert.Equal(t, 8, info.Width)
	assert.Equal(t, 4, info.Height)
	assert.Equal(t, "30/1", info.FrameRate)
	assert.True(t, info.IsGray)
}

func TestVideoInfoUnknownID(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/videos/nope.mp4", nil))
}

func TestGetFramePNG(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/videos/cam0.mp4/frames/3")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
	// Frame 3 (1-based) is filled with byte 2.
	r, _, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(2), r>>8)
}

func TestGetFrameRaw(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/videos/cam0.mp4/frames/5?format=raw")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gray8", resp.Header.Get("X-Frame-Format"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{4}, 8*4), body)
}

func TestGetFrameValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/videos/cam0.mp4/frames/0")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/v1/videos/cam0.mp4/frames/999")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/v1/videos/cam0.mp4/frames/abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetFrameRange(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/videos/cam0.mp4/frames?start=2&end=4")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get("X-Frame-Count"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	want := append(bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 32)...)
	want = append(want, bytes.Repeat([]byte{3}, 32)...)
	assert.Equal(t, want, body)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", nil))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "frameio_")
}
