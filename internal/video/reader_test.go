// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package video

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestReader wires a Reader over fakes: a synthetic 20-frame closed-GOP
// stream with GOPs of 5.
func openTestReader(t *testing.T, opts ...Option) (*Reader, *fakeDecoder) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.mp4")
	require.NoError(t, os.WriteFile(path, []byte("container"), 0o600))

	prober := closedGopProber(20, 5)
	idx, err := BuildIndex(context.Background(), prober, path)
	require.NoError(t, err)

	dec := &fakeDecoder{idx: idx}
	opts = append(opts, WithDeps(Deps{Prober: prober, Decoder: dec}))

	r, err := Open(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, dec
}

func TestOpenRejectsMissingFile(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "absent.mp4"),
		WithDeps(Deps{}))
	require.Error(t, err)
	assert.Equal(t, KindOpenFailed, KindOf(err))
}

func TestReadFrameValidatesIndex(t *testing.T) {
	r, _ := openTestReader(t)

	_, err := r.ReadFrame(context.Background(), 0)
	assert.Equal(t, KindInvalidIndex, KindOf(err))

	_, err = r.ReadFrame(context.Background(), 21)
	assert.Equal(t, KindInvalidIndex, KindOf(err))

	_, err = r.ReadFrame(context.Background(), 1)
	assert.NoError(t, err)
}

func TestReadFrameDeliversDeterministicPixels(t *testing.T) {
	r, _ := openTestReader(t)

	for _, i := range []int{1, 7, 20, 3, 7} {
		f, err := r.ReadFrame(context.Background(), i)
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, framePattern(r.Index(), i-1, false), f.Pix, "frame %d", i)
	}
}

func TestReadOrderInvariance(t *testing.T) {
	r, _ := openTestReader(t)
	n := r.NumFrames()

	byIndex := make(map[int][]byte)
	for _, seed := range []int64{42, 43} {
		perm := rand.New(rand.NewSource(seed)).Perm(n)
		for _, p := range perm {
			i := p + 1
			f, err := r.ReadFrame(context.Background(), i)
			require.NoError(t, err)
			if prev, ok := byIndex[i]; ok {
				assert.Equal(t, prev, f.Pix, "frame %d differs between read orders", i)
			} else {
				byIndex[i] = f.Pix
			}
		}
	}
}

func TestGopCacheHitAvoidsDecode(t *testing.T) {
	r, dec := openTestReader(t)

	// Frames 6..10 share the GOP [5,10): one decode serves all of them.
	for _, i := range []int{6, 8, 7, 10, 9, 6} {
		_, err := r.ReadFrame(context.Background(), i)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, dec.calls)

	// Crossing the boundary replaces the slot: exactly one more decode.
	_, err := r.ReadFrame(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, 2, dec.calls)

	// Walking back across the boundary replaces it again.
	_, err = r.ReadFrame(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, dec.calls)
}

func TestGopWalkMatchesIndependentReads(t *testing.T) {
	r, _ := openTestReader(t)
	fresh, _ := openTestReader(t)

	rng := rand.New(rand.NewSource(7))
	pos := 10
	for step := 0; step < 60; step++ {
		if rng.Intn(2) == 0 && pos > 1 {
			pos--
		} else if pos < r.NumFrames() {
			pos++
		}
		walked, err := r.ReadFrame(context.Background(), pos)
		require.NoError(t, err)
		independent, err := fresh.ReadFrame(context.Background(), pos)
		require.NoError(t, err)
		assert.Equal(t, independent.Pix, walked.Pix, "frame %d at step %d", pos, step)
	}
}

func TestReadRangeEqualsSingles(t *testing.T) {
	r, _ := openTestReader(t)

	frames, err := r.ReadRange(context.Background(), 3, 12)
	require.NoError(t, err)
	require.Len(t, frames, 10)

	for k, f := range frames {
		single, err := r.ReadFrame(context.Background(), 3+k)
		require.NoError(t, err)
		assert.Equal(t, single.Pix, f.Pix, "frame %d", 3+k)
	}
}

func TestReadRangeBypassesCache(t *testing.T) {
	r, dec := openTestReader(t)

	_, err := r.ReadRange(context.Background(), 1, 20)
	require.NoError(t, err)
	calls := dec.calls

	// A following single read must decode: the range left nothing cached.
	_, err = r.ReadFrame(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, calls+1, dec.calls)
}

func TestReadRangeValidates(t *testing.T) {
	r, _ := openTestReader(t)

	for _, bad := range [][2]int{{0, 5}, {5, 4}, {1, 21}} {
		_, err := r.ReadRange(context.Background(), bad[0], bad[1])
		assert.Equal(t, KindInvalidRange, KindOf(err), "range %v", bad)
	}
}

func TestDecodeFailureLeavesSessionUsable(t *testing.T) {
	r, dec := openTestReader(t)
	dec.failAt = 1

	_, err := r.ReadFrame(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, KindDecodeError, KindOf(err))

	// The cache was cleared on the failing path; the retry decodes cleanly.
	f, err := r.ReadFrame(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, framePattern(r.Index(), 0, false), f.Pix)
}

func TestCloseIsIdempotent(t *testing.T) {
	r, _ := openTestReader(t)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close()) // warns, no-ops

	_, err := r.ReadFrame(context.Background(), 1)
	assert.Equal(t, KindAlreadyClosed, KindOf(err))
	_, err = r.ReadRange(context.Background(), 1, 2)
	assert.Equal(t, KindAlreadyClosed, KindOf(err))
}

func TestNilReaderHandle(t *testing.T) {
	var r *Reader
	_, err := r.ReadFrame(context.Background(), 1)
	assert.Equal(t, KindNullHandle, KindOf(err))
	assert.Equal(t, KindNullHandle, KindOf(r.Close()))
}

func TestOutputFormatSelection(t *testing.T) {
	t.Run("explicit wins over hint", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.mp4")
		require.NoError(t, os.WriteFile(path, []byte("container"), 0o600))
		prober := closedGopProber(4, 4)
		prober.info.Tags["is_grayscale"] = "1"
		idx, err := BuildIndex(context.Background(), prober, path)
		require.NoError(t, err)
		r, err := Open(context.Background(), path,
			WithOutputGray(false),
			WithDeps(Deps{Prober: prober, Decoder: &fakeDecoder{idx: idx}}))
		require.NoError(t, err)
		defer r.Close()
		assert.False(t, r.Info().IsGray)
	})

	t.Run("metadata hint", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.mp4")
		require.NoError(t, os.WriteFile(path, []byte("container"), 0o600))
		prober := closedGopProber(4, 4)
		prober.info.Tags["is_grayscale"] = "1"
		idx, err := BuildIndex(context.Background(), prober, path)
		require.NoError(t, err)
		r, err := Open(context.Background(), path,
			WithDeps(Deps{Prober: prober, Decoder: &fakeDecoder{idx: idx}}))
		require.NoError(t, err)
		defer r.Close()
		assert.True(t, r.Info().IsGray)
	})

	t.Run("pixel format autodetect", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.mp4")
		require.NoError(t, os.WriteFile(path, []byte("container"), 0o600))
		prober := closedGopProber(4, 4)
		prober.info.PixFmt = "gray10le"
		idx, err := BuildIndex(context.Background(), prober, path)
		require.NoError(t, err)
		r, err := Open(context.Background(), path,
			WithDeps(Deps{Prober: prober, Decoder: &fakeDecoder{idx: idx}}))
		require.NoError(t, err)
		defer r.Close()
		assert.True(t, r.Info().IsGray)
	})
}

func TestGrayReadPath(t *testing.T) {
	r, _ := openTestReader(t, WithOutputGray(true))

	f, err := r.ReadFrame(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, Gray8, f.Format)
	assert.Len(t, f.Pix, r.Info().Width*r.Info().Height)
	assert.Equal(t, framePattern(r.Index(), 1, true), f.Pix)
}
