// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package indexcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ManuGH/frameio/internal/ffmpeg"
	"github.com/ManuGH/frameio/internal/video"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndex() *video.Index {
	return &video.Index{
		FrameCount:   4,
		Width:        64,
		Height:       32,
		CodecName:    "hevc",
		PixFmt:       "yuv420p",
		FrameRate:    ffmpeg.Rational{Num: 30, Den: 1},
		TimeBase:     ffmpeg.Rational{Num: 1, Den: 30},
		PTSIncrement: 1,
		DTS:          []int64{-1, 0, 1, 2},
		Keyframe:     []bool{true, false, true, false},
		GrayHint:     video.GrayYes,
	}
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	idx := testIndex()

	_, ok := s.Load(ctx, "/data/a.mp4", 100, 200)
	assert.False(t, ok, "empty store must miss")

	s.Save(ctx, "/data/a.mp4", 100, 200, idx)

	got, ok := s.Load(ctx, "/data/a.mp4", 100, 200)
	require.True(t, ok)
	if diff := cmp.Diff(idx, got); diff != "" {
		t.Errorf("index round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreMissOnChangedIdentity(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	s.Save(ctx, "/data/a.mp4", 100, 200, testIndex())

	_, ok := s.Load(ctx, "/data/a.mp4", 101, 200)
	assert.False(t, ok, "size change must miss")
	_, ok = s.Load(ctx, "/data/a.mp4", 100, 201)
	assert.False(t, ok, "mtime change must miss")
	_, ok = s.Load(ctx, "/data/b.mp4", 100, 200)
	assert.False(t, ok, "other path must miss")
}

func TestStoreOverwrite(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	s.Save(ctx, "/data/a.mp4", 100, 200, testIndex())

	updated := testIndex()
	updated.FrameCount = 2
	updated.DTS = updated.DTS[:2]
	updated.Keyframe = updated.Keyframe[:2]
	s.Save(ctx, "/data/a.mp4", 100, 300, updated)

	_, ok := s.Load(ctx, "/data/a.mp4", 100, 200)
	assert.False(t, ok, "old identity must be gone")

	got, ok := s.Load(ctx, "/data/a.mp4", 100, 300)
	require.True(t, ok)
	assert.Equal(t, 2, got.FrameCount)
}

func TestStoreIgnoresInconsistentRow(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	bad := testIndex()
	bad.DTS = bad.DTS[:1] // length no longer matches FrameCount
	s.Save(ctx, "/data/a.mp4", 100, 200, bad)

	_, ok := s.Load(ctx, "/data/a.mp4", 100, 200)
	assert.False(t, ok)
}

func TestOpenRefusesCorruptDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite file, but long enough to have a header"), 0o600))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestStoreServesReaderOpen(t *testing.T) {
	// The store plugs into video.Open as an IndexCache.
	var _ video.IndexCache = openStore(t)
}
