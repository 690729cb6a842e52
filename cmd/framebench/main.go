// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// framebench writes a synthetic noise file and measures random access
// against it: sequential reads, two shuffled full passes, and a ±1 walk.
// It needs real ffmpeg/ffprobe binaries.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/frameio/internal/ffmpeg"
	"github.com/ManuGH/frameio/internal/log"
	"github.com/ManuGH/frameio/internal/version"
	"github.com/ManuGH/frameio/internal/video"
)

var (
	frames   = flag.Int("frames", 500, "frames to write")
	side     = flag.Int("size", 256, "square frame edge length")
	fps      = flag.Int("fps", 30, "frame rate")
	gop      = flag.Int("gop", 50, "GOP size")
	crf      = flag.Int("crf", video.DefaultCRF, "encoder CRF")
	walkLen  = flag.Int("walk", 500, "random walk length")
	seed     = flag.Int64("seed", 42, "rng seed")
	keepFile = flag.String("keep", "", "keep the generated file at this path")
	logLevel = flag.String("log-level", "warn", "log level")
)

func main() {
	flag.Parse()
	log.Configure(log.Config{Level: *logLevel, Service: "framebench", Version: version.Version})
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "framebench: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(*seed))

	path := *keepFile
	if path == "" {
		dir, err := os.MkdirTemp("", "framebench")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		path = filepath.Join(dir, "bench.mp4")
	}

	// Write phase.
	start := time.Now()
	w, err := video.NewWriter(ctx, path, *side, *side,
		ffmpeg.Rational{Num: int64(*fps), Den: 1},
		video.WithGopSize(*gop), video.WithCRF(*crf))
	if err != nil {
		return err
	}
	frame := video.NewFrame(*side, *side, video.Gray8)
	for k := 0; k < *frames; k++ {
		for j := range frame.Pix {
			frame.Pix[j] = byte(rng.Intn(256))
		}
		if err := w.WriteFrame(frame); err != nil {
			w.Discard()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	writeDur := time.Since(start)

	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	fmt.Printf("wrote   %d frames %dx%d in %v (%.1f fps, %.2f MiB)\n",
		*frames, *side, *side, writeDur.Round(time.Millisecond),
		float64(*frames)/writeDur.Seconds(), float64(fi.Size())/(1<<20))

	// Open phase.
	start = time.Now()
	r, err := video.Open(ctx, path)
	if err != nil {
		return err
	}
	defer r.Close()
	fmt.Printf("indexed %d frames in %v (%d GOPs)\n",
		r.NumFrames(), time.Since(start).Round(time.Millisecond), len(r.GopStarts()))

	// Sequential full pass via range reads.
	start = time.Now()
	const chunk = 100
	for lo := 1; lo <= r.NumFrames(); lo += chunk {
		hi := lo + chunk - 1
		if hi > r.NumFrames() {
			hi = r.NumFrames()
		}
		if _, err := r.ReadRange(ctx, lo, hi); err != nil {
			return err
		}
	}
	reportReads("sequential(range)", r.NumFrames(), time.Since(start))

	// Two shuffled full passes.
	for _, s := range []int64{*seed, *seed + 1} {
		perm := rand.New(rand.NewSource(s)).Perm(r.NumFrames())
		start = time.Now()
		for _, p := range perm {
			if _, err := r.ReadFrame(ctx, p+1); err != nil {
				return err
			}
		}
		reportReads(fmt.Sprintf("shuffled(seed=%d)", s), len(perm), time.Since(start))
	}

	// Random ±1 walk from the middle.
	pos := r.NumFrames() / 2
	start = time.Now()
	for k := 0; k < *walkLen; k++ {
		if rng.Intn(2) == 0 && pos > 1 {
			pos--
		} else if pos < r.NumFrames() {
			pos++
		}
		if _, err := r.ReadFrame(ctx, pos); err != nil {
			return err
		}
	}
	reportReads("walk(±1)", *walkLen, time.Since(start))

	return nil
}

func reportReads(label string, n int, d time.Duration) {
	fmt.Printf("%-18s %5d reads in %8v (%7.1f reads/s)\n",
		label, n, d.Round(time.Millisecond), float64(n)/d.Seconds())
}
