// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveFFmpegBin returns the effective ffmpeg binary path.
//
// Resolution order:
// 1) Explicit value (e.g. FRAMEIO_FFMPEG_BIN)
// 2) "ffmpeg" (PATH resolution by exec.LookPath at spawn time)
func ResolveFFmpegBin(ffmpegBin string) string {
	ffmpegBin = strings.TrimSpace(ffmpegBin)
	if ffmpegBin != "" {
		return ffmpegBin
	}
	return "ffmpeg"
}

// ResolveFFprobeBin returns an effective ffprobe binary path based on configured values.
//
// Resolution order:
// 1) Explicit ffprobeBin (e.g. FRAMEIO_FFPROBE_BIN)
// 2) Derive from ffmpegBin (.../ffmpeg -> .../ffprobe) if the derived binary exists
// 3) "ffprobe" (PATH fallback)
func ResolveFFprobeBin(ffprobeBin, ffmpegBin string) string {
	return resolveFFprobeBinWithStat(ffprobeBin, ffmpegBin, os.Stat)
}

func resolveFFprobeBinWithStat(ffprobeBin, ffmpegBin string, stat func(string) (os.FileInfo, error)) string {
	ffprobeBin = strings.TrimSpace(ffprobeBin)
	if ffprobeBin != "" {
		return ffprobeBin
	}

	ffmpegBin = strings.TrimSpace(ffmpegBin)

	// Only derive from a concrete ffmpeg path (.../ffmpeg -> .../ffprobe).
	// If ffmpegBin is just "ffmpeg" (PATH), we intentionally do not guess.
	if strings.ContainsRune(ffmpegBin, '/') && filepath.Base(ffmpegBin) == "ffmpeg" {
		candidate := filepath.Join(filepath.Dir(ffmpegBin), "ffprobe")
		if fi, err := stat(candidate); err == nil && fi != nil && !fi.IsDir() {
			return candidate
		}
	}
	return "ffprobe"
}
