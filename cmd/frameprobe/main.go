// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// frameprobe validates a video file against the reader wire contract and
// reports its frame index. Exit code 0 means the file is randomly
// accessible; 1 means it was refused; 2 is usage error.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ManuGH/frameio/internal/log"
	"github.com/ManuGH/frameio/internal/version"
	"github.com/ManuGH/frameio/internal/video"
	"github.com/google/renameio/v2"
)

// Report is the JSON shape written by -out and printed to stdout.
type Report struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Valid     bool      `json:"valid"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`

	FrameCount   int     `json:"frame_count,omitempty"`
	Width        int     `json:"width,omitempty"`
	Height       int     `json:"height,omitempty"`
	Codec        string  `json:"codec,omitempty"`
	FrameRate    string  `json:"frame_rate,omitempty"`
	Duration     float64 `json:"duration_seconds,omitempty"`
	PtsIncrement int64   `json:"pts_increment,omitempty"`
	GopCount     int     `json:"gop_count,omitempty"`
	GrayHint     string  `json:"gray_hint,omitempty"`
}

var (
	filePath    = flag.String("file", "", "video file to probe (required)")
	outPath     = flag.String("out", "", "write the JSON report to this path (atomic)")
	timeoutFlag = flag.Duration("timeout", 5*time.Minute, "probe timeout")
	logLevel    = flag.String("log-level", "warn", "log level")
)

func main() {
	flag.Parse()
	log.Configure(log.Config{Level: *logLevel, Service: "frameprobe", Version: version.Version})

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "frameprobe: -file is required")
		flag.Usage()
		os.Exit(2)
	}

	report := run(*filePath, *timeoutFlag)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	if *outPath != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err == nil {
			err = renameio.WriteFile(*outPath, append(data, '\n'), 0o644)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "frameprobe: write report: %v\n", err)
			os.Exit(2)
		}
	}

	if !report.Valid {
		os.Exit(1)
	}
}

func run(path string, timeout time.Duration) Report {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report := Report{Path: path, Timestamp: time.Now().UTC()}

	idx, err := video.Probe(ctx, path)
	if err != nil {
		report.ErrorKind = string(video.KindOf(err))
		report.Error = err.Error()
		return report
	}

	report.Valid = true
	report.FrameCount = idx.FrameCount
	report.Width = idx.Width
	report.Height = idx.Height
	report.Codec = idx.CodecName
	report.FrameRate = idx.FrameRate.String()
	report.Duration = idx.Duration()
	report.PtsIncrement = idx.PTSIncrement
	report.GopCount = len(idx.GopStarts())
	switch idx.GrayHint {
	case video.GrayYes:
		report.GrayHint = "1"
	case video.GrayNo:
		report.GrayHint = "0"
	}
	return report
}
