// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig represents the YAML configuration structure for framesd.
type FileConfig struct {
	LogLevel string `yaml:"logLevel,omitempty"`

	Library   LibraryConfig   `yaml:"library"`
	API       APIConfig       `yaml:"api"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg,omitempty"`
	Index     IndexConfig     `yaml:"index,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// LibraryConfig holds the video library roots watched and served by framesd.
type LibraryConfig struct {
	Roots      []string `yaml:"roots"`
	Extensions []string `yaml:"extensions,omitempty"` // default: .mp4
}

// APIConfig holds HTTP listener settings.
type APIConfig struct {
	Listen           string `yaml:"listen,omitempty"`           // default ":8089"
	RateLimitPerMin  int    `yaml:"rateLimitPerMin,omitempty"`  // default 600 (also for 0), negative disables
	ShutdownGraceSec int    `yaml:"shutdownGraceSec,omitempty"` // default 10
}

// FFmpegConfig holds binary locations and process limits.
type FFmpegConfig struct {
	FFmpegBin   string `yaml:"ffmpegBin,omitempty"`
	FFprobeBin  string `yaml:"ffprobeBin,omitempty"`
	KillTimeout string `yaml:"killTimeout,omitempty"` // e.g. "5s"
}

// IndexConfig holds the persistent frame-index cache settings.
type IndexConfig struct {
	CachePath string `yaml:"cachePath,omitempty"` // empty disables the sqlite cache
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled,omitempty"`
	ExporterType string  `yaml:"exporterType,omitempty"` // "grpc" or "http"
	Endpoint     string  `yaml:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty"`
}

// LoadFile reads and parses a YAML config file. A missing path returns the
// zero config without error so env-only deployments stay supported.
func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator flags/env
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays FRAMEIO_* environment variables on a file config.
// Environment always wins over file values.
func ApplyEnv(cfg FileConfig) FileConfig {
	cfg.LogLevel = ParseString("FRAMEIO_LOG_LEVEL", cfg.LogLevel)
	cfg.API.Listen = ParseString("FRAMEIO_LISTEN", cfg.API.Listen)
	cfg.FFmpeg.FFmpegBin = ParseString("FRAMEIO_FFMPEG_BIN", cfg.FFmpeg.FFmpegBin)
	cfg.FFmpeg.FFprobeBin = ParseString("FRAMEIO_FFPROBE_BIN", cfg.FFmpeg.FFprobeBin)
	cfg.Index.CachePath = ParseString("FRAMEIO_INDEX_CACHE", cfg.Index.CachePath)
	if root := ParseString("FRAMEIO_LIBRARY_ROOT", ""); root != "" {
		cfg.Library.Roots = append(cfg.Library.Roots, root)
	}
	return cfg
}

// Normalize fills defaults and validates the assembled configuration.
func (c *FileConfig) Normalize() error {
	if len(c.Library.Roots) == 0 {
		return fmt.Errorf("library.roots must not be empty")
	}
	if len(c.Library.Extensions) == 0 {
		c.Library.Extensions = []string{".mp4"}
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8089"
	}
	if c.API.RateLimitPerMin == 0 {
		c.API.RateLimitPerMin = 600
	}
	if c.API.ShutdownGraceSec <= 0 {
		c.API.ShutdownGraceSec = 10
	}
	if c.FFmpeg.KillTimeout == "" {
		c.FFmpeg.KillTimeout = "5s"
	}
	if _, err := time.ParseDuration(c.FFmpeg.KillTimeout); err != nil {
		return fmt.Errorf("ffmpeg.killTimeout: %w", err)
	}
	return nil
}

// KillTimeout returns the parsed process kill timeout.
func (c *FileConfig) KillTimeout() time.Duration {
	d, err := time.ParseDuration(c.FFmpeg.KillTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}
