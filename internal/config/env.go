// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config provides configuration management for frameio.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/ManuGH/frameio/internal/log"
)

// lookup fetches an environment variable, treating empty as unset.
func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// logResolved traces which source won for a key. frameio's environment
// carries binary paths, listen addresses and tuning knobs, never
// credentials, so values are logged as-is.
func logResolved(key, value, source string) {
	log.WithComponent("config").Debug().
		Str("key", key).
		Str("value", value).
		Str("source", source).
		Msg("config value resolved")
}

// logUnparsable warns, on every call, that a malformed environment value
// is ignored in favor of the default.
func logUnparsable(key, value, wantType string) {
	log.WithComponent("config").Warn().
		Str("key", key).
		Str("value", value).
		Str("want_type", wantType).
		Msg("environment value unparsable, keeping default")
}

// ParseString resolves key from the environment, falling back to def.
func ParseString(key, def string) string {
	v, ok := lookup(key)
	if !ok {
		logResolved(key, def, "default")
		return def
	}
	logResolved(key, v, "environment")
	return v
}

// ParseInt resolves an integer; unparsable values keep the default and warn.
func ParseInt(key string, def int) int {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logUnparsable(key, v, "integer")
		return def
	}
	return n
}

// ParseBool resolves a boolean; unparsable values keep the default and warn.
func ParseBool(key string, def bool) bool {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logUnparsable(key, v, "boolean")
		return def
	}
	return b
}

// ParseDuration resolves a time.Duration ("30s", "5m"); unparsable values
// keep the default and warn.
func ParseDuration(key string, def time.Duration) time.Duration {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logUnparsable(key, v, "duration")
		return def
	}
	return d
}
