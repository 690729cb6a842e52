// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldRequestID = "request_id"

	// Media fields
	FieldPath       = "path"
	FieldCodec      = "codec"
	FieldResolution = "resolution"
	FieldFPS        = "fps"
	FieldFrame      = "frame"
	FieldFrames     = "frames"
	FieldGopStart   = "gop_start"
	FieldGopLen     = "gop_len"

	// Process fields
	FieldPID      = "pid"
	FieldExitCode = "exit_code"
)
