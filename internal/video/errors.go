// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package video

import (
	"errors"
	"fmt"
)

// Kind is a stable error identifier. The set is part of the API contract;
// callers dispatch on it with KindOf.
type Kind string

const (
	// Open / stream discovery
	KindOpenFailed       Kind = "OpenFailed"
	KindStreamInfoFailed Kind = "StreamInfoFailed"
	KindNoVideoStream    Kind = "NoVideoStream"
	KindNoDecoder        Kind = "NoDecoder"
	KindHardwareDecoder  Kind = "HardwareDecoder"

	// Index build
	KindBadFrameRate  Kind = "BadFrameRate"
	KindOpenGop       Kind = "OpenGop"
	KindMisalignedPts Kind = "MisalignedPts"
	KindMissingPts    Kind = "MissingPts"
	KindDuplicatePts  Kind = "DuplicatePts"
	KindNoFrames      Kind = "NoFrames"

	// Read path
	KindInvalidIndex Kind = "InvalidIndex"
	KindInvalidRange Kind = "InvalidRange"
	KindDecodeError  Kind = "DecodeError"
	KindNotFound     Kind = "NotFound"

	// Write path
	KindEncodeError   Kind = "EncodeError"
	KindWriteError    Kind = "WriteError"
	KindTrailerError  Kind = "TrailerError"
	KindBadDimensions Kind = "BadDimensions"
	KindBadDtype      Kind = "BadDtype"

	// Lifecycle
	KindNullHandle    Kind = "NullHandle"
	KindAlreadyClosed Kind = "AlreadyClosed"
)

// Error carries a stable kind plus a message with numeric context.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// errf builds an Error with a formatted message.
func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// wrapf builds an Error wrapping a cause.
func wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the stable kind from an error chain; empty if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
