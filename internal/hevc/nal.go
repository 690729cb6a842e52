// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package hevc walks length-prefixed HEVC samples and classifies NAL units.
// Its single job here is open-GOP detection: BLA/CRA/RASL units break the
// closed-GOP random access contract and must be refused at open time.
package hevc

import (
	"fmt"
)

// NAL unit types from ITU-T H.265 Table 7-1.
const (
	NalRaslN    = 8
	NalRaslR    = 9
	NalBlaWLp   = 16
	NalBlaWRadl = 17
	NalBlaNLp   = 18
	NalIdrWRadl = 19
	NalIdrNLp   = 20
	NalCra      = 21
)

// nalNames covers the types we report in diagnostics.
var nalNames = map[uint8]string{
	NalRaslN:    "RASL_N (Random Access Skipped Leading)",
	NalRaslR:    "RASL_R (Random Access Skipped Leading)",
	NalBlaWLp:   "BLA_W_LP (Broken Link Access)",
	NalBlaWRadl: "BLA_W_RADL (Broken Link Access)",
	NalBlaNLp:   "BLA_N_LP (Broken Link Access)",
	NalIdrWRadl: "IDR_W_RADL",
	NalIdrNLp:   "IDR_N_LP",
	NalCra:      "CRA (Clean Random Access)",
}

// TypeName returns a human-readable name for a NAL unit type.
func TypeName(t uint8) string {
	if name, ok := nalNames[t]; ok {
		return name
	}
	return fmt.Sprintf("NAL type %d", t)
}

// IsOpenGop reports whether the NAL unit type indicates open-GOP structure.
func IsOpenGop(t uint8) bool {
	switch t {
	case NalCra, NalBlaWLp, NalBlaWRadl, NalBlaNLp, NalRaslN, NalRaslR:
		return true
	}
	return false
}

// NALLengthSize extracts the length-prefix size from an hvcC configuration
// record: byte 21, low two bits, plus one.
func NALLengthSize(extradata []byte) (int, error) {
	if len(extradata) < 22 {
		return 0, fmt.Errorf("hvcC record too short: %d bytes", len(extradata))
	}
	return int(extradata[21]&0x3) + 1, nil
}

// WalkLengthPrefixed iterates the NAL units of one length-prefixed sample,
// calling fn with each unit's type. Iteration stops on the first fn error.
func WalkLengthPrefixed(sample []byte, lengthSize int, fn func(nalType uint8) error) error {
	if lengthSize < 1 || lengthSize > 4 {
		return fmt.Errorf("invalid NAL length-prefix size %d", lengthSize)
	}
	pos := 0
	for pos < len(sample) {
		if pos+lengthSize > len(sample) {
			return fmt.Errorf("truncated NAL length prefix at offset %d", pos)
		}
		var n int
		for i := 0; i < lengthSize; i++ {
			n = n<<8 | int(sample[pos+i])
		}
		pos += lengthSize
		if n <= 0 || pos+n > len(sample) {
			return fmt.Errorf("NAL length %d exceeds sample at offset %d", n, pos)
		}
		// First byte of the NAL header: forbidden_zero_bit + 6-bit type.
		nalType := (sample[pos] >> 1) & 0x3f
		if err := fn(nalType); err != nil {
			return err
		}
		pos += n
	}
	return nil
}

// FindOpenGopNAL walks a sample and returns the first open-GOP NAL type
// found, if any.
func FindOpenGopNAL(sample []byte, lengthSize int) (uint8, bool, error) {
	var found uint8
	var ok bool
	err := WalkLengthPrefixed(sample, lengthSize, func(t uint8) error {
		if IsOpenGop(t) && !ok {
			found, ok = t, true
		}
		return nil
	})
	return found, ok, err
}
