// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// parseHexdump decodes ffprobe's -show_data hexdump into raw bytes.
//
// Lines look like
//
//	00000000: 0101 6000 0000 b000 0000 0000 5df0 00fc  ..`.........]...
//
// with at most 16 payload bytes per line followed by an ASCII column. The
// expected size comes from ffprobe's size/extradata_size field and is the
// only reliable way to keep an all-hex ASCII column out of the payload.
func parseHexdump(dump string, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("negative hexdump size %d", size)
	}
	out := make([]byte, 0, size)
	for _, line := range strings.Split(dump, "\n") {
		if len(out) >= size {
			break
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		remaining := size - len(out)
		lineBudget := remaining
		if lineBudget > 16 {
			lineBudget = 16
		}
		for _, tok := range strings.Fields(line[colon+1:]) {
			if lineBudget == 0 {
				break
			}
			want := lineBudget * 2
			if len(tok) > want {
				tok = tok[:want]
			}
			if len(tok)%2 != 0 {
				return nil, fmt.Errorf("odd hex token %q in dump", tok)
			}
			b, err := hex.DecodeString(tok)
			if err != nil {
				return nil, fmt.Errorf("bad hex token %q in dump: %w", tok, err)
			}
			out = append(out, b...)
			lineBudget -= len(b)
		}
	}
	if len(out) != size {
		return nil, fmt.Errorf("hexdump decoded %d bytes, expected %d", len(out), size)
	}
	return out, nil
}
