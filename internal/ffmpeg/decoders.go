// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"strings"
)

// hwSuffixes mark decoder names that are hardware wrappers. A codec whose
// only decoders carry one of these is refused: hardware decode has been
// observed to return non-deterministic bytes for identical inputs.
var hwSuffixes = []string{
	"_cuvid", "_qsv", "_vaapi", "_v4l2m2m", "_mediacodec", "_mmal", "_rkmpp", "_vdpau",
}

// DecoderSupport describes what decoders the ffmpeg build offers for a codec.
type DecoderSupport struct {
	Software bool // a plain software decoder exists
	Hardware bool // at least one hardware wrapper exists
}

// DecoderSupportFor enumerates `ffmpeg -decoders` once per Runner and
// reports the support for the given codec name.
func (r *Runner) DecoderSupportFor(ctx context.Context, codec string) (DecoderSupport, error) {
	r.decoderOnce.Do(func() {
		out, err := r.output(ctx, r.Bins.FFmpeg, "-hide_banner", "-decoders")
		if err != nil {
			r.decoderErr = err
			return
		}
		r.decoderInv = parseDecoderList(out)
	})
	if r.decoderErr != nil {
		return DecoderSupport{}, r.decoderErr
	}

	var sup DecoderSupport
	if r.decoderInv[codec] {
		sup.Software = true
	}
	for _, suffix := range hwSuffixes {
		if r.decoderInv[codec+suffix] {
			sup.Hardware = true
		}
	}
	return sup, nil
}

// parseDecoderList extracts decoder names from `ffmpeg -decoders` output.
// Lines look like " V....D hevc    HEVC (High Efficiency Video Coding)";
// the header above the separator line is skipped.
func parseDecoderList(out []byte) map[string]bool {
	names := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	inBody := false
	for scanner.Scan() {
		line := scanner.Text()
		if !inBody {
			if strings.Contains(line, "------") {
				inBody = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		names[fields[1]] = true
	}
	return names
}
