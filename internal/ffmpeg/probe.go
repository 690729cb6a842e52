// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ffprobe JSON shapes. Numeric timing fields arrive as strings.
type probeStreamsJSON struct {
	Streams []struct {
		Index         int               `json:"index"`
		CodecName     string            `json:"codec_name"`
		CodecType     string            `json:"codec_type"`
		Width         int               `json:"width"`
		Height        int               `json:"height"`
		PixFmt        string            `json:"pix_fmt"`
		RFrameRate    string            `json:"r_frame_rate"`
		AvgFrameRate  string            `json:"avg_frame_rate"`
		TimeBase      string            `json:"time_base"`
		Extradata     string            `json:"extradata"`
		ExtradataSize int               `json:"extradata_size"`
		Tags          map[string]string `json:"tags"`
	} `json:"streams"`
	Format struct {
		Tags map[string]string `json:"tags"`
	} `json:"format"`
}

type probePacketJSON struct {
	CodecType string `json:"codec_type"`
	PTS       *int64 `json:"pts"`
	DTS       *int64 `json:"dts"`
	Flags     string `json:"flags"`
	Size      string `json:"size"`
	Data      string `json:"data"`
}

// VideoStream probes the first video stream of path.
func (r *Runner) VideoStream(ctx context.Context, path string) (StreamInfo, error) {
	out, err := r.output(ctx, r.Bins.FFprobe,
		"-v", "warning",
		"-select_streams", "v:0",
		"-show_streams",
		"-show_format",
		"-show_data",
		"-of", "json",
		path,
	)
	if err != nil {
		return StreamInfo{}, err
	}

	var parsed probeStreamsJSON
	if err := json.Unmarshal(out, &parsed); err != nil {
		return StreamInfo{}, fmt.Errorf("parse ffprobe stream output: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return StreamInfo{}, errNoVideoStream
	}
	s := parsed.Streams[0]

	info := StreamInfo{
		Index:     s.Index,
		CodecName: s.CodecName,
		Width:     s.Width,
		Height:    s.Height,
		PixFmt:    s.PixFmt,
		Tags:      map[string]string{},
	}

	if fr, err := ParseRational(s.RFrameRate); err == nil {
		info.FrameRate = fr
	} else if fr, err := ParseRational(s.AvgFrameRate); err == nil {
		info.FrameRate = fr
	}
	if tb, err := ParseRational(s.TimeBase); err == nil {
		info.TimeBase = tb
	}

	if s.Extradata != "" && s.ExtradataSize > 0 {
		extradata, err := parseHexdump(s.Extradata, s.ExtradataSize)
		if err != nil {
			return StreamInfo{}, fmt.Errorf("parse stream extradata: %w", err)
		}
		info.Extradata = extradata
	}

	for k, v := range s.Tags {
		info.Tags[strings.ToLower(k)] = v
	}
	for k, v := range parsed.Format.Tags {
		info.Tags[strings.ToLower(k)] = v
	}

	return info, nil
}

// errNoVideoStream is matched by the index builder to produce NoVideoStream.
var errNoVideoStream = fmt.Errorf("no video stream found")

// IsNoVideoStream reports whether err means the container has no video stream.
func IsNoVideoStream(err error) bool { return err == errNoVideoStream }

// ScanPackets streams pts/dts/keyframe triples for every video packet in
// stream order. The CSV form keeps memory flat regardless of file size.
func (r *Runner) ScanPackets(ctx context.Context, path string, fn func(PacketMeta) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, stdout, _, err := r.start(ctx, r.Bins.FFprobe, []string{
		"-v", "warning",
		"-select_streams", "v:0",
		"-show_entries", "packet=pts,dts,flags",
		"-of", "csv=p=0",
		path,
	}, false)
	if err != nil {
		return err
	}

	scanErr := scanPacketCSV(stdout, fn)
	if scanErr != nil {
		c.kill(r.KillTimeout)
		return scanErr
	}
	return c.wait()
}

// scanPacketCSV parses lines of "pts,dts,flags". Missing timestamps appear
// as "N/A".
func scanPacketCSV(in io.Reader, fn func(PacketMeta) error) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			return fmt.Errorf("malformed packet row %q", line)
		}
		var meta PacketMeta
		if v, err := strconv.ParseInt(parts[0], 10, 64); err == nil {
			meta.PTS, meta.HasPTS = v, true
		}
		if v, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			meta.DTS, meta.HasDTS = v, true
		}
		meta.Keyframe = strings.ContainsRune(parts[2], 'K')
		if err := fn(meta); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// ScanPacketData streams every video packet's payload alongside its timing.
// Used by the HEVC NAL validation pass; payloads are the length-prefixed
// samples exactly as stored in the container.
func (r *Runner) ScanPacketData(ctx context.Context, path string, fn func(PacketMeta, []byte) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, stdout, _, err := r.start(ctx, r.Bins.FFprobe, []string{
		"-v", "warning",
		"-select_streams", "v:0",
		"-show_packets",
		"-show_data",
		"-of", "json",
		path,
	}, false)
	if err != nil {
		return err
	}

	scanErr := scanPacketJSON(stdout, fn)
	if scanErr != nil {
		c.kill(r.KillTimeout)
		return scanErr
	}
	return c.wait()
}

// scanPacketJSON incrementally decodes {"packets": [...]} so payloads are
// held one packet at a time.
func scanPacketJSON(in io.Reader, fn func(PacketMeta, []byte) error) error {
	dec := json.NewDecoder(bufio.NewReaderSize(in, 256<<10))

	// Walk tokens to the "packets" array without materializing it.
	if err := expectDelim(dec, '{'); err != nil {
		return fmt.Errorf("parse ffprobe packet output: %w", err)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("parse ffprobe packet output: %w", err)
		}
		key, _ := keyTok.(string)
		if key != "packets" {
			// Skip the value of any other top-level key.
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return fmt.Errorf("parse ffprobe packet output: %w", err)
			}
			continue
		}
		if err := expectDelim(dec, '['); err != nil {
			return fmt.Errorf("parse ffprobe packet output: %w", err)
		}
		for dec.More() {
			var p probePacketJSON
			if err := dec.Decode(&p); err != nil {
				return fmt.Errorf("parse ffprobe packet: %w", err)
			}
			if p.CodecType != "" && p.CodecType != "video" {
				continue
			}
			meta := PacketMeta{Keyframe: strings.ContainsRune(p.Flags, 'K')}
			if p.PTS != nil {
				meta.PTS, meta.HasPTS = *p.PTS, true
			}
			if p.DTS != nil {
				meta.DTS, meta.HasDTS = *p.DTS, true
			}
			var payload []byte
			if p.Data != "" {
				size, err := strconv.Atoi(strings.TrimSpace(p.Size))
				if err != nil {
					return fmt.Errorf("packet size %q: %w", p.Size, err)
				}
				payload, err = parseHexdump(p.Data, size)
				if err != nil {
					return fmt.Errorf("parse packet data: %w", err)
				}
			}
			if err := fn(meta, payload); err != nil {
				return err
			}
		}
		if err := expectDelim(dec, ']'); err != nil {
			return fmt.Errorf("parse ffprobe packet output: %w", err)
		}
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
