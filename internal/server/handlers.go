// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package server

import (
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ManuGH/frameio/internal/metrics"
	"github.com/ManuGH/frameio/internal/video"
	"github.com/go-chi/chi/v5"
)

var errUnknownVideo = errors.New("unknown video id")

// videoInfoJSON is the wire shape of one catalog entry's attributes.
type videoInfoJSON struct {
	ID         string  `json:"id"`
	FrameCount int     `json:"frame_count"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FrameRate  string  `json:"frame_rate"`
	Duration   float64 `json:"duration_seconds"`
	IsGray     bool    `json:"is_gray"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleListVideos(w http.ResponseWriter, _ *http.Request) {
	type entryJSON struct {
		ID string `json:"id"`
	}
	videos := s.lib.Videos()
	out := make([]entryJSON, 0, len(videos))
	for _, v := range videos {
		out = append(out, entryJSON{ID: v.ID})
	}
	writeJSON(w, http.StatusOK, out)
}

// videoID extracts and unescapes the {id} route parameter; catalog ids may
// contain slashes and arrive percent-encoded.
func videoID(r *http.Request) (string, error) {
	return url.PathUnescape(chi.URLParam(r, "id"))
}

func (s *Server) handleVideoInfo(w http.ResponseWriter, r *http.Request) {
	id, err := videoID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed video id")
		return
	}
	sess, err := s.acquire(r.Context(), id)
	if err != nil {
		s.writeOpenError(w, id, err)
		return
	}
	defer sess.mu.Unlock()

	info := sess.reader.Info()
	writeJSON(w, http.StatusOK, videoInfoJSON{
		ID:         id,
		FrameCount: info.FrameCount,
		Width:      info.Width,
		Height:     info.Height,
		FrameRate:  info.FrameRate.String(),
		Duration:   info.Duration,
		IsGray:     info.IsGray,
	})
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	id, err := videoID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed video id")
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "frame number must be an integer")
		return
	}

	sess, err := s.acquire(r.Context(), id)
	if err != nil {
		s.writeOpenError(w, id, err)
		return
	}
	defer sess.mu.Unlock()

	frame, err := sess.reader.ReadFrame(r.Context(), n)
	if err != nil {
		s.writeVideoError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "raw" {
		writeRawFrame(w, frame)
		metrics.ServedFrames.WithLabelValues("raw").Inc()
		return
	}
	writePNG(w, frame)
	metrics.ServedFrames.WithLabelValues("png").Inc()
}

func (s *Server) handleFrameRange(w http.ResponseWriter, r *http.Request) {
	id, err := videoID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed video id")
		return
	}
	start, err1 := strconv.Atoi(r.URL.Query().Get("start"))
	end, err2 := strconv.Atoi(r.URL.Query().Get("end"))
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "start and end must be integers")
		return
	}

	sess, err := s.acquire(r.Context(), id)
	if err != nil {
		s.writeOpenError(w, id, err)
		return
	}
	defer sess.mu.Unlock()

	frames, err := sess.reader.ReadRange(r.Context(), start, end)
	if err != nil {
		s.writeVideoError(w, err)
		return
	}

	first := frames[0]
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Frame-Width", strconv.Itoa(first.Width))
	w.Header().Set("X-Frame-Height", strconv.Itoa(first.Height))
	w.Header().Set("X-Frame-Format", first.Format.String())
	w.Header().Set("X-Frame-Count", strconv.Itoa(len(frames)))
	for _, f := range frames {
		_, _ = w.Write(f.Pix)
	}
	metrics.ServedFrames.WithLabelValues("raw").Add(float64(len(frames)))
}

// writeOpenError maps catalog and open failures onto HTTP statuses: unknown
// id is 404, a file refused by the reader contract is 422.
func (s *Server) writeOpenError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, errUnknownVideo) {
		writeError(w, http.StatusNotFound, "unknown video id "+id)
		return
	}
	s.logger.Warn().Err(err).Str("video", id).Str("event", "session.open_failed").Msg("open failed")
	kind := video.KindOf(err)
	if kind != "" {
		writeError(w, http.StatusUnprocessableEntity, string(kind)+": "+err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// writeVideoError maps read failures: argument violations are the client's
// fault, everything else is ours.
func (s *Server) writeVideoError(w http.ResponseWriter, err error) {
	switch video.KindOf(err) {
	case video.KindInvalidIndex, video.KindInvalidRange:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Str("event", "read.failed").Msg("frame read failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writePNG(w http.ResponseWriter, frame video.Frame) {
	var img image.Image
	switch frame.Format {
	case video.Gray8:
		g := &image.Gray{Pix: frame.Pix, Stride: frame.Width, Rect: image.Rect(0, 0, frame.Width, frame.Height)}
		img = g
	default:
		rgba := image.NewNRGBA(image.Rect(0, 0, frame.Width, frame.Height))
		for p, q := 0, 0; p < len(frame.Pix); p, q = p+3, q+4 {
			rgba.Pix[q] = frame.Pix[p]
			rgba.Pix[q+1] = frame.Pix[p+1]
			rgba.Pix[q+2] = frame.Pix[p+2]
			rgba.Pix[q+3] = 0xff
		}
		img = rgba
	}
	w.Header().Set("Content-Type", "image/png")
	_ = png.Encode(w, img)
}

func writeRawFrame(w http.ResponseWriter, frame video.Frame) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Frame-Width", strconv.Itoa(frame.Width))
	w.Header().Set("X-Frame-Height", strconv.Itoa(frame.Height))
	w.Header().Set("X-Frame-Format", frame.Format.String())
	_, _ = w.Write(frame.Pix)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
