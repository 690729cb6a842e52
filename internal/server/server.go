// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package server exposes the video library to annotation and labeling
// tooling over HTTP. It is a thin layer over internal/video: one read
// session per file, serialized by a per-session mutex, reaped when idle.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/frameio/internal/log"
	"github.com/ManuGH/frameio/internal/metrics"
	"github.com/ManuGH/frameio/internal/video"
	"github.com/ManuGH/frameio/internal/watch"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Opener opens a read session; swapped in tests.
type Opener func(ctx context.Context, path string) (*video.Reader, error)

// Options configures the server.
type Options struct {
	// Opener defaults to video.Open.
	Opener Opener
	// SessionIdle is how long an unused session stays open (default 5m).
	SessionIdle time.Duration
	// RateLimitPerMin bounds requests per client IP; 0 disables.
	RateLimitPerMin int
}

// Server serves the catalog and frames.
type Server struct {
	lib    *watch.Library
	opener Opener
	idle   time.Duration
	rate   int
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// session is one open Reader plus the serialization the reader contract
// demands: all calls against one session happen in sequence.
type session struct {
	mu      sync.Mutex
	reader  *video.Reader
	lastUse time.Time
}

// New creates a Server over the library.
func New(lib *watch.Library, opts Options) *Server {
	if opts.Opener == nil {
		opts.Opener = func(ctx context.Context, path string) (*video.Reader, error) {
			return video.Open(ctx, path)
		}
	}
	if opts.SessionIdle <= 0 {
		opts.SessionIdle = 5 * time.Minute
	}
	return &Server{
		lib:      lib,
		opener:   opts.Opener,
		idle:     opts.SessionIdle,
		rate:     opts.RateLimitPerMin,
		logger:   log.WithComponent("server"),
		sessions: make(map[string]*session),
	}
}

// Router assembles the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(log.Middleware())
	if s.rate > 0 {
		r.Use(httprate.LimitByIP(s.rate, time.Minute))
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/videos", s.handleListVideos)
		r.Get("/videos/{id}", s.handleVideoInfo)
		r.Get("/videos/{id}/frames/{n}", s.handleFrame)
		r.Get("/videos/{id}/frames", s.handleFrameRange)
	})
	return r
}

// Run reaps idle sessions until ctx is done, then closes all of them.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return nil
		case <-ticker.C:
			s.reapIdle()
		}
	}
}

// acquire returns the open session for id, opening one on first use. The
// session is returned locked; callers release it.
func (s *Server) acquire(ctx context.Context, id string) (*session, error) {
	path, ok := s.lib.Resolve(id)
	if !ok {
		return nil, errUnknownVideo
	}

	s.mu.Lock()
	sess, exists := s.sessions[id]
	if !exists {
		sess = &session{}
		s.sessions[id] = sess
	}
	s.mu.Unlock()

	sess.mu.Lock()
	if sess.reader == nil {
		reader, err := s.opener(ctx, path)
		if err != nil {
			sess.mu.Unlock()
			s.mu.Lock()
			delete(s.sessions, id)
			s.mu.Unlock()
			return nil, err
		}
		sess.reader = reader
		metrics.OpenSessions.Inc()
		s.logger.Debug().Str("event", "session.acquired").Str("video", id).Msg("read session opened")
	}
	sess.lastUse = time.Now()
	return sess, nil
}

func (s *Server) reapIdle() {
	cutoff := time.Now().Add(-s.idle)
	s.mu.Lock()
	var victims []*session
	for id, sess := range s.sessions {
		if sess.mu.TryLock() {
			if sess.reader != nil && sess.lastUse.Before(cutoff) {
				victims = append(victims, sess)
				delete(s.sessions, id)
			} else {
				sess.mu.Unlock()
			}
		}
	}
	s.mu.Unlock()

	for _, sess := range victims {
		_ = sess.reader.Close()
		metrics.OpenSessions.Dec()
		sess.mu.Unlock()
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		if sess.reader != nil {
			_ = sess.reader.Close()
			metrics.OpenSessions.Dec()
		}
		sess.mu.Unlock()
	}
}
