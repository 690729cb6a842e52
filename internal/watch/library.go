// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package watch discovers video files in configured library roots and keeps
// the catalog current as files appear and disappear.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ManuGH/frameio/internal/log"
	"github.com/ManuGH/frameio/internal/metrics"
	platformfs "github.com/ManuGH/frameio/internal/platform/fs"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Entry is one discovered video.
type Entry struct {
	ID   string `json:"id"`   // slash-separated path relative to its root
	Path string `json:"path"` // absolute path
}

// Library scans roots for video files and serves a stable id → path catalog.
type Library struct {
	roots []string
	exts  map[string]bool

	mu     sync.RWMutex
	videos map[string]string // id -> absolute path

	// limiter coalesces fsnotify bursts (a copy-in of a large file emits
	// hundreds of writes) into at most a few rescans per second.
	limiter *rate.Limiter
	kick    chan struct{}
	logger  zerolog.Logger
}

// New creates a Library over the given roots. Extensions are matched
// case-insensitively and must include the dot (".mp4").
func New(roots, extensions []string) (*Library, error) {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		a, err := filepath.Abs(r)
		if err != nil {
			return nil, err
		}
		abs = append(abs, a)
	}
	return &Library{
		roots:   abs,
		exts:    exts,
		videos:  make(map[string]string),
		limiter: rate.NewLimiter(rate.Limit(2), 1),
		kick:    make(chan struct{}, 1),
		logger:  log.WithComponent("watch"),
	}, nil
}

// Run performs the initial scan, then follows filesystem events until ctx is
// done. Blocking; callers run it in a goroutine.
func (l *Library) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	l.rescan(watcher)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.kick:
			if err := l.limiter.Wait(ctx); err != nil {
				return nil
			}
			l.rescan(watcher)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
				l.requestRescan()
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn().Err(werr).Msg("watcher error")
		}
	}
}

// requestRescan coalesces pending rescans into one.
func (l *Library) requestRescan() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// rescan rebuilds the catalog and the directory watch set.
func (l *Library) rescan(watcher *fsnotify.Watcher) {
	videos := make(map[string]string)
	for _, root := range l.roots {
		_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable subtree; keep going
			}
			if d.IsDir() {
				_ = watcher.Add(path)
				return nil
			}
			if !l.exts[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			rel, rerr := filepath.Rel(root, path)
			if rerr != nil {
				return nil
			}
			id := filepath.ToSlash(rel)
			if _, taken := videos[id]; !taken {
				videos[id] = path
			}
			return nil
		})
	}

	l.mu.Lock()
	l.videos = videos
	l.mu.Unlock()

	metrics.CatalogSize.Set(float64(len(videos)))
	l.logger.Debug().
		Str("event", "catalog.rescanned").
		Int("videos", len(videos)).
		Msg("library rescanned")
}

// Videos lists the catalog sorted by id.
func (l *Library) Videos() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.videos))
	for id, path := range l.videos {
		out = append(out, Entry{ID: id, Path: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve maps an id back to a confined absolute path. The confinement
// check runs on every call; a catalog entry never bypasses it.
func (l *Library) Resolve(id string) (string, bool) {
	l.mu.RLock()
	path, ok := l.videos[id]
	l.mu.RUnlock()
	if !ok {
		return "", false
	}
	for _, root := range l.roots {
		if confined, err := platformfs.ConfineAbsPath(root, path); err == nil {
			return confined, true
		}
	}
	return "", false
}
