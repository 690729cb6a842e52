// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package indexcache persists frame indexes in SQLite so reopening a large
// file skips the two-pass scan. Entries are keyed by (path, size, mtime,
// schema); any mismatch or decode failure is a miss, never an error: the
// index builder is always the source of truth.
package indexcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ManuGH/frameio/internal/log"
	"github.com/ManuGH/frameio/internal/video"
	"github.com/rs/zerolog"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// schemaVersion invalidates every stored row when the Index shape or the
// builder semantics change.
const schemaVersion = 1

const createTable = `
CREATE TABLE IF NOT EXISTS frame_index (
	path       TEXT    NOT NULL,
	size       INTEGER NOT NULL,
	mtime_ns   INTEGER NOT NULL,
	schema     INTEGER NOT NULL,
	index_json BLOB    NOT NULL,
	PRIMARY KEY (path)
);`

// Store is a sqlite-backed video.IndexCache.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (and if needed creates) the cache database. The store is
// verified with a quick integrity check; a corrupt database is refused so
// the caller can delete and recreate it.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=2000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index cache: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := verifyQuick(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(createTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create index cache schema: %w", err)
	}

	return &Store{db: db, logger: log.WithComponent("indexcache")}, nil
}

// verifyQuick runs PRAGMA quick_check; success is exactly one "ok" row.
func verifyQuick(db *sql.DB) error {
	rows, err := db.Query("PRAGMA quick_check;")
	if err != nil {
		return fmt.Errorf("integrity pragma failed: %w", err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var res string
		if err := rows.Scan(&res); err != nil {
			return fmt.Errorf("scan integrity result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(results) == 1 && strings.EqualFold(results[0], "ok") {
		return nil
	}
	return fmt.Errorf("index cache failed integrity check: %v", results)
}

// Load implements video.IndexCache. A mismatched or undecodable row is a
// plain miss.
func (s *Store) Load(ctx context.Context, path string, size int64, mtimeNS int64) (*video.Index, bool) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT index_json FROM frame_index
		 WHERE path = ? AND size = ? AND mtime_ns = ? AND schema = ?`,
		path, size, mtimeNS, schemaVersion,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("index cache load failed")
		return nil, false
	}

	var idx video.Index
	if err := json.Unmarshal(blob, &idx); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("index cache row undecodable, ignoring")
		return nil, false
	}
	if idx.FrameCount <= 0 || len(idx.DTS) != idx.FrameCount || len(idx.Keyframe) != idx.FrameCount {
		s.logger.Warn().Str("path", path).Msg("index cache row inconsistent, ignoring")
		return nil, false
	}
	return &idx, true
}

// Save implements video.IndexCache. Failures are logged and swallowed.
func (s *Store) Save(ctx context.Context, path string, size int64, mtimeNS int64, idx *video.Index) {
	blob, err := json.Marshal(idx)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("index cache encode failed")
		return
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO frame_index (path, size, mtime_ns, schema, index_json)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			mtime_ns = excluded.mtime_ns,
			schema = excluded.schema,
			index_json = excluded.index_json`,
		path, size, mtimeNS, schemaVersion, blob,
	)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("index cache save failed")
	}
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
