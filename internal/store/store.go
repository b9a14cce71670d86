// Package store implements durable, idempotent persistence for postings,
// source health records, and run records over an embedded SQLite database.
//
// SQLite serializes writers, so all posting writes funnel through a single
// batching writer connection while reads use a separate pooled set of
// connections that never block on the write batch.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store owns the write handle and the read-only pool for one database file.
type Store struct {
	write  *sql.DB
	read   *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string, readConns int, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store dir %s: %w", dir, err)
		}
	}

	write, err := sql.Open("sqlite", writeDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	// A single writer connection is the only serialization point in the
	// pipeline; everything upstream is lock-free.
	write.SetMaxOpenConns(1)

	if readConns <= 0 {
		readConns = 4
	}
	read, err := sql.Open("sqlite", readDSN(path))
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	read.SetMaxOpenConns(readConns)

	s := &Store{write: write, read: read, logger: logger}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func writeDSN(path string) string {
	return "file:" + url.PathEscape(path) +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"
}

func readDSN(path string) string {
	return "file:" + url.PathEscape(path) +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=query_only(1)"
}

func (s *Store) init() error {
	if _, err := s.write.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes both connection pools.
func (s *Store) Close() error {
	var firstErr error
	if err := s.write.Close(); err != nil {
		firstErr = err
	}
	if err := s.read.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Ping verifies both handles are usable; called once at startup so an
// unreachable store fails the process fast.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.write.PingContext(ctx); err != nil {
		return fmt.Errorf("ping write db: %w", err)
	}
	if err := s.read.PingContext(ctx); err != nil {
		return fmt.Errorf("ping read db: %w", err)
	}
	return nil
}

// isBusy reports whether err is SQLite writer-lock contention.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}
