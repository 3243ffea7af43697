package watermark

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/filmindex/catalog-etl/internal/catalog"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteStore keeps watermarks in an embedded SQLite database.
// Each Set is a single-row upsert, so a failed write leaves the previous
// row untouched.
type SQLiteStore struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// OpenSQLite opens (creating if needed) the database at path and makes sure
// the watermarks table exists.
func OpenSQLite(path string, logger *log.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("watermark database path cannot be empty")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[watermark] ", log.LstdFlags)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One writer, no concurrent access expected.
	conn.SetMaxOpenConns(1)

	s := &SQLiteStore{conn: conn, path: path, logger: logger}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS watermarks (
		table_name TEXT PRIMARY KEY,
		value      TEXT NOT NULL
	);`
	if _, err := s.conn.Exec(schema); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(table catalog.Table) (time.Time, bool, error) {
	var raw string
	err := s.conn.QueryRow(`SELECT value FROM watermarks WHERE table_name = ?`, table.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read watermark for %s: %w", table, err)
	}

	ts, err := Parse(raw)
	if err != nil {
		s.logger.Printf("WARNING: %s: %v (rescanning %s)", s.path, err, table)
		return time.Time{}, false, nil
	}
	return ts, true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(table catalog.Table, ts time.Time) error {
	query := `
	INSERT INTO watermarks (table_name, value) VALUES (?, ?)
	ON CONFLICT(table_name) DO UPDATE SET value = excluded.value
	`
	if _, err := s.conn.Exec(query, table.String(), Format(ts)); err != nil {
		return fmt.Errorf("failed to persist watermark for %s: %w", table, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(table catalog.Table) error {
	if _, err := s.conn.Exec(`DELETE FROM watermarks WHERE table_name = ?`, table.String()); err != nil {
		return fmt.Errorf("failed to delete watermark for %s: %w", table, err)
	}
	return nil
}

// All implements Store.
func (s *SQLiteStore) All() (map[catalog.Table]time.Time, error) {
	rows, err := s.conn.Query(`SELECT table_name, value FROM watermarks ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}
	defer rows.Close()

	out := make(map[catalog.Table]time.Time)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		ts, err := Parse(raw)
		if err != nil {
			continue
		}
		out[catalog.Table(name)] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watermarks: %w", err)
	}
	return out, nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}
