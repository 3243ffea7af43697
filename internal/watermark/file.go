package watermark

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/filmindex/catalog-etl/internal/catalog"
)

// FileStore keeps watermarks in a single JSON file.
type FileStore struct {
	path   string
	logger *log.Logger

	mu     sync.Mutex
	values map[string]string
}

// OpenFile loads the store at path, creating the parent directory when
// needed. A missing file is an empty store; an undecodable file is logged
// and treated as empty.
func OpenFile(path string, logger *log.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("watermark file path cannot be empty")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[watermark] ", log.LstdFlags)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watermark path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return nil, fmt.Errorf("failed to create watermark directory: %w", err)
	}

	s := &FileStore{
		path:   abs,
		logger: logger,
		values: make(map[string]string),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the absolute path of the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Reload re-reads the backing file, replacing the in-memory view.
func (s *FileStore) Reload() error {
	values, err := s.read()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

func (s *FileStore) read() (map[string]string, error) {
	// #nosec G304 - path comes from configuration
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to read watermark file: %w", err)
	}

	values := make(map[string]string)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		s.logger.Printf("WARNING: %v: %s: %v (rescanning all tables)", ErrCorrupt, s.path, err)
		return make(map[string]string), nil
	}
	return values, nil
}

// Get implements Store.
func (s *FileStore) Get(table catalog.Table) (time.Time, bool, error) {
	s.mu.Lock()
	raw, ok := s.values[table.String()]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false, nil
	}

	ts, err := Parse(raw)
	if err != nil {
		s.logger.Printf("WARNING: %s: %v (rescanning %s)", s.path, err, table)
		return time.Time{}, false, nil
	}
	return ts, true, nil
}

// Set implements Store.
func (s *FileStore) Set(table catalog.Table, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]string, len(s.values)+1)
	for k, v := range s.values {
		next[k] = v
	}
	next[table.String()] = Format(ts)

	if err := s.write(next); err != nil {
		return fmt.Errorf("failed to persist watermark for %s: %w", table, err)
	}
	s.values = next
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(table catalog.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[table.String()]; !ok {
		return nil
	}

	next := make(map[string]string, len(s.values))
	for k, v := range s.values {
		if k != table.String() {
			next[k] = v
		}
	}

	if err := s.write(next); err != nil {
		return fmt.Errorf("failed to delete watermark for %s: %w", table, err)
	}
	s.values = next
	return nil
}

// All implements Store.
func (s *FileStore) All() (map[catalog.Table]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[catalog.Table]time.Time, len(s.values))
	for k, v := range s.values {
		ts, err := Parse(v)
		if err != nil {
			continue
		}
		out[catalog.Table(k)] = ts
	}
	return out, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}

// write replaces the backing file atomically: the new content is written to
// a temp file in the same directory, synced, then renamed over the target.
func (s *FileStore) write(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal watermarks: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace watermark file: %w", err)
	}
	return nil
}
