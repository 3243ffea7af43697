package watermark

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/filmindex/catalog-etl/internal/catalog"
)

// Layout is the persisted timestamp format.
const Layout = "01-02-2006 15:04:05"

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// ErrCorrupt is logged when a persisted record cannot be decoded. The
// affected watermarks are reported as absent.
var ErrCorrupt = errors.New("watermark: corrupt record")

// Store keeps one watermark per watched table.
type Store interface {
	// Get returns the watermark for table. ok is false when the table has
	// never been synced or its record is unreadable.
	Get(table catalog.Table) (ts time.Time, ok bool, err error)

	// Set persists the watermark for table. On error the previous value
	// stays in effect.
	Set(table catalog.Table, ts time.Time) error

	// Delete forgets the watermark so the next poll rescans the table.
	// Deleting an absent watermark is not an error.
	Delete(table catalog.Table) error

	// All returns every readable watermark.
	All() (map[catalog.Table]time.Time, error)

	Close() error
}

// Format renders ts in the persisted layout.
func Format(ts time.Time) string {
	return ts.UTC().Format(Layout)
}

// Parse reads a persisted value.
func Parse(s string) (time.Time, error) {
	ts, err := time.ParseInLocation(Layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrCorrupt, s, err)
	}
	return ts, nil
}

// Open opens the store for the named backend at path.
func Open(backend, path string, logger *log.Logger) (Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[watermark] ", log.LstdFlags)
	}
	switch backend {
	case "", BackendFile:
		return OpenFile(path, logger)
	case BackendSQLite:
		return OpenSQLite(path, logger)
	default:
		return nil, fmt.Errorf("unknown watermark backend %q", backend)
	}
}
