package source

import (
	"context"
	"time"

	"github.com/filmindex/catalog-etl/internal/catalog"
)

// Source is the read side of the pipeline. Implementations hold a single
// connection that the owning goroutine can re-establish with Reconnect.
type Source interface {
	// ChangedSince returns up to limit rows of table with modified > since,
	// newest first, skipping offset rows. A zero since means no lower bound.
	ChangedSince(ctx context.Context, table catalog.Table, since time.Time, limit, offset int) ([]catalog.Change, error)

	// WorkIDsForGenres returns the ids of works associated with any of the
	// genres, most recently modified first, at most limit of them.
	WorkIDsForGenres(ctx context.Context, genreIDs []string, limit int) ([]string, error)

	// WorkIDsForPersons is WorkIDsForGenres for persons.
	WorkIDsForPersons(ctx context.Context, personIDs []string, limit int) ([]string, error)

	// WorkRows runs the wide join for the given works.
	WorkRows(ctx context.Context, workIDs []string) ([]catalog.WorkRow, error)

	// GenreRows runs the narrow genre join.
	GenreRows(ctx context.Context, genreIDs []string) ([]catalog.GenreRow, error)

	// PersonRows runs the narrow person join.
	PersonRows(ctx context.Context, personIDs []string) ([]catalog.PersonRow, error)

	// PageIDs pages over every id of table, newest first, used by the full
	// rebuild.
	PageIDs(ctx context.Context, table catalog.Table, limit, offset int) ([]string, error)

	// Reconnect drops the current connection and opens a fresh one.
	Reconnect(ctx context.Context) error

	Close() error
}
