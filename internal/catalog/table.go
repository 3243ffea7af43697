package catalog

import "fmt"

// Table names a watched relational table.
type Table string

const (
	TableWork   Table = "work"
	TableGenre  Table = "genre"
	TablePerson Table = "person"
)

// WatchedTables returns the polled tables in the fixed order a poll pass
// visits them.
func WatchedTables() []Table {
	return []Table{TableWork, TableGenre, TablePerson}
}

// ParseTable validates a watched table name.
func ParseTable(s string) (Table, error) {
	switch t := Table(s); t {
	case TableWork, TableGenre, TablePerson:
		return t, nil
	default:
		return "", fmt.Errorf("unknown watched table %q (want work, genre or person)", s)
	}
}

// String returns the table name.
func (t Table) String() string {
	return string(t)
}

// Collection returns the index collection holding documents derived
// directly from rows of this table.
func (t Table) Collection() string {
	switch t {
	case TableWork:
		return CollectionWorks
	case TableGenre:
		return CollectionGenres
	case TablePerson:
		return CollectionPersons
	default:
		return ""
	}
}

// Index collection names.
const (
	CollectionWorks   = "works"
	CollectionGenres  = "genres"
	CollectionPersons = "persons"
)

// Collections returns every collection the pipeline owns.
func Collections() []string {
	return []string{CollectionWorks, CollectionGenres, CollectionPersons}
}
