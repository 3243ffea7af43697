package catalog

import (
	"database/sql"
	"strings"
	"time"
)

// Change is one row reported by a changed-since query.
type Change struct {
	ID       string
	Modified time.Time
}

// WorkRow is one row of the wide join: a work combined with at most one
// person-role and at most one genre.
type WorkRow struct {
	WorkID      string
	Title       string
	Description sql.NullString
	Rating      sql.NullFloat64
	Type        string
	Created     time.Time
	Modified    time.Time

	Role            sql.NullString
	PersonID        sql.NullString
	PersonFirstName sql.NullString
	PersonLastName  sql.NullString

	GenreID   sql.NullString
	GenreName sql.NullString
}

// HasPerson reports whether the row carries a person-role.
func (r WorkRow) HasPerson() bool {
	return r.Role.Valid && r.PersonID.Valid
}

// HasGenre reports whether the row carries a genre.
func (r WorkRow) HasGenre() bool {
	return r.GenreID.Valid
}

// PersonName formats the row's person as "last first".
func (r WorkRow) PersonName() string {
	return DisplayName(r.PersonFirstName.String, r.PersonLastName.String)
}

// GenreRow is one row of the narrow genre↔work join.
type GenreRow struct {
	GenreID string
	Name    string
	WorkID  sql.NullString
}

// PersonRow is one row of the narrow person↔work join.
type PersonRow struct {
	PersonID  string
	FirstName string
	LastName  string
	WorkID    sql.NullString
	Role      sql.NullString
}

// DisplayName formats a person name the way work documents list it:
// last name first. Missing parts are dropped.
func DisplayName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(last) + " " + strings.TrimSpace(first))
}
