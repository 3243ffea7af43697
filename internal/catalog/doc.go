// Package catalog defines the relational catalog shapes read by the ETL
// pipeline and the denormalized documents it writes to the search index.
//
// # Relational Side
//
// The system of record holds three primary tables and two association
// tables:
//
//	work              (id, title, description, rating, type, created, modified)
//	genre             (id, name, modified)
//	person            (id, first_name, last_name, modified)
//	work_genre        (work_id, genre_id)
//	work_person_role  (work_id, person_id, role)
//
// Only the primary tables carry a modified timestamp, so only they are
// watched for changes (see Table). Association rows are discovered by
// joining from a work, genre or person whose modified timestamp advanced.
//
// # Join Rows
//
// Every query shape the pipeline issues has its own fixed row type:
//
//   - WorkRow: the wide join, one row per (work, person-role, genre)
//   - GenreRow: the narrow genre↔work join
//   - PersonRow: the narrow person↔work join
//
// Columns that come from the right side of a LEFT JOIN are nullable.
//
// # Documents
//
// WorkDocument, GenreDocument and PersonDocument are written wholesale to
// the works, genres and persons collections. List fields are always
// serialized, even when empty, so an upsert replaces stale entries.
package catalog
