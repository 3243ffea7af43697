package source

import (
	"fmt"

	"github.com/filmindex/catalog-etl/internal/catalog"
)

// changedSinceQuery selects changed ids of a watched table. With a lower
// bound the parameters are ($1 since, $2 limit, $3 offset), without one
// ($1 limit, $2 offset).
func changedSinceQuery(table catalog.Table, bounded bool) (string, error) {
	if _, err := catalog.ParseTable(table.String()); err != nil {
		return "", err
	}
	if bounded {
		return fmt.Sprintf(`SELECT id, modified FROM %s
WHERE modified > $1
ORDER BY modified DESC, id
LIMIT $2 OFFSET $3`, table), nil
	}
	return fmt.Sprintf(`SELECT id, modified FROM %s
ORDER BY modified DESC, id
LIMIT $1 OFFSET $2`, table), nil
}

// pageIDsQuery pages over all ids of a watched table.
func pageIDsQuery(table catalog.Table) (string, error) {
	if _, err := catalog.ParseTable(table.String()); err != nil {
		return "", err
	}
	return fmt.Sprintf(`SELECT id FROM %s
ORDER BY modified DESC, id
LIMIT $1 OFFSET $2`, table), nil
}

const workIDsForGenresQuery = `SELECT DISTINCT w.id, w.modified
FROM work w
JOIN work_genre wg ON wg.work_id = w.id
WHERE wg.genre_id = ANY($1)
ORDER BY w.modified DESC, w.id
LIMIT $2`

const workIDsForPersonsQuery = `SELECT DISTINCT w.id, w.modified
FROM work w
JOIN work_person_role wpr ON wpr.work_id = w.id
WHERE wpr.person_id = ANY($1)
ORDER BY w.modified DESC, w.id
LIMIT $2`

const workRowsQuery = `SELECT
	w.id,
	w.title,
	w.description,
	w.rating,
	w.type,
	w.created,
	w.modified,
	wpr.role,
	p.id,
	p.first_name,
	p.last_name,
	g.id,
	g.name
FROM work w
LEFT JOIN work_person_role wpr ON wpr.work_id = w.id
LEFT JOIN person p ON p.id = wpr.person_id
LEFT JOIN work_genre wg ON wg.work_id = w.id
LEFT JOIN genre g ON g.id = wg.genre_id
WHERE w.id = ANY($1)
ORDER BY w.modified DESC, w.id`

const genreRowsQuery = `SELECT
	g.id,
	g.name,
	wg.work_id
FROM genre g
LEFT JOIN work_genre wg ON wg.genre_id = g.id
WHERE g.id = ANY($1)
ORDER BY g.modified DESC, g.id`

const personRowsQuery = `SELECT
	p.id,
	p.first_name,
	p.last_name,
	wpr.work_id,
	wpr.role
FROM person p
LEFT JOIN work_person_role wpr ON wpr.person_id = p.id
WHERE p.id = ANY($1)
ORDER BY p.modified DESC, p.id`
