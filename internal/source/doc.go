// Package source reads the catalog from PostgreSQL.
//
// Three kinds of query are issued:
//   - changed-since: ids and modified stamps of one watched table newer
//     than a watermark, newest first, paged with LIMIT/OFFSET
//   - narrow joins: a genre or person with its associated work ids
//   - the wide join: works LEFT JOINed with person-roles, persons and genres,
//     one flat row per combination
//
// Id sets are passed as a single array parameter (pq.Array with = ANY($1)),
// so a query never grows with the number of ids. Table names come from the
// closed catalog.Table enumeration and are never taken from user input.
package source
