// Package watermark persists, per watched table, the timestamp of the most
// recently observed modification.
//
// Values are stored as "MM-DD-YYYY HH:MM:SS" strings (second precision,
// interpreted as UTC). A missing or unreadable value means the table was
// never synced and the next poll rescans it from the beginning.
//
// Two backends are provided:
//
//   - FileStore: a JSON object {table: timestamp} replaced atomically
//     (temp file, fsync, rename) on every Set
//   - SQLiteStore: a watermarks table in an embedded SQLite database
//
// Both guarantee that a Set which fails to persist is never observed by a
// later Get. No concurrent writers are assumed.
package watermark
