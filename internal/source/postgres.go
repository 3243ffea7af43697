package source

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/filmindex/catalog-etl/internal/catalog"
	"github.com/lib/pq"
)

// Config holds the PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// Schema, when set, becomes the session search_path so the unqualified
	// table names resolve inside it.
	Schema string

	// SSLMode defaults to "disable".
	SSLMode string

	ConnectTimeout time.Duration
}

// DSN renders the configuration as a lib/pq key=value connection string.
func (c Config) DSN() string {
	params := map[string]string{
		"host":    c.Host,
		"user":    c.User,
		"dbname":  c.Database,
		"sslmode": c.SSLMode,
	}
	if c.Port != 0 {
		params["port"] = fmt.Sprint(c.Port)
	}
	if c.Password != "" {
		params["password"] = c.Password
	}
	if params["sslmode"] == "" {
		params["sslmode"] = "disable"
	}
	if c.ConnectTimeout > 0 {
		params["connect_timeout"] = fmt.Sprint(int(c.ConnectTimeout.Seconds()))
	}
	if c.Schema != "" {
		// lib/pq forwards unknown keys as run-time parameters.
		params["search_path"] = c.Schema
	}

	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+quoteValue(params[k]))
	}
	return strings.Join(parts, " ")
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Postgres is the lib/pq backed Source.
type Postgres struct {
	cfg    Config
	db     *sql.DB
	logger *log.Logger
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (*Postgres, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("postgres host cannot be empty")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[source] ", log.LstdFlags)
	}

	p := &Postgres{cfg: cfg, logger: logger}
	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) connect(ctx context.Context) error {
	db, err := sql.Open("postgres", p.cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open postgres: %w", err)
	}

	// The pipeline is single threaded; one connection is all it uses.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres at %s:%d: %w", p.cfg.Host, p.cfg.Port, err)
	}

	p.db = db
	return nil
}

// Reconnect implements Source.
func (p *Postgres) Reconnect(ctx context.Context) error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			p.logger.Printf("Warning: closing stale connection: %v", err)
		}
		p.db = nil
	}
	p.logger.Printf("Reconnecting to %s:%d/%s", p.cfg.Host, p.cfg.Port, p.cfg.Database)
	return p.connect(ctx)
}

// Close implements Source.
func (p *Postgres) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

func (p *Postgres) conn() (*sql.DB, error) {
	if p.db == nil {
		return nil, fmt.Errorf("postgres connection is closed")
	}
	return p.db, nil
}

// ChangedSince implements Source.
func (p *Postgres) ChangedSince(ctx context.Context, table catalog.Table, since time.Time, limit, offset int) ([]catalog.Change, error) {
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	bounded := !since.IsZero()
	query, err := changedSinceQuery(table, bounded)
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	if bounded {
		rows, err = db.QueryContext(ctx, query, since.UTC(), limit, offset)
	} else {
		rows, err = db.QueryContext(ctx, query, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query changed %s rows: %w", table, err)
	}
	defer rows.Close()

	var changes []catalog.Change
	for rows.Next() {
		var c catalog.Change
		if err := rows.Scan(&c.ID, &c.Modified); err != nil {
			return nil, fmt.Errorf("failed to scan %s change: %w", table, err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s changes: %w", table, err)
	}
	return changes, nil
}

// WorkIDsForGenres implements Source.
func (p *Postgres) WorkIDsForGenres(ctx context.Context, genreIDs []string, limit int) ([]string, error) {
	return p.workIDs(ctx, workIDsForGenresQuery, genreIDs, limit)
}

// WorkIDsForPersons implements Source.
func (p *Postgres) WorkIDsForPersons(ctx context.Context, personIDs []string, limit int) ([]string, error) {
	return p.workIDs(ctx, workIDsForPersonsQuery, personIDs, limit)
}

func (p *Postgres) workIDs(ctx context.Context, query string, ids []string, limit int) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, pq.Array(ids), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		var modified time.Time
		if err := rows.Scan(&id, &modified); err != nil {
			return nil, fmt.Errorf("failed to scan work id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating work ids: %w", err)
	}
	return out, nil
}

// WorkRows implements Source.
func (p *Postgres) WorkRows(ctx context.Context, workIDs []string) ([]catalog.WorkRow, error) {
	if len(workIDs) == 0 {
		return nil, nil
	}
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, workRowsQuery, pq.Array(workIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query works: %w", err)
	}
	defer rows.Close()

	var out []catalog.WorkRow
	for rows.Next() {
		var r catalog.WorkRow
		err := rows.Scan(
			&r.WorkID, &r.Title, &r.Description, &r.Rating, &r.Type, &r.Created, &r.Modified,
			&r.Role, &r.PersonID, &r.PersonFirstName, &r.PersonLastName,
			&r.GenreID, &r.GenreName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating work rows: %w", err)
	}
	return out, nil
}

// GenreRows implements Source.
func (p *Postgres) GenreRows(ctx context.Context, genreIDs []string) ([]catalog.GenreRow, error) {
	if len(genreIDs) == 0 {
		return nil, nil
	}
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, genreRowsQuery, pq.Array(genreIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query genres: %w", err)
	}
	defer rows.Close()

	var out []catalog.GenreRow
	for rows.Next() {
		var r catalog.GenreRow
		if err := rows.Scan(&r.GenreID, &r.Name, &r.WorkID); err != nil {
			return nil, fmt.Errorf("failed to scan genre row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating genre rows: %w", err)
	}
	return out, nil
}

// PersonRows implements Source.
func (p *Postgres) PersonRows(ctx context.Context, personIDs []string) ([]catalog.PersonRow, error) {
	if len(personIDs) == 0 {
		return nil, nil
	}
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, personRowsQuery, pq.Array(personIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query persons: %w", err)
	}
	defer rows.Close()

	var out []catalog.PersonRow
	for rows.Next() {
		var r catalog.PersonRow
		if err := rows.Scan(&r.PersonID, &r.FirstName, &r.LastName, &r.WorkID, &r.Role); err != nil {
			return nil, fmt.Errorf("failed to scan person row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating person rows: %w", err)
	}
	return out, nil
}

// PageIDs implements Source.
func (p *Postgres) PageIDs(ctx context.Context, table catalog.Table, limit, offset int) ([]string, error) {
	db, err := p.conn()
	if err != nil {
		return nil, err
	}
	query, err := pageIDsQuery(table)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to page %s ids: %w", table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s id: %w", table, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s ids: %w", table, err)
	}
	return ids, nil
}
