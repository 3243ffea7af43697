// Package sourcetest provides an in-memory source.Source for tests. It
// evaluates the same joins as the PostgreSQL queries, including LEFT JOIN
// rows for entities without associations.
package sourcetest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/filmindex/catalog-etl/internal/catalog"
	"github.com/filmindex/catalog-etl/internal/source"
)

// ErrInjected is returned by queries failed with FailNext.
var ErrInjected = errors.New("sourcetest: injected failure")

type Work struct {
	ID          string
	Title       string
	Description sql.NullString
	Rating      sql.NullFloat64
	Type        string
	Created     time.Time
	Modified    time.Time
}

type Genre struct {
	ID       string
	Name     string
	Modified time.Time
}

type Person struct {
	ID        string
	FirstName string
	LastName  string
	Modified  time.Time
}

type link struct {
	workID  string
	otherID string
	role    string
}

// Memory is a mutable catalog. All methods are safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	works      map[string]*Work
	genres     map[string]*Genre
	persons    map[string]*Person
	workGenres []link
	roles      []link

	failures   int
	reconnects int
	queries    int
}

var _ source.Source = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		works:   make(map[string]*Work),
		genres:  make(map[string]*Genre),
		persons: make(map[string]*Person),
	}
}

func (m *Memory) PutWork(w Work) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.works[w.ID] = &w
}

func (m *Memory) PutGenre(g Genre) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genres[g.ID] = &g
}

func (m *Memory) PutPerson(p Person) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persons[p.ID] = &p
}

// LinkGenre adds a work_genre row.
func (m *Memory) LinkGenre(workID, genreID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workGenres = append(m.workGenres, link{workID: workID, otherID: genreID})
}

// Cast adds a work_person_role row.
func (m *Memory) Cast(workID, personID, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles = append(m.roles, link{workID: workID, otherID: personID, role: role})
}

// Uncast removes every work_person_role row matching all three values.
func (m *Memory) Uncast(workID, personID, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.roles[:0]
	for _, l := range m.roles {
		if l.workID == workID && l.otherID == personID && l.role == role {
			continue
		}
		kept = append(kept, l)
	}
	m.roles = kept
}

// Touch sets the modified stamp of an entity.
func (m *Memory) Touch(table catalog.Table, id string, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch table {
	case catalog.TableWork:
		if w, ok := m.works[id]; ok {
			w.Modified = ts
		}
	case catalog.TableGenre:
		if g, ok := m.genres[id]; ok {
			g.Modified = ts
		}
	case catalog.TablePerson:
		if p, ok := m.persons[id]; ok {
			p.Modified = ts
		}
	}
}

// FailNext makes the next n queries return ErrInjected.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

// Reconnects returns how many times Reconnect was called.
func (m *Memory) Reconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

// Queries returns how many queries were attempted.
func (m *Memory) Queries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

// begin locks m and consumes one injected failure, if any. The caller must
// unlock when err is nil.
func (m *Memory) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.queries++
	if m.failures > 0 {
		m.failures--
		m.mu.Unlock()
		return ErrInjected
	}
	return nil
}

type stamped struct {
	id       string
	modified time.Time
}

func newestFirst(items []stamped) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].modified.Equal(items[j].modified) {
			return items[i].modified.After(items[j].modified)
		}
		return items[i].id < items[j].id
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit >= 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (m *Memory) stampsLocked(table catalog.Table) ([]stamped, error) {
	var out []stamped
	switch table {
	case catalog.TableWork:
		for _, w := range m.works {
			out = append(out, stamped{w.ID, w.Modified})
		}
	case catalog.TableGenre:
		for _, g := range m.genres {
			out = append(out, stamped{g.ID, g.Modified})
		}
	case catalog.TablePerson:
		for _, p := range m.persons {
			out = append(out, stamped{p.ID, p.Modified})
		}
	default:
		return nil, fmt.Errorf("unknown watched table %q", table)
	}
	newestFirst(out)
	return out, nil
}

// ChangedSince implements source.Source.
func (m *Memory) ChangedSince(ctx context.Context, table catalog.Table, since time.Time, limit, offset int) ([]catalog.Change, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	all, err := m.stampsLocked(table)
	if err != nil {
		return nil, err
	}
	var changes []catalog.Change
	for _, s := range all {
		if since.IsZero() || s.modified.After(since) {
			changes = append(changes, catalog.Change{ID: s.id, Modified: s.modified})
		}
	}
	return page(changes, limit, offset), nil
}

// PageIDs implements source.Source.
func (m *Memory) PageIDs(ctx context.Context, table catalog.Table, limit, offset int) ([]string, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	all, err := m.stampsLocked(table)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, s := range page(all, limit, offset) {
		ids = append(ids, s.id)
	}
	return ids, nil
}

// WorkIDsForGenres implements source.Source.
func (m *Memory) WorkIDsForGenres(ctx context.Context, genreIDs []string, limit int) ([]string, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.linkedWorksLocked(m.workGenres, genreIDs, limit), nil
}

// WorkIDsForPersons implements source.Source.
func (m *Memory) WorkIDsForPersons(ctx context.Context, personIDs []string, limit int) ([]string, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.linkedWorksLocked(m.roles, personIDs, limit), nil
}

func (m *Memory) linkedWorksLocked(links []link, ids []string, limit int) []string {
	want := toSet(ids)
	seen := make(map[string]bool)
	var works []stamped
	for _, l := range links {
		if !want[l.otherID] || seen[l.workID] {
			continue
		}
		w, ok := m.works[l.workID]
		if !ok {
			continue
		}
		seen[l.workID] = true
		works = append(works, stamped{w.ID, w.Modified})
	}
	newestFirst(works)

	var out []string
	for _, s := range page(works, limit, 0) {
		out = append(out, s.id)
	}
	return out
}

// WorkRows implements source.Source.
func (m *Memory) WorkRows(ctx context.Context, workIDs []string) ([]catalog.WorkRow, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	var works []stamped
	for id := range toSet(workIDs) {
		if w, ok := m.works[id]; ok {
			works = append(works, stamped{w.ID, w.Modified})
		}
	}
	newestFirst(works)

	var rows []catalog.WorkRow
	for _, s := range works {
		w := m.works[s.id]
		base := catalog.WorkRow{
			WorkID:      w.ID,
			Title:       w.Title,
			Description: w.Description,
			Rating:      w.Rating,
			Type:        w.Type,
			Created:     w.Created,
			Modified:    w.Modified,
		}

		// LEFT JOIN semantics: an empty side contributes one all-NULL row.
		people := []catalog.WorkRow{base}
		var cast []catalog.WorkRow
		for _, l := range m.roles {
			if l.workID != w.ID {
				continue
			}
			r := base
			r.Role = valid(l.role)
			if p, ok := m.persons[l.otherID]; ok {
				r.PersonID = valid(p.ID)
				r.PersonFirstName = valid(p.FirstName)
				r.PersonLastName = valid(p.LastName)
			}
			cast = append(cast, r)
		}
		if len(cast) > 0 {
			people = cast
		}

		var genres []*Genre
		for _, l := range m.workGenres {
			if l.workID != w.ID {
				continue
			}
			genres = append(genres, m.genres[l.otherID])
		}

		for _, r := range people {
			if len(genres) == 0 {
				rows = append(rows, r)
				continue
			}
			for _, g := range genres {
				gr := r
				if g != nil {
					gr.GenreID = valid(g.ID)
					gr.GenreName = valid(g.Name)
				}
				rows = append(rows, gr)
			}
		}
	}
	return rows, nil
}

// GenreRows implements source.Source.
func (m *Memory) GenreRows(ctx context.Context, genreIDs []string) ([]catalog.GenreRow, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	var genres []stamped
	for id := range toSet(genreIDs) {
		if g, ok := m.genres[id]; ok {
			genres = append(genres, stamped{g.ID, g.Modified})
		}
	}
	newestFirst(genres)

	var rows []catalog.GenreRow
	for _, s := range genres {
		g := m.genres[s.id]
		linked := false
		for _, l := range m.workGenres {
			if l.otherID == g.ID {
				rows = append(rows, catalog.GenreRow{GenreID: g.ID, Name: g.Name, WorkID: valid(l.workID)})
				linked = true
			}
		}
		if !linked {
			rows = append(rows, catalog.GenreRow{GenreID: g.ID, Name: g.Name})
		}
	}
	return rows, nil
}

// PersonRows implements source.Source.
func (m *Memory) PersonRows(ctx context.Context, personIDs []string) ([]catalog.PersonRow, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	var persons []stamped
	for id := range toSet(personIDs) {
		if p, ok := m.persons[id]; ok {
			persons = append(persons, stamped{p.ID, p.Modified})
		}
	}
	newestFirst(persons)

	var rows []catalog.PersonRow
	for _, s := range persons {
		p := m.persons[s.id]
		linked := false
		for _, l := range m.roles {
			if l.otherID == p.ID {
				rows = append(rows, catalog.PersonRow{
					PersonID:  p.ID,
					FirstName: p.FirstName,
					LastName:  p.LastName,
					WorkID:    valid(l.workID),
					Role:      valid(l.role),
				})
				linked = true
			}
		}
		if !linked {
			rows = append(rows, catalog.PersonRow{PersonID: p.ID, FirstName: p.FirstName, LastName: p.LastName})
		}
	}
	return rows, nil
}

// Reconnect implements source.Source.
func (m *Memory) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
	return ctx.Err()
}

// Close implements source.Source.
func (m *Memory) Close() error {
	return nil
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func valid(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}
