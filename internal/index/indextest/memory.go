// Package indextest provides an in-memory index.Writer for tests.
package indextest

import (
	"context"
	"sort"
	"sync"

	"github.com/filmindex/catalog-etl/internal/catalog"
	"github.com/filmindex/catalog-etl/internal/index"
)

// Memory stores upserted documents per collection. Upserting replaces the
// stored document wholesale, like a full doc_as_upsert.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]catalog.Document
	requests    int
	resets      []string
	failures    []error
}

var _ index.Writer = (*Memory)(nil)

func New() *Memory {
	return &Memory{collections: make(map[string]map[string]catalog.Document)}
}

// FailNext queues err to be returned by a future Upsert, one per call.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Upsert implements index.Writer.
func (m *Memory) Upsert(ctx context.Context, collection string, docs []catalog.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return 0, err
	}

	c := m.collections[collection]
	if c == nil {
		c = make(map[string]catalog.Document)
		m.collections[collection] = c
	}
	for _, d := range docs {
		c[d.DocumentID()] = d
	}
	return len(docs), nil
}

// Reset implements index.Writer.
func (m *Memory) Reset(ctx context.Context, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, collection)
	m.collections[collection] = make(map[string]catalog.Document)
	return nil
}

// Requests returns the number of Upsert calls that reached the store.
func (m *Memory) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// Resets returns the collections reset so far, in order.
func (m *Memory) Resets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.resets...)
}

// IDs returns the sorted document ids of collection.
func (m *Memory) IDs(collection string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.collections[collection]))
	for id := range m.collections[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Memory) get(collection, id string) catalog.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collections[collection][id]
}

// Work returns the stored work document or nil.
func (m *Memory) Work(id string) *catalog.WorkDocument {
	d, _ := m.get(catalog.CollectionWorks, id).(*catalog.WorkDocument)
	return d
}

// Genre returns the stored genre document or nil.
func (m *Memory) Genre(id string) *catalog.GenreDocument {
	d, _ := m.get(catalog.CollectionGenres, id).(*catalog.GenreDocument)
	return d
}

// Person returns the stored person document or nil.
func (m *Memory) Person(id string) *catalog.PersonDocument {
	d, _ := m.get(catalog.CollectionPersons, id).(*catalog.PersonDocument)
	return d
}
