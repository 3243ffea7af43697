// Package assemble folds flat join rows into denormalized documents.
//
// Each stage is a stateful accumulator: rows go in through Accept in any
// order, and Flush returns one document per entity in first-seen order and
// clears the stage. Deduplication state lives only inside a stage between
// two flushes, so nothing leaks from one batch into the next.
package assemble

import (
	"log"
	"os"

	"github.com/filmindex/catalog-etl/internal/catalog"
)

func defaultLogger() *log.Logger {
	return log.New(os.Stderr, "[assemble] ", log.LstdFlags)
}

// set remembers which values a document list already holds.
type set struct {
	seen map[string]struct{}
}

func newSet() *set {
	return &set{seen: make(map[string]struct{})}
}

// add reports whether v was not present before.
func (s *set) add(v string) bool {
	if _, ok := s.seen[v]; ok {
		return false
	}
	s.seen[v] = struct{}{}
	return true
}

// Documents converts typed documents for the index writer.
func Documents[T catalog.Document](docs []T) []catalog.Document {
	out := make([]catalog.Document, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return out
}
