package assemble

import (
	"log"

	"github.com/filmindex/catalog-etl/internal/catalog"
)

type personState struct {
	doc   *catalog.PersonDocument
	works *set
	roles *set
}

// PersonStage folds narrow person rows into PersonDocuments.
type PersonStage struct {
	logger  *log.Logger
	order   []string
	persons map[string]*personState
}

func NewPersonStage(logger *log.Logger) *PersonStage {
	if logger == nil {
		logger = defaultLogger()
	}
	return &PersonStage{logger: logger, persons: make(map[string]*personState)}
}

// Accept folds one row. Unknown role values are reported and skipped; the
// work id is still recorded.
func (s *PersonStage) Accept(row catalog.PersonRow) {
	st, ok := s.persons[row.PersonID]
	if !ok {
		st = &personState{
			doc:   catalog.NewPersonDocument(row.PersonID, row.FirstName, row.LastName),
			works: newSet(),
			roles: newSet(),
		}
		s.persons[row.PersonID] = st
		s.order = append(s.order, row.PersonID)
	}
	st.doc.FirstName = row.FirstName
	st.doc.LastName = row.LastName

	if row.WorkID.Valid && st.works.add(row.WorkID.String) {
		st.doc.WorkIDs = append(st.doc.WorkIDs, row.WorkID.String)
	}

	if !row.Role.Valid {
		return
	}
	role, err := catalog.ParseRole(row.Role.String)
	if err != nil {
		s.logger.Printf("WARNING: data integrity: person %s work %s: %v", row.PersonID, row.WorkID.String, err)
		return
	}
	if st.roles.add(role.String()) {
		st.doc.Roles = append(st.doc.Roles, role.String())
	}
}

func (s *PersonStage) Len() int {
	return len(s.order)
}

// Flush returns the assembled documents and resets the stage.
func (s *PersonStage) Flush() []*catalog.PersonDocument {
	out := make([]*catalog.PersonDocument, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.persons[id].doc)
	}
	s.order = nil
	s.persons = make(map[string]*personState)
	return out
}
