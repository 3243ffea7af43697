package assemble

import (
	"log"

	"github.com/filmindex/catalog-etl/internal/catalog"
)

type workState struct {
	doc       *catalog.WorkDocument
	genres    *set
	actors    *set
	directors *set
	writers   *set
}

// WorkStage folds wide-join rows into WorkDocuments.
type WorkStage struct {
	logger *log.Logger
	order  []string
	works  map[string]*workState
}

// NewWorkStage returns an empty stage. A nil logger logs to stderr.
func NewWorkStage(logger *log.Logger) *WorkStage {
	if logger == nil {
		logger = defaultLogger()
	}
	return &WorkStage{logger: logger, works: make(map[string]*workState)}
}

// Accept folds one row into its work.
func (s *WorkStage) Accept(row catalog.WorkRow) {
	st, ok := s.works[row.WorkID]
	if !ok {
		st = &workState{
			doc:       catalog.NewWorkDocument(row.WorkID),
			genres:    newSet(),
			actors:    newSet(),
			directors: newSet(),
			writers:   newSet(),
		}
		s.works[row.WorkID] = st
		s.order = append(s.order, row.WorkID)
	}

	d := st.doc
	d.Title = row.Title
	d.Type = row.Type
	d.Created = row.Created
	d.Modified = row.Modified
	if row.Description.Valid {
		desc := row.Description.String
		d.Description = &desc
	}
	if row.Rating.Valid {
		rating := row.Rating.Float64
		d.Rating = &rating
	}

	if row.HasGenre() && st.genres.add(row.GenreID.String) {
		d.Genres = append(d.Genres, catalog.GenreRef{ID: row.GenreID.String, Name: row.GenreName.String})
	}

	if !row.HasPerson() {
		return
	}
	role, err := catalog.ParseRole(row.Role.String)
	if err != nil {
		s.logger.Printf("WARNING: data integrity: work %s person %s: %v; person left out of role lists",
			row.WorkID, row.PersonID.String, err)
		return
	}

	name := row.PersonName()
	if name == "" {
		return
	}
	switch role {
	case catalog.RoleActor:
		if st.actors.add(name) {
			d.Actors = append(d.Actors, name)
		}
	case catalog.RoleDirector:
		if st.directors.add(name) {
			d.Directors = append(d.Directors, name)
		}
	case catalog.RoleScriptwriter:
		if st.writers.add(name) {
			d.Writers = append(d.Writers, name)
		}
	}
}

// Len returns the number of distinct works accepted since the last flush.
func (s *WorkStage) Len() int {
	return len(s.order)
}

// Flush returns the assembled documents and resets the stage.
func (s *WorkStage) Flush() []*catalog.WorkDocument {
	out := make([]*catalog.WorkDocument, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.works[id].doc)
	}
	s.order = nil
	s.works = make(map[string]*workState)
	return out
}
