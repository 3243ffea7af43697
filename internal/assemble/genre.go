package assemble

import "github.com/filmindex/catalog-etl/internal/catalog"

type genreState struct {
	doc   *catalog.GenreDocument
	works *set
}

// GenreStage folds narrow genre rows into GenreDocuments.
type GenreStage struct {
	order  []string
	genres map[string]*genreState
}

func NewGenreStage() *GenreStage {
	return &GenreStage{genres: make(map[string]*genreState)}
}

// Accept folds one row. A genre without works still yields a document.
func (s *GenreStage) Accept(row catalog.GenreRow) {
	st, ok := s.genres[row.GenreID]
	if !ok {
		st = &genreState{doc: catalog.NewGenreDocument(row.GenreID, row.Name), works: newSet()}
		s.genres[row.GenreID] = st
		s.order = append(s.order, row.GenreID)
	}
	st.doc.Name = row.Name

	if row.WorkID.Valid && st.works.add(row.WorkID.String) {
		st.doc.WorkIDs = append(st.doc.WorkIDs, row.WorkID.String)
	}
}

func (s *GenreStage) Len() int {
	return len(s.order)
}

// Flush returns the assembled documents and resets the stage.
func (s *GenreStage) Flush() []*catalog.GenreDocument {
	out := make([]*catalog.GenreDocument, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.genres[id].doc)
	}
	s.order = nil
	s.genres = make(map[string]*genreState)
	return out
}
