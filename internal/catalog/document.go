package catalog

import "time"

// Document is anything the index writer can upsert.
type Document interface {
	DocumentID() string
}

// GenreRef is the genre entry embedded in a WorkDocument.
type GenreRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WorkDocument is the denormalized work stored in the works collection.
type WorkDocument struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Rating      *float64   `json:"rating"`
	Type        string     `json:"type"`
	Created     time.Time  `json:"created"`
	Modified    time.Time  `json:"modified"`
	Genres      []GenreRef `json:"genres"`
	Actors      []string   `json:"actors"`
	Directors   []string   `json:"directors"`
	Writers     []string   `json:"writers"`
}

// NewWorkDocument returns a document with empty, non-nil lists.
func NewWorkDocument(id string) *WorkDocument {
	return &WorkDocument{
		ID:        id,
		Genres:    []GenreRef{},
		Actors:    []string{},
		Directors: []string{},
		Writers:   []string{},
	}
}

// DocumentID implements Document.
func (d *WorkDocument) DocumentID() string { return d.ID }

// GenreDocument is the genre stored in the genres collection.
type GenreDocument struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	WorkIDs []string `json:"work_ids"`
}

// NewGenreDocument returns a document with an empty work id list.
func NewGenreDocument(id, name string) *GenreDocument {
	return &GenreDocument{ID: id, Name: name, WorkIDs: []string{}}
}

// DocumentID implements Document.
func (d *GenreDocument) DocumentID() string { return d.ID }

// PersonDocument is the person stored in the persons collection.
type PersonDocument struct {
	ID        string   `json:"id"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Roles     []string `json:"roles"`
	WorkIDs   []string `json:"work_ids"`
}

// NewPersonDocument returns a document with empty role and work id lists.
func NewPersonDocument(id, first, last string) *PersonDocument {
	return &PersonDocument{
		ID:        id,
		FirstName: first,
		LastName:  last,
		Roles:     []string{},
		WorkIDs:   []string{},
	}
}

// DocumentID implements Document.
func (d *PersonDocument) DocumentID() string { return d.ID }
