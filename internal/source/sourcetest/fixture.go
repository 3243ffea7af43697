package sourcetest

import (
	"database/sql"
	"time"
)

// Base is the modified stamp of every Fixture entity.
var Base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Fixture returns a small catalog:
//
//	w1 "Heat"  genres g1 Drama, g2 Crime   actor p1 Jane Doe, director p2 John Smith
//	w2 "Alien" genre  g3 Sci-Fi            actor p1 Jane Doe
//	g4 Western and p3 Ann Lee have no works
func Fixture() *Memory {
	m := New()

	m.PutWork(Work{
		ID: "w1", Title: "Heat", Type: "movie",
		Description: sql.NullString{String: "Cops and robbers", Valid: true},
		Rating:      sql.NullFloat64{Float64: 8.3, Valid: true},
		Created:     Base, Modified: Base,
	})
	m.PutWork(Work{ID: "w2", Title: "Alien", Type: "movie", Created: Base, Modified: Base.Add(-time.Hour)})

	m.PutGenre(Genre{ID: "g1", Name: "Drama", Modified: Base})
	m.PutGenre(Genre{ID: "g2", Name: "Crime", Modified: Base})
	m.PutGenre(Genre{ID: "g3", Name: "Sci-Fi", Modified: Base})
	m.PutGenre(Genre{ID: "g4", Name: "Western", Modified: Base})

	m.PutPerson(Person{ID: "p1", FirstName: "Jane", LastName: "Doe", Modified: Base})
	m.PutPerson(Person{ID: "p2", FirstName: "John", LastName: "Smith", Modified: Base})
	m.PutPerson(Person{ID: "p3", FirstName: "Ann", LastName: "Lee", Modified: Base})

	m.LinkGenre("w1", "g1")
	m.LinkGenre("w1", "g2")
	m.LinkGenre("w2", "g3")

	m.Cast("w1", "p1", "actor")
	m.Cast("w1", "p2", "director")
	m.Cast("w2", "p1", "actor")

	return m
}
