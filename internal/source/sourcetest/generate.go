package sourcetest

import (
	"database/sql"
	"fmt"
	"math/rand"
	"time"
)

// Size shapes a generated catalog.
type Size struct {
	Works   int
	Genres  int
	Persons int

	// CastPerWork is the number of person links per work.
	CastPerWork int
}

// Generate builds a deterministic catalog for load tests. Works are
// stamped one minute apart, newest last. Every work gets one to three
// distinct genres and CastPerWork distinct cast members, mostly actors.
func Generate(size Size) *Memory {
	m := New()
	rng := rand.New(rand.NewSource(42))
	base := Base.Add(-30 * 24 * time.Hour)

	// actor 70%, director 10%, scriptwriter 20%
	roles := []string{"actor", "actor", "actor", "actor", "actor", "actor", "actor", "director", "scriptwriter", "scriptwriter"}

	for i := 0; i < size.Genres; i++ {
		m.PutGenre(Genre{ID: fmt.Sprintf("g%04d", i), Name: fmt.Sprintf("Genre %d", i), Modified: base})
	}
	for i := 0; i < size.Persons; i++ {
		m.PutPerson(Person{
			ID:        fmt.Sprintf("p%05d", i),
			FirstName: fmt.Sprintf("First%d", i),
			LastName:  fmt.Sprintf("Last%d", i),
			Modified:  base,
		})
	}

	for i := 0; i < size.Works; i++ {
		id := fmt.Sprintf("w%05d", i)
		stamp := base.Add(time.Duration(i) * time.Minute)
		w := Work{ID: id, Title: fmt.Sprintf("Work %d", i), Type: "movie", Created: stamp, Modified: stamp}
		if i%4 != 0 {
			w.Description = sql.NullString{String: fmt.Sprintf("Generated work %d", i), Valid: true}
			w.Rating = sql.NullFloat64{Float64: float64(rng.Intn(100)) / 10, Valid: true}
		}
		m.PutWork(w)

		// Association tables carry unique constraints, so draws repeat
		// until they hit an unused pair.
		linked := make(map[string]bool)
		for n := min(1+rng.Intn(3), size.Genres); n > 0; {
			genre := fmt.Sprintf("g%04d", rng.Intn(size.Genres))
			if !linked[genre] {
				linked[genre] = true
				m.LinkGenre(id, genre)
				n--
			}
		}
		for n := min(size.CastPerWork, size.Persons); n > 0; {
			person := fmt.Sprintf("p%05d", rng.Intn(size.Persons))
			if !linked[person] {
				linked[person] = true
				m.Cast(id, person, roles[rng.Intn(len(roles))])
				n--
			}
		}
	}
	return m
}
