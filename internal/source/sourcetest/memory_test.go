package sourcetest

import (
	"context"
	"testing"
	"time"

	"github.com/filmindex/catalog-etl/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_WideJoinCrossProduct(t *testing.T) {
	m := Fixture()
	rows, err := m.WorkRows(context.Background(), []string{"w1"})
	require.NoError(t, err)
	// 2 person-roles x 2 genres
	assert.Len(t, rows, 4)
	for _, r := range rows {
		assert.True(t, r.HasPerson())
		assert.True(t, r.HasGenre())
	}
}

func TestMemory_LeftJoinWithoutAssociations(t *testing.T) {
	m := Fixture()
	m.PutWork(Work{ID: "w9", Title: "Lonely", Modified: Base})

	rows, err := m.WorkRows(context.Background(), []string{"w9"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].HasPerson())
	assert.False(t, rows[0].HasGenre())

	genres, err := m.GenreRows(context.Background(), []string{"g4"})
	require.NoError(t, err)
	require.Len(t, genres, 1)
	assert.False(t, genres[0].WorkID.Valid)
}

func TestMemory_ChangedSincePaging(t *testing.T) {
	m := Fixture()
	m.Touch(catalog.TableGenre, "g2", Base.Add(time.Minute))

	changes, err := m.ChangedSince(context.Background(), catalog.TableGenre, time.Time{}, 2, 0)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "g2", changes[0].ID, "newest first")

	changes, err = m.ChangedSince(context.Background(), catalog.TableGenre, time.Time{}, 2, 2)
	require.NoError(t, err)
	assert.Len(t, changes, 2)

	changes, err = m.ChangedSince(context.Background(), catalog.TableGenre, Base, 10, 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "g2", changes[0].ID)
}

func TestMemory_FailNext(t *testing.T) {
	m := Fixture()
	m.FailNext(1)
	_, err := m.PageIDs(context.Background(), catalog.TableWork, 10, 0)
	assert.ErrorIs(t, err, ErrInjected)

	ids, err := m.PageIDs(context.Background(), catalog.TableWork, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"w1", "w2"}, ids)
	assert.Equal(t, 2, m.Queries())
}

func TestGenerate(t *testing.T) {
	m := Generate(Size{Works: 50, Genres: 5, Persons: 20, CastPerWork: 4})
	ctx := context.Background()

	ids, err := m.PageIDs(ctx, catalog.TableWork, 100, 0)
	require.NoError(t, err)
	assert.Len(t, ids, 50)

	rows, err := m.WorkRows(ctx, []string{"w00049"})
	require.NoError(t, err)
	genres := map[string]bool{}
	persons := map[string]bool{}
	for _, r := range rows {
		genres[r.GenreID.String] = true
		persons[r.PersonID.String] = true
	}
	assert.GreaterOrEqual(t, len(genres), 1)
	assert.LessOrEqual(t, len(genres), 3)
	assert.Len(t, persons, 4)

	again := Generate(Size{Works: 50, Genres: 5, Persons: 20, CastPerWork: 4})
	rows2, err := again.WorkRows(ctx, []string{"w00049"})
	require.NoError(t, err)
	assert.Equal(t, rows, rows2, "generation is deterministic")
}
