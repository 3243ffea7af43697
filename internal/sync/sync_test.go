package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/filmindex/catalog-etl/internal/catalog"
	"github.com/filmindex/catalog-etl/internal/index/indextest"
	"github.com/filmindex/catalog-etl/internal/retry"
	"github.com/filmindex/catalog-etl/internal/source/sourcetest"
	"github.com/filmindex/catalog-etl/internal/watermark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu         stdsync.Mutex
	batches    []BatchEvent
	watermarks []WatermarkEvent
	rebuilds   []RebuildEvent
}

func (r *recorder) BatchIndexed(e BatchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, e)
}

func (r *recorder) WatermarkAdvanced(e WatermarkEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watermarks = append(r.watermarks, e)
}

func (r *recorder) PollComplete(PollEvent) {}

func (r *recorder) RebuildComplete(e RebuildEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebuilds = append(r.rebuilds, e)
}

func testOptions(obs Observer) Options {
	return Options{
		Policy:   &retry.Policy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
		Logger:   log.New(io.Discard, "", 0),
		Observer: obs,
	}
}

func TestSync_Work(t *testing.T) {
	src := sourcetest.Fixture()
	out := indextest.New()
	rec := &recorder{}
	r := NewResolver(src, out, testOptions(rec))

	res, err := r.Sync(context.Background(), catalog.TableWork, []string{"w1", "w1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Documents[catalog.CollectionWorks])
	assert.Equal(t, 1, res.Total())

	doc := out.Work("w1")
	require.NotNil(t, doc)
	assert.Equal(t, "Heat", doc.Title)
	assert.Equal(t, []catalog.GenreRef{{ID: "g1", Name: "Drama"}, {ID: "g2", Name: "Crime"}}, doc.Genres)
	assert.Equal(t, []string{"Doe Jane"}, doc.Actors)
	assert.Equal(t, []string{"Smith John"}, doc.Directors)
	assert.Equal(t, []string{}, doc.Writers)

	require.Len(t, rec.batches, 1)
	assert.Equal(t, BatchEvent{Table: catalog.TableWork, Collection: catalog.CollectionWorks, Documents: 1}, rec.batches[0])
}

func TestSync_GenreFansOutToWorks(t *testing.T) {
	src := sourcetest.Fixture()
	out := indextest.New()
	r := NewResolver(src, out, testOptions(nil))

	src.PutGenre(sourcetest.Genre{ID: "g1", Name: "Melodrama", Modified: sourcetest.Base.Add(time.Minute)})

	res, err := r.Sync(context.Background(), catalog.TableGenre, []string{"g1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Documents[catalog.CollectionGenres])
	assert.Equal(t, 1, res.Documents[catalog.CollectionWorks])

	g := out.Genre("g1")
	require.NotNil(t, g)
	assert.Equal(t, "Melodrama", g.Name)
	assert.Equal(t, []string{"w1"}, g.WorkIDs)

	w := out.Work("w1")
	require.NotNil(t, w)
	assert.Contains(t, w.Genres, catalog.GenreRef{ID: "g1", Name: "Melodrama"})
	assert.Nil(t, out.Work("w2"), "unrelated works are not touched")
}

func TestSync_GenreWithoutWorks(t *testing.T) {
	src := sourcetest.Fixture()
	out := indextest.New()
	r := NewResolver(src, out, testOptions(nil))

	res, err := r.Sync(context.Background(), catalog.TableGenre, []string{"g4"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total())
	assert.Equal(t, []string{}, out.Genre("g4").WorkIDs)
	assert.Empty(t, out.IDs(catalog.CollectionWorks))
	assert.Equal(t, 1, out.Requests())
}

func TestSync_PersonRoleChange(t *testing.T) {
	src := sourcetest.New()
	src.PutWork(sourcetest.Work{ID: "w1", Title: "Heat", Modified: sourcetest.Base})
	src.PutPerson(sourcetest.Person{ID: "p1", FirstName: "Jane", LastName: "Doe", Modified: sourcetest.Base})
	src.Cast("w1", "p1", "actor")

	out := indextest.New()
	r := NewResolver(src, out, testOptions(nil))

	_, err := r.Sync(context.Background(), catalog.TableWork, []string{"w1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Doe Jane"}, out.Work("w1").Actors)

	// Jane moves from acting to directing; only the person row is touched.
	src.Uncast("w1", "p1", "actor")
	src.Cast("w1", "p1", "director")
	src.Touch(catalog.TablePerson, "p1", sourcetest.Base.Add(time.Minute))

	_, err = r.Sync(context.Background(), catalog.TablePerson, []string{"p1"})
	require.NoError(t, err)

	p := out.Person("p1")
	require.NotNil(t, p)
	assert.Equal(t, []string{"director"}, p.Roles)
	assert.Equal(t, []string{"w1"}, p.WorkIDs)

	w := out.Work("w1")
	assert.NotContains(t, w.Actors, "Doe Jane")
	assert.Contains(t, w.Directors, "Doe Jane")
}

func TestSync_FanoutCapped(t *testing.T) {
	src := sourcetest.New()
	src.PutGenre(sourcetest.Genre{ID: "g1", Name: "Drama", Modified: sourcetest.Base})
	for i := 0; i < 150; i++ {
		id := fmt.Sprintf("w%03d", i)
		src.PutWork(sourcetest.Work{ID: id, Title: id, Modified: sourcetest.Base.Add(time.Duration(i) * time.Second)})
		src.LinkGenre(id, "g1")
	}

	out := indextest.New()
	r := NewResolver(src, out, testOptions(nil))

	res, err := r.Sync(context.Background(), catalog.TableGenre, []string{"g1"})
	require.NoError(t, err)
	assert.Equal(t, WorkFanout, res.Documents[catalog.CollectionWorks])

	ids := out.IDs(catalog.CollectionWorks)
	require.Len(t, ids, WorkFanout)
	assert.Equal(t, "w050", ids[0], "the most recently modified works are kept")
	assert.Len(t, out.Genre("g1").WorkIDs, 150, "the genre document itself is complete")
}

func TestSync_RetriesRelationalFailures(t *testing.T) {
	src := sourcetest.Fixture()
	out := indextest.New()
	r := NewResolver(src, out, testOptions(nil))

	src.FailNext(3)
	_, err := r.Sync(context.Background(), catalog.TableWork, []string{"w1"})
	require.NoError(t, err)
	assert.Equal(t, 3, src.Reconnects())
	assert.NotNil(t, out.Work("w1"))
}

func TestSync_RelationalRetryBoundedByContext(t *testing.T) {
	src := sourcetest.Fixture()
	r := NewResolver(src, indextest.New(), testOptions(nil))

	src.FailNext(1 << 30)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := r.Sync(ctx, catalog.TableWork, []string{"w1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSync_IndexErrorReturned(t *testing.T) {
	src := sourcetest.Fixture()
	out := indextest.New()
	r := NewResolver(src, out, testOptions(nil))

	boom := errors.New("mapper_parsing_exception")
	out.FailNext(boom)

	_, err := r.Sync(context.Background(), catalog.TablePerson, []string{"p2"})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, out.IDs(catalog.CollectionWorks), "works are not written after the person batch failed")

	// The next attempt writes everything.
	res, err := r.Sync(context.Background(), catalog.TablePerson, []string{"p2"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Documents[catalog.CollectionPersons])
	assert.Equal(t, 1, res.Documents[catalog.CollectionWorks])
}

func TestSync_Idempotent(t *testing.T) {
	src := sourcetest.Fixture()
	out := indextest.New()
	r := NewResolver(src, out, testOptions(nil))

	_, err := r.Sync(context.Background(), catalog.TablePerson, []string{"p1"})
	require.NoError(t, err)
	first := *out.Work("w1")

	_, err = r.Sync(context.Background(), catalog.TablePerson, []string{"p1", "p1"})
	require.NoError(t, err)
	assert.Equal(t, first, *out.Work("w1"))
	assert.Equal(t, []string{"w1", "w2"}, out.IDs(catalog.CollectionWorks))
}

func TestSync_UnknownTable(t *testing.T) {
	r := NewResolver(sourcetest.New(), indextest.New(), testOptions(nil))
	_, err := r.Sync(context.Background(), catalog.Table("work_genre"), []string{"x"})
	assert.Error(t, err)
}

func openStore(t *testing.T) watermark.Store {
	t.Helper()
	s, err := watermark.OpenFile(filepath.Join(t.TempDir(), "state.json"), log.New(io.Discard, "", 0))
	require.NoError(t, err)
	return s
}

func TestRebuild_Complete(t *testing.T) {
	src := sourcetest.Fixture()
	out := indextest.New()
	rec := &recorder{}
	store := openStore(t)

	started := time.Date(2024, 2, 1, 8, 30, 0, 0, time.UTC)
	b := NewRebuilder(NewResolver(src, out, testOptions(rec)), store, 1)
	b.Now = func() time.Time { return started }

	ev, err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, catalog.Collections(), out.Resets())
	assert.Equal(t, []string{"w1", "w2"}, out.IDs(catalog.CollectionWorks))
	assert.Equal(t, []string{"g1", "g2", "g3", "g4"}, out.IDs(catalog.CollectionGenres))
	assert.Equal(t, []string{"p1", "p2", "p3"}, out.IDs(catalog.CollectionPersons))
	assert.Equal(t, map[string]int{"works": 2, "genres": 4, "persons": 3}, ev.Documents)

	// Page size one still produces whole documents.
	assert.Len(t, out.Work("w1").Genres, 2)
	assert.Equal(t, []string{"w1", "w2"}, out.Person("p1").WorkIDs)

	for _, table := range catalog.WatchedTables() {
		ts, ok, err := store.Get(table)
		require.NoError(t, err)
		require.True(t, ok, table)
		assert.True(t, started.Equal(ts), "%s watermark = %v", table, ts)
	}
	assert.Len(t, rec.watermarks, 3)
	require.Len(t, rec.rebuilds, 1)
}

func TestRebuild_ChangeDuringLoadIsRepolled(t *testing.T) {
	src := sourcetest.Fixture()
	store := openStore(t)

	started := sourcetest.Base.Add(time.Hour)
	clock := []time.Time{started, started.Add(time.Minute)}
	b := NewRebuilder(NewResolver(src, indextest.New(), testOptions(nil)), store, 1)
	b.Now = func() time.Time {
		now := clock[0]
		if len(clock) > 1 {
			clock = clock[1:]
		}
		return now
	}

	ev, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ev.Duration)

	// w1 committed mid-load, after its page had been read.
	src.Touch(catalog.TableWork, "w1", started.Add(30*time.Second))

	wm, ok, err := store.Get(catalog.TableWork)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, started.Equal(wm), "watermark = %v, want rebuild start", wm)

	changes, err := src.ChangedSince(context.Background(), catalog.TableWork, wm, 100, 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "w1", changes[0].ID)
}

func TestRebuild_MatchesIncremental(t *testing.T) {
	src := sourcetest.Fixture()

	rebuilt := indextest.New()
	_, err := NewRebuilder(NewResolver(src, rebuilt, testOptions(nil)), openStore(t), 0).Run(context.Background())
	require.NoError(t, err)

	incremental := indextest.New()
	r := NewResolver(src, incremental, testOptions(nil))
	for _, table := range catalog.WatchedTables() {
		ids, err := src.PageIDs(context.Background(), table, 100, 0)
		require.NoError(t, err)
		_, err = r.Sync(context.Background(), table, ids)
		require.NoError(t, err)
	}

	for _, id := range []string{"w1", "w2"} {
		assert.Equal(t, rebuilt.Work(id), incremental.Work(id))
	}
	for _, id := range []string{"p1", "p2", "p3"} {
		assert.Equal(t, rebuilt.Person(id), incremental.Person(id))
	}
}

func TestRebuild_WatermarkFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store, err := watermark.OpenFile(path, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	// A directory at the state path makes every write fail.
	require.NoError(t, os.MkdirAll(filepath.Join(path, "x"), 0755))

	_, err = NewRebuilder(NewResolver(sourcetest.Fixture(), indextest.New(), testOptions(nil)), store, 0).Run(context.Background())
	require.Error(t, err)

	_, ok, _ := store.Get(catalog.TableWork)
	assert.False(t, ok)
}
