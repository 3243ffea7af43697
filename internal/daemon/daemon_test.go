package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/filmindex/catalog-etl/internal/catalog"
	"github.com/filmindex/catalog-etl/internal/index/indextest"
	"github.com/filmindex/catalog-etl/internal/retry"
	"github.com/filmindex/catalog-etl/internal/source/sourcetest"
	"github.com/filmindex/catalog-etl/internal/watermark"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	src    *sourcetest.Memory
	out    *indextest.Memory
	store  watermark.Store
	daemon *Daemon
}

func newHarness(t *testing.T, src *sourcetest.Memory, mutate func(*Config)) *harness {
	t.Helper()

	store, err := watermark.OpenFile(filepath.Join(t.TempDir(), "state.json"), log.New(io.Discard, "", 0))
	require.NoError(t, err)

	config := DefaultConfig()
	config.PollInterval = 10 * time.Millisecond
	config.Logger = log.New(io.Discard, "", 0)
	config.Retry = &retry.Policy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	if mutate != nil {
		mutate(config)
	}

	out := indextest.New()
	d, err := New(src, out, store, config)
	require.NoError(t, err)

	return &harness{src: src, out: out, store: store, daemon: d}
}

func (h *harness) watermark(t *testing.T, table catalog.Table) (time.Time, bool) {
	t.Helper()
	ts, ok, err := h.store.Get(table)
	require.NoError(t, err)
	return ts, ok
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, indextest.New(), nil, nil)
	assert.Error(t, err)
	_, err = New(sourcetest.New(), nil, nil, nil)
	assert.Error(t, err)
	_, err = New(sourcetest.New(), indextest.New(), nil, nil)
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 2*time.Second, c.PollInterval)
	assert.Equal(t, 100, c.BatchSize)
	assert.Equal(t, 2*time.Second, c.WatermarkMargin)

	filled := (&Config{}).withDefaults()
	assert.Equal(t, 100, filled.BatchSize)
	assert.NotNil(t, filled.Observer)
	assert.NotNil(t, filled.Retry)
	assert.NotNil(t, filled.Retry.OnRetry)
}

func TestPollOnce_AbsentWatermarkScansEverything(t *testing.T) {
	h := newHarness(t, sourcetest.Fixture(), nil)

	ev, err := h.daemon.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[catalog.Table]int{"work": 2, "genre": 4, "person": 3}, ev.Changes)
	assert.Empty(t, ev.Skipped)

	assert.Equal(t, []string{"w1", "w2"}, h.out.IDs(catalog.CollectionWorks))
	assert.Equal(t, []string{"g1", "g2", "g3", "g4"}, h.out.IDs(catalog.CollectionGenres))
	assert.Equal(t, []string{"p1", "p2", "p3"}, h.out.IDs(catalog.CollectionPersons))

	for _, table := range catalog.WatchedTables() {
		ts, ok := h.watermark(t, table)
		require.True(t, ok)
		assert.True(t, ts.Equal(sourcetest.Base.Add(2*time.Second)), "%s watermark = %v", table, ts)
	}
}

func TestPollOnce_Idempotent(t *testing.T) {
	h := newHarness(t, sourcetest.Fixture(), nil)

	_, err := h.daemon.PollOnce(context.Background())
	require.NoError(t, err)
	requests := h.out.Requests()
	w1 := *h.out.Work("w1")

	ev, err := h.daemon.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[catalog.Table]int{"work": 0, "genre": 0, "person": 0}, ev.Changes)
	assert.Equal(t, requests, h.out.Requests(), "a quiet pass writes nothing")
	assert.Equal(t, w1, *h.out.Work("w1"))
}

func TestPollOnce_Convergence(t *testing.T) {
	h := newHarness(t, sourcetest.Fixture(), nil)
	_, err := h.daemon.PollOnce(context.Background())
	require.NoError(t, err)

	later := sourcetest.Base.Add(time.Minute)
	h.src.PutGenre(sourcetest.Genre{ID: "g3", Name: "Science Fiction", Modified: later})

	ev, err := h.daemon.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ev.Changes[catalog.TableGenre])

	assert.Equal(t, "Science Fiction", h.out.Genre("g3").Name)
	assert.Equal(t, []catalog.GenreRef{{ID: "g3", Name: "Science Fiction"}}, h.out.Work("w2").Genres)

	ts, _ := h.watermark(t, catalog.TableGenre)
	assert.True(t, ts.Equal(later.Add(2*time.Second)))
	ts, _ = h.watermark(t, catalog.TableWork)
	assert.True(t, ts.Equal(sourcetest.Base.Add(2*time.Second)), "other tables keep their watermark")
}

func TestPollOnce_PersonRoleChange(t *testing.T) {
	src := sourcetest.New()
	src.PutWork(sourcetest.Work{ID: "w1", Title: "Heat", Modified: sourcetest.Base})
	src.PutPerson(sourcetest.Person{ID: "p1", FirstName: "Jane", LastName: "Doe", Modified: sourcetest.Base})
	src.Cast("w1", "p1", "actor")

	h := newHarness(t, src, nil)
	_, err := h.daemon.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Doe Jane"}, h.out.Work("w1").Actors)

	src.Uncast("w1", "p1", "actor")
	src.Cast("w1", "p1", "director")
	src.Touch(catalog.TablePerson, "p1", sourcetest.Base.Add(time.Minute))

	_, err = h.daemon.PollOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"director"}, h.out.Person("p1").Roles)
	assert.NotContains(t, h.out.Work("w1").Actors, "Doe Jane")
	assert.Contains(t, h.out.Work("w1").Directors, "Doe Jane")
}

func TestPollOnce_IndexFailureKeepsWatermark(t *testing.T) {
	h := newHarness(t, sourcetest.Fixture(), nil)
	h.out.FailNext(errors.New("mapper_parsing_exception"))

	ev, err := h.daemon.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []catalog.Table{catalog.TableWork}, ev.Skipped)

	_, ok := h.watermark(t, catalog.TableWork)
	assert.False(t, ok, "work watermark must not move after a failed write")
	_, ok = h.watermark(t, catalog.TableGenre)
	assert.True(t, ok)

	// The next pass re-reads the same work rows and succeeds.
	ev, err = h.daemon.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ev.Skipped)
	assert.Equal(t, 2, ev.Changes[catalog.TableWork])
	_, ok = h.watermark(t, catalog.TableWork)
	assert.True(t, ok)
}

func TestPollOnce_ReconnectsAndSkipsTable(t *testing.T) {
	h := newHarness(t, sourcetest.Fixture(), nil)
	h.src.FailNext(1)

	ev, err := h.daemon.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []catalog.Table{catalog.TableWork}, ev.Skipped)
	assert.Equal(t, 1, h.src.Reconnects())

	_, ok := h.watermark(t, catalog.TableWork)
	assert.False(t, ok)
	assert.Equal(t, 4, ev.Changes[catalog.TableGenre])

	ev, err = h.daemon.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ev.Changes[catalog.TableWork])
}

func TestPollOnce_DrainsBurstLargerThanBatch(t *testing.T) {
	src := sourcetest.New()
	var newest time.Time
	for i := 0; i < 250; i++ {
		ts := sourcetest.Base.Add(time.Duration(i) * time.Second)
		src.PutWork(sourcetest.Work{ID: uuid.NewString(), Title: fmt.Sprint("work ", i), Modified: ts})
		newest = ts
	}

	h := newHarness(t, src, nil)
	ev, err := h.daemon.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, ev.Changes[catalog.TableWork])
	assert.Len(t, h.out.IDs(catalog.CollectionWorks), 250)

	ts, ok := h.watermark(t, catalog.TableWork)
	require.True(t, ok)
	assert.True(t, ts.Equal(newest.Add(2*time.Second)))
}

func TestPollOnce_CancelledContext(t *testing.T) {
	h := newHarness(t, sourcetest.Fixture(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.daemon.PollOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, ok := h.watermark(t, catalog.TableWork)
	assert.False(t, ok)
}

func TestStart_RebuildThenPoll(t *testing.T) {
	h := newHarness(t, sourcetest.Fixture(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.daemon.Start(ctx) }()

	require.Eventually(t, func() bool {
		return len(h.out.Resets()) == 3 && len(h.out.IDs(catalog.CollectionWorks)) == 2
	}, 5*time.Second, 10*time.Millisecond)

	// A change made while the loop is running is picked up.
	h.src.PutWork(sourcetest.Work{ID: "w3", Title: "Ronin", Modified: time.Now().Add(time.Hour)})
	require.Eventually(t, func() bool {
		return h.out.Work("w3") != nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStart_SkipRebuild(t *testing.T) {
	h := newHarness(t, sourcetest.Fixture(), func(c *Config) { c.SkipRebuild = true })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.daemon.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, ok, _ := h.store.Get(catalog.TablePerson)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Empty(t, h.out.Resets())
	assert.Len(t, h.out.IDs(catalog.CollectionPersons), 3)
}
