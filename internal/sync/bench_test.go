package sync

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filmindex/catalog-etl/internal/catalog"
	"github.com/filmindex/catalog-etl/internal/index/indextest"
	"github.com/filmindex/catalog-etl/internal/source/sourcetest"
	"github.com/filmindex/catalog-etl/internal/watermark"
)

func benchStore(b *testing.B) watermark.Store {
	b.Helper()
	store, err := watermark.OpenFile(filepath.Join(b.TempDir(), "state.json"), log.New(io.Discard, "", 0))
	if err != nil {
		b.Fatalf("Failed to open store: %v", err)
	}
	return store
}

func benchmarkRebuild(b *testing.B, works int) {
	src := sourcetest.Generate(sourcetest.Size{Works: works, Genres: 20, Persons: works / 2, CastPerWork: 6})
	store := benchStore(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out := indextest.New()
		if _, err := NewRebuilder(NewResolver(src, out, testOptions(nil)), store, PageSize).Run(ctx); err != nil {
			b.Fatalf("Rebuild failed: %v", err)
		}
	}
}

func BenchmarkRebuild_100Works(b *testing.B)  { benchmarkRebuild(b, 100) }
func BenchmarkRebuild_1000Works(b *testing.B) { benchmarkRebuild(b, 1000) }

// BenchmarkSync_GenreFanout measures a genre change that touches the
// maximum number of works.
func BenchmarkSync_GenreFanout(b *testing.B) {
	src := sourcetest.Generate(sourcetest.Size{Works: 1000, Genres: 2, Persons: 200, CastPerWork: 4})
	r := NewResolver(src, indextest.New(), testOptions(nil))
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Sync(ctx, catalog.TableGenre, []string{"g0000"}); err != nil {
			b.Fatalf("Sync failed: %v", err)
		}
	}
}

func TestGeneratedRebuildIsComplete(t *testing.T) {
	const works = 250
	src := sourcetest.Generate(sourcetest.Size{Works: works, Genres: 8, Persons: 60, CastPerWork: 3})
	out := indextest.New()

	ev, err := NewRebuilder(NewResolver(src, out, testOptions(nil)), openStore(t), 40).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, out.IDs(catalog.CollectionWorks), works)
	assert.Equal(t, 8, ev.Documents[catalog.CollectionGenres])

	for i := 0; i < works; i += 50 {
		id := fmt.Sprintf("w%05d", i)
		doc := out.Work(id)
		require.NotNil(t, doc, "missing %s", id)
		cast := len(doc.Actors) + len(doc.Directors) + len(doc.Writers)
		assert.True(t, cast >= 1 && cast <= 3, "%s cast size = %d, want 1..3", id, cast)
	}
}
