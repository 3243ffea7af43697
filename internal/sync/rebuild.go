package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/filmindex/catalog-etl/internal/catalog"
	"github.com/filmindex/catalog-etl/internal/metrics"
	"github.com/filmindex/catalog-etl/internal/watermark"
)

// PageSize is the number of entity ids loaded per rebuild page.
const PageSize = 100

// Rebuilder reloads every collection from scratch.
type Rebuilder struct {
	resolver *Resolver
	store    watermark.Store
	pageSize int

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewRebuilder returns a Rebuilder sharing the resolver's source, writer
// and assembler stages. pageSize <= 0 means PageSize.
func NewRebuilder(resolver *Resolver, store watermark.Store, pageSize int) *Rebuilder {
	if pageSize <= 0 {
		pageSize = PageSize
	}
	return &Rebuilder{
		resolver: resolver,
		store:    store,
		pageSize: pageSize,
		Now:      time.Now,
	}
}

// Run resets the collections, loads every work, genre and person, then sets
// each watched table's watermark to the moment the rebuild started. Rows
// modified while it ran are therefore read again by the next poll.
func (b *Rebuilder) Run(ctx context.Context) (RebuildEvent, error) {
	r := b.resolver
	started := b.Now().UTC()
	ev := RebuildEvent{Documents: make(map[string]int), Watermark: started}

	r.logger.Println("Starting full rebuild")

	for _, collection := range catalog.Collections() {
		if err := r.out.Reset(ctx, collection); err != nil {
			return ev, fmt.Errorf("rebuild: %w", err)
		}
	}

	for _, table := range catalog.WatchedTables() {
		n, err := b.load(ctx, table)
		ev.Documents[table.Collection()] += n
		if err != nil {
			return ev, fmt.Errorf("rebuild: failed to load %s: %w", table, err)
		}
		r.logger.Printf("Loaded %d %s documents", n, table.Collection())
	}

	// The start time, not the finish time: rows changed or shifted between
	// offset pages during the load are re-read by the next poll.
	for _, table := range catalog.WatchedTables() {
		if err := b.store.Set(table, started); err != nil {
			return ev, fmt.Errorf("rebuild: %w", err)
		}
		metrics.WatermarkTimestamp.WithLabelValues(table.String()).Set(float64(started.Unix()))
		r.observer.WatermarkAdvanced(WatermarkEvent{Table: table, Watermark: started})
	}

	ev.Duration = b.Now().Sub(started)
	metrics.RebuildDuration.Set(ev.Duration.Seconds())
	r.observer.RebuildComplete(ev)
	r.logger.Printf("Full rebuild complete in %s", ev.Duration.Round(time.Millisecond))
	return ev, nil
}

// load pages over every id of table. Each page is joined and written on its
// own, so a document never spans two pages.
func (b *Rebuilder) load(ctx context.Context, table catalog.Table) (int, error) {
	r := b.resolver
	total := 0

	for offset := 0; ; offset += b.pageSize {
		var ids []string
		err := r.query(ctx, table.String()+" ids", func() (err error) {
			ids, err = r.src.PageIDs(ctx, table, b.pageSize, offset)
			return err
		})
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		var n int
		switch table {
		case catalog.TableWork:
			n, err = r.indexWorks(ctx, table, ids)
		case catalog.TableGenre:
			n, err = r.indexGenres(ctx, table, ids)
		case catalog.TablePerson:
			n, err = r.indexPersons(ctx, table, ids)
		default:
			err = fmt.Errorf("cannot rebuild table %q", table)
		}
		total += n
		if err != nil {
			return total, err
		}

		if len(ids) < b.pageSize {
			return total, nil
		}
	}
}
