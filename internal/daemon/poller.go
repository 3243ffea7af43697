package daemon

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/filmindex/catalog-etl/internal/catalog"
	"github.com/filmindex/catalog-etl/internal/metrics"
	"github.com/filmindex/catalog-etl/internal/source"
	"github.com/filmindex/catalog-etl/internal/sync"
	"github.com/filmindex/catalog-etl/internal/watermark"
)

// Poller performs poll passes.
type Poller struct {
	src      source.Source
	resolver *sync.Resolver
	store    watermark.Store
	logger   *log.Logger
	observer sync.Observer

	batchSize int
	margin    time.Duration

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// newPoller expects config to have been through withDefaults.
func newPoller(src source.Source, resolver *sync.Resolver, store watermark.Store, config *Config) *Poller {
	return &Poller{
		src:       src,
		resolver:  resolver,
		store:     store,
		logger:    config.Logger,
		observer:  config.Observer,
		batchSize: config.BatchSize,
		margin:    config.WatermarkMargin,
		Now:       time.Now,
	}
}

// PollOnce visits every watched table once. Failures on one table are
// logged and the table is skipped; only context cancellation is returned.
func (p *Poller) PollOnce(ctx context.Context) (sync.PollEvent, error) {
	start := p.Now()
	ev := sync.PollEvent{Changes: make(map[catalog.Table]int)}

	for _, table := range catalog.WatchedTables() {
		n, err := p.pollTable(ctx, table)
		ev.Changes[table] = n
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ev, ctx.Err()
		}
		p.logger.Printf("Skipping %s this pass: %v", table, err)
		ev.Skipped = append(ev.Skipped, table)
	}

	ev.Duration = p.Now().Sub(start)
	metrics.PollDuration.Observe(ev.Duration.Seconds())
	p.observer.PollComplete(ev)
	return ev, nil
}

// pollTable reads every row of table newer than its watermark, a page at a
// time, syncs each page, and then advances the watermark once.
func (p *Poller) pollTable(ctx context.Context, table catalog.Table) (int, error) {
	since, ok, err := p.store.Get(table)
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark: %w", err)
	}
	if !ok {
		p.logger.Printf("No watermark for %s, scanning all rows", table)
		since = time.Time{}
	}

	var newest time.Time
	seen := 0
	for offset := 0; ; offset += p.batchSize {
		changes, err := p.src.ChangedSince(ctx, table, since, p.batchSize, offset)
		if err != nil {
			if ctx.Err() != nil {
				return seen, ctx.Err()
			}
			if rerr := p.src.Reconnect(ctx); rerr != nil {
				p.logger.Printf("Reconnect failed: %v", rerr)
			}
			return seen, fmt.Errorf("failed to read changes: %w", err)
		}
		if len(changes) == 0 {
			break
		}

		ids := make([]string, len(changes))
		for i, c := range changes {
			ids[i] = c.ID
			if c.Modified.After(newest) {
				newest = c.Modified
			}
		}
		metrics.ChangesDetected.WithLabelValues(table.String()).Add(float64(len(ids)))

		if _, err := p.resolver.Sync(ctx, table, ids); err != nil {
			return seen, err
		}
		seen += len(ids)

		if len(changes) < p.batchSize {
			break
		}
	}

	if seen == 0 {
		return 0, nil
	}

	next := newest.Add(p.margin)
	if err := p.store.Set(table, next); err != nil {
		return seen, fmt.Errorf("failed to advance watermark: %w", err)
	}
	metrics.WatermarkTimestamp.WithLabelValues(table.String()).Set(float64(next.Unix()))
	p.observer.WatermarkAdvanced(sync.WatermarkEvent{Table: table, Watermark: next.UTC()})
	p.logger.Printf("Synced %d %s changes, watermark now %s", seen, table, watermark.Format(next))
	return seen, nil
}
