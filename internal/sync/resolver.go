package sync

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/filmindex/catalog-etl/internal/assemble"
	"github.com/filmindex/catalog-etl/internal/catalog"
	"github.com/filmindex/catalog-etl/internal/index"
	"github.com/filmindex/catalog-etl/internal/metrics"
	"github.com/filmindex/catalog-etl/internal/retry"
	"github.com/filmindex/catalog-etl/internal/source"
)

// WorkFanout caps how many works a genre or person change re-indexes.
const WorkFanout = 100

// Options configures a Resolver. Zero values fall back to defaults.
type Options struct {
	Policy   *retry.Policy
	Logger   *log.Logger
	Observer Observer
	Fanout   int
}

// Result counts the documents written per collection.
type Result struct {
	Documents map[string]int
}

func newResult() Result {
	return Result{Documents: make(map[string]int)}
}

func (r Result) add(other Result) {
	for k, v := range other.Documents {
		r.Documents[k] += v
	}
}

// Total returns the number of documents written across collections.
func (r Result) Total() int {
	n := 0
	for _, v := range r.Documents {
		n += v
	}
	return n
}

// Resolver expands changed ids into affected documents and writes them.
type Resolver struct {
	src      source.Source
	out      index.Writer
	policy   retry.Policy
	logger   *log.Logger
	observer Observer
	fanout   int

	works   *assemble.WorkStage
	genres  *assemble.GenreStage
	persons *assemble.PersonStage
}

// NewResolver wires a Resolver to its source and writer.
func NewResolver(src source.Source, out index.Writer, opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Fanout <= 0 {
		opts.Fanout = WorkFanout
	}
	policy := retry.DefaultPolicy()
	policy.Logger = opts.Logger
	if opts.Policy != nil {
		policy = *opts.Policy
	}

	return &Resolver{
		src:      src,
		out:      out,
		policy:   policy,
		logger:   opts.Logger,
		observer: opts.Observer,
		fanout:   opts.Fanout,
		works:    assemble.NewWorkStage(opts.Logger),
		genres:   assemble.NewGenreStage(),
		persons:  assemble.NewPersonStage(opts.Logger),
	}
}

// Sync writes every document affected by ids of table. Duplicate ids are
// tolerated. Relational errors are retried until ctx ends; index errors are
// returned.
func (r *Resolver) Sync(ctx context.Context, table catalog.Table, ids []string) (Result, error) {
	res := newResult()
	ids = dedupe(ids)
	if len(ids) == 0 {
		return res, nil
	}

	workIDs := ids
	switch table {
	case catalog.TableWork:

	case catalog.TableGenre:
		n, err := r.indexGenres(ctx, table, ids)
		if err != nil {
			return res, err
		}
		res.Documents[catalog.CollectionGenres] += n

		err = r.query(ctx, "works for genres", func() (err error) {
			workIDs, err = r.src.WorkIDsForGenres(ctx, ids, r.fanout)
			return err
		})
		if err != nil {
			return res, err
		}

	case catalog.TablePerson:
		n, err := r.indexPersons(ctx, table, ids)
		if err != nil {
			return res, err
		}
		res.Documents[catalog.CollectionPersons] += n

		err = r.query(ctx, "works for persons", func() (err error) {
			workIDs, err = r.src.WorkIDsForPersons(ctx, ids, r.fanout)
			return err
		})
		if err != nil {
			return res, err
		}

	default:
		return res, fmt.Errorf("cannot sync table %q", table)
	}

	if len(workIDs) == 0 {
		r.logger.Printf("No works linked to %d changed %s rows", len(ids), table)
		return res, nil
	}

	n, err := r.indexWorks(ctx, table, workIDs)
	if err != nil {
		return res, err
	}
	res.Documents[catalog.CollectionWorks] += n
	return res, nil
}

func (r *Resolver) indexWorks(ctx context.Context, table catalog.Table, ids []string) (int, error) {
	var rows []catalog.WorkRow
	err := r.query(ctx, "work rows", func() (err error) {
		rows, err = r.src.WorkRows(ctx, ids)
		return err
	})
	if err != nil {
		return 0, err
	}

	for _, row := range rows {
		r.works.Accept(row)
	}
	return r.push(ctx, table, catalog.CollectionWorks, assemble.Documents(r.works.Flush()))
}

func (r *Resolver) indexGenres(ctx context.Context, table catalog.Table, ids []string) (int, error) {
	var rows []catalog.GenreRow
	err := r.query(ctx, "genre rows", func() (err error) {
		rows, err = r.src.GenreRows(ctx, ids)
		return err
	})
	if err != nil {
		return 0, err
	}

	for _, row := range rows {
		r.genres.Accept(row)
	}
	return r.push(ctx, table, catalog.CollectionGenres, assemble.Documents(r.genres.Flush()))
}

func (r *Resolver) indexPersons(ctx context.Context, table catalog.Table, ids []string) (int, error) {
	var rows []catalog.PersonRow
	err := r.query(ctx, "person rows", func() (err error) {
		rows, err = r.src.PersonRows(ctx, ids)
		return err
	})
	if err != nil {
		return 0, err
	}

	for _, row := range rows {
		r.persons.Accept(row)
	}
	return r.push(ctx, table, catalog.CollectionPersons, assemble.Documents(r.persons.Flush()))
}

func (r *Resolver) push(ctx context.Context, table catalog.Table, collection string, docs []catalog.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	n, err := r.out.Upsert(ctx, collection, docs)
	if err != nil {
		return 0, fmt.Errorf("failed to index %s: %w", collection, err)
	}

	metrics.DocumentsIndexed.WithLabelValues(collection).Add(float64(n))
	r.observer.BatchIndexed(BatchEvent{Table: table, Collection: collection, Documents: n})
	return n, nil
}

// query runs fn until it succeeds, reconnecting after every failure.
func (r *Resolver) query(ctx context.Context, what string, fn func() error) error {
	err := r.policy.Do(ctx, "postgres", func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		if rerr := r.src.Reconnect(ctx); rerr != nil {
			r.logger.Printf("Reconnect after failed %s query: %v", what, rerr)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", what, err)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
