// Package daemon drives the incremental sync loop.
//
// # Architecture
//
//   - Poller: one pass over the watched tables (work, genre, person, in that
//     order), reading rows newer than each table's watermark and handing the
//     ids to the resolver. A watermark moves only after its batch is indexed.
//   - Daemon: runs a full rebuild, then poll passes separated by an idle
//     delay until the context is cancelled.
//
// # Usage
//
//	d, err := daemon.New(src, writer, store, daemon.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	return d.Start(ctx)
//
// # Failure Handling
//
// A relational error while reading changes reconnects and skips that table
// for the pass. An index error leaves the watermark untouched, so the same
// rows are read again next pass; every write is an idempotent upsert.
// Everything runs on the calling goroutine.
package daemon
