package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/filmindex/catalog-etl/internal/catalog"
	"github.com/filmindex/catalog-etl/internal/ui"
	"github.com/filmindex/catalog-etl/internal/watermark"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (a *app) runCmd() *cobra.Command {
	var opts pipelineOptions

	cmd := &cobra.Command{
		Use:     "run",
		GroupID: "sync",
		Short:   "Rebuild the index, then sync changes until interrupted",
		Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Drop and reload the works, genres and persons collections
  2. Set every watermark to the rebuild start time
  3. Poll work, genre and person for rows modified after their watermark
  4. Index the affected documents and advance the watermarks

Use --skip-rebuild to resume from the stored watermarks instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			p, err := openPipeline(ctx, a.cfg, opts)
			if err != nil {
				return err
			}
			defer p.Close()

			p.logger.Printf("Syncing every %s (batch size %d), press Ctrl+C to stop", a.cfg.Poll.Interval, a.cfg.Poll.BatchSize)
			if err := p.daemon.Start(ctx); err != nil {
				return err
			}
			p.logger.Println("Shut down cleanly")
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.skipRebuild, "skip-rebuild", false, "resume from stored watermarks without a full rebuild")
	cmd.Flags().IntVarP(&opts.dashboardPort, "dashboard-port", "p", 0, "serve the websocket dashboard on this port (overrides ETL_DASHBOARD_PORT)")
	return cmd
}

func (a *app) rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rebuild",
		GroupID: "sync",
		Short:   "Drop and reload every collection once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			p, err := openPipeline(ctx, a.cfg, pipelineOptions{})
			if err != nil {
				return err
			}
			defer p.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Rebuilding works, genres and persons...\n", ui.RenderAccent("↻"))
			ev, err := p.daemon.Rebuild(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s Rebuild complete in %v\n", ui.RenderPass("✓"), ev.Duration.Round(time.Millisecond))
			for _, collection := range catalog.Collections() {
				total, err := p.index.Count(ctx, collection)
				if err != nil {
					fmt.Fprintf(out, "   %s: %d written %s\n", collection, ev.Documents[collection], ui.RenderWarn("(count unavailable)"))
					continue
				}
				fmt.Fprintf(out, "   %s: %d written, %d in index\n", collection, ev.Documents[collection], total)
			}
			fmt.Fprintf(out, "   Watermark: %s\n", watermark.Format(ev.Watermark))
			return nil
		},
	}
}

func (a *app) pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "poll",
		GroupID: "sync",
		Short:   "Run a single incremental pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			p, err := openPipeline(ctx, a.cfg, pipelineOptions{skipRebuild: true})
			if err != nil {
				return err
			}
			defer p.Close()

			ev, err := p.daemon.PollOnce(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Poll complete in %v\n", ui.RenderPass("✓"), ev.Duration.Round(time.Millisecond))
			for _, table := range catalog.WatchedTables() {
				fmt.Fprintf(out, "   %s: %d changed\n", table, ev.Changes[table])
			}
			for _, table := range ev.Skipped {
				fmt.Fprintf(out, "   %s %s skipped, will retry next pass\n", ui.RenderWarn("⚠"), table)
			}
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: "state",
		Short:   "Show per-table watermarks",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := watermark.Open(a.cfg.State.Backend, a.cfg.State.Path, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			all, err := store.All()
			if err != nil {
				return err
			}
			rows := make([]ui.WatermarkRow, 0, len(all))
			for _, table := range catalog.WatchedTables() {
				rows = append(rows, ui.WatermarkRow{Table: table.String(), At: all[table]})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "State: %s (%s)\n\n", a.cfg.State.Path, a.cfg.State.Backend)
			fmt.Fprint(out, ui.RenderWatermarks(rows, time.Now()))
			return nil
		},
	}
}

func (a *app) resetWatermarkCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "reset-watermark <table>...",
		GroupID: "state",
		Short:   "Forget watermarks so the next poll rescans those tables",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tables := make([]catalog.Table, 0, len(args))
			for _, arg := range args {
				table, err := catalog.ParseTable(arg)
				if err != nil {
					return err
				}
				tables = append(tables, table)
			}

			store, err := watermark.Open(a.cfg.State.Backend, a.cfg.State.Path, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, table := range tables {
				if err := store.Delete(table); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Reset %s\n", ui.RenderPass("✓"), table)
			}
			return nil
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
