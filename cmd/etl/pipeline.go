package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/filmindex/catalog-etl/internal/config"
	"github.com/filmindex/catalog-etl/internal/daemon"
	"github.com/filmindex/catalog-etl/internal/dashboard"
	"github.com/filmindex/catalog-etl/internal/index"
	"github.com/filmindex/catalog-etl/internal/metrics"
	"github.com/filmindex/catalog-etl/internal/source"
	"github.com/filmindex/catalog-etl/internal/sync"
	"github.com/filmindex/catalog-etl/internal/watermark"
)

// pipeline owns every resource a sync command opens.
type pipeline struct {
	logging   *config.Logging
	logger    *log.Logger
	store     watermark.Store
	watcher   *watermark.Watcher
	index     *index.Elastic
	daemon    *daemon.Daemon
	dashboard *dashboard.Server
}

type pipelineOptions struct {
	skipRebuild   bool
	dashboardPort int
}

// openPipeline connects to both stores, retrying until ctx is done.
func openPipeline(ctx context.Context, cfg *config.Config, opts pipelineOptions) (*pipeline, error) {
	logging := config.NewLogging(cfg.Log)
	p := &pipeline{logging: logging, logger: logging.Logger("etl")}
	fail := func(err error) (*pipeline, error) {
		p.Close()
		return nil, err
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fail(fmt.Errorf("failed to register metrics: %w", err))
	}

	store, err := watermark.Open(cfg.State.Backend, cfg.State.Path, logging.Logger("watermark"))
	if err != nil {
		return fail(fmt.Errorf("failed to open watermark store: %w", err))
	}
	p.store = store
	if fs, ok := store.(*watermark.FileStore); ok {
		// Operators may edit the state file by hand while the daemon runs.
		watcher, err := watermark.NewWatcher(fs, logging.Logger("watermark"))
		if err != nil {
			return fail(err)
		}
		p.watcher = watcher
		if err := watcher.Start(); err != nil {
			return fail(err)
		}
	}

	policy := daemon.RetryPolicy(logging.Logger("retry"))

	var src *source.Postgres
	err = policy.Do(ctx, "postgres", func() error {
		var openErr error
		src, openErr = source.Open(ctx, cfg.Source(), logging.Logger("source"))
		return openErr
	})
	if err != nil {
		return fail(fmt.Errorf("failed to connect to postgres: %w", err))
	}

	out, err := index.NewElastic(ctx, cfg.ElasticURL(), policy, logging.Logger("index"))
	if err != nil {
		src.Close()
		return fail(fmt.Errorf("failed to connect to elasticsearch: %w", err))
	}
	p.index = out

	var observer sync.Observer = sync.NopObserver{}
	port := opts.dashboardPort
	if port == 0 {
		port = cfg.Dashboard.Port
	}
	if port > 0 {
		p.dashboard = dashboard.NewServer(dashboard.Config{
			Host:     cfg.Dashboard.Host,
			Port:     port,
			Gatherer: prometheus.DefaultGatherer,
			Logger:   logging.Logger("dashboard"),
		})
		if err := p.dashboard.Start(); err != nil {
			src.Close()
			return fail(fmt.Errorf("failed to start dashboard: %w", err))
		}
		observer = dashboard.NewHandler(p.dashboard, logging.Logger("dashboard"))
	}

	d, err := daemon.New(src, out, p.store, &daemon.Config{
		PollInterval: cfg.Poll.Interval,
		BatchSize:    cfg.Poll.BatchSize,
		SkipRebuild:  opts.skipRebuild,
		Retry:        &policy,
		Observer:     observer,
		Logger:       logging.Logger("daemon"),
	})
	if err != nil {
		src.Close()
		return fail(err)
	}
	p.daemon = d
	return p, nil
}

// Close releases resources in reverse order of acquisition.
func (p *pipeline) Close() error {
	var errs []error
	if p.daemon != nil {
		errs = append(errs, p.daemon.Close())
	}
	if p.dashboard != nil {
		errs = append(errs, p.dashboard.Stop())
	}
	if p.watcher != nil {
		errs = append(errs, p.watcher.Stop())
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	errs = append(errs, p.logging.Close())
	return errors.Join(errs...)
}
