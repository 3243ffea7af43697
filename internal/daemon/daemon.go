package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/filmindex/catalog-etl/internal/index"
	"github.com/filmindex/catalog-etl/internal/metrics"
	"github.com/filmindex/catalog-etl/internal/retry"
	"github.com/filmindex/catalog-etl/internal/source"
	"github.com/filmindex/catalog-etl/internal/sync"
	"github.com/filmindex/catalog-etl/internal/watermark"
)

// Config holds configuration for the daemon.
type Config struct {
	// PollInterval is the idle delay between poll passes
	PollInterval time.Duration

	// BatchSize is the page size for change reads and rebuild pages
	BatchSize int

	// WatermarkMargin is added to the newest modified stamp of a batch
	WatermarkMargin time.Duration

	// SkipRebuild starts polling without a full rebuild
	SkipRebuild bool

	// Retry is the relational retry policy; nil means RetryPolicy(Logger)
	Retry *retry.Policy

	// Observer receives pipeline events; nil means none
	Observer sync.Observer

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:    2 * time.Second,
		BatchSize:       100,
		WatermarkMargin: 2 * time.Second,
		Logger:          log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	def := DefaultConfig()
	if out.PollInterval <= 0 {
		out.PollInterval = def.PollInterval
	}
	if out.BatchSize <= 0 {
		out.BatchSize = def.BatchSize
	}
	if out.WatermarkMargin <= 0 {
		out.WatermarkMargin = def.WatermarkMargin
	}
	if out.Logger == nil {
		out.Logger = def.Logger
	}
	if out.Observer == nil {
		out.Observer = sync.NopObserver{}
	}
	if out.Retry == nil {
		p := RetryPolicy(out.Logger)
		out.Retry = &p
	}
	return &out
}

// RetryPolicy is the default unbounded policy with retries counted in
// etl_retries_total.
func RetryPolicy(logger *log.Logger) retry.Policy {
	p := retry.DefaultPolicy()
	if logger != nil {
		p.Logger = logger
	}
	p.OnRetry = func(target string, err error, wait time.Duration) {
		metrics.Retries.WithLabelValues(target).Inc()
	}
	return p
}

// Daemon orchestrates the rebuild and the poll loop.
type Daemon struct {
	src       source.Source
	config    *Config
	resolver  *sync.Resolver
	rebuilder *sync.Rebuilder
	poller    *Poller
}

// New creates a daemon over an open source, writer and watermark store.
func New(src source.Source, out index.Writer, store watermark.Store, config *Config) (*Daemon, error) {
	if src == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if out == nil {
		return nil, fmt.Errorf("index writer cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("watermark store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	config = config.withDefaults()

	resolver := sync.NewResolver(src, out, sync.Options{
		Policy:   config.Retry,
		Logger:   config.Logger,
		Observer: config.Observer,
	})

	return &Daemon{
		src:       src,
		config:    config,
		resolver:  resolver,
		rebuilder: sync.NewRebuilder(resolver, store, config.BatchSize),
		poller:    newPoller(src, resolver, store, config),
	}, nil
}

// Start runs a full rebuild (unless SkipRebuild is set) and then polls until
// ctx is cancelled. Cancellation is a clean shutdown and returns nil.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if !d.config.SkipRebuild {
		if _, err := d.Rebuild(ctx); err != nil {
			if ctx.Err() != nil {
				d.config.Logger.Println("Shutdown signal received during rebuild")
				return nil
			}
			return fmt.Errorf("initial rebuild failed: %w", err)
		}
	}

	d.config.Logger.Printf("Polling every %s", d.config.PollInterval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.config.Logger.Println("Shutdown signal received")
			return nil

		case <-timer.C:
			if _, err := d.PollOnce(ctx); err != nil && !errors.Is(err, ctx.Err()) {
				d.config.Logger.Printf("Poll failed: %v", err)
			}
			timer.Reset(d.config.PollInterval)
		}
	}
}

// Rebuild drops and reloads every collection.
func (d *Daemon) Rebuild(ctx context.Context) (sync.RebuildEvent, error) {
	return d.rebuilder.Run(ctx)
}

// PollOnce runs a single poll pass.
func (d *Daemon) PollOnce(ctx context.Context) (sync.PollEvent, error) {
	return d.poller.PollOnce(ctx)
}

// Close releases the relational connection.
func (d *Daemon) Close() error {
	return d.src.Close()
}
