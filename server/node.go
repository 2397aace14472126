package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/INLOpen/tablesnap/catalog"
	"github.com/INLOpen/tablesnap/config"
	"github.com/INLOpen/tablesnap/hooks"
	"github.com/INLOpen/tablesnap/hooks/listeners"
	"github.com/INLOpen/tablesnap/snapshot"
	"github.com/INLOpen/tablesnap/utils/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// NodeOptions overrides the collaborators a Node builds by default.
type NodeOptions struct {
	Fs     afero.Fs
	Clock  clock.Clock
	Tracer trace.Tracer
	// DiskUsage feeds the disk guard listener. Nil means disk.Usage.
	DiskUsage listeners.UsageFunc
}

// Node wires the catalog, the snapshot manager, hook listeners, the
// expiration scheduler and the metrics endpoint for one set of data roots.
type Node struct {
	cfg     *config.Config
	snapCfg config.ResolvedSnapshotConfig
	logger  *slog.Logger

	Catalog   *catalog.Catalog
	Manager   *snapshot.Manager
	Hooks     hooks.HookManager
	Scheduler *snapshot.ExpirationScheduler
	Metrics   *prometheus.Registry

	metricsServer *MetricsServer
}

// CatalogPath returns where the catalog of cfg is persisted.
func CatalogPath(cfg *config.Config) string {
	p := cfg.Engine.CatalogFile
	if p == "" || filepath.IsAbs(p) || len(cfg.Engine.DataDirs) == 0 {
		return p
	}
	return filepath.Join(cfg.Engine.DataDirs[0], p)
}

// NewNode builds a Node from configuration. Nothing runs until Open and Start.
func NewNode(cfg *config.Config, logger *slog.Logger, opts NodeOptions) (*Node, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Clock == nil {
		opts.Clock = clock.SystemClockDefault
	}
	if len(cfg.Engine.DataDirs) == 0 {
		return nil, fmt.Errorf("no data directories configured")
	}

	snapCfg, err := cfg.Snapshot.Resolve()
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot config: %w", err)
	}

	for _, dir := range cfg.Engine.DataDirs {
		if err := opts.Fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	cat, err := catalog.Open(catalog.Options{
		Fs:       opts.Fs,
		DataDirs: cfg.Engine.DataDirs,
		Path:     CatalogPath(cfg),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	hookManager := hooks.NewHookManager(logger)
	audit := listeners.NewAuditListener(logger)
	for _, ev := range audit.Events() {
		hookManager.Register(ev, audit)
	}
	if snapCfg.MaxDiskUsedPercent > 0 {
		hookManager.Register(hooks.EventPreCreateSnapshot,
			listeners.NewDiskGuardListener(snapCfg.MaxDiskUsedPercent, opts.DiskUsage, logger))
	}

	manager := snapshot.NewManager(snapshot.Options{
		Layout:        snapshot.NewLayout(opts.Fs, cfg.Engine.DataDirs),
		Tables:        cat,
		Registry:      snapshot.NewRegistry(snapshot.TagPolicyFor(snapCfg.CaseInsensitiveTags)),
		Clock:         opts.Clock,
		Logger:        logger,
		Tracer:        opts.Tracer,
		Hooks:         hookManager,
		MinAllowedTTL: snapCfg.MinAllowedTTL,
	})
	cat.SetHook(snapshot.NewAutoSnapshotter(manager, snapCfg.AutoSnapshot, snapCfg.AutoSnapshotTTL))

	reg := prometheus.NewRegistry()
	reg.MustRegister(snapshot.Collectors()...)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	n := &Node{
		cfg:       cfg,
		snapCfg:   snapCfg,
		logger:    logger.With("component", "Node"),
		Catalog:   cat,
		Manager:   manager,
		Hooks:     hookManager,
		Scheduler: snapshot.NewExpirationScheduler(manager, opts.Clock, snapCfg.CleanupInitialDelay, snapCfg.CleanupPeriod, logger),
		Metrics:   reg,
	}
	if cfg.Metrics.Enabled {
		n.metricsServer = NewMetricsServer(cfg.Metrics.ListenAddress, reg, logger)
	}
	return n, nil
}

// Open rebuilds the snapshot registry from the data roots.
func (n *Node) Open(ctx context.Context) (snapshot.ScanResult, error) {
	res, err := n.Manager.Rebuild(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to rebuild snapshot registry: %w", err)
	}
	return res, nil
}

// Run clears ephemeral snapshots, then runs the expiration scheduler and
// the metrics endpoint until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	cleared, err := n.Manager.ClearEphemeral(ctx)
	if err != nil {
		n.logger.Warn("Some ephemeral snapshots could not be cleared", "cleared", cleared, "error", err)
	} else if cleared > 0 {
		n.logger.Info("Cleared ephemeral snapshots", "count", cleared)
	}

	n.Scheduler.Start()
	defer n.Scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if n.metricsServer != nil {
		g.Go(n.metricsServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			n.metricsServer.Stop()
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err = g.Wait()
	n.Hooks.Stop()
	return err
}

// Close waits for asynchronous hook listeners.
func (n *Node) Close() {
	n.Hooks.Stop()
}
