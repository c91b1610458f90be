package main

import (
	"context"
	_ "embed"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"lecca.io/mind-watchtower/internal/api"
	"lecca.io/mind-watchtower/internal/chain"
	"lecca.io/mind-watchtower/internal/config"
	"lecca.io/mind-watchtower/internal/logger"
	"lecca.io/mind-watchtower/internal/metrics"
	"lecca.io/mind-watchtower/internal/names"
	"lecca.io/mind-watchtower/internal/refresh"
	"lecca.io/mind-watchtower/internal/rpc"
	"lecca.io/mind-watchtower/internal/snapshot"
	"lecca.io/mind-watchtower/internal/window"
	"lecca.io/mind-watchtower/internal/ws"
)

//go:embed config.example.yml
var configExample []byte

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		logger.Error("INIT", "Failed to parse flags: %v", err)
		os.Exit(2)
	}

	created, err := ensureDefaultConfig(opts.configPath, configExample)
	if err != nil {
		logger.Error("INIT", "Failed to ensure default config: %v", err)
		os.Exit(1)
	}
	if created {
		logger.Warn("INIT", "Wrote example config to %s, edit it and restart", opts.configPath)
	}

	logger.Info("INIT", "Loading config from %s...", opts.configPath)
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Error("INIT", "Failed to load config: %v", err)
		os.Exit(1)
	}
	applyDataDirDefaults(cfg, opts.dataDir)
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	logger.Init(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Stderr: cfg.Logging.Stderr,
	})
	logger.Info("INIT", "Config loaded. ChainID: %s, Nodes: %d", cfg.Chain.ChainID, len(cfg.Chain.Nodes))

	if err := run(cfg); err != nil {
		logger.Error("SYS", "Watchtower stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("SYS", "Shutdown complete")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("INIT", "Opening name store at %s...", cfg.Names.Path)
	store, err := names.Open(cfg.Names.Path, cfg.Names.Sync)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("SYS", "Failed to close name store: %v", err)
		} else {
			logger.Info("SYS", "Name store closed")
		}
	}()

	logger.Info("INIT", "Initializing RPC Node Manager...")
	nodeMgr := rpc.NewManager(cfg.Chain.Nodes, cfg.Advanced)
	nodeMgr.Start(ctx)

	reader, err := chain.NewReader(nodeMgr, cfg.Chain)
	if err != nil {
		return err
	}

	cache := snapshot.New()
	win := window.NewRollingWindow(config.ParseDuration(cfg.Refresh.Window))
	pipeline := refresh.NewPipeline(reader, store, cache, refresh.OptionsFromConfig(cfg.Refresh))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exporter := metrics.NewExporter(registry, cfg.Advanced.Prometheus.MetricsPrefix, cfg.Chain.ChainID, nodeMgr, win)
	exporter.Start(ctx, config.ParseDuration(cfg.Advanced.HealthInterval))

	server := api.NewServer(cfg.API, api.Deps{
		Snapshot: cache,
		Names:    store,
		Chain:    reader,
		Pipeline: pipeline,
		Window:   win,
		Nodes:    nodeMgr,
		Gatherer: registry,
	})

	blockCh := make(chan *types.Header, 100)
	scheduler := refresh.NewScheduler(pipeline, blockCh)
	scheduler.OnCycle(func(res refresh.CycleResult) {
		win.Add(res.OK(), res.Started, res.Height)
		exporter.ObserveCycle(res)
		if res.OK() && res.Published > 0 {
			server.Hub().BroadcastValidators()
		}
	})

	logger.Info("INIT", "Connecting to WebSocket for real-time blocks...")
	listener := ws.NewListener(nodeMgr, blockCh)
	listener.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})
	if port := cfg.Advanced.Prometheus.Port; port > 0 && port != cfg.API.Port {
		g.Go(func() error {
			return metrics.Serve(gctx, port, registry)
		})
	}

	logger.Info("SYS", "MIND Watchtower started... (ChainID: %s)", cfg.Chain.ChainID)

	err = g.Wait()
	logger.Info("SYS", "Shutting down gracefully...")

	// Let in-flight websocket reconnects and health checks observe cancellation.
	time.Sleep(500 * time.Millisecond)
	return err
}
