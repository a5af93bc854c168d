package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/defistate/defistate-stableswap-go/api"
	"github.com/defistate/defistate-stableswap-go/config"
	"github.com/defistate/defistate-stableswap-go/engine"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
	"github.com/defistate/defistate-stableswap-go/storage"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// loadDaemon resolves the daemon settings of cmd and builds its logger.
func loadDaemon(cmd *cobra.Command) (config.Daemon, *slog.Logger, func(), error) {
	cfgFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Daemon{}, nil, nil, err
	}
	cfg, err := config.LoadDaemon(cfgFile, cmd.Flags())
	if err != nil {
		return config.Daemon{}, nil, nil, err
	}
	logger, closer, err := newLogger(cfg)
	if err != nil {
		return config.Daemon{}, nil, nil, err
	}
	return cfg, logger, func() { _ = closer.Close() }, nil
}

// openStore opens the SQLite store at path, or a store that keeps nothing
// when path is empty.
func openStore(path string, logger *slog.Logger) (storage.Store, error) {
	if path == "" {
		return storage.NewNoopStore(), nil
	}
	return storage.NewSQLiteStore(path, logger.With("component", "storage"))
}

// loadCheckpoint reads the stored pools and account ledger.
func loadCheckpoint(ctx context.Context, store storage.Store) ([]stableswap.Pool, *engine.Ledger, error) {
	pools, err := store.LoadPools(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load snapshots: %w", err)
	}
	ledger, err := store.LoadLedger(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load ledger: %w", err)
	}
	return pools, ledger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, closeLog, err := loadDaemon(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	file, err := config.Load(cfg.PoolsFile)
	if err != nil {
		return err
	}
	store, err := openStore(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	restored, ledger, err := loadCheckpoint(ctx, store)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	clock := &engine.SystemClock{}
	n, err := buildNode(file, restored, ledger, clock, registry, logger)
	if err != nil {
		return err
	}

	svc, err := api.NewService(api.Config{Engines: n.engines, Logger: logger.With("component", "rpc")})
	if err != nil {
		return err
	}
	streamer, err := api.NewStreamer(api.StreamerConfig{
		Engines:  n.engines,
		Interval: cfg.StreamInterval,
		Logger:   logger.With("component", "stream"),
	})
	if err != nil {
		return err
	}
	rpcServer := rpc.NewServer()
	if err := api.Register(rpcServer, svc, streamer); err != nil {
		return err
	}

	job := newSnapshotJob(n.engines, n.settler, store, clock, restored, logger.With("component", "snapshot"))
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SnapshotCron, func() {
		if err := job.Run(ctx); err != nil {
			logger.Error("Snapshot failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("%w: snapshot-cron %q: %v", config.ErrInvalidConfig, cfg.SnapshotCron, err)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	rpcHTTP := &http.Server{Addr: cfg.RPCAddr, Handler: rpcHandler(rpcServer), ReadHeaderTimeout: 10 * time.Second}
	metricsHTTP := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen(rpcHTTP) })
	g.Go(func() error { return listen(metricsHTTP) })
	g.Go(func() error { return streamer.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		<-scheduler.Stop().Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		rpcServer.Stop()
		err := errors.Join(rpcHTTP.Shutdown(shutdownCtx), metricsHTTP.Shutdown(shutdownCtx))
		if snapErr := job.Run(shutdownCtx); snapErr != nil {
			err = errors.Join(err, fmt.Errorf("final snapshot: %w", snapErr))
		}
		return err
	})

	scheduler.Start()
	logger.Info("stableswapd started",
		"pools", svc.Pools(),
		"rpc", cfg.RPCAddr,
		"metrics", cfg.MetricsAddr,
		"db", cfg.DBPath,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// rpcHandler serves websocket upgrades and plain HTTP JSON-RPC on one
// address. Subscriptions need the websocket transport.
func rpcHandler(server *rpc.Server) http.Handler {
	ws := server.WebsocketHandler([]string{"*"})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			ws.ServeHTTP(w, r)
			return
		}
		server.ServeHTTP(w, r)
	})
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	return nil
}
