// Command cloudarb runs the pricing aggregator, optimization engine,
// arbitrage detector, and HTTP API as one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cloudarb/cloudarb/internal/aggregator"
	"github.com/cloudarb/cloudarb/internal/apiserver"
	"github.com/cloudarb/cloudarb/internal/arbitrage"
	"github.com/cloudarb/cloudarb/internal/config"
	"github.com/cloudarb/cloudarb/internal/engine"
	"github.com/cloudarb/cloudarb/internal/forecast"
	"github.com/cloudarb/cloudarb/internal/provider/registry"
	"github.com/cloudarb/cloudarb/internal/store"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
		noDB       = flag.Bool("no-db", false, "run without the SQLite store (no catalog overlay, no history)")
	)
	flag.Parse()

	setupLogging(*logLevel)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("validating config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, *noDB); err != nil {
		slog.Error("cloudarb exited", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadFromFile(path)
}

func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func run(cfg *config.Config, noDB bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *store.DB
	if !noDB {
		var err error
		db, err = store.Open(store.Config{
			Path:          cfg.Database.Path,
			RetentionDays: cfg.Database.RetentionDays,
		})
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer db.Close()
	}

	rawDB := db.RawOrNil()
	catalog := store.NewCatalog(rawDB)
	history := store.NewHistory(rawDB)

	adapters := registry.BuildAdapters(ctx, cfg.Adapters, catalog)
	if len(adapters) == 0 {
		return fmt.Errorf("no provider adapters enabled")
	}
	slog.Info("adapters ready", "count", len(adapters))

	agg := aggregator.New(cfg.Aggregator, adapters, history)

	var fc forecast.Source = forecast.Static{}
	if cfg.Forecast.Enabled {
		fc = forecast.NewHTTPSource(cfg.Forecast.URL, cfg.Forecast.Timeout)
	}

	detector := arbitrage.New(cfg.Arbitrage, agg, history, fc)

	eng, err := engine.New(cfg.Solver, agg, catalog)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	go agg.Run(ctx)
	go detector.Run(ctx)

	// Scheduled maintenance: nightly history sweep, hourly catalog refresh.
	sched := cron.New()
	if db != nil {
		sched.AddFunc("0 3 * * *", func() {
			if err := db.Cleanup(); err != nil {
				slog.Warn("scheduled history sweep failed", "error", err)
			}
		})
		sched.AddFunc("@hourly", func() {
			if err := catalog.Reload(); err != nil {
				slog.Warn("scheduled catalog reload failed", "error", err)
			}
		})
	}
	sched.Start()
	defer sched.Stop()

	// SIGHUP reloads the catalog and lifts quarantines, covering credential
	// rotation without a restart.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			slog.Info("SIGHUP: reloading catalog and lifting quarantines")
			if err := catalog.Reload(); err != nil {
				slog.Warn("catalog reload failed", "error", err)
			}
			for _, p := range pricing.AllProviders {
				agg.Unquarantine(p)
			}
		}
	}()

	if !cfg.APIServer.Enabled {
		slog.Info("api server disabled, running headless")
		<-ctx.Done()
		return nil
	}

	srv := apiserver.New(cfg.APIServer, eng, detector, agg)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api server shutdown", "error", err)
	}
	slog.Info("cloudarb stopped")
	return nil
}
