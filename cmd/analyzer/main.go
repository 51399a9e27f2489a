package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Vodeneev/valueradar/internal/analyzer"
	"github.com/Vodeneev/valueradar/internal/feed"
	"github.com/Vodeneev/valueradar/internal/matching"
	pkgconfig "github.com/Vodeneev/valueradar/internal/pkg/config"
	"github.com/Vodeneev/valueradar/internal/pkg/logging"
	"github.com/Vodeneev/valueradar/internal/pkg/storage"
	"github.com/Vodeneev/valueradar/internal/server"
)

const defaultConfigPath = "configs/production.yaml"

type cliConfig struct {
	configPath string
	runFor     time.Duration
}

func main() {
	if err := run(); err != nil {
		slog.Error("Analyzer failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()

	appConfig, err := pkgconfig.Load(cfg.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.Setup(&appConfig.Logging, "analyzer")
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	logger.Info("Config loaded", "path", cfg.configPath, "reference", appConfig.Reference)

	mappings, err := matching.NewMappings(appConfig.Matcher.MappingsDir, appConfig.Reference)
	if err != nil {
		return fmt.Errorf("failed to load mappings: %w", err)
	}

	finder := matching.NewMatchFinder(mappings, appConfig.Matcher.RefreshInterval)
	a := analyzer.NewAnalyzer(appConfig.Analyzer, appConfig.Reference, finder, logger)

	hub := server.NewHub(logger)

	var cache *storage.SnapshotCache
	if appConfig.Redis.Addr != "" {
		cache, err = storage.NewSnapshotCache(&appConfig.Redis)
		if err != nil {
			logger.Error("Redis unavailable, snapshots disabled", "error", err)
			cache = nil
		}
	}

	var history *storage.ValueHistory
	if appConfig.Postgres.DSN != "" {
		history, err = storage.NewValueHistory(&appConfig.Postgres)
		if err != nil {
			logger.Error("Postgres unavailable, value history disabled", "error", err)
			history = nil
		} else {
			defer history.Close()
		}
	}

	broadcaster := server.NewBroadcaster(a, hub, cache, history, logger)

	ctx, cancel := createContext(cfg.runFor)
	defer cancel()
	setupSignalHandler(cancel)

	var wg sync.WaitGroup

	sources := append([]string{appConfig.Reference}, appConfig.EnabledSources()...)
	for _, source := range sources {
		src, ok := appConfig.Sources[source]
		if !ok || src.URL == "" {
			logger.Warn("Source has no feed URL, skipping", "source", source)
			continue
		}
		client := feed.NewClient(source, src.URL, a.Store(), logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.Run(ctx)
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		broadcaster.Run(ctx)
	}()

	err = hub.Serve(ctx, appConfig.Server.Addr)
	wg.Wait()
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Analyzer stopped")
	return nil
}

func parseFlags() cliConfig {
	var cfg cliConfig

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = defaultConfigPath
	}

	flag.StringVar(&cfg.configPath, "config", defaultConfig, "Path to config file (can be set via CONFIG_PATH env var)")
	flag.DurationVar(&cfg.runFor, "run-for", 0, "Auto-stop after duration (e.g. 10s, 1m). 0 = run until SIGINT/SIGTERM")
	flag.Parse()
	return cfg
}

func createContext(runFor time.Duration) (context.Context, context.CancelFunc) {
	if runFor > 0 {
		return context.WithTimeout(context.Background(), runFor)
	}
	return context.WithCancel(context.Background())
}

func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()
}
