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
)

const defaultConfigPath = "configs/production.yaml"

type cliConfig struct {
	configPath string
	runFor     time.Duration
	source     string
}

func main() {
	if err := run(); err != nil {
		slog.Error("Matcher failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()

	appConfig, err := pkgconfig.Load(cfg.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.Setup(&appConfig.Logging, "matcher")
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	logger.Info("Config loaded", "path", cfg.configPath, "reference", appConfig.Reference)

	mappings, err := matching.NewMappings(appConfig.Matcher.MappingsDir, appConfig.Reference)
	if err != nil {
		return fmt.Errorf("failed to load mappings: %w", err)
	}

	sources := appConfig.EnabledSources()
	if cfg.source != "" {
		if _, ok := appConfig.Sources[cfg.source]; !ok {
			return fmt.Errorf("unknown source %q (configured: %v)", cfg.source, sources)
		}
		sources = []string{cfg.source}
	}
	if len(sources) == 0 {
		return fmt.Errorf("no enabled sources to match against")
	}

	store := analyzer.NewOddsStore(nil)
	notifier := matching.NewNotifier(appConfig.Telegram.BotToken, appConfig.Telegram.ChatID)
	service := matching.NewService(appConfig.Matcher, appConfig.Reference, sources, store, mappings, notifier, logger)

	ctx, cancel := createContext(cfg.runFor)
	defer cancel()
	setupSignalHandler(cancel)

	var wg sync.WaitGroup

	feeds := append([]string{appConfig.Reference}, sources...)
	for _, source := range feeds {
		src, ok := appConfig.Sources[source]
		if !ok || src.URL == "" {
			logger.Warn("Source has no feed URL, skipping", "source", source)
			continue
		}
		client := feed.NewClient(source, src.URL, store, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		service.Run(ctx)
	}()

	wg.Wait()
	logger.Info("Matcher stopped")
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
	flag.StringVar(&cfg.source, "source", "", "Match only this source. Empty = all enabled sources")
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
