package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Config controls the process-wide slog setup.
type Config struct {
	Level  string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR (default INFO)
	Format string `yaml:"format"` // "text" or "json" (default text)
}

// Setup configures the default slog logger for the given service and returns
// it. Every log line carries the service name.
func Setup(cfg *Config, service string) (*slog.Logger, error) {
	level := slog.LevelInfo
	if cfg != nil && cfg.Level != "" {
		switch strings.ToUpper(cfg.Level) {
		case "DEBUG":
			level = slog.LevelDebug
		case "INFO":
			level = slog.LevelInfo
		case "WARN", "WARNING":
			level = slog.LevelWarn
		case "ERROR":
			level = slog.LevelError
		default:
			return nil, fmt.Errorf("unknown log level: %s", cfg.Level)
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg != nil && strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	return logger, nil
}
