package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nhle/taskmaster/internal/model"
)

// newLogger builds the process logger from the log config section.
func newLogger(cfg model.LogConfig) (*log.Logger, error) {
	logger := log.New()
	logger.SetOutput(os.Stderr)

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return logger, nil
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dir, err)
	}
	return nil
}

func reportInterval(cfg model.ReportConfig) time.Duration {
	return time.Duration(cfg.IntervalHours) * time.Hour
}

func reportWindow(cfg model.ReportConfig) time.Duration {
	return time.Duration(cfg.WindowDays) * 24 * time.Hour
}
