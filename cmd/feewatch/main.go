// Command feewatch monitors municipal fee-schedule documents.
//
// Usage:
//
//	feewatch -config feewatch.yaml              # run one batch over all targets
//	feewatch -config feewatch.yaml -city Dublin # run a single jurisdiction
//	feewatch -config feewatch.yaml -serve       # batch, then keep the status API up
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/civicsignal/feewatch"
)

func main() {
	configPath := flag.String("config", "feewatch.yaml", "path to feewatch.yaml config file")
	city := flag.String("city", "", "run a single jurisdiction and exit")
	serve := flag.Bool("serve", false, "keep the status API running after the batch")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *city, *serve); err != nil {
		logger.Error("feewatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, city string, serve bool) error {
	cfg, err := feewatch.LoadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := ensureDirs(cfg); err != nil {
		return err
	}

	m, err := feewatch.New(ctx, cfg, feewatch.WithLogger(logger))
	if err != nil {
		return err
	}

	if city != "" {
		result, events, err := m.RunCity(ctx, city)
		if err != nil {
			return err
		}
		logger.Info("run complete", "city", result.City, "fingerprint", result.Fingerprint)
		if digest := feewatch.RenderDigest(events); digest != "" {
			fmt.Print(digest)
		}
		return nil
	}

	snap, err := m.RunBatch(ctx)
	if err != nil {
		return err
	}
	if digest := feewatch.RenderDigest(snap.Summary.Changes); digest != "" {
		fmt.Print(digest)
	}

	if serve && cfg.Listen != "" {
		srv := &http.Server{Addr: cfg.Listen, Handler: m.Routes()}
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		logger.Info("status api listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
	}
	return nil
}

// ensureDirs creates the data directories the monitor writes into.
func ensureDirs(cfg *feewatch.Config) error {
	for _, dir := range []string{filepath.Dir(cfg.HistoryFile), cfg.SnapshotDir, cfg.DocumentDir} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	if cfg.AuditDB != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.AuditDB), 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", filepath.Dir(cfg.AuditDB), err)
		}
	}
	return nil
}
