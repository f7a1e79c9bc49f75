package daemon

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"loom/internal/config"
	"loom/internal/files"
	"loom/internal/logging"
	"loom/internal/store"
	"loom/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run wires the full engine and blocks until the context is canceled
// or a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", cfg.LogFilePath()},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	fs, err := files.NewStore(cfg.Paths.StorageDir)
	if err != nil {
		st.Close()
		return fmt.Errorf("open file storage: %w", err)
	}

	manager := workflow.NewManager(cfg, st, fs, logger)
	d, err := New(cfg, st, logger, manager)
	if err != nil {
		st.Close()
		return err
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	logger.Info("shutdown signal received")
	d.Stop()
	return nil
}
