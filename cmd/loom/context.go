package main

import (
	"strings"
	"sync"

	"loom/internal/config"
	"loom/internal/files"
	"loom/internal/logging"
	"loom/internal/notify"
	"loom/internal/store"
	"loom/internal/workflow"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStore opens the store for the duration of one command.
func (c *commandContext) withStore(fn func(*config.Config, *store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, st)
}

// withManager additionally wires the workflow manager for commands
// that move assets.
func (c *commandContext) withManager(fn func(*config.Config, *store.Store, *workflow.Manager) error) error {
	return c.withStore(func(cfg *config.Config, st *store.Store) error {
		fs, err := files.NewStore(cfg.Paths.StorageDir)
		if err != nil {
			return err
		}
		logger, err := logging.New(logging.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		})
		if err != nil {
			return err
		}
		m := workflow.NewManagerWithNotifier(cfg, st, fs, logger, notify.NewService(cfg))
		return fn(cfg, st, m)
	})
}
