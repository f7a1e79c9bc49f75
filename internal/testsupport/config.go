package testsupport

import (
	"path/filepath"
	"testing"

	"loom/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per
// test and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.StorageDir = filepath.Join(base, "storage")

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithGateway points the notification gateway at a test server.
func WithGateway(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Notifications.GatewayURL = url
		cfg.Notifications.Email = true
		cfg.Notifications.SMS = true
		cfg.Notifications.Web = true
	}
}

// WithMaxHops overrides the transition hop bound.
func WithMaxHops(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Engine.MaxTransitionHops = n
	}
}
