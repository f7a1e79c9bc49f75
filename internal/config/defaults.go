package config

const (
	defaultDataDir    = "~/.local/share/loom"
	defaultLogDir     = "~/.local/share/loom/logs"
	defaultStorageDir = "~/.local/share/loom/files"

	defaultMaxTransitionHops = 16
	defaultFlushInterval     = 5
	defaultConvertTimeout    = 300

	defaultRequestTimeout = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns the built-in configuration. Paths keep their ~ prefix
// until normalize expands them.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			StorageDir: defaultStorageDir,
		},
		Notifications: Notifications{
			RequestTimeout: defaultRequestTimeout,
			Email:          true,
			SMS:            true,
			Web:            true,
			OperatorAlerts: true,
		},
		Engine: Engine{
			MaxTransitionHops: defaultMaxTransitionHops,
			FlushInterval:     defaultFlushInterval,
			ConvertTimeout:    defaultConvertTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.StorageDir, err = expandPath(c.Paths.StorageDir); err != nil {
		return err
	}
	return nil
}
