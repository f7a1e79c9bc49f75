package config

import (
	"fmt"
	"net/url"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"console": true,
	"json":    true,
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StorageDir) == "" {
		problems = append(problems, "paths.storage_dir must be set")
	}

	if c.Engine.MaxTransitionHops < 1 {
		problems = append(problems, "engine.max_transition_hops must be at least 1")
	}
	if c.Engine.FlushInterval < 1 {
		problems = append(problems, "engine.flush_interval must be at least 1 second")
	}
	if c.Engine.ConvertTimeout < 1 {
		problems = append(problems, "engine.convert_timeout must be at least 1 second")
	}

	if c.Notifications.RequestTimeout < 1 {
		problems = append(problems, "notifications.request_timeout must be at least 1 second")
	}
	if gw := strings.TrimSpace(c.Notifications.GatewayURL); gw != "" {
		if u, err := url.Parse(gw); err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("notifications.gateway_url %q is not a valid URL", gw))
		}
	}

	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		problems = append(problems, fmt.Sprintf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level))
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		problems = append(problems, fmt.Sprintf("logging.format %q must be console or json", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
