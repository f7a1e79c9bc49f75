// Package config loads and validates loom's TOML configuration.
//
// Configuration is resolved from an explicit path when given, falling
// back to ~/.config/loom/config.toml. Missing files are not an error;
// built-in defaults apply and Load reports whether a file was found so
// callers can tell the user.
package config
