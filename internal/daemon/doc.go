// Package daemon ties the engine's background services together and
// enforces single-instance execution through a file lock.
package daemon
