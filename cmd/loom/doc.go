// Package main hosts the Loom CLI entrypoint and command graph.
//
// The Cobra-based command tree opens the engine's store directly for
// asset inspection, routing, permission checks, and configuration
// scaffolding. It centralizes configuration resolution so subcommands
// focus on presentation.
//
// Keep this package lean: add new functionality by extending the
// internal packages first, then surface it through dedicated commands
// or flags here.
package main
