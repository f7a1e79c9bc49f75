// Package workflow drives the routing engine. The manager serializes
// transition chains per asset, runs the background conversion lane,
// and periodically flushes routes so assets whose requirements have
// become satisfiable move on without an explicit save.
package workflow
