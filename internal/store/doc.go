// Package store persists the workflow graph, assets, transition
// history and permission rules in SQLite. The schema is embedded and
// applied on open; busy errors from concurrent writers are retried
// with backoff.
package store
