// Package asset defines the entities routed through loom: assets,
// their types, routes, stations, stages, and the audit records and
// metadata that travel with them.
package asset
