// Package routing moves assets through their routes. The resolver
// evaluates a stage's configured variants against an asset's payload,
// the executor commits transitions and drives multi-hop automatic
// chains, and the assigner picks operators when an asset arrives at a
// manned station.
package routing
