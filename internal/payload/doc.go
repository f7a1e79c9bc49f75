// Package payload models asset payload data and the directive
// language routes use to mutate it.
//
// A payload is a map from field names to value lists. Route variants
// carry ordered directive strings ("+status=open", "draft->final",
// "counter#INCREASE") that the Mutator applies when an asset moves.
// Directives never abort a transition; anything that cannot be applied
// is reported through a DiagnosticSink instead.
package payload
