// Package rules implements the declarative requirement language that
// gates route variants. A requirement names one or more payload
// fields and a comparison; the evaluator checks it against an asset's
// payload without side effects.
package rules
