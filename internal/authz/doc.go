// Package authz decides whether a requester may perform an action.
// Permission rules are scoped grants or prohibitions; the engine
// filters the rule set down by requester role, action, and scope,
// evaluates payload and network conditions, and resolves the
// survivors with prohibition precedence. No surviving rule means the
// action is denied.
package authz
