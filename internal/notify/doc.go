// Package notify delivers rendered notifications to an external
// gateway over HTTP. The engine treats delivery as best-effort:
// outcomes are cached on transition records for audit, never used to
// roll a transition back.
package notify
