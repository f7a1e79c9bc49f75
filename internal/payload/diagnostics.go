package payload

// Diagnostic records a directive or condition the engine could not
// apply as written. Directives are best-effort, so a skipped one is
// not an error, but operators need to see it to fix the route.
type Diagnostic struct {
	Directive string
	Field     string
	Reason    string
	// External marks a collaborator failure (file storage) rather
	// than a directive defect; callers flag these on the asset.
	External bool
}

// DiagnosticSink receives diagnostics as they occur.
type DiagnosticSink interface {
	Record(d Diagnostic)
}

// DiagnosticList is a slice-backed sink.
type DiagnosticList struct {
	entries []Diagnostic
}

func (l *DiagnosticList) Record(d Diagnostic) {
	l.entries = append(l.entries, d)
}

// Entries returns the recorded diagnostics in order.
func (l *DiagnosticList) Entries() []Diagnostic {
	return l.entries
}

type nopSink struct{}

func (nopSink) Record(Diagnostic) {}

// NopSink returns a sink that drops everything.
func NopSink() DiagnosticSink { return nopSink{} }
