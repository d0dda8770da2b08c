// Package emit provides pluggable observability sinks for workflow
// execution. The engine mirrors its lifecycle events into an Emitter,
// which can log them, buffer them for inspection, or export them as
// OpenTelemetry spans.
package emit

// Event is one observability record from a workflow run.
type Event struct {
	// RunID identifies the workflow execution that emitted the event.
	RunID string

	// Step is the node's position in the run's step counter. Zero for
	// run-level events.
	Step int

	// NodeID identifies the node the event concerns. Empty for run-level
	// events.
	NodeID string

	// Msg is a short human-readable description, e.g. "node started".
	Msg string

	// Meta carries additional structured data. Common keys: "error",
	// "retry_index", "exceptions", "tokens", "duration_ms".
	Meta map[string]any
}

// Emitter receives observability events from workflow execution.
//
// Implementations must be safe for concurrent use and must not block:
// the engine emits from its driver goroutine, and a slow emitter slows
// the run. Emit must not panic; failures should be handled internally.
type Emitter interface {
	Emit(event Event)
}
