// Package tool defines the executable tools agent nodes can invoke.
//
// A Tool pairs a name with a Call function taking structured input and
// returning structured output. Agent nodes advertise the registered
// tools to the model and execute the calls it requests.
package tool

import "context"

// Tool is one invokable capability.
//
// Implementations must respect ctx cancellation, validate their input,
// and return descriptive errors. Names must match the tool specs
// advertised to the model; lowercase with underscores by convention.
type Tool interface {
	// Name returns the unique tool identifier, e.g. "search_web".
	Name() string

	// Description explains what the tool does; the model uses it to
	// decide when to call the tool.
	Description() string

	// Call executes the tool. input may be nil for parameterless tools.
	Call(ctx context.Context, input map[string]any) (map[string]any, error)
}
