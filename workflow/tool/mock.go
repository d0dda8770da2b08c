package tool

import (
	"context"
	"sync"
)

// MockTool is a scripted Tool for tests. It returns the configured
// output or error and records every call.
type MockTool struct {
	// ToolName is returned by Name.
	ToolName string

	// Desc is returned by Description.
	Desc string

	// Output is returned by Call when Err is nil. When Fn is set it
	// takes precedence over Output.
	Output map[string]any

	// Err, when set, is returned by Call.
	Err error

	// Fn, when set, computes the output from the input.
	Fn func(input map[string]any) (map[string]any, error)

	mu    sync.Mutex
	calls []map[string]any
}

func (m *MockTool) Name() string        { return m.ToolName }
func (m *MockTool) Description() string { return m.Desc }

// Call records the input and returns the scripted result.
func (m *MockTool) Call(ctx context.Context, input map[string]any) (map[string]any, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	m.calls = append(m.calls, input)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Fn != nil {
		return m.Fn(input)
	}
	return m.Output, nil
}

// Calls returns a copy of the recorded inputs.
func (m *MockTool) Calls() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, len(m.calls))
	copy(out, m.calls)
	return out
}
