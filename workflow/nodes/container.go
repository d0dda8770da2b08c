package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/vison888/dify/workflow"
)

// sendEvent pushes a node event unless the node was canceled.
func sendEvent(ctx context.Context, ch chan<- workflow.NodeEvent, ev workflow.NodeEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// containerBase builds the event identity container nodes stamp on the
// lifecycle events they emit themselves.
func containerBase(n workflow.Node) workflow.BaseNodeEvent {
	return workflow.BaseNodeEvent{
		ID:          n.ExecutionID(),
		NodeID:      n.NodeID(),
		NodeType:    n.Type(),
		NodeTitle:   n.Title(),
		NodeVersion: n.Version(),
	}
}

// runChildEngine executes a body graph on a child engine sharing the
// parent's worker pool, forwarding every node-level child event wrapped
// as an EngineEvent. It returns the child's runtime state on success and
// an error when the child run failed or the node was canceled.
func runChildEngine(ctx context.Context, ch chan<- workflow.NodeEvent, init workflow.NodeInit, body *workflow.Graph, state *workflow.RuntimeState) error {
	engine, err := workflow.NewEngine(workflow.EngineParams{
		Identity:     init.Params.Identity,
		WorkflowType: init.Params.WorkflowType,
		InvokeFrom:   init.Params.InvokeFrom,
		CallDepth:    init.Params.CallDepth + 1,
		Graph:        body,
		RuntimeState: state,
		Registry:     init.Params.Registry,
		Limits:       init.Params.Limits,
		Pool:         init.Params.Pool,
	})
	if err != nil {
		return err
	}

	var failure error
	for ev := range engine.Run(ctx) {
		switch t := ev.(type) {
		case workflow.GraphRunStartedEvent,
			workflow.GraphRunSucceededEvent,
			workflow.GraphRunPartialSucceededEvent:
			// Child run lifecycle stays internal to the container.
		case workflow.GraphRunFailedEvent:
			failure = errors.New(t.Error)
		default:
			if !sendEvent(ctx, ch, workflow.EngineEvent{Event: ev}) {
				return ctx.Err()
			}
		}
	}
	if failure != nil {
		return failure
	}
	return ctx.Err()
}

// toAnySlice normalizes a pool value into a generic slice for
// iteration.
func toAnySlice(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case []int:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, nil
	case []float64:
		out := make([]any, len(t))
		for i, f := range t {
			out[i] = f
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value of type %T is not iterable", v)
	}
}
