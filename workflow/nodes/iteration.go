package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vison888/dify/workflow"
)

// Iteration error handling modes.
const (
	// IterationErrorTerminated stops the iteration on the first failed
	// element. The default.
	IterationErrorTerminated = "terminated"

	// IterationErrorContinue records a nil output for the failed element
	// and moves on.
	IterationErrorContinue = "continue-on-error"

	// IterationErrorRemoveOutput drops the failed element from the
	// outputs and moves on.
	IterationErrorRemoveOutput = "remove-abnormal-output"
)

// IterationNode maps its body sub-graph over a sequence from the pool.
// Each element runs the body on a child engine with an isolated pool
// carrying the element as {{#<node_id>.item#}} and its position as
// {{#<node_id>.index#}}. Outputs collect the body's output selector per
// element under "output".
type IterationNode struct {
	workflow.BaseNode
	config iterationConfig
}

type iterationConfig struct {
	IteratorSelector []string `json:"iterator_selector"`
	StartNodeID      string   `json:"start_node_id"`
	OutputSelector   []string `json:"output_selector"`
	ErrorHandling    string   `json:"error_handling,omitempty"`
}

// NewIterationNode constructs an iteration node from its config.
func NewIterationNode(init workflow.NodeInit) (workflow.Node, error) {
	n := &IterationNode{BaseNode: workflow.NewBaseNode(init)}
	if err := decodeConfig(init.Config.Data.Config, &n.config); err != nil {
		return nil, err
	}
	if n.config.ErrorHandling == "" {
		n.config.ErrorHandling = IterationErrorTerminated
	}
	return n, nil
}

// ExtractVariableSelectors implements workflow.VariableMapper.
func (n *IterationNode) ExtractVariableSelectors() map[string][]string {
	return map[string][]string{"iterator": n.config.IteratorSelector}
}

// Run implements workflow.Node.
func (n *IterationNode) Run(ctx context.Context) <-chan workflow.NodeEvent {
	ch := make(chan workflow.NodeEvent)
	go func() {
		defer close(ch)
		n.run(ctx, ch)
	}()
	return ch
}

func (n *IterationNode) run(ctx context.Context, ch chan<- workflow.NodeEvent) {
	complete := func(result workflow.NodeRunResult) {
		sendEvent(ctx, ch, workflow.CompletedEvent{Result: result})
	}

	startAt := time.Now()
	base := containerBase(n)

	raw, ok := n.Pool().Get(n.config.IteratorSelector)
	if !ok {
		complete(workflow.FailedResult(
			fmt.Errorf("iterator variable %s not found", strings.Join(n.config.IteratorSelector, "."))))
		return
	}
	items, err := toAnySlice(raw)
	if err != nil {
		complete(workflow.FailedResult(err))
		return
	}
	inputs := map[string]any{"iterator": items}

	body, err := n.Init.Params.Graph.CarveIterationBody(n.NodeID(), n.config.StartNodeID)
	if err != nil {
		complete(workflow.FailedResult(err))
		return
	}

	if !sendEvent(ctx, ch, workflow.EngineEvent{Event: workflow.IterationRunStartedEvent{
		BaseNodeEvent: base,
		StartAt:       startAt,
		Inputs:        inputs,
	}}) {
		return
	}

	outputs := make([]any, 0, len(items))
	steps := 0
	totalTokens := 0

	for i, item := range items {
		if !sendEvent(ctx, ch, workflow.EngineEvent{Event: workflow.IterationRunNextEvent{
			BaseNodeEvent: base,
			Index:         i,
			PreIteration:  item,
		}}) {
			return
		}

		childState := n.Init.RuntimeState.Child()
		childState.VariablePool.Add([]string{n.NodeID(), "item"}, item)
		childState.VariablePool.Add([]string{n.NodeID(), "index"}, i)

		err := runChildEngine(ctx, ch, n.Init, body, childState)
		steps += childState.NodeRunSteps
		totalTokens += childState.TotalTokens

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			switch n.config.ErrorHandling {
			case IterationErrorContinue:
				outputs = append(outputs, nil)
				continue
			case IterationErrorRemoveOutput:
				continue
			default:
				sendEvent(ctx, ch, workflow.EngineEvent{Event: workflow.IterationRunFailedEvent{
					BaseNodeEvent: base,
					StartAt:       startAt,
					Inputs:        inputs,
					Steps:         steps,
					Error:         err.Error(),
				}})
				result := workflow.FailedResult(err)
				result.Inputs = inputs
				result.ErrorType = "IterationError"
				complete(result)
				return
			}
		}

		value, _ := childState.VariablePool.Get(n.config.OutputSelector)
		outputs = append(outputs, value)
	}

	outputMap := map[string]any{"output": outputs}
	if !sendEvent(ctx, ch, workflow.EngineEvent{Event: workflow.IterationRunSucceededEvent{
		BaseNodeEvent: base,
		StartAt:       startAt,
		Inputs:        inputs,
		Outputs:       outputMap,
		Steps:         steps,
	}}) {
		return
	}

	result := workflow.SucceededResult(inputs, outputMap)
	result.Metadata = map[workflow.MetadataKey]any{
		workflow.MetadataTotalTokens: totalTokens,
	}
	complete(result)
}
