package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/vison888/dify/workflow"
)

// maxLoopCount bounds configured loop counts.
const maxLoopCount = 100

// LoopNode repeats its body sub-graph up to loop_count times, carrying
// loop variables between turns and stopping early when the break
// conditions hold. Loop variables live under the loop node's namespace,
// so body nodes read them as {{#<node_id>.<name>#}} and the final values
// become the node outputs.
type LoopNode struct {
	workflow.BaseNode
	config loopConfig
}

type loopConfig struct {
	StartNodeID     string               `json:"start_node_id"`
	LoopCount       int                  `json:"loop_count"`
	BreakConditions []workflow.Condition `json:"break_conditions,omitempty"`
	LogicalOperator string               `json:"logical_operator,omitempty"`
	LoopVariables   []loopVariable       `json:"loop_variables,omitempty"`
}

type loopVariable struct {
	Variable string `json:"variable"`
	Value    any    `json:"value,omitempty"`

	// ValueSelector seeds the variable from the pool instead of a
	// literal.
	ValueSelector []string `json:"value_selector,omitempty"`
}

// NewLoopNode constructs a loop node from its config.
func NewLoopNode(init workflow.NodeInit) (workflow.Node, error) {
	n := &LoopNode{BaseNode: workflow.NewBaseNode(init)}
	if err := decodeConfig(init.Config.Data.Config, &n.config); err != nil {
		return nil, err
	}
	if n.config.LoopCount <= 0 || n.config.LoopCount > maxLoopCount {
		return nil, fmt.Errorf("loop: loop_count must be in 1..%d", maxLoopCount)
	}
	return n, nil
}

// ExtractVariableSelectors implements workflow.VariableMapper. Only
// selector-seeded loop variables read the pool; literal values do not.
func (n *LoopNode) ExtractVariableSelectors() map[string][]string {
	out := make(map[string][]string)
	for _, lv := range n.config.LoopVariables {
		if len(lv.ValueSelector) > 0 {
			out[lv.Variable] = lv.ValueSelector
		}
	}
	return out
}

// Run implements workflow.Node.
func (n *LoopNode) Run(ctx context.Context) <-chan workflow.NodeEvent {
	ch := make(chan workflow.NodeEvent)
	go func() {
		defer close(ch)
		n.run(ctx, ch)
	}()
	return ch
}

func (n *LoopNode) run(ctx context.Context, ch chan<- workflow.NodeEvent) {
	complete := func(result workflow.NodeRunResult) {
		sendEvent(ctx, ch, workflow.CompletedEvent{Result: result})
	}

	startAt := time.Now()
	base := containerBase(n)

	vars := make(map[string]any, len(n.config.LoopVariables))
	for _, lv := range n.config.LoopVariables {
		if len(lv.ValueSelector) > 0 {
			value, _ := n.Pool().Get(lv.ValueSelector)
			vars[lv.Variable] = value
			continue
		}
		vars[lv.Variable] = lv.Value
	}
	inputs := map[string]any{"loop_variables": vars}

	body, err := n.Init.Params.Graph.CarveLoopBody(n.NodeID(), n.config.StartNodeID)
	if err != nil {
		complete(workflow.FailedResult(err))
		return
	}

	if !sendEvent(ctx, ch, workflow.EngineEvent{Event: workflow.LoopRunStartedEvent{
		BaseNodeEvent: base,
		StartAt:       startAt,
		Inputs:        inputs,
	}}) {
		return
	}

	steps := 0
	totalTokens := 0
	turns := 0

	for i := 0; i < n.config.LoopCount; i++ {
		if !sendEvent(ctx, ch, workflow.EngineEvent{Event: workflow.LoopRunNextEvent{
			BaseNodeEvent: base,
			Index:         i,
		}}) {
			return
		}

		childState := n.Init.RuntimeState.Child()
		pool := childState.VariablePool
		for name, value := range vars {
			pool.Add([]string{n.NodeID(), name}, value)
		}
		pool.Add([]string{n.NodeID(), "index"}, i)

		err := runChildEngine(ctx, ch, n.Init, body, childState)
		steps += childState.NodeRunSteps
		totalTokens += childState.TotalTokens
		turns++

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sendEvent(ctx, ch, workflow.EngineEvent{Event: workflow.LoopRunFailedEvent{
				BaseNodeEvent: base,
				StartAt:       startAt,
				Inputs:        inputs,
				Steps:         steps,
				Error:         err.Error(),
			}})
			result := workflow.FailedResult(err)
			result.Inputs = inputs
			result.ErrorType = "LoopError"
			complete(result)
			return
		}

		// Body writes to the loop namespace carry into the next turn.
		for name := range vars {
			if value, ok := pool.Get([]string{n.NodeID(), name}); ok {
				vars[name] = value
			}
		}

		if len(n.config.BreakConditions) > 0 &&
			workflow.EvaluateConditions(pool, n.config.BreakConditions, n.config.LogicalOperator) {
			break
		}
	}

	outputs := make(map[string]any, len(vars)+1)
	for name, value := range vars {
		outputs[name] = value
	}
	outputs["loop_round"] = turns

	if !sendEvent(ctx, ch, workflow.EngineEvent{Event: workflow.LoopRunSucceededEvent{
		BaseNodeEvent: base,
		StartAt:       startAt,
		Inputs:        inputs,
		Outputs:       outputs,
		Steps:         steps,
	}}) {
		return
	}

	result := workflow.SucceededResult(inputs, outputs)
	result.Metadata = map[workflow.MetadataKey]any{
		workflow.MetadataTotalTokens: totalTokens,
	}
	complete(result)
}
