package nodes

import (
	"context"

	"github.com/vison888/dify/workflow"
)

// EndNode assembles the final outputs of a workflow run from pool
// selectors. The engine captures its outputs as the run result.
type EndNode struct {
	workflow.BaseNode
	config endConfig
}

type endConfig struct {
	Outputs []endOutput `json:"outputs"`
}

type endOutput struct {
	Variable      string   `json:"variable"`
	ValueSelector []string `json:"value_selector"`
}

// NewEndNode constructs an end node from its config.
func NewEndNode(init workflow.NodeInit) (workflow.Node, error) {
	n := &EndNode{BaseNode: workflow.NewBaseNode(init)}
	if err := decodeConfig(init.Config.Data.Config, &n.config); err != nil {
		return nil, err
	}
	return n, nil
}

// ExtractVariableSelectors implements workflow.VariableMapper.
func (n *EndNode) ExtractVariableSelectors() map[string][]string {
	out := make(map[string][]string, len(n.config.Outputs))
	for _, o := range n.config.Outputs {
		out[o.Variable] = o.ValueSelector
	}
	return out
}

// Run implements workflow.Node. Unresolvable selectors produce nil
// values rather than failing the run.
func (n *EndNode) Run(ctx context.Context) <-chan workflow.NodeEvent {
	return workflow.RunResult(ctx, func(ctx context.Context) workflow.NodeRunResult {
		outputs := make(map[string]any, len(n.config.Outputs))
		for _, out := range n.config.Outputs {
			value, _ := n.Pool().Get(out.ValueSelector)
			outputs[out.Variable] = value
		}
		return workflow.SucceededResult(outputs, outputs)
	})
}

// PassthroughNode is the body entry marker of iteration and loop
// containers. It does nothing; the container seeds the pool before the
// body runs.
type PassthroughNode struct {
	workflow.BaseNode
}

// NewPassthroughNode constructs a passthrough node.
func NewPassthroughNode(init workflow.NodeInit) (workflow.Node, error) {
	return &PassthroughNode{BaseNode: workflow.NewBaseNode(init)}, nil
}

// Run implements workflow.Node.
func (n *PassthroughNode) Run(ctx context.Context) <-chan workflow.NodeEvent {
	return workflow.RunResult(ctx, func(ctx context.Context) workflow.NodeRunResult {
		return workflow.SucceededResult(nil, nil)
	})
}
