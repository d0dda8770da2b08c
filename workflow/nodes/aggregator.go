package nodes

import (
	"context"
	"strings"

	"github.com/vison888/dify/workflow"
)

// VariableAggregatorNode resolves a list of candidate selectors in order
// and outputs the first value that exists. It joins exclusive branches
// back into one variable, typically right after an if-else fan-out.
type VariableAggregatorNode struct {
	workflow.BaseNode
	config aggregatorConfig
}

type aggregatorConfig struct {
	Variables [][]string `json:"variables"`
}

// NewVariableAggregatorNode constructs a variable-aggregator node.
func NewVariableAggregatorNode(init workflow.NodeInit) (workflow.Node, error) {
	n := &VariableAggregatorNode{BaseNode: workflow.NewBaseNode(init)}
	if err := decodeConfig(init.Config.Data.Config, &n.config); err != nil {
		return nil, err
	}
	return n, nil
}

// ExtractVariableSelectors implements workflow.VariableMapper. The
// candidates have no declared names, so each is keyed by its dotted
// selector path.
func (n *VariableAggregatorNode) ExtractVariableSelectors() map[string][]string {
	out := make(map[string][]string, len(n.config.Variables))
	for _, selector := range n.config.Variables {
		out[strings.Join(selector, ".")] = selector
	}
	return out
}

// Run implements workflow.Node. With no resolvable candidate the output
// is nil, not a failure: downstream conditions can test for it.
func (n *VariableAggregatorNode) Run(ctx context.Context) <-chan workflow.NodeEvent {
	return workflow.RunResult(ctx, func(ctx context.Context) workflow.NodeRunResult {
		var output any
		for _, selector := range n.config.Variables {
			if value, ok := n.Pool().Get(selector); ok && value != nil {
				output = value
				break
			}
		}
		return workflow.SucceededResult(nil, map[string]any{"output": output})
	})
}
