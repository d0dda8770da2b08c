package nodes

import (
	"context"
	"fmt"

	"github.com/vison888/dify/workflow"
)

// StartNode validates the run's user inputs against the declared input
// variables and republishes them as its outputs.
type StartNode struct {
	workflow.BaseNode
	config startConfig
}

type startConfig struct {
	Variables []startVariable `json:"variables"`
}

type startVariable struct {
	Variable string `json:"variable"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// NewStartNode constructs a start node from its config.
func NewStartNode(init workflow.NodeInit) (workflow.Node, error) {
	n := &StartNode{BaseNode: workflow.NewBaseNode(init)}
	if err := decodeConfig(init.Config.Data.Config, &n.config); err != nil {
		return nil, err
	}
	return n, nil
}

// Run implements workflow.Node.
func (n *StartNode) Run(ctx context.Context) <-chan workflow.NodeEvent {
	return workflow.RunResult(ctx, func(ctx context.Context) workflow.NodeRunResult {
		inputs := make(map[string]any, len(n.config.Variables))
		for _, v := range n.config.Variables {
			value, ok := n.Pool().Get([]string{workflow.SystemNamespace, v.Variable})
			if !ok {
				if v.Default != nil {
					inputs[v.Variable] = v.Default
					continue
				}
				if v.Required {
					return workflow.FailedResult(
						fmt.Errorf("required input %q is missing", v.Variable))
				}
				continue
			}
			inputs[v.Variable] = value
		}

		if files, ok := n.Pool().Get([]string{workflow.SystemNamespace, workflow.SystemVarFiles}); ok {
			inputs[workflow.SystemVarFiles] = files
		}
		return workflow.SucceededResult(inputs, inputs)
	})
}
