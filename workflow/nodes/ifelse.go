package nodes

import (
	"context"
	"strings"

	"github.com/vison888/dify/workflow"
)

// IfElseNode evaluates its cases in order against the variable pool and
// routes on the first matching case id. When no case matches it routes
// on "false" (the else branch).
type IfElseNode struct {
	workflow.BaseNode
	config ifElseConfig
}

type ifElseConfig struct {
	Cases []ifElseCase `json:"cases"`

	// Legacy single-condition form used by old graph documents.
	LogicalOperator string               `json:"logical_operator,omitempty"`
	Conditions      []workflow.Condition `json:"conditions,omitempty"`
}

type ifElseCase struct {
	CaseID          string               `json:"case_id"`
	LogicalOperator string               `json:"logical_operator"`
	Conditions      []workflow.Condition `json:"conditions"`
}

// NewIfElseNode constructs an if-else node from its config. The legacy
// single-condition form is normalized into a "true" case.
func NewIfElseNode(init workflow.NodeInit) (workflow.Node, error) {
	n := &IfElseNode{BaseNode: workflow.NewBaseNode(init)}
	if err := decodeConfig(init.Config.Data.Config, &n.config); err != nil {
		return nil, err
	}
	if len(n.config.Cases) == 0 && len(n.config.Conditions) > 0 {
		n.config.Cases = []ifElseCase{{
			CaseID:          "true",
			LogicalOperator: n.config.LogicalOperator,
			Conditions:      n.config.Conditions,
		}}
	}
	return n, nil
}

// ExtractVariableSelectors implements workflow.VariableMapper.
func (n *IfElseNode) ExtractVariableSelectors() map[string][]string {
	out := make(map[string][]string)
	for _, c := range n.config.Cases {
		for _, cond := range c.Conditions {
			out[strings.Join(cond.VariableSelector, ".")] = cond.VariableSelector
		}
	}
	return out
}

// Run implements workflow.Node.
func (n *IfElseNode) Run(ctx context.Context) <-chan workflow.NodeEvent {
	return workflow.RunResult(ctx, func(ctx context.Context) workflow.NodeRunResult {
		selected := "false"
		for _, c := range n.config.Cases {
			if workflow.EvaluateConditions(n.Pool(), c.Conditions, c.LogicalOperator) {
				selected = c.CaseID
				break
			}
		}

		result := workflow.SucceededResult(nil, map[string]any{
			"result":           selected != "false",
			"selected_case_id": selected,
		})
		result.EdgeSourceHandle = selected
		return result
	})
}
