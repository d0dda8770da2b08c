package nodes

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/vison888/dify/workflow"
)

// maxTemplateOutput caps the rendered size of a template-transform node.
const maxTemplateOutput = 400_000

// TemplateTransformNode renders a Go text/template over named variables
// resolved from the pool and outputs the result as "output".
type TemplateTransformNode struct {
	workflow.BaseNode
	config templateConfig
	tmpl   *template.Template
}

type templateConfig struct {
	Template  string          `json:"template"`
	Variables []namedSelector `json:"variables"`
}

type namedSelector struct {
	Variable      string   `json:"variable"`
	ValueSelector []string `json:"value_selector"`
}

// NewTemplateTransformNode constructs a template-transform node, parsing
// the template eagerly so config errors surface before the run.
func NewTemplateTransformNode(init workflow.NodeInit) (workflow.Node, error) {
	n := &TemplateTransformNode{BaseNode: workflow.NewBaseNode(init)}
	if err := decodeConfig(init.Config.Data.Config, &n.config); err != nil {
		return nil, err
	}
	tmpl, err := template.New(init.Config.ID).Parse(n.config.Template)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	n.tmpl = tmpl
	return n, nil
}

// ExtractVariableSelectors implements workflow.VariableMapper.
func (n *TemplateTransformNode) ExtractVariableSelectors() map[string][]string {
	out := make(map[string][]string, len(n.config.Variables))
	for _, v := range n.config.Variables {
		out[v.Variable] = v.ValueSelector
	}
	return out
}

// Run implements workflow.Node.
func (n *TemplateTransformNode) Run(ctx context.Context) <-chan workflow.NodeEvent {
	return workflow.RunResult(ctx, func(ctx context.Context) workflow.NodeRunResult {
		data := make(map[string]any, len(n.config.Variables))
		for _, v := range n.config.Variables {
			value, _ := n.Pool().Get(v.ValueSelector)
			data[v.Variable] = value
		}

		var sb strings.Builder
		if err := n.tmpl.Execute(&sb, data); err != nil {
			return workflow.FailedResult(fmt.Errorf("render template: %w", err))
		}
		if sb.Len() > maxTemplateOutput {
			return workflow.FailedResult(
				fmt.Errorf("template output exceeds %d characters", maxTemplateOutput))
		}

		result := workflow.SucceededResult(data, map[string]any{"output": sb.String()})
		return result
	})
}
