package nodes

import (
	"context"

	"github.com/vison888/dify/workflow"
)

// AnswerNode renders an answer template against the variable pool and
// streams the result. Chat workflows accumulate the rendered answers
// into the run's final answer.
type AnswerNode struct {
	workflow.BaseNode
	config answerConfig
}

type answerConfig struct {
	Answer string `json:"answer"`
}

// NewAnswerNode constructs an answer node from its config.
func NewAnswerNode(init workflow.NodeInit) (workflow.Node, error) {
	n := &AnswerNode{BaseNode: workflow.NewBaseNode(init)}
	if err := decodeConfig(init.Config.Data.Config, &n.config); err != nil {
		return nil, err
	}
	return n, nil
}

// ExtractVariableSelectors implements workflow.VariableMapper.
func (n *AnswerNode) ExtractVariableSelectors() map[string][]string {
	return templateSelectors(nil, n.config.Answer)
}

// Run implements workflow.Node.
func (n *AnswerNode) Run(ctx context.Context) <-chan workflow.NodeEvent {
	ch := make(chan workflow.NodeEvent, 2)
	go func() {
		defer close(ch)

		answer := renderTemplate(n.Pool(), n.config.Answer)

		select {
		case ch <- workflow.StreamChunkEvent{ChunkContent: answer}:
		case <-ctx.Done():
			return
		}

		result := workflow.SucceededResult(nil, map[string]any{"answer": answer})
		select {
		case ch <- workflow.CompletedEvent{Result: result}:
		case <-ctx.Done():
		}
	}()
	return ch
}
