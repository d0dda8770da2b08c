package nodes

import (
	"context"
	"fmt"

	"github.com/vison888/dify/workflow"
	"github.com/vison888/dify/workflow/model"
)

// LLMNode renders a prompt template against the pool, calls the
// configured chat model, streams the completion, and outputs the text
// along with token usage.
type LLMNode struct {
	workflow.BaseNode
	config llmConfig
	models ModelProvider
}

type llmConfig struct {
	Provider       string          `json:"provider"`
	Model          string          `json:"model"`
	PromptTemplate []promptMessage `json:"prompt_template"`

	// Context optionally injects a pool value (typically retrieval
	// results) into the system prompt.
	Context *llmContext `json:"context,omitempty"`
}

type promptMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type llmContext struct {
	Enabled          bool     `json:"enabled"`
	VariableSelector []string `json:"variable_selector"`
}

func (d Deps) newLLMNode(init workflow.NodeInit) (workflow.Node, error) {
	n := &LLMNode{BaseNode: workflow.NewBaseNode(init), models: d.Models}
	if err := decodeConfig(init.Config.Data.Config, &n.config); err != nil {
		return nil, err
	}
	if len(n.config.PromptTemplate) == 0 {
		return nil, fmt.Errorf("llm: prompt_template is required")
	}
	return n, nil
}

// ExtractVariableSelectors implements workflow.VariableMapper. The
// context injection is declared under the "#context#" input name.
func (n *LLMNode) ExtractVariableSelectors() map[string][]string {
	out := make(map[string][]string)
	for _, pm := range n.config.PromptTemplate {
		templateSelectors(out, pm.Text)
	}
	if c := n.config.Context; c != nil && c.Enabled {
		out["#context#"] = c.VariableSelector
	}
	return out
}

// Run implements workflow.Node.
func (n *LLMNode) Run(ctx context.Context) <-chan workflow.NodeEvent {
	ch := make(chan workflow.NodeEvent, 2)
	go func() {
		defer close(ch)
		result := n.execute(ctx, ch)
		select {
		case ch <- workflow.CompletedEvent{Result: result}:
		case <-ctx.Done():
		}
	}()
	return ch
}

func (n *LLMNode) execute(ctx context.Context, ch chan<- workflow.NodeEvent) workflow.NodeRunResult {
	if n.models == nil {
		return workflow.FailedResult(fmt.Errorf("no model provider configured"))
	}
	chat, err := n.models(n.config.Provider, n.config.Model)
	if err != nil {
		result := workflow.FailedResult(err)
		result.ErrorType = "ModelProviderError"
		return result
	}

	pool := n.Pool()
	messages := make([]model.Message, 0, len(n.config.PromptTemplate)+1)
	if c := n.config.Context; c != nil && c.Enabled {
		if value, ok := pool.Get(c.VariableSelector); ok {
			messages = append(messages, model.Message{
				Role:    model.RoleSystem,
				Content: "Use the following context to answer:\n" + stringify(value),
			})
		}
	}
	inputs := make(map[string]any, len(n.config.PromptTemplate))
	for i, pm := range n.config.PromptTemplate {
		text := renderTemplate(pool, pm.Text)
		inputs[fmt.Sprintf("prompt_%d", i)] = text
		messages = append(messages, model.Message{Role: pm.Role, Content: text})
	}

	out, err := chat.Chat(ctx, messages, nil)
	if err != nil {
		result := workflow.FailedResult(err)
		result.Inputs = inputs
		result.ErrorType = "LLMInvokeError"
		return result
	}

	select {
	case ch <- workflow.StreamChunkEvent{
		ChunkContent:         out.Text,
		FromVariableSelector: []string{n.NodeID(), "text"},
	}:
	case <-ctx.Done():
		return workflow.FailedResult(ctx.Err())
	}

	usage := &workflow.LLMUsage{
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		TotalTokens:      out.Usage.TotalTokens,
	}
	result := workflow.SucceededResult(inputs, map[string]any{
		"text": out.Text,
	})
	result.LLMUsage = usage
	result.Metadata = map[workflow.MetadataKey]any{
		workflow.MetadataTotalTokens: out.Usage.TotalTokens,
	}
	return result
}
