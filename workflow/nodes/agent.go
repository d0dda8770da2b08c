package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vison888/dify/workflow"
	"github.com/vison888/dify/workflow/model"
	"github.com/vison888/dify/workflow/tool"
)

const defaultAgentIterations = 5

// AgentNode runs a function-calling agent loop: the model is offered the
// configured tools, requested calls are executed, and their results fed
// back until the model answers in text or the iteration cap is reached.
// Every round and tool call is surfaced as an AgentLogEvent.
type AgentNode struct {
	workflow.BaseNode
	config agentConfig
	models ModelProvider
	tools  []tool.Tool
}

type agentConfig struct {
	Provider      string   `json:"provider"`
	Model         string   `json:"model"`
	Strategy      string   `json:"strategy,omitempty"`
	Instruction   string   `json:"instruction,omitempty"`
	Query         string   `json:"query,omitempty"`
	Tools         []string `json:"tools,omitempty"`
	MaxIterations int      `json:"max_iterations,omitempty"`
}

func (d Deps) newAgentNode(init workflow.NodeInit) (workflow.Node, error) {
	n := &AgentNode{BaseNode: workflow.NewBaseNode(init), models: d.Models}
	if err := decodeConfig(init.Config.Data.Config, &n.config); err != nil {
		return nil, err
	}
	if n.config.MaxIterations <= 0 {
		n.config.MaxIterations = defaultAgentIterations
	}
	if n.config.Strategy == "" {
		n.config.Strategy = "function_calling"
	}

	// An empty tool list grants access to every registered tool.
	if len(n.config.Tools) == 0 {
		n.tools = d.Tools
	} else {
		byName := make(map[string]tool.Tool, len(d.Tools))
		for _, t := range d.Tools {
			byName[t.Name()] = t
		}
		for _, name := range n.config.Tools {
			t, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("agent: tool %q not available", name)
			}
			n.tools = append(n.tools, t)
		}
	}
	return n, nil
}

// AgentStrategy implements workflow.AgentStrategyProvider.
func (n *AgentNode) AgentStrategy() string { return n.config.Strategy }

// ExtractVariableSelectors implements workflow.VariableMapper.
func (n *AgentNode) ExtractVariableSelectors() map[string][]string {
	return templateSelectors(nil, n.config.Query, n.config.Instruction)
}

// Run implements workflow.Node.
func (n *AgentNode) Run(ctx context.Context) <-chan workflow.NodeEvent {
	ch := make(chan workflow.NodeEvent)
	go func() {
		defer close(ch)
		result := n.execute(ctx, ch)
		sendEvent(ctx, ch, workflow.CompletedEvent{Result: result})
	}()
	return ch
}

func (n *AgentNode) execute(ctx context.Context, ch chan<- workflow.NodeEvent) workflow.NodeRunResult {
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
	query := renderTemplate(pool, n.config.Query)
	inputs := map[string]any{"query": query}
	base := containerBase(n)

	messages := []model.Message{}
	if n.config.Instruction != "" {
		messages = append(messages, model.Message{
			Role:    model.RoleSystem,
			Content: renderTemplate(pool, n.config.Instruction),
		})
	}
	messages = append(messages, model.Message{Role: model.RoleUser, Content: query})

	specs := make([]model.ToolSpec, len(n.tools))
	byName := make(map[string]tool.Tool, len(n.tools))
	for i, t := range n.tools {
		specs[i] = model.ToolSpec{Name: t.Name(), Description: t.Description()}
		byName[t.Name()] = t
	}

	var usage workflow.LLMUsage
	rootLogID := uuid.NewString()

	for round := 0; round < n.config.MaxIterations; round++ {
		roundLogID := uuid.NewString()
		if !sendEvent(ctx, ch, workflow.EngineEvent{Event: workflow.AgentLogEvent{
			BaseNodeEvent: base,
			MessageID:     roundLogID,
			ParentID:      rootLogID,
			Label:         fmt.Sprintf("ROUND %d", round+1),
			Status:        "start",
		}}) {
			return workflow.FailedResult(ctx.Err())
		}

		out, err := chat.Chat(ctx, messages, specs)
		if err != nil {
			result := workflow.FailedResult(err)
			result.Inputs = inputs
			result.ErrorType = "AgentInvokeError"
			return result
		}
		usage.Merge(workflow.LLMUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		})

		if len(out.ToolCalls) == 0 {
			if !sendEvent(ctx, ch, workflow.EngineEvent{Event: workflow.AgentLogEvent{
				BaseNodeEvent: base,
				MessageID:     roundLogID,
				ParentID:      rootLogID,
				Label:         fmt.Sprintf("ROUND %d", round+1),
				Status:        "success",
				Data:          map[string]any{"answer": out.Text},
			}}) {
				return workflow.FailedResult(ctx.Err())
			}

			result := workflow.SucceededResult(inputs, map[string]any{"text": out.Text})
			result.LLMUsage = &usage
			return result
		}

		messages = append(messages, model.Message{Role: model.RoleAssistant, Content: out.Text})
		for _, call := range out.ToolCalls {
			callStart := time.Now()
			t, ok := byName[call.Name]
			if !ok {
				messages = append(messages, model.Message{
					Role:    model.RoleUser,
					Content: fmt.Sprintf("tool %s is not available", call.Name),
				})
				continue
			}

			output, err := t.Call(ctx, call.Input)
			logEvent := workflow.AgentLogEvent{
				BaseNodeEvent: base,
				MessageID:     uuid.NewString(),
				ParentID:      roundLogID,
				Label:         "CALL " + call.Name,
				Status:        "success",
				Data:          map[string]any{"input": call.Input, "output": output},
				Metadata:      map[string]any{"elapsed_ms": time.Since(callStart).Milliseconds()},
			}
			if err != nil {
				logEvent.Status = "error"
				logEvent.Error = err.Error()
				messages = append(messages, model.Message{
					Role:    model.RoleUser,
					Content: fmt.Sprintf("tool %s failed: %v", call.Name, err),
				})
			} else {
				messages = append(messages, model.Message{
					Role:    model.RoleUser,
					Content: fmt.Sprintf("tool %s returned: %s", call.Name, stringify(output)),
				})
			}
			if !sendEvent(ctx, ch, workflow.EngineEvent{Event: logEvent}) {
				return workflow.FailedResult(ctx.Err())
			}
		}
	}

	result := workflow.FailedResult(
		fmt.Errorf("agent did not produce an answer in %d rounds", n.config.MaxIterations))
	result.Inputs = inputs
	result.ErrorType = "AgentMaxIterations"
	result.LLMUsage = &usage
	return result
}
