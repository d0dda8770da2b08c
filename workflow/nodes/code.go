package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vison888/dify/workflow"
)

// CodeExecutor runs user code with named inputs and returns its outputs.
// Code never executes in-process; implementations call out to a sandbox.
type CodeExecutor interface {
	Execute(ctx context.Context, language, code string, inputs map[string]any) (map[string]any, error)
}

// SandboxExecutor implements CodeExecutor against an HTTP code sandbox
// service. The service receives {language, code, inputs} and responds
// with {outputs} or {error}.
type SandboxExecutor struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// Execute implements CodeExecutor.
func (s *SandboxExecutor) Execute(ctx context.Context, language, code string, inputs map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(map[string]any{
		"language": language,
		"code":     code,
		"inputs":   inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode sandbox request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build sandbox request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("X-Api-Key", s.APIKey)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read sandbox response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox returned status %d: %s", resp.StatusCode, body)
	}

	var decoded struct {
		Outputs map[string]any `json:"outputs"`
		Error   string         `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode sandbox response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("code execution failed: %s", decoded.Error)
	}
	return decoded.Outputs, nil
}

// CodeNode executes a code snippet through the configured executor with
// inputs resolved from the pool.
type CodeNode struct {
	workflow.BaseNode
	config   codeConfig
	executor CodeExecutor
}

type codeConfig struct {
	CodeLanguage string                `json:"code_language"`
	Code         string                `json:"code"`
	Variables    []namedSelector       `json:"variables"`
	Outputs      map[string]codeOutput `json:"outputs,omitempty"`
}

type codeOutput struct {
	Type string `json:"type"`
}

func (d Deps) newCodeNode(init workflow.NodeInit) (workflow.Node, error) {
	n := &CodeNode{BaseNode: workflow.NewBaseNode(init), executor: d.CodeExecutor}
	if err := decodeConfig(init.Config.Data.Config, &n.config); err != nil {
		return nil, err
	}
	return n, nil
}

// ExtractVariableSelectors implements workflow.VariableMapper.
func (n *CodeNode) ExtractVariableSelectors() map[string][]string {
	out := make(map[string][]string, len(n.config.Variables))
	for _, v := range n.config.Variables {
		out[v.Variable] = v.ValueSelector
	}
	return out
}

// Run implements workflow.Node.
func (n *CodeNode) Run(ctx context.Context) <-chan workflow.NodeEvent {
	return workflow.RunResult(ctx, func(ctx context.Context) workflow.NodeRunResult {
		if n.executor == nil {
			return workflow.FailedResult(fmt.Errorf("no code executor configured"))
		}

		inputs := make(map[string]any, len(n.config.Variables))
		for _, v := range n.config.Variables {
			value, _ := n.Pool().Get(v.ValueSelector)
			inputs[v.Variable] = value
		}

		outputs, err := n.executor.Execute(ctx, n.config.CodeLanguage, n.config.Code, inputs)
		if err != nil {
			result := workflow.FailedResult(err)
			result.Inputs = inputs
			result.ErrorType = "CodeExecutionError"
			return result
		}

		// Declared outputs must be present; extras pass through.
		for name := range n.config.Outputs {
			if _, ok := outputs[name]; !ok {
				result := workflow.FailedResult(
					fmt.Errorf("code did not produce declared output %q", name))
				result.Inputs = inputs
				result.ErrorType = "CodeOutputMissing"
				return result
			}
		}
		return workflow.SucceededResult(inputs, outputs)
	})
}
