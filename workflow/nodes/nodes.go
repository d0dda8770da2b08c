// Package nodes provides the built-in node implementations of the
// workflow engine: control nodes (start, end, answer, if-else,
// variable-aggregator), transform nodes (template-transform, code),
// integration nodes (http-request, llm, knowledge-retrieval, agent), and
// container nodes (iteration, loop).
//
// DefaultRegistry wires all of them into a workflow.Registry. External
// capabilities (model providers, tools, the code sandbox, the knowledge
// retriever) are injected through Deps.
package nodes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/vison888/dify/workflow"
	"github.com/vison888/dify/workflow/model"
	"github.com/vison888/dify/workflow/tool"
)

// ModelProvider resolves a chat model by provider and model name.
type ModelProvider func(provider, name string) (model.ChatModel, error)

// Deps carries the external capabilities node implementations need.
// Fields may stay nil; nodes that need a missing capability fail at run
// time with a clear error.
type Deps struct {
	// Models resolves chat models for llm and agent nodes.
	Models ModelProvider

	// Tools are the invokable tools available to agent nodes.
	Tools []tool.Tool

	// HTTPClient serves http-request nodes. Nil falls back to a default
	// client.
	HTTPClient *http.Client

	// CodeExecutor runs code nodes, typically against a sandbox service.
	CodeExecutor CodeExecutor

	// Retriever serves knowledge-retrieval nodes.
	Retriever Retriever
}

// DefaultRegistry registers every built-in node type.
func DefaultRegistry(deps Deps) *workflow.Registry {
	r := workflow.NewRegistry()
	r.Register(workflow.NodeTypeStart, "", NewStartNode)
	r.Register(workflow.NodeTypeEnd, "", NewEndNode)
	r.Register(workflow.NodeTypeAnswer, "", NewAnswerNode)
	r.Register(workflow.NodeTypeTemplateTransform, "", NewTemplateTransformNode)
	r.Register(workflow.NodeTypeIfElse, "", NewIfElseNode)
	r.Register(workflow.NodeTypeVariableAggregator, "", NewVariableAggregatorNode)
	r.Register(workflow.NodeTypeCode, "", deps.newCodeNode)
	r.Register(workflow.NodeTypeHTTPRequest, "", deps.newHTTPRequestNode)
	r.Register(workflow.NodeTypeLLM, "", deps.newLLMNode)
	r.Register(workflow.NodeTypeKnowledgeRetrieval, "", deps.newKnowledgeRetrievalNode)
	r.Register(workflow.NodeTypeAgent, "", deps.newAgentNode)
	r.Register(workflow.NodeTypeIteration, "", NewIterationNode)
	r.Register(workflow.NodeTypeIterationStart, "", NewPassthroughNode)
	r.Register(workflow.NodeTypeLoop, "", NewLoopNode)
	r.Register(workflow.NodeTypeLoopStart, "", NewPassthroughNode)
	return r
}

// decodeConfig maps the raw config document of a node onto a typed
// struct via a JSON round trip.
func decodeConfig(raw map[string]any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode node config: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode node config: %w", err)
	}
	return nil
}

// variableRef matches pool references of the form {{#node_id.key.sub#}}
// inside node templates.
var variableRef = regexp.MustCompile(`\{\{#([a-zA-Z0-9_][a-zA-Z0-9_.-]*)#\}\}`)

// renderTemplate substitutes pool references in a template string.
// Unresolvable references render as empty strings.
func renderTemplate(pool *workflow.VariablePool, template string) string {
	return variableRef.ReplaceAllStringFunc(template, func(match string) string {
		ref := strings.TrimSuffix(strings.TrimPrefix(match, "{{#"), "#}}")
		selector := strings.Split(ref, ".")
		value, ok := pool.Get(selector)
		if !ok {
			return ""
		}
		return stringify(value)
	})
}

// templateSelectors collects the pool references of template strings
// into a mapping keyed by the reference text, allocating the map on
// first use so refless templates map to nil.
func templateSelectors(into map[string][]string, templates ...string) map[string][]string {
	for _, tmpl := range templates {
		for _, match := range variableRef.FindAllStringSubmatch(tmpl, -1) {
			if into == nil {
				into = make(map[string][]string)
			}
			into[match[1]] = strings.Split(match[1], ".")
		}
	}
	return into
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}

// toStringSlice converts decoded selector values to []string.
func toStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
