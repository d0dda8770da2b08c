// Package model provides LLM chat adapters for workflow nodes.
//
// ChatModel abstracts over providers (OpenAI, Anthropic, Google) behind a
// single message-in, completion-out API so LLM and agent nodes stay
// provider-agnostic. Provider adapters live in subpackages; MockChatModel
// serves tests.
package model

import "context"

// ChatModel is implemented by every chat provider adapter.
//
// Implementations must respect ctx cancellation and are safe for
// concurrent use. Tool support varies by provider; adapters that cannot
// express tools document how they degrade.
type ChatModel interface {
	// Chat sends the conversation and returns the completion. tools may
	// be nil; when the model decides to call tools, the returned ChatOut
	// carries ToolCalls instead of (or alongside) text.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn of an LLM conversation.
type Message struct {
	Role    string
	Content string
}

// Conversation roles shared by all providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a callable tool offered to the model. Schema is a
// JSON Schema object describing the input parameters.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	Name  string
	Input map[string]any
}

// Usage is the token accounting of one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatOut is the completion returned by a provider.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}
