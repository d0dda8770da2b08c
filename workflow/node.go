package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// NodeEvent is the sum type of everything a node emits while running.
// The final event of every run is a CompletedEvent.
type NodeEvent interface {
	isNodeEvent()
}

// StreamChunkEvent carries one streamed text fragment.
type StreamChunkEvent struct {
	ChunkContent         string
	FromVariableSelector []string
}

// RetrieverResourceEvent carries citation metadata from retrieval.
type RetrieverResourceEvent struct {
	RetrieverResources []map[string]any
	Context            string
}

// CompletedEvent closes a node run with its result.
type CompletedEvent struct {
	Result NodeRunResult
}

// EngineEvent wraps an engine-level event surfaced by a container node
// running a child engine. The driver forwards it on the outer stream.
type EngineEvent struct {
	Event Event
}

func (StreamChunkEvent) isNodeEvent()       {}
func (RetrieverResourceEvent) isNodeEvent() {}
func (CompletedEvent) isNodeEvent()         {}
func (EngineEvent) isNodeEvent()            {}

// Node is one executable unit of a graph.
//
// Run returns a channel of events that is closed after the final
// CompletedEvent. Implementations must honor ctx cancellation and must
// never block forever on the channel; the driver always drains it.
type Node interface {
	NodeID() string
	ExecutionID() string
	Type() NodeType
	Version() string
	Title() string

	ErrorStrategy() ErrorStrategy
	ContinueOnError() bool
	RetryConfig() RetryConfig
	DefaultValue() map[string]any

	Run(ctx context.Context) <-chan NodeEvent
}

// VariableMapper is implemented by nodes whose inputs can be derived for
// isolated debug runs. The engine uses it to seed a fresh pool when a
// single node is carved out and run on its own.
type VariableMapper interface {
	// ExtractVariableSelectors returns the pool selectors the node reads,
	// keyed by input name.
	ExtractVariableSelectors() map[string][]string
}

// AgentStrategyProvider is implemented by nodes that execute a named
// reasoning strategy. The engine surfaces the strategy on the node's
// NodeRunStarted event.
type AgentStrategyProvider interface {
	AgentStrategy() string
}

// GraphInitParams is everything shared by all nodes of one run.
type GraphInitParams struct {
	Identity     SystemIdentity
	WorkflowType WorkflowType
	InvokeFrom   InvokeFrom
	CallDepth    int

	Graph    *Graph
	Registry *Registry
	Limits   Limits

	// Pool is the worker pool of the run, shared with child engines.
	Pool *WorkerPool
}

// NodeInit is the construction context handed to a NodeConstructor.
type NodeInit struct {
	ExecutionID    string
	Config         NodeConfig
	Params         GraphInitParams
	RuntimeState   *RuntimeState
	PreviousNodeID string
}

// NodeConstructor builds a node from its config.
type NodeConstructor func(init NodeInit) (Node, error)

// Registry resolves node constructors by type and version. Version ""
// registers the fallback used when a config names no version.
type Registry struct {
	constructors map[NodeType]map[string]NodeConstructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[NodeType]map[string]NodeConstructor)}
}

// Register adds a constructor for a node type and version. The last
// registration for a pair wins.
func (r *Registry) Register(nodeType NodeType, version string, ctor NodeConstructor) {
	byVersion, ok := r.constructors[nodeType]
	if !ok {
		byVersion = make(map[string]NodeConstructor)
		r.constructors[nodeType] = byVersion
	}
	byVersion[version] = ctor
}

// Build instantiates the node for a config, preferring an exact version
// match and falling back to the unversioned constructor.
func (r *Registry) Build(init NodeInit) (Node, error) {
	data := init.Config.Data
	byVersion, ok := r.constructors[data.Type]
	if !ok {
		return nil, fmt.Errorf("node type %q not registered", data.Type)
	}
	ctor, ok := byVersion[data.Version]
	if !ok {
		ctor, ok = byVersion[""]
	}
	if !ok {
		return nil, fmt.Errorf("node type %q version %q not registered", data.Type, data.Version)
	}
	return ctor(init)
}

// BaseNode carries the config-derived identity shared by every node
// implementation. Embed it and implement Run.
type BaseNode struct {
	Init NodeInit
}

// NewBaseNode fills in the execution id when the init left it empty.
func NewBaseNode(init NodeInit) BaseNode {
	if init.ExecutionID == "" {
		init.ExecutionID = uuid.NewString()
	}
	return BaseNode{Init: init}
}

func (b *BaseNode) NodeID() string      { return b.Init.Config.ID }
func (b *BaseNode) ExecutionID() string { return b.Init.ExecutionID }
func (b *BaseNode) Type() NodeType      { return b.Init.Config.Data.Type }
func (b *BaseNode) Title() string       { return b.Init.Config.Data.Title }

// Version defaults to "1" when the config names none.
func (b *BaseNode) Version() string {
	if v := b.Init.Config.Data.Version; v != "" {
		return v
	}
	return "1"
}

func (b *BaseNode) ErrorStrategy() ErrorStrategy { return b.Init.Config.Data.ErrorStrategy }
func (b *BaseNode) ContinueOnError() bool        { return b.Init.Config.Data.ContinueOnError() }
func (b *BaseNode) RetryConfig() RetryConfig     { return b.Init.Config.Data.Retry }
func (b *BaseNode) DefaultValue() map[string]any { return b.Init.Config.Data.DefaultValue }

// Pool is a shorthand for the run's variable pool.
func (b *BaseNode) Pool() *VariablePool { return b.Init.RuntimeState.VariablePool }

// RunResult drives a node entirely from a synchronous function. Most
// nodes compute one result; this adapter handles the channel protocol.
func RunResult(ctx context.Context, fn func(ctx context.Context) NodeRunResult) <-chan NodeEvent {
	ch := make(chan NodeEvent, 1)
	go func() {
		defer close(ch)
		result := fn(ctx)
		select {
		case ch <- CompletedEvent{Result: result}:
		case <-ctx.Done():
		}
	}()
	return ch
}

// FailedResult builds a failed NodeRunResult from an error.
func FailedResult(err error) NodeRunResult {
	return NodeRunResult{
		Status: NodeRunStatusFailed,
		Error:  err.Error(),
	}
}

// SucceededResult builds a succeeded NodeRunResult with outputs.
func SucceededResult(inputs, outputs map[string]any) NodeRunResult {
	return NodeRunResult{
		Status:  NodeRunStatusSucceeded,
		Inputs:  inputs,
		Outputs: outputs,
	}
}
