package workflow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// stubBehavior scripts successive Run results for one node id. The last
// result repeats once the script is exhausted.
type stubBehavior struct {
	mu      sync.Mutex
	results []NodeRunResult
	calls   int
}

func (b *stubBehavior) next() NodeRunResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if len(b.results) == 0 {
		return NodeRunResult{Status: NodeRunStatusSucceeded}
	}
	i := b.calls - 1
	if i >= len(b.results) {
		i = len(b.results) - 1
	}
	return b.results[i]
}

func (b *stubBehavior) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type stubNode struct {
	BaseNode
	behavior *stubBehavior
}

func (n *stubNode) Run(ctx context.Context) <-chan NodeEvent {
	return RunResult(ctx, func(context.Context) NodeRunResult {
		return n.behavior.next()
	})
}

// stubEnv wires a registry whose nodes replay scripted results keyed by
// node id.
type stubEnv struct {
	mu        sync.Mutex
	behaviors map[string]*stubBehavior
	registry  *Registry
}

func newStubEnv() *stubEnv {
	env := &stubEnv{
		behaviors: make(map[string]*stubBehavior),
		registry:  NewRegistry(),
	}
	ctor := func(init NodeInit) (Node, error) {
		return &stubNode{
			BaseNode: NewBaseNode(init),
			behavior: env.behavior(init.Config.ID),
		}, nil
	}
	for _, t := range []NodeType{
		NodeTypeStart, NodeTypeEnd, NodeTypeAnswer, NodeTypeIfElse,
		NodeTypeHTTPRequest, NodeTypeLLM, NodeTypeCode, NodeTypeTemplateTransform,
	} {
		env.registry.Register(t, "", ctor)
	}
	return env
}

func (e *stubEnv) behavior(nodeID string) *stubBehavior {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.behaviors[nodeID]
	if !ok {
		b = &stubBehavior{}
		e.behaviors[nodeID] = b
	}
	return b
}

func (e *stubEnv) script(nodeID string, results ...NodeRunResult) {
	e.behavior(nodeID).results = results
}

func testNode(id string, t NodeType) NodeConfig {
	return NodeConfig{ID: id, Data: NodeData{Type: t, Title: id}}
}

func testEdge(source, target string) EdgeConfig {
	return EdgeConfig{Source: source, Target: target}
}

func branchEdge(source, target, handle string) EdgeConfig {
	return EdgeConfig{
		Source: source,
		Target: target,
		RunCondition: &RunCondition{
			Type:             RunConditionBranchIdentifier,
			BranchIdentifier: handle,
		},
	}
}

// runEngine builds a graph from config and drains a full run.
func runEngine(t *testing.T, env *stubEnv, config GraphConfig, params EngineParams) []Event {
	t.Helper()

	graph, err := NewGraph(config)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	params.Graph = graph
	if params.RuntimeState == nil {
		params.RuntimeState = NewRuntimeState(NewVariablePool(SystemIdentity{}, nil, nil, nil, nil))
	}
	params.Registry = env.registry

	engine, err := NewEngine(params)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	var events []Event
	for ev := range engine.Run(context.Background()) {
		events = append(events, ev)
	}
	return events
}

func eventCount[T Event](events []Event) int {
	n := 0
	for _, ev := range events {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}

func lastEvent(events []Event) Event {
	if len(events) == 0 {
		return nil
	}
	return events[len(events)-1]
}

func TestNewEngine_Validation(t *testing.T) {
	env := newStubEnv()
	graph, err := NewGraph(GraphConfig{
		Nodes: []NodeConfig{testNode("start", NodeTypeStart)},
	})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	state := NewRuntimeState(NewVariablePool(SystemIdentity{}, nil, nil, nil, nil))

	t.Run("missing graph", func(t *testing.T) {
		_, err := NewEngine(EngineParams{RuntimeState: state, Registry: env.registry})
		if err == nil {
			t.Fatal("expected error for nil graph")
		}
	})

	t.Run("missing registry", func(t *testing.T) {
		_, err := NewEngine(EngineParams{Graph: graph, RuntimeState: state})
		if err == nil {
			t.Fatal("expected error for nil registry")
		}
	})

	t.Run("call depth exceeded", func(t *testing.T) {
		_, err := NewEngine(EngineParams{
			Graph:        graph,
			RuntimeState: state,
			Registry:     env.registry,
			CallDepth:    MaxCallDepth + 1,
		})
		if err == nil {
			t.Fatal("expected error past max call depth")
		}
	})
}

func TestEngine_LinearRun(t *testing.T) {
	env := newStubEnv()
	env.script("end", SucceededResult(nil, map[string]any{"result": "ok"}))

	events := runEngine(t, env, GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			testNode("middle", NodeTypeCode),
			testNode("end", NodeTypeEnd),
		},
		Edges: []EdgeConfig{
			testEdge("start", "middle"),
			testEdge("middle", "end"),
		},
	}, EngineParams{WorkflowType: WorkflowTypeWorkflow})

	if _, ok := events[0].(GraphRunStartedEvent); !ok {
		t.Fatalf("first event = %T, want GraphRunStartedEvent", events[0])
	}
	if got := eventCount[NodeRunStartedEvent](events); got != 3 {
		t.Errorf("node starts = %d, want 3", got)
	}
	if got := eventCount[NodeRunSucceededEvent](events); got != 3 {
		t.Errorf("node successes = %d, want 3", got)
	}

	terminal, ok := lastEvent(events).(GraphRunSucceededEvent)
	if !ok {
		t.Fatalf("terminal event = %T, want GraphRunSucceededEvent", lastEvent(events))
	}
	if terminal.Outputs["result"] != "ok" {
		t.Errorf("outputs = %v, want result=ok", terminal.Outputs)
	}
}

func TestEngine_ChatAnswerAccumulation(t *testing.T) {
	env := newStubEnv()
	env.script("a1", SucceededResult(nil, map[string]any{"answer": "Hello"}))
	env.script("a2", SucceededResult(nil, map[string]any{"answer": "world"}))

	events := runEngine(t, env, GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			testNode("a1", NodeTypeAnswer),
			testNode("a2", NodeTypeAnswer),
		},
		Edges: []EdgeConfig{
			testEdge("start", "a1"),
			testEdge("a1", "a2"),
		},
	}, EngineParams{WorkflowType: WorkflowTypeChat})

	terminal, ok := lastEvent(events).(GraphRunSucceededEvent)
	if !ok {
		t.Fatalf("terminal event = %T, want GraphRunSucceededEvent", lastEvent(events))
	}
	if terminal.Outputs["answer"] != "Hello\nworld" {
		t.Errorf("answer = %q, want %q", terminal.Outputs["answer"], "Hello\nworld")
	}
}

func TestEngine_NodeFailureFailsRun(t *testing.T) {
	env := newStubEnv()
	env.script("boom", NodeRunResult{Status: NodeRunStatusFailed, Error: "exploded"})

	events := runEngine(t, env, GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			testNode("boom", NodeTypeCode),
			testNode("end", NodeTypeEnd),
		},
		Edges: []EdgeConfig{
			testEdge("start", "boom"),
			testEdge("boom", "end"),
		},
	}, EngineParams{})

	terminal, ok := lastEvent(events).(GraphRunFailedEvent)
	if !ok {
		t.Fatalf("terminal event = %T, want GraphRunFailedEvent", lastEvent(events))
	}
	if !strings.Contains(terminal.Error, "exploded") {
		t.Errorf("error = %q, want to contain %q", terminal.Error, "exploded")
	}
	if got := eventCount[NodeRunFailedEvent](events); got != 1 {
		t.Errorf("node failures = %d, want 1", got)
	}
}

func TestEngine_Retry(t *testing.T) {
	env := newStubEnv()
	env.script("flaky",
		NodeRunResult{Status: NodeRunStatusFailed, Error: "attempt 1"},
		NodeRunResult{Status: NodeRunStatusFailed, Error: "attempt 2"},
		SucceededResult(nil, map[string]any{"ok": true}),
	)

	flaky := testNode("flaky", NodeTypeCode)
	flaky.Data.Retry = RetryConfig{Enabled: true, MaxRetries: 3}

	events := runEngine(t, env, GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			flaky,
			testNode("end", NodeTypeEnd),
		},
		Edges: []EdgeConfig{
			testEdge("start", "flaky"),
			testEdge("flaky", "end"),
		},
	}, EngineParams{})

	if got := eventCount[NodeRunRetryEvent](events); got != 2 {
		t.Errorf("retries = %d, want 2", got)
	}
	if got := env.behavior("flaky").callCount(); got != 3 {
		t.Errorf("flaky runs = %d, want 3", got)
	}
	if _, ok := lastEvent(events).(GraphRunSucceededEvent); !ok {
		t.Fatalf("terminal event = %T, want GraphRunSucceededEvent", lastEvent(events))
	}

	for _, ev := range events {
		if re, ok := ev.(NodeRunRetryEvent); ok {
			if re.RetryIndex != 1 {
				t.Errorf("first RetryIndex = %d, want 1", re.RetryIndex)
			}
			break
		}
	}
}

func TestEngine_RetriesExhausted(t *testing.T) {
	env := newStubEnv()
	env.script("flaky", NodeRunResult{Status: NodeRunStatusFailed, Error: "always"})

	flaky := testNode("flaky", NodeTypeCode)
	flaky.Data.Retry = RetryConfig{Enabled: true, MaxRetries: 2}

	events := runEngine(t, env, GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			flaky,
		},
		Edges: []EdgeConfig{testEdge("start", "flaky")},
	}, EngineParams{})

	if got := eventCount[NodeRunRetryEvent](events); got != 2 {
		t.Errorf("retries = %d, want 2", got)
	}
	if _, ok := lastEvent(events).(GraphRunFailedEvent); !ok {
		t.Fatalf("terminal event = %T, want GraphRunFailedEvent", lastEvent(events))
	}
}

func TestEngine_ContinueOnErrorDefaultValue(t *testing.T) {
	env := newStubEnv()
	env.script("boom", NodeRunResult{
		Status:    NodeRunStatusFailed,
		Error:     "exploded",
		ErrorType: "CodeError",
	})
	env.script("end", SucceededResult(nil, map[string]any{"result": "done"}))

	boom := testNode("boom", NodeTypeCode)
	boom.Data.ErrorStrategy = ErrorStrategyDefaultValue
	boom.Data.DefaultValue = map[string]any{"text": "fallback"}

	state := NewRuntimeState(NewVariablePool(SystemIdentity{}, nil, nil, nil, nil))
	events := runEngine(t, env, GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			boom,
			testNode("end", NodeTypeEnd),
		},
		Edges: []EdgeConfig{
			testEdge("start", "boom"),
			testEdge("boom", "end"),
		},
	}, EngineParams{WorkflowType: WorkflowTypeWorkflow, RuntimeState: state})

	if got := eventCount[NodeRunExceptionEvent](events); got != 1 {
		t.Errorf("exceptions = %d, want 1", got)
	}

	terminal, ok := lastEvent(events).(GraphRunPartialSucceededEvent)
	if !ok {
		t.Fatalf("terminal event = %T, want GraphRunPartialSucceededEvent", lastEvent(events))
	}
	if terminal.ExceptionsCount != 1 {
		t.Errorf("ExceptionsCount = %d, want 1", terminal.ExceptionsCount)
	}
	if terminal.Outputs["result"] != "done" {
		t.Errorf("outputs = %v, want result=done", terminal.Outputs)
	}

	if v, _ := state.VariablePool.Get([]string{"boom", "text"}); v != "fallback" {
		t.Errorf("pool boom.text = %v, want fallback", v)
	}
	if v, _ := state.VariablePool.Get([]string{"boom", "error_message"}); v != "exploded" {
		t.Errorf("pool boom.error_message = %v, want exploded", v)
	}
	if v, _ := state.VariablePool.Get([]string{"boom", "error_type"}); v != "CodeError" {
		t.Errorf("pool boom.error_type = %v, want CodeError", v)
	}
}

func TestEngine_FailBranchRouting(t *testing.T) {
	env := newStubEnv()
	env.script("boom", NodeRunResult{Status: NodeRunStatusFailed, Error: "exploded"})

	boom := testNode("boom", NodeTypeCode)
	boom.Data.ErrorStrategy = ErrorStrategyFailBranch

	events := runEngine(t, env, GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			boom,
			testNode("recover", NodeTypeCode),
			testNode("happy", NodeTypeCode),
		},
		Edges: []EdgeConfig{
			testEdge("start", "boom"),
			branchEdge("boom", "happy", EdgeSourceHandleSuccess),
			branchEdge("boom", "recover", EdgeSourceHandleFailed),
		},
	}, EngineParams{})

	if got := env.behavior("recover").callCount(); got != 1 {
		t.Errorf("recover runs = %d, want 1", got)
	}
	if got := env.behavior("happy").callCount(); got != 0 {
		t.Errorf("happy runs = %d, want 0", got)
	}
	terminal, ok := lastEvent(events).(GraphRunPartialSucceededEvent)
	if !ok {
		t.Fatalf("terminal event = %T, want GraphRunPartialSucceededEvent", lastEvent(events))
	}
	if terminal.ExceptionsCount != 1 {
		t.Errorf("ExceptionsCount = %d, want 1", terminal.ExceptionsCount)
	}
}

func TestEngine_BranchIdentifierRouting(t *testing.T) {
	env := newStubEnv()
	decision := SucceededResult(nil, map[string]any{"result": true})
	decision.EdgeSourceHandle = "case_a"
	env.script("cond", decision)

	runEngine(t, env, GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			testNode("cond", NodeTypeIfElse),
			testNode("a", NodeTypeCode),
			testNode("b", NodeTypeCode),
		},
		Edges: []EdgeConfig{
			testEdge("start", "cond"),
			branchEdge("cond", "a", "case_a"),
			branchEdge("cond", "b", "false"),
		},
	}, EngineParams{})

	if got := env.behavior("a").callCount(); got != 1 {
		t.Errorf("a runs = %d, want 1", got)
	}
	if got := env.behavior("b").callCount(); got != 0 {
		t.Errorf("b runs = %d, want 0", got)
	}
}

func TestEngine_ParallelBranches(t *testing.T) {
	env := newStubEnv()
	env.script("end", SucceededResult(nil, map[string]any{"result": "joined"}))

	events := runEngine(t, env, GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			testNode("b1", NodeTypeCode),
			testNode("b2", NodeTypeCode),
			testNode("end", NodeTypeEnd),
		},
		Edges: []EdgeConfig{
			testEdge("start", "b1"),
			testEdge("start", "b2"),
			testEdge("b1", "end"),
			testEdge("b2", "end"),
		},
	}, EngineParams{WorkflowType: WorkflowTypeWorkflow})

	if got := eventCount[ParallelBranchRunStartedEvent](events); got != 2 {
		t.Errorf("branch starts = %d, want 2", got)
	}
	if got := eventCount[ParallelBranchRunSucceededEvent](events); got != 2 {
		t.Errorf("branch successes = %d, want 2", got)
	}
	if got := env.behavior("b1").callCount(); got != 1 {
		t.Errorf("b1 runs = %d, want 1", got)
	}
	if got := env.behavior("b2").callCount(); got != 1 {
		t.Errorf("b2 runs = %d, want 1", got)
	}
	// The join node runs once, after both branches.
	if got := env.behavior("end").callCount(); got != 1 {
		t.Errorf("end runs = %d, want 1", got)
	}
	if _, ok := lastEvent(events).(GraphRunSucceededEvent); !ok {
		t.Fatalf("terminal event = %T, want GraphRunSucceededEvent", lastEvent(events))
	}

	// Branch node events carry the region identity.
	for _, ev := range events {
		if started, ok := ev.(NodeRunStartedEvent); ok {
			inBranch := started.NodeID == "b1" || started.NodeID == "b2"
			if inBranch && started.ParallelID == "" {
				t.Errorf("node %s started without parallel id", started.NodeID)
			}
			if !inBranch && started.ParallelID != "" {
				t.Errorf("node %s started with parallel id %s", started.NodeID, started.ParallelID)
			}
		}
	}
}

func TestEngine_ParallelBranchFailure(t *testing.T) {
	env := newStubEnv()
	env.script("bad", NodeRunResult{Status: NodeRunStatusFailed, Error: "branch down"})

	events := runEngine(t, env, GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			testNode("good", NodeTypeCode),
			testNode("bad", NodeTypeCode),
			testNode("end", NodeTypeEnd),
		},
		Edges: []EdgeConfig{
			testEdge("start", "good"),
			testEdge("start", "bad"),
			testEdge("good", "end"),
			testEdge("bad", "end"),
		},
	}, EngineParams{})

	if got := eventCount[ParallelBranchRunFailedEvent](events); got != 1 {
		t.Errorf("branch failures = %d, want 1", got)
	}
	terminal, ok := lastEvent(events).(GraphRunFailedEvent)
	if !ok {
		t.Fatalf("terminal event = %T, want GraphRunFailedEvent", lastEvent(events))
	}
	if !strings.Contains(terminal.Error, "branch down") {
		t.Errorf("error = %q, want to contain %q", terminal.Error, "branch down")
	}
	if got := env.behavior("end").callCount(); got != 0 {
		t.Errorf("end runs = %d, want 0 after branch failure", got)
	}
}

func TestEngine_MaxStepsExceeded(t *testing.T) {
	env := newStubEnv()

	events := runEngine(t, env, GraphConfig{
		Nodes: []NodeConfig{
			testNode("n1", NodeTypeStart),
			testNode("n2", NodeTypeCode),
			testNode("n3", NodeTypeCode),
			testNode("n4", NodeTypeCode),
		},
		Edges: []EdgeConfig{
			testEdge("n1", "n2"),
			testEdge("n2", "n3"),
			testEdge("n3", "n4"),
		},
	}, EngineParams{Limits: Limits{MaxExecutionSteps: 2}})

	terminal, ok := lastEvent(events).(GraphRunFailedEvent)
	if !ok {
		t.Fatalf("terminal event = %T, want GraphRunFailedEvent", lastEvent(events))
	}
	if !strings.Contains(terminal.Error, "max steps") {
		t.Errorf("error = %q, want to contain %q", terminal.Error, "max steps")
	}
}

func TestEngine_HTTPFailureWithResponseIsSuccess(t *testing.T) {
	env := newStubEnv()
	env.script("http", NodeRunResult{
		Status:    NodeRunStatusFailed,
		Error:     "status 500",
		ErrorType: "HTTPResponseCodeError",
		Outputs:   map[string]any{"status_code": 500, "body": "oops"},
	})
	env.script("end", SucceededResult(nil, map[string]any{"result": "handled"}))

	state := NewRuntimeState(NewVariablePool(SystemIdentity{}, nil, nil, nil, nil))
	events := runEngine(t, env, GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			testNode("http", NodeTypeHTTPRequest),
			testNode("end", NodeTypeEnd),
		},
		Edges: []EdgeConfig{
			testEdge("start", "http"),
			testEdge("http", "end"),
		},
	}, EngineParams{WorkflowType: WorkflowTypeWorkflow, RuntimeState: state})

	if got := eventCount[NodeRunFailedEvent](events); got != 0 {
		t.Errorf("node failures = %d, want 0", got)
	}
	if _, ok := lastEvent(events).(GraphRunSucceededEvent); !ok {
		t.Fatalf("terminal event = %T, want GraphRunSucceededEvent", lastEvent(events))
	}
	if v, _ := state.VariablePool.Get([]string{"http", "status_code"}); v != 500 {
		t.Errorf("pool http.status_code = %v, want 500", v)
	}
}

func TestEngine_HTTPFailureWithErrorStrategyStaysFailed(t *testing.T) {
	env := newStubEnv()
	env.script("http", NodeRunResult{
		Status:  NodeRunStatusFailed,
		Error:   "status 500",
		Outputs: map[string]any{"status_code": 500},
	})

	http := testNode("http", NodeTypeHTTPRequest)
	http.Data.ErrorStrategy = ErrorStrategyDefaultValue
	http.Data.DefaultValue = map[string]any{"body": ""}

	events := runEngine(t, env, GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			http,
		},
		Edges: []EdgeConfig{testEdge("start", "http")},
	}, EngineParams{})

	if got := eventCount[NodeRunExceptionEvent](events); got != 1 {
		t.Errorf("exceptions = %d, want 1", got)
	}
	if _, ok := lastEvent(events).(GraphRunPartialSucceededEvent); !ok {
		t.Fatalf("terminal event = %T, want GraphRunPartialSucceededEvent", lastEvent(events))
	}
}

func TestEngine_UsageAccounting(t *testing.T) {
	env := newStubEnv()
	llm := SucceededResult(nil, map[string]any{"text": "hi"})
	llm.LLMUsage = &LLMUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	env.script("llm", llm)

	meta := SucceededResult(nil, map[string]any{"output": []any{}})
	meta.Metadata = map[MetadataKey]any{MetadataTotalTokens: 7}
	env.script("iter", meta)

	state := NewRuntimeState(NewVariablePool(SystemIdentity{}, nil, nil, nil, nil))
	runEngine(t, env, GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			testNode("llm", NodeTypeLLM),
			testNode("iter", NodeTypeCode),
		},
		Edges: []EdgeConfig{
			testEdge("start", "llm"),
			testEdge("llm", "iter"),
		},
	}, EngineParams{RuntimeState: state})

	if state.TotalTokens != 22 {
		t.Errorf("TotalTokens = %d, want 22", state.TotalTokens)
	}
	if state.LLMUsage.PromptTokens != 10 {
		t.Errorf("PromptTokens = %d, want 10", state.LLMUsage.PromptTokens)
	}
}

// blockingNode holds its run open until the context is cancelled, then
// closes without completing.
type blockingNode struct {
	BaseNode
}

func (n *blockingNode) Run(ctx context.Context) <-chan NodeEvent {
	ch := make(chan NodeEvent)
	go func() {
		defer close(ch)
		<-ctx.Done()
	}()
	return ch
}

func blockingRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(NodeTypeStart, "", func(init NodeInit) (Node, error) {
		return &blockingNode{BaseNode: NewBaseNode(init)}, nil
	})
	return registry
}

func TestEngine_CancellationStopsCleanly(t *testing.T) {
	registry := blockingRegistry()

	// Repeated rounds shake out ordering races between the cancellation
	// and the delivery of the unwind events.
	for round := 0; round < 25; round++ {
		graph, err := NewGraph(GraphConfig{
			Nodes: []NodeConfig{testNode("start", NodeTypeStart)},
		})
		if err != nil {
			t.Fatalf("NewGraph: %v", err)
		}
		engine, err := NewEngine(EngineParams{
			Graph:        graph,
			RuntimeState: NewRuntimeState(NewVariablePool(SystemIdentity{}, nil, nil, nil, nil)),
			Registry:     registry,
		})
		if err != nil {
			t.Fatalf("NewEngine: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		var events []Event
		for ev := range engine.Run(ctx) {
			events = append(events, ev)
			if _, ok := ev.(NodeRunStartedEvent); ok {
				cancel()
			}
		}
		cancel()

		var failed *NodeRunFailedEvent
		for _, ev := range events {
			if f, ok := ev.(NodeRunFailedEvent); ok {
				failed = &f
			}
		}
		if failed == nil {
			t.Fatalf("round %d: no NodeRunFailedEvent after cancellation", round)
		}
		if failed.Error != "workflow stopped" {
			t.Errorf("round %d: node error = %q, want %q", round, failed.Error, "workflow stopped")
		}
		if failed.RouteNodeState.Status != RouteNodeStatusFailed {
			t.Errorf("round %d: route status = %s, want failed", round, failed.RouteNodeState.Status)
		}

		terminal, ok := lastEvent(events).(GraphRunFailedEvent)
		if !ok {
			t.Fatalf("round %d: terminal event = %T, want GraphRunFailedEvent", round, lastEvent(events))
		}
		if !strings.Contains(terminal.Error, "stopped") {
			t.Errorf("round %d: terminal error = %q", round, terminal.Error)
		}
	}
}

func TestEngine_MaxExecutionTimeExceeded(t *testing.T) {
	env := newStubEnv()
	state := NewRuntimeState(NewVariablePool(SystemIdentity{}, nil, nil, nil, nil))
	state.StartAt = time.Now().Add(-time.Hour)

	events := runEngine(t, env, GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			testNode("work", NodeTypeCode),
		},
		Edges: []EdgeConfig{testEdge("start", "work")},
	}, EngineParams{RuntimeState: state, Limits: Limits{MaxExecutionTime: time.Second}})

	terminal, ok := lastEvent(events).(GraphRunFailedEvent)
	if !ok {
		t.Fatalf("terminal event = %T, want GraphRunFailedEvent", lastEvent(events))
	}
	if !strings.Contains(terminal.Error, "max execution time") {
		t.Errorf("error = %q, want to contain %q", terminal.Error, "max execution time")
	}
	if got := env.behavior("start").callCount(); got != 0 {
		t.Errorf("start runs = %d, want 0 past the deadline", got)
	}
}

func TestEngine_PoolOverflowFailsRun(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NodeTypeStart, "", func(init NodeInit) (Node, error) {
		return &stubNode{BaseNode: NewBaseNode(init), behavior: &stubBehavior{}}, nil
	})
	registry.Register(NodeTypeCode, "", func(init NodeInit) (Node, error) {
		return &blockingNode{BaseNode: NewBaseNode(init)}, nil
	})

	graph, err := NewGraph(GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			testNode("b1", NodeTypeCode),
			testNode("b2", NodeTypeCode),
			testNode("b3", NodeTypeCode),
		},
		Edges: []EdgeConfig{
			testEdge("start", "b1"),
			testEdge("start", "b2"),
			testEdge("start", "b3"),
		},
	})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	// One worker and a submit cap of two: the branch nodes block, so the
	// third submit must overflow instead of waiting for capacity.
	pool := NewWorkerPool(1, 2)
	defer pool.Release()

	engine, err := NewEngine(EngineParams{
		Graph:        graph,
		RuntimeState: NewRuntimeState(NewVariablePool(SystemIdentity{}, nil, nil, nil, nil)),
		Registry:     registry,
		Pool:         pool,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	var events []Event
	for ev := range engine.Run(context.Background()) {
		events = append(events, ev)
	}

	terminal, ok := lastEvent(events).(GraphRunFailedEvent)
	if !ok {
		t.Fatalf("terminal event = %T, want GraphRunFailedEvent", lastEvent(events))
	}
	if !strings.Contains(terminal.Error, "max submit count") {
		t.Errorf("error = %q, want to contain %q", terminal.Error, "max submit count")
	}
}

// strategyNode pairs a scripted result with a named reasoning strategy.
type strategyNode struct {
	stubNode
	strategy string
}

func (n *strategyNode) AgentStrategy() string { return n.strategy }

func TestEngine_AgentStrategyOnNodeStarted(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NodeTypeStart, "", func(init NodeInit) (Node, error) {
		return &stubNode{BaseNode: NewBaseNode(init), behavior: &stubBehavior{}}, nil
	})
	registry.Register(NodeTypeAgent, "", func(init NodeInit) (Node, error) {
		return &strategyNode{
			stubNode: stubNode{BaseNode: NewBaseNode(init), behavior: &stubBehavior{}},
			strategy: "function_calling",
		}, nil
	})

	graph, err := NewGraph(GraphConfig{
		Nodes: []NodeConfig{
			testNode("start", NodeTypeStart),
			testNode("agent", NodeTypeAgent),
		},
		Edges: []EdgeConfig{testEdge("start", "agent")},
	})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	engine, err := NewEngine(EngineParams{
		Graph:        graph,
		RuntimeState: NewRuntimeState(NewVariablePool(SystemIdentity{}, nil, nil, nil, nil)),
		Registry:     registry,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	strategies := make(map[string]string)
	for ev := range engine.Run(context.Background()) {
		if s, ok := ev.(NodeRunStartedEvent); ok {
			strategies[s.NodeID] = s.AgentStrategy
		}
	}

	if strategies["agent"] != "function_calling" {
		t.Errorf("agent strategy = %q, want %q", strategies["agent"], "function_calling")
	}
	if strategies["start"] != "" {
		t.Errorf("start strategy = %q, want empty", strategies["start"])
	}
}
