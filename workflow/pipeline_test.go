package workflow

import (
	"context"
	"testing"
	"time"
)

func TestTranslateEvent(t *testing.T) {
	base := BaseNodeEvent{
		ID:        "visit-1",
		NodeID:    "llm",
		NodeType:  NodeTypeLLM,
		NodeTitle: "LLM",
		RouteNodeState: &RouteNodeState{
			Index: 3,
			NodeRunResult: &NodeRunResult{
				Status:  NodeRunStatusSucceeded,
				Outputs: map[string]any{"text": "hi"},
			},
		},
	}

	cases := []struct {
		name  string
		in    Event
		event string
	}{
		{"workflow started", GraphRunStartedEvent{}, ResponseWorkflowStarted},
		{"workflow succeeded", GraphRunSucceededEvent{Outputs: map[string]any{"answer": "hi"}}, ResponseWorkflowSucceeded},
		{"workflow partial", GraphRunPartialSucceededEvent{ExceptionsCount: 2}, ResponseWorkflowPartialSucceeded},
		{"workflow failed", GraphRunFailedEvent{Error: "boom"}, ResponseWorkflowFailed},
		{"node started", NodeRunStartedEvent{BaseNodeEvent: base}, ResponseNodeStarted},
		{"node succeeded", NodeRunSucceededEvent{BaseNodeEvent: base}, ResponseNodeSucceeded},
		{"node failed", NodeRunFailedEvent{BaseNodeEvent: base, Error: "boom"}, ResponseNodeFailed},
		{"node exception", NodeRunExceptionEvent{BaseNodeEvent: base, Error: "boom"}, ResponseNodeException},
		{"node retry", NodeRunRetryEvent{BaseNodeEvent: base, RetryIndex: 1}, ResponseNodeRetry},
		{"text chunk", NodeRunStreamChunkEvent{BaseNodeEvent: base, ChunkContent: "h"}, ResponseTextChunk},
		{"retriever resources", NodeRunRetrieverResourceEvent{BaseNodeEvent: base}, ResponseRetrieverResources},
		{"branch started", ParallelBranchRunStartedEvent{ParallelContext: ParallelContext{ParallelID: "p"}}, ResponseParallelBranchStarted},
		{"branch succeeded", ParallelBranchRunSucceededEvent{}, ResponseParallelBranchFinished},
		{"branch failed", ParallelBranchRunFailedEvent{Error: "boom"}, ResponseParallelBranchFinished},
		{"iteration started", IterationRunStartedEvent{BaseNodeEvent: base}, ResponseIterationStarted},
		{"iteration next", IterationRunNextEvent{BaseNodeEvent: base, Index: 1}, ResponseIterationNext},
		{"iteration completed", IterationRunSucceededEvent{BaseNodeEvent: base}, ResponseIterationCompleted},
		{"iteration failed", IterationRunFailedEvent{BaseNodeEvent: base, Error: "boom"}, ResponseIterationCompleted},
		{"loop started", LoopRunStartedEvent{BaseNodeEvent: base}, ResponseLoopStarted},
		{"loop next", LoopRunNextEvent{BaseNodeEvent: base}, ResponseLoopNext},
		{"loop completed", LoopRunSucceededEvent{BaseNodeEvent: base}, ResponseLoopCompleted},
		{"agent log", AgentLogEvent{BaseNodeEvent: base, Label: "ROUND 1"}, ResponseAgentLog},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			re, ok := translateEvent(tc.in)
			if !ok {
				t.Fatal("event not translated")
			}
			if re.Event != tc.event {
				t.Errorf("event = %q, want %q", re.Event, tc.event)
			}
		})
	}

	t.Run("node data fields", func(t *testing.T) {
		re, _ := translateEvent(NodeRunSucceededEvent{BaseNodeEvent: base})
		if re.Data["node_id"] != "llm" || re.Data["index"] != 3 {
			t.Errorf("data = %v", re.Data)
		}
		outputs, ok := re.Data["outputs"].(map[string]any)
		if !ok || outputs["text"] != "hi" {
			t.Errorf("outputs = %v", re.Data["outputs"])
		}
	})

	t.Run("agent strategy on node started", func(t *testing.T) {
		re, _ := translateEvent(NodeRunStartedEvent{BaseNodeEvent: base, AgentStrategy: "function_calling"})
		if re.Data["agent_strategy"] != "function_calling" {
			t.Errorf("agent_strategy = %v", re.Data["agent_strategy"])
		}

		re, _ = translateEvent(NodeRunStartedEvent{BaseNodeEvent: base})
		if _, present := re.Data["agent_strategy"]; present {
			t.Error("agent_strategy set on a node without one")
		}
	})
}

func TestResponsePipeline_Stream(t *testing.T) {
	events := make(chan Event, 4)
	events <- GraphRunStartedEvent{}
	events <- GraphRunSucceededEvent{Outputs: map[string]any{"answer": "done"}}
	close(events)

	pipeline := NewResponsePipeline(events)
	var got []ResponseEvent
	for re := range pipeline.Stream(context.Background()) {
		got = append(got, re)
	}

	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
	if got[0].Event != ResponseWorkflowStarted || got[1].Event != ResponseWorkflowSucceeded {
		t.Errorf("events = %v", got)
	}
}

func TestResponsePipeline_StreamKeepAlive(t *testing.T) {
	events := make(chan Event)
	pipeline := NewResponsePipeline(events)
	pipeline.KeepAliveInterval = 5 * time.Millisecond

	out := pipeline.Stream(context.Background())

	select {
	case re := <-out:
		if re.Event != ResponsePing {
			t.Errorf("event = %q, want ping", re.Event)
		}
	case <-time.After(time.Second):
		t.Fatal("no ping within a second")
	}
	close(events)
	for range out {
	}
}

func TestResponsePipeline_Collect(t *testing.T) {
	t.Run("returns terminal event", func(t *testing.T) {
		events := make(chan Event, 4)
		events <- GraphRunStartedEvent{}
		events <- GraphRunFailedEvent{Error: "boom", ExceptionsCount: 0}
		close(events)

		terminal, err := NewResponsePipeline(events).Collect(context.Background())
		if err != nil {
			t.Fatalf("Collect: %v", err)
		}
		if terminal.Event != ResponseWorkflowFailed {
			t.Errorf("event = %q, want %q", terminal.Event, ResponseWorkflowFailed)
		}
		if terminal.Data["error"] != "boom" {
			t.Errorf("data = %v", terminal.Data)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewResponsePipeline(make(chan Event)).Collect(ctx)
		if err == nil {
			t.Fatal("expected error after cancel")
		}
	})
}
