package workflow

import (
	"context"
	"time"
)

// ResponseEvent is the externally visible form of an engine event, ready
// for serialization to an SSE stream or a blocking response document.
type ResponseEvent struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Response event names.
const (
	ResponseWorkflowStarted          = "workflow_started"
	ResponseWorkflowSucceeded        = "workflow_succeeded"
	ResponseWorkflowPartialSucceeded = "workflow_partial_succeeded"
	ResponseWorkflowFailed           = "workflow_failed"
	ResponseNodeStarted              = "node_started"
	ResponseNodeSucceeded            = "node_succeeded"
	ResponseNodeFailed               = "node_failed"
	ResponseNodeException            = "node_exception"
	ResponseNodeRetry                = "node_retry"
	ResponseTextChunk                = "text_chunk"
	ResponseRetrieverResources       = "retriever_resources"
	ResponseParallelBranchStarted    = "parallel_branch_started"
	ResponseParallelBranchFinished   = "parallel_branch_finished"
	ResponseIterationStarted         = "iteration_started"
	ResponseIterationNext            = "iteration_next"
	ResponseIterationCompleted       = "iteration_completed"
	ResponseLoopStarted              = "loop_started"
	ResponseLoopNext                 = "loop_next"
	ResponseLoopCompleted            = "loop_completed"
	ResponseAgentLog                 = "agent_log"
	ResponsePing                     = "ping"
)

// DefaultKeepAliveInterval is how often Stream emits ping events while
// the engine is quiet.
const DefaultKeepAliveInterval = 10 * time.Second

// ResponsePipeline turns an engine event stream into response events.
// Use Stream for incremental delivery with keep-alive pings, or Collect
// to block until the run finishes and return only the terminal event.
type ResponsePipeline struct {
	events <-chan Event

	// KeepAliveInterval overrides the ping cadence when positive.
	KeepAliveInterval time.Duration
}

// NewResponsePipeline wraps an engine event stream.
func NewResponsePipeline(events <-chan Event) *ResponsePipeline {
	return &ResponsePipeline{events: events}
}

// Stream converts events as they arrive, inserting ping events when the
// engine stays quiet for a keep-alive interval. The returned channel
// closes when the engine stream closes or ctx is canceled.
func (p *ResponsePipeline) Stream(ctx context.Context) <-chan ResponseEvent {
	out := make(chan ResponseEvent)
	interval := p.KeepAliveInterval
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		send := func(re ResponseEvent) bool {
			select {
			case out <- re:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case ev, ok := <-p.events:
				if !ok {
					return
				}
				re, ok := translateEvent(ev)
				if !ok {
					continue
				}
				if !send(re) {
					return
				}
				ticker.Reset(interval)
			case <-ticker.C:
				if !send(ResponseEvent{Event: ResponsePing}) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Collect drains the stream and returns the terminal response event. It
// returns ctx.Err when canceled before the run finishes.
func (p *ResponsePipeline) Collect(ctx context.Context) (ResponseEvent, error) {
	var terminal ResponseEvent
	for {
		select {
		case ev, ok := <-p.events:
			if !ok {
				return terminal, nil
			}
			switch ev.(type) {
			case GraphRunSucceededEvent, GraphRunPartialSucceededEvent, GraphRunFailedEvent:
				terminal, _ = translateEvent(ev)
			}
		case <-ctx.Done():
			return ResponseEvent{}, ctx.Err()
		}
	}
}

func translateEvent(ev Event) (ResponseEvent, bool) {
	switch t := ev.(type) {
	case GraphRunStartedEvent:
		return ResponseEvent{Event: ResponseWorkflowStarted}, true
	case GraphRunSucceededEvent:
		return ResponseEvent{
			Event: ResponseWorkflowSucceeded,
			Data:  map[string]any{"outputs": t.Outputs},
		}, true
	case GraphRunPartialSucceededEvent:
		return ResponseEvent{
			Event: ResponseWorkflowPartialSucceeded,
			Data: map[string]any{
				"outputs":          t.Outputs,
				"exceptions_count": t.ExceptionsCount,
			},
		}, true
	case GraphRunFailedEvent:
		return ResponseEvent{
			Event: ResponseWorkflowFailed,
			Data: map[string]any{
				"error":            t.Error,
				"exceptions_count": t.ExceptionsCount,
			},
		}, true
	case NodeRunStartedEvent:
		data := nodeEventData(t.BaseNodeEvent)
		data["predecessor_node_id"] = t.PredecessorNodeID
		if t.AgentStrategy != "" {
			data["agent_strategy"] = t.AgentStrategy
		}
		return ResponseEvent{Event: ResponseNodeStarted, Data: data}, true
	case NodeRunSucceededEvent:
		data := nodeEventData(t.BaseNodeEvent)
		if r := t.RouteNodeState.NodeRunResult; r != nil {
			data["outputs"] = r.Outputs
		}
		return ResponseEvent{Event: ResponseNodeSucceeded, Data: data}, true
	case NodeRunFailedEvent:
		data := nodeEventData(t.BaseNodeEvent)
		data["error"] = t.Error
		return ResponseEvent{Event: ResponseNodeFailed, Data: data}, true
	case NodeRunExceptionEvent:
		data := nodeEventData(t.BaseNodeEvent)
		data["error"] = t.Error
		return ResponseEvent{Event: ResponseNodeException, Data: data}, true
	case NodeRunRetryEvent:
		data := nodeEventData(t.BaseNodeEvent)
		data["error"] = t.Error
		data["retry_index"] = t.RetryIndex
		return ResponseEvent{Event: ResponseNodeRetry, Data: data}, true
	case NodeRunStreamChunkEvent:
		data := nodeEventData(t.BaseNodeEvent)
		data["text"] = t.ChunkContent
		data["from_variable_selector"] = t.FromVariableSelector
		return ResponseEvent{Event: ResponseTextChunk, Data: data}, true
	case NodeRunRetrieverResourceEvent:
		data := nodeEventData(t.BaseNodeEvent)
		data["retriever_resources"] = t.RetrieverResources
		return ResponseEvent{Event: ResponseRetrieverResources, Data: data}, true
	case ParallelBranchRunStartedEvent:
		return ResponseEvent{
			Event: ResponseParallelBranchStarted,
			Data:  parallelEventData(t.ParallelContext, ""),
		}, true
	case ParallelBranchRunSucceededEvent:
		return ResponseEvent{
			Event: ResponseParallelBranchFinished,
			Data:  parallelEventData(t.ParallelContext, ""),
		}, true
	case ParallelBranchRunFailedEvent:
		return ResponseEvent{
			Event: ResponseParallelBranchFinished,
			Data:  parallelEventData(t.ParallelContext, t.Error),
		}, true
	case IterationRunStartedEvent:
		data := nodeEventData(t.BaseNodeEvent)
		data["inputs"] = t.Inputs
		return ResponseEvent{Event: ResponseIterationStarted, Data: data}, true
	case IterationRunNextEvent:
		data := nodeEventData(t.BaseNodeEvent)
		data["index"] = t.Index
		return ResponseEvent{Event: ResponseIterationNext, Data: data}, true
	case IterationRunSucceededEvent:
		data := nodeEventData(t.BaseNodeEvent)
		data["outputs"] = t.Outputs
		data["steps"] = t.Steps
		return ResponseEvent{Event: ResponseIterationCompleted, Data: data}, true
	case IterationRunFailedEvent:
		data := nodeEventData(t.BaseNodeEvent)
		data["error"] = t.Error
		data["steps"] = t.Steps
		return ResponseEvent{Event: ResponseIterationCompleted, Data: data}, true
	case LoopRunStartedEvent:
		data := nodeEventData(t.BaseNodeEvent)
		data["inputs"] = t.Inputs
		return ResponseEvent{Event: ResponseLoopStarted, Data: data}, true
	case LoopRunNextEvent:
		data := nodeEventData(t.BaseNodeEvent)
		data["index"] = t.Index
		return ResponseEvent{Event: ResponseLoopNext, Data: data}, true
	case LoopRunSucceededEvent:
		data := nodeEventData(t.BaseNodeEvent)
		data["outputs"] = t.Outputs
		data["steps"] = t.Steps
		return ResponseEvent{Event: ResponseLoopCompleted, Data: data}, true
	case LoopRunFailedEvent:
		data := nodeEventData(t.BaseNodeEvent)
		data["error"] = t.Error
		data["steps"] = t.Steps
		return ResponseEvent{Event: ResponseLoopCompleted, Data: data}, true
	case AgentLogEvent:
		data := nodeEventData(t.BaseNodeEvent)
		data["message_id"] = t.MessageID
		data["parent_id"] = t.ParentID
		data["label"] = t.Label
		data["status"] = t.Status
		data["log"] = t.Data
		return ResponseEvent{Event: ResponseAgentLog, Data: data}, true
	default:
		return ResponseEvent{}, false
	}
}

func nodeEventData(b BaseNodeEvent) map[string]any {
	data := map[string]any{
		"id":         b.ID,
		"node_id":    b.NodeID,
		"node_type":  string(b.NodeType),
		"node_title": b.NodeTitle,
	}
	if b.RouteNodeState != nil {
		data["index"] = b.RouteNodeState.Index
	}
	if b.InParallel() {
		data["parallel_id"] = b.ParallelID
		data["parallel_start_node_id"] = b.ParallelStartNodeID
	}
	if b.InIterationID != "" {
		data["iteration_id"] = b.InIterationID
	}
	if b.InLoopID != "" {
		data["loop_id"] = b.InLoopID
	}
	return data
}

func parallelEventData(pctx ParallelContext, errMsg string) map[string]any {
	data := map[string]any{
		"parallel_id":            pctx.ParallelID,
		"parallel_start_node_id": pctx.ParallelStartNodeID,
	}
	if pctx.ParentParallelID != "" {
		data["parent_parallel_id"] = pctx.ParentParallelID
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	return data
}
