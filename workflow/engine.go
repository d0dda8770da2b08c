package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vison888/dify/workflow/emit"
)

// MaxCallDepth bounds nesting of child engines (iteration and loop bodies
// building their own engines).
const MaxCallDepth = 5

// branchEventBuffer is the capacity of the channel parallel branches
// publish into. Branch goroutines block once the dispatcher falls this
// far behind, which bounds memory under a slow consumer.
const branchEventBuffer = 128

// stopDrainGrace is how long a cancelled run keeps trying to hand an
// event to the consumer. A consumer draining the stream to channel
// close receives every unwind event; one that abandoned the stream
// forfeits them after this window.
const stopDrainGrace = 5 * time.Second

// EngineParams configures one Engine.
type EngineParams struct {
	Identity     SystemIdentity
	WorkflowType WorkflowType
	InvokeFrom   InvokeFrom
	CallDepth    int

	Graph        *Graph
	RuntimeState *RuntimeState
	Registry     *Registry
	Limits       Limits

	// Pool is optional. When nil the engine creates its own pool from
	// Limits and releases it at the end of the run. A non-nil pool is
	// shared (child engines) and never released by this engine.
	Pool *WorkerPool

	// Emitter optionally mirrors lifecycle events to an observability
	// backend.
	Emitter emit.Emitter

	// Metrics optionally records Prometheus metrics.
	Metrics *Metrics
}

// Engine drives one workflow run: it walks the graph from the root,
// evaluates edge conditions, dispatches parallel branches onto the worker
// pool, applies retry and error strategies, and emits an ordered event
// stream.
//
// An Engine is single-use. Create one per run.
type Engine struct {
	params   EngineParams
	graph    *Graph
	state    *RuntimeState
	limits   Limits
	pool     *WorkerPool
	ownsPool bool
	emitter  emit.Emitter
	metrics  *Metrics

	runID string
}

// NewEngine validates params and prepares a run.
//
// Returns error if:
//   - Graph, RuntimeState, or Registry is nil
//   - CallDepth exceeds MaxCallDepth
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Graph == nil {
		return nil, errors.New("engine: graph is required")
	}
	if params.RuntimeState == nil {
		return nil, errors.New("engine: runtime state is required")
	}
	if params.Registry == nil {
		return nil, errors.New("engine: registry is required")
	}
	if params.CallDepth > MaxCallDepth {
		return nil, fmt.Errorf("engine: max call depth %d exceeded", MaxCallDepth)
	}

	limits := params.Limits.withDefaults()
	pool := params.Pool
	ownsPool := false
	if pool == nil {
		pool = NewWorkerPool(limits.MaxWorkers, limits.MaxSubmitCount)
		ownsPool = true
	}

	runID := params.Identity.WorkflowExecutionID
	if runID == "" {
		runID = uuid.NewString()
	}

	return &Engine{
		params:   params,
		graph:    params.Graph,
		state:    params.RuntimeState,
		limits:   limits,
		pool:     pool,
		ownsPool: ownsPool,
		emitter:  params.Emitter,
		metrics:  params.Metrics,
		runID:    runID,
	}, nil
}

// RunID returns the identifier stamped on mirrored events.
func (e *Engine) RunID() string { return e.runID }

// emitFunc pushes one event toward the consumer. It returns false when
// the consumer is gone and the caller should unwind.
type emitFunc func(Event) bool

// Run starts the workflow and returns its event stream. The channel is
// closed after the terminal event. Cancel ctx to stop the run; in-flight
// nodes observe the cancellation through their own ctx.
func (e *Engine) Run(ctx context.Context) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)
		if e.ownsPool {
			defer e.pool.Release()
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		sp := newStreamProcessor(e.params.WorkflowType, e.state)

		emitEvent := func(ev Event) bool {
			sp.process(ev)
			e.mirror(ev)
			select {
			case out <- ev:
				return true
			case <-runCtx.Done():
			}
			// The run is stopping, but the consumer may still be draining
			// the stream. Deliver the unwind events within a bounded window
			// so a cancelled run always closes with its terminal event.
			select {
			case out <- ev:
				return true
			case <-time.After(stopDrainGrace):
				return false
			}
		}

		start := time.Now()
		if !emitEvent(GraphRunStartedEvent{}) {
			e.metrics.runFinished("stopped", time.Since(start))
			return
		}

		var exceptions atomic.Int64
		err := e.runSubtree(runCtx, emitEvent, e.graph.RootNodeID, ParallelContext{}, "", &exceptions)

		switch {
		case err != nil:
			emitEvent(GraphRunFailedEvent{
				Error:           err.Error(),
				ExceptionsCount: int(exceptions.Load()),
			})
			e.metrics.runFinished("failed", time.Since(start))
		case exceptions.Load() > 0:
			emitEvent(GraphRunPartialSucceededEvent{
				Outputs:         sp.finalOutputs(),
				ExceptionsCount: int(exceptions.Load()),
			})
			e.metrics.runFinished("partial_succeeded", time.Since(start))
		default:
			emitEvent(GraphRunSucceededEvent{Outputs: sp.finalOutputs()})
			e.metrics.runFinished("succeeded", time.Since(start))
		}
	}()

	return out
}

// runSubtree is the driver loop. It executes nodes starting at startID
// until the route ends, an end node finishes, or control leaves the
// enclosing parallel region. It is called once for the main route and
// once per parallel branch, with emit bound to the branch channel.
func (e *Engine) runSubtree(ctx context.Context, emitEvent emitFunc, startID string, pctx ParallelContext, predecessorID string, exceptions *atomic.Int64) error {
	nextNodeID := startID
	previousNodeID := predecessorID
	var previousState *RouteNodeState

	for {
		if e.state.steps() > e.limits.MaxExecutionSteps {
			return &GraphRunError{Message: fmt.Sprintf("max steps %d reached", e.limits.MaxExecutionSteps)}
		}
		if time.Since(e.state.StartAt) > e.limits.MaxExecutionTime {
			return &GraphRunError{Message: fmt.Sprintf("max execution time %ds reached", int(e.limits.MaxExecutionTime.Seconds()))}
		}
		if ctx.Err() != nil {
			return errRunStopped
		}

		routeState := e.state.createNodeState(nextNodeID)
		e.state.storeNodeState(routeState)
		if previousState != nil {
			e.state.addRoute(previousState.ID, routeState.ID)
		}

		nc, ok := e.graph.NodeConfig(nextNodeID)
		if !ok {
			return &GraphRunError{Message: fmt.Sprintf("node %s not found in graph", nextNodeID)}
		}

		node, err := e.params.Registry.Build(NodeInit{
			ExecutionID:    uuid.NewString(),
			Config:         nc,
			Params:         e.initParams(),
			RuntimeState:   e.state,
			PreviousNodeID: previousNodeID,
		})
		if err != nil {
			return &GraphRunError{Message: fmt.Sprintf("node %s init failed: %v", nextNodeID, err)}
		}

		if err := e.runNode(ctx, emitEvent, node, routeState, pctx, previousNodeID, exceptions); err != nil {
			return err
		}

		previousState = routeState
		previousNodeID = nextNodeID

		if nc.Data.Type == NodeTypeEnd {
			return nil
		}

		nextNodeID, err = e.selectSuccessor(ctx, emitEvent, node, routeState, pctx, exceptions)
		if err != nil {
			return err
		}
		if nextNodeID == "" {
			return nil
		}

		// Control never crosses a parallel region boundary from inside a
		// branch. The join node runs after the dispatcher collects all
		// branches.
		if pctx.InParallel() && e.graph.NodeParallelMapping[nextNodeID] != pctx.ParallelID {
			return nil
		}
	}
}

// selectSuccessor picks the next node after a finished visit. It returns
// "" when the route ends here. Fan-outs are dispatched as parallel
// branches and return the region's join node.
func (e *Engine) selectSuccessor(ctx context.Context, emitEvent emitFunc, node Node, routeState *RouteNodeState, pctx ParallelContext, exceptions *atomic.Int64) (string, error) {
	edges := e.graph.OutgoingEdges(node.NodeID())
	if len(edges) == 0 {
		return "", nil
	}

	if len(edges) == 1 {
		edge := edges[0]
		// A node that took its fail branch has no plain successor; only
		// edges with branch conditions may follow it.
		if routeState.Status == RouteNodeStatusException &&
			node.ErrorStrategy() == ErrorStrategyFailBranch &&
			edge.RunCondition == nil {
			return "", nil
		}
		if edge.RunCondition != nil && !edge.RunCondition.Check(e.state.VariablePool, routeState) {
			return "", nil
		}
		return edge.Target, nil
	}

	hasConditions := false
	for _, edge := range edges {
		if edge.RunCondition != nil {
			hasConditions = true
			break
		}
	}

	if hasConditions {
		// Condition groups are evaluated in config order; the first
		// matching group is followed. A single-edge group routes, a
		// multi-edge group fans out in parallel.
		for _, group := range e.graph.edgeGroups(node.NodeID()) {
			edge := group[0]
			if edge.RunCondition == nil {
				continue
			}
			if !edge.RunCondition.Check(e.state.VariablePool, routeState) {
				continue
			}
			if len(group) == 1 {
				return edge.Target, nil
			}
			return e.runParallelBranches(ctx, emitEvent, group, pctx, exceptions)
		}
		return "", nil
	}

	// Unconditional fan-out. A fail-branch exception has no success
	// successors.
	if routeState.Status == RouteNodeStatusException &&
		node.ErrorStrategy() == ErrorStrategyFailBranch {
		return "", nil
	}
	return e.runParallelBranches(ctx, emitEvent, edges, pctx, exceptions)
}

// runNode executes one node visit, applying retries and the error
// strategy. It returns nil when the route may continue (success or
// absorbed exception) and nodeFailedError on terminal node failure.
// Cancellation mid-node fails the visit with the stop reason;
// errRunStopped is returned only when the consumer abandoned the stream.
func (e *Engine) runNode(ctx context.Context, emitEvent emitFunc, node Node, routeState *RouteNodeState, pctx ParallelContext, predecessorID string, exceptions *atomic.Int64) error {
	routeState.Index = e.state.incrementSteps()
	base := e.baseEvent(node, routeState, pctx)

	started := NodeRunStartedEvent{
		BaseNodeEvent:     base,
		PredecessorNodeID: predecessorID,
	}
	if p, ok := node.(AgentStrategyProvider); ok {
		started.AgentStrategy = p.AgentStrategy()
	}
	if !emitEvent(started) {
		return errRunStopped
	}

	start := time.Now()
	maxRetries := 0
	retryInterval := time.Duration(0)
	if rc := node.RetryConfig(); rc.Enabled {
		maxRetries = rc.MaxRetries
		retryInterval = rc.RetryInterval
	}

	retries := 0
	for {
		result, err := e.consumeNodeRun(ctx, emitEvent, node, base, pctx)
		if errors.Is(err, errNodeStopped) {
			return e.failStopped(emitEvent, node, routeState, base, start)
		}
		if err != nil {
			return err
		}

		if result.Status == NodeRunStatusFailed {
			// An HTTP request that produced a response is a success with
			// error details in the outputs, unless an error strategy
			// wants to see the failure.
			if node.Type() == NodeTypeHTTPRequest &&
				retries == maxRetries &&
				len(result.Outputs) > 0 &&
				!node.ContinueOnError() {
				result.Status = NodeRunStatusSucceeded
			}
		}

		if result.Status == NodeRunStatusFailed && retries < maxRetries {
			retries++
			routeState.NodeRunResult = &result
			e.metrics.nodeRetried(node.Type())
			if !emitEvent(NodeRunRetryEvent{
				BaseNodeEvent: base,
				Error:         result.Error,
				RetryIndex:    retries,
				StartAt:       time.Now(),
			}) {
				return errRunStopped
			}
			if retryInterval > 0 {
				select {
				case <-time.After(retryInterval):
				case <-ctx.Done():
					return e.failStopped(emitEvent, node, routeState, base, start)
				}
			}
			continue
		}

		switch result.Status {
		case NodeRunStatusFailed:
			if node.ContinueOnError() {
				absorbed := e.absorbFailure(node, result)
				e.writeOutputs(node.NodeID(), absorbed.Outputs)
				e.stampParallelMetadata(&absorbed, pctx)
				routeState.setFinished(&absorbed)
				exceptions.Add(1)
				e.metrics.nodeFinished(node.Type(), "exception", time.Since(start))
				if !emitEvent(NodeRunExceptionEvent{BaseNodeEvent: base, Error: absorbed.Error}) {
					return errRunStopped
				}
				return nil
			}
			routeState.setFinished(&result)
			e.metrics.nodeFinished(node.Type(), "failed", time.Since(start))
			if !emitEvent(NodeRunFailedEvent{BaseNodeEvent: base, Error: result.Error}) {
				return errRunStopped
			}
			reason := result.Error
			if reason == "" {
				reason = fmt.Sprintf("node %s failed", node.NodeID())
			}
			return &nodeFailedError{reason: reason}

		default:
			// A fail-branch node that succeeded routes on its success
			// branch unless it already picked a handle.
			if node.ErrorStrategy() == ErrorStrategyFailBranch && result.EdgeSourceHandle == "" {
				result.EdgeSourceHandle = EdgeSourceHandleSuccess
			}
			e.accountUsage(&result)
			e.writeOutputs(node.NodeID(), result.Outputs)
			e.stampParallelMetadata(&result, pctx)
			routeState.setFinished(&result)
			e.metrics.nodeFinished(node.Type(), "succeeded", time.Since(start))
			if !emitEvent(NodeRunSucceededEvent{BaseNodeEvent: base}) {
				return errRunStopped
			}
			return nil
		}
	}
}

// failStopped finishes a node visit interrupted by cancellation: the
// route is marked failed with the stop reason, the failure is emitted,
// and the error propagates to the terminal GraphRunFailed.
func (e *Engine) failStopped(emitEvent emitFunc, node Node, routeState *RouteNodeState, base BaseNodeEvent, start time.Time) error {
	stopped := NodeRunResult{Status: NodeRunStatusFailed, Error: errNodeStopped.Error()}
	routeState.setFinished(&stopped)
	e.metrics.nodeFinished(node.Type(), "failed", time.Since(start))
	emitEvent(NodeRunFailedEvent{BaseNodeEvent: base, Error: stopped.Error})
	return &nodeFailedError{reason: stopped.Error}
}

// consumeNodeRun drains one Run invocation of a node, forwarding stream
// events, and returns the final result. Nodes that close their channel
// without completing are treated as failed.
func (e *Engine) consumeNodeRun(ctx context.Context, emitEvent emitFunc, node Node, base BaseNodeEvent, pctx ParallelContext) (NodeRunResult, error) {
	var result *NodeRunResult

	for ev := range node.Run(ctx) {
		switch t := ev.(type) {
		case StreamChunkEvent:
			if !emitEvent(NodeRunStreamChunkEvent{
				BaseNodeEvent:        base,
				ChunkContent:         t.ChunkContent,
				FromVariableSelector: t.FromVariableSelector,
			}) {
				return NodeRunResult{}, errRunStopped
			}
		case RetrieverResourceEvent:
			if !emitEvent(NodeRunRetrieverResourceEvent{
				BaseNodeEvent:      base,
				RetrieverResources: t.RetrieverResources,
				Context:            t.Context,
			}) {
				return NodeRunResult{}, errRunStopped
			}
		case EngineEvent:
			if !emitEvent(stampParallel(t.Event, pctx)) {
				return NodeRunResult{}, errRunStopped
			}
		case CompletedEvent:
			r := t.Result
			result = &r
		}
	}

	if ctx.Err() != nil {
		return NodeRunResult{}, errNodeStopped
	}
	if result == nil {
		return NodeRunResult{
			Status: NodeRunStatusFailed,
			Error:  fmt.Sprintf("node %s finished without a result", node.NodeID()),
		}, nil
	}
	return *result, nil
}

// absorbFailure applies the node's error strategy to a failed result and
// returns the exception result the run continues with. The error details
// are published to the variable pool either way.
func (e *Engine) absorbFailure(node Node, failed NodeRunResult) NodeRunResult {
	errorType := failed.ErrorType
	if errorType == "" {
		errorType = "WorkflowNodeError"
	}
	pool := e.state.VariablePool
	pool.Add([]string{node.NodeID(), "error_message"}, failed.Error)
	pool.Add([]string{node.NodeID(), "error_type"}, errorType)

	outputs := map[string]any{
		"error_message": failed.Error,
		"error_type":    errorType,
	}

	result := NodeRunResult{
		Status:    NodeRunStatusException,
		Inputs:    failed.Inputs,
		Error:     failed.Error,
		ErrorType: errorType,
		Metadata: map[MetadataKey]any{
			MetadataErrorStrategy: node.ErrorStrategy(),
		},
	}

	switch node.ErrorStrategy() {
	case ErrorStrategyDefaultValue:
		for k, v := range node.DefaultValue() {
			outputs[k] = v
		}
		result.Outputs = outputs
	case ErrorStrategyFailBranch:
		result.Outputs = outputs
		result.EdgeSourceHandle = EdgeSourceHandleFailed
	default:
		result.Outputs = outputs
	}
	return result
}

// runParallelBranches dispatches one branch per edge onto the worker pool
// and forwards their events in arrival order. It returns the region's
// join node, or "" when the branches run to their own terminus.
//
// Any branch failure fails the whole region and the run.
func (e *Engine) runParallelBranches(ctx context.Context, emitEvent emitFunc, edges []Edge, pctx ParallelContext, exceptions *atomic.Int64) (string, error) {
	firstTarget := edges[0].Target
	parallelID, ok := e.graph.NodeParallelMapping[firstTarget]
	if !ok {
		return "", &GraphRunError{Message: fmt.Sprintf("parallel region for node %s not found", firstTarget)}
	}
	region := e.graph.ParallelMapping[parallelID]

	branchCtx := ParallelContext{
		ParallelID:                region.ID,
		ParallelStartNodeID:       region.StartFromNodeID,
		ParentParallelID:          pctx.ParallelID,
		ParentParallelStartNodeID: pctx.ParallelStartNodeID,
	}

	bctx, bcancel := context.WithCancel(ctx)
	defer bcancel()

	ch := make(chan Event, branchEventBuffer)
	var wg sync.WaitGroup
	var submitErr error

	for _, edge := range edges {
		target := edge.Target
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			e.metrics.branchStarted()
			defer e.metrics.branchFinished()
			e.runBranch(bctx, ch, target, branchCtx, region.StartFromNodeID, exceptions)
		})
		if err != nil {
			wg.Done()
			e.metrics.poolRejected()
			submitErr = err
			bcancel()
			break
		}
	}
	go func() {
		wg.Wait()
		close(ch)
	}()

	var runErr error
	if submitErr != nil {
		runErr = &GraphRunError{Message: submitErr.Error()}
	}

	succeeded := 0
	for ev := range ch {
		if runErr == nil && !emitEvent(ev) {
			runErr = errRunStopped
			bcancel()
		}
		switch t := ev.(type) {
		case ParallelBranchRunSucceededEvent:
			if t.ParallelID == region.ID {
				succeeded++
			}
		case ParallelBranchRunFailedEvent:
			if t.ParallelID == region.ID && runErr == nil {
				runErr = &GraphRunError{Message: t.Error}
				bcancel()
			}
		}
	}

	if runErr != nil {
		return "", runErr
	}
	return region.EndToNodeID, nil
}

// runBranch executes one branch subtree, publishing its events into the
// dispatcher channel. The first event is always ParallelBranchRunStarted
// and the last is Succeeded or Failed.
func (e *Engine) runBranch(ctx context.Context, ch chan<- Event, startID string, pctx ParallelContext, predecessorID string, exceptions *atomic.Int64) {
	send := func(ev Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(ParallelBranchRunStartedEvent{ParallelContext: pctx}) {
		return
	}

	err := e.runSubtree(ctx, send, startID, pctx, predecessorID, exceptions)
	if err != nil {
		if errors.Is(err, errRunStopped) {
			return
		}
		send(ParallelBranchRunFailedEvent{ParallelContext: pctx, Error: err.Error()})
		return
	}
	send(ParallelBranchRunSucceededEvent{ParallelContext: pctx})
}

func (e *Engine) initParams() GraphInitParams {
	return GraphInitParams{
		Identity:     e.params.Identity,
		WorkflowType: e.params.WorkflowType,
		InvokeFrom:   e.params.InvokeFrom,
		CallDepth:    e.params.CallDepth,
		Graph:        e.graph,
		Registry:     e.params.Registry,
		Limits:       e.limits,
		Pool:         e.pool,
	}
}

func (e *Engine) baseEvent(node Node, routeState *RouteNodeState, pctx ParallelContext) BaseNodeEvent {
	nc, _ := e.graph.NodeConfig(node.NodeID())
	return BaseNodeEvent{
		ID:              routeState.ID,
		NodeID:          node.NodeID(),
		NodeType:        node.Type(),
		NodeTitle:       node.Title(),
		NodeVersion:     node.Version(),
		RouteNodeState:  routeState,
		ParallelContext: pctx,
		InIterationID:   nc.Data.IterationID,
		InLoopID:        nc.Data.LoopID,
	}
}

// writeOutputs publishes node outputs into the pool, registering nested
// mapping keys so deep selectors resolve.
func (e *Engine) writeOutputs(nodeID string, outputs map[string]any) {
	for k, v := range outputs {
		e.state.VariablePool.AddRecursively(nodeID, []string{k}, v)
	}
}

// accountUsage folds a result's token usage into the run totals.
func (e *Engine) accountUsage(result *NodeRunResult) {
	if result.LLMUsage != nil {
		e.state.addUsage(result.LLMUsage.TotalTokens, result.LLMUsage)
		return
	}
	if result.Metadata != nil {
		switch t := result.Metadata[MetadataTotalTokens].(type) {
		case int:
			e.state.addUsage(t, nil)
		case int64:
			e.state.addUsage(int(t), nil)
		case float64:
			e.state.addUsage(int(t), nil)
		}
	}
}

// stampParallelMetadata records which region a result was produced in.
func (e *Engine) stampParallelMetadata(result *NodeRunResult, pctx ParallelContext) {
	if !pctx.InParallel() {
		return
	}
	if result.Metadata == nil {
		result.Metadata = make(map[MetadataKey]any)
	}
	result.Metadata[MetadataParallelID] = pctx.ParallelID
	result.Metadata[MetadataParallelStartNodeID] = pctx.ParallelStartNodeID
	if pctx.ParentParallelID != "" {
		result.Metadata[MetadataParentParallelID] = pctx.ParentParallelID
		result.Metadata[MetadataParentParallelStartNodeID] = pctx.ParentParallelStartNodeID
	}
}

// stampParallel tags a child-engine event with the enclosing parallel
// region before it is forwarded on the outer stream.
func stampParallel(ev Event, pctx ParallelContext) Event {
	if !pctx.InParallel() {
		return ev
	}
	switch t := ev.(type) {
	case NodeRunStartedEvent:
		t.mergeParallel(pctx)
		return t
	case NodeRunSucceededEvent:
		t.mergeParallel(pctx)
		return t
	case NodeRunFailedEvent:
		t.mergeParallel(pctx)
		return t
	case NodeRunExceptionEvent:
		t.mergeParallel(pctx)
		return t
	case NodeRunRetryEvent:
		t.mergeParallel(pctx)
		return t
	case NodeRunStreamChunkEvent:
		t.mergeParallel(pctx)
		return t
	case NodeRunRetrieverResourceEvent:
		t.mergeParallel(pctx)
		return t
	case IterationRunStartedEvent:
		t.mergeParallel(pctx)
		return t
	case IterationRunNextEvent:
		t.mergeParallel(pctx)
		return t
	case IterationRunSucceededEvent:
		t.mergeParallel(pctx)
		return t
	case IterationRunFailedEvent:
		t.mergeParallel(pctx)
		return t
	case LoopRunStartedEvent:
		t.mergeParallel(pctx)
		return t
	case LoopRunNextEvent:
		t.mergeParallel(pctx)
		return t
	case LoopRunSucceededEvent:
		t.mergeParallel(pctx)
		return t
	case LoopRunFailedEvent:
		t.mergeParallel(pctx)
		return t
	case AgentLogEvent:
		t.mergeParallel(pctx)
		return t
	default:
		return ev
	}
}

// mirror translates a lifecycle event into the observability emitter
// format. Mirroring is best effort and never blocks the run.
func (e *Engine) mirror(ev Event) {
	if e.emitter == nil {
		return
	}

	out := emit.Event{RunID: e.runID}
	switch t := ev.(type) {
	case GraphRunStartedEvent:
		out.Msg = "workflow started"
	case GraphRunSucceededEvent:
		out.Msg = "workflow succeeded"
	case GraphRunPartialSucceededEvent:
		out.Msg = "workflow partially succeeded"
		out.Meta = map[string]any{"exceptions": t.ExceptionsCount}
	case GraphRunFailedEvent:
		out.Msg = "workflow failed"
		out.Meta = map[string]any{"error": t.Error}
	case NodeRunStartedEvent:
		out.Step = t.RouteNodeState.Index
		out.NodeID = t.NodeID
		out.Msg = "node started"
	case NodeRunSucceededEvent:
		out.Step = t.RouteNodeState.Index
		out.NodeID = t.NodeID
		out.Msg = "node succeeded"
	case NodeRunFailedEvent:
		out.Step = t.RouteNodeState.Index
		out.NodeID = t.NodeID
		out.Msg = "node failed"
		out.Meta = map[string]any{"error": t.Error}
	case NodeRunExceptionEvent:
		out.Step = t.RouteNodeState.Index
		out.NodeID = t.NodeID
		out.Msg = "node exception absorbed"
		out.Meta = map[string]any{"error": t.Error}
	case NodeRunRetryEvent:
		out.Step = t.RouteNodeState.Index
		out.NodeID = t.NodeID
		out.Msg = "node retry"
		out.Meta = map[string]any{"error": t.Error, "retry_index": t.RetryIndex}
	default:
		return
	}
	e.emitter.Emit(out)
}

// mergeParallel fills in parallel identity on an event that has none.
func (b *BaseNodeEvent) mergeParallel(pctx ParallelContext) {
	if b.ParallelID != "" {
		return
	}
	b.ParallelContext = pctx
}
