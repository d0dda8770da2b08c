package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// NodeRunStatus is the outcome of one node execution attempt.
type NodeRunStatus string

const (
	NodeRunStatusRunning   NodeRunStatus = "running"
	NodeRunStatusSucceeded NodeRunStatus = "succeeded"
	NodeRunStatusFailed    NodeRunStatus = "failed"
	NodeRunStatusException NodeRunStatus = "exception"
)

// MetadataKey names the well-known entries of NodeRunResult.Metadata.
type MetadataKey string

const (
	MetadataTotalTokens               MetadataKey = "total_tokens"
	MetadataErrorStrategy             MetadataKey = "error_strategy"
	MetadataParallelID                MetadataKey = "parallel_id"
	MetadataParallelStartNodeID       MetadataKey = "parallel_start_node_id"
	MetadataParentParallelID          MetadataKey = "parent_parallel_id"
	MetadataParentParallelStartNodeID MetadataKey = "parent_parallel_start_node_id"
	MetadataIterationID               MetadataKey = "iteration_id"
	MetadataIterationIndex            MetadataKey = "iteration_index"
	MetadataLoopID                    MetadataKey = "loop_id"
	MetadataLoopIndex                 MetadataKey = "loop_index"
)

// Edge source handles used by fail-branch routing.
const (
	EdgeSourceHandleSuccess = "success"
	EdgeSourceHandleFailed  = "failed"
)

// LLMUsage aggregates model usage over a run.
type LLMUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	TotalPrice       float64
	Currency         string
}

// Merge folds another usage into this one. Currency follows the latest
// non-empty value.
func (u *LLMUsage) Merge(other LLMUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.TotalPrice += other.TotalPrice
	if other.Currency != "" {
		u.Currency = other.Currency
	}
}

// NodeRunResult is what a node reports when it completes.
type NodeRunResult struct {
	Status      NodeRunStatus
	Inputs      map[string]any
	ProcessData map[string]any
	Outputs     map[string]any
	Metadata    map[MetadataKey]any
	LLMUsage    *LLMUsage
	Error       string
	ErrorType   string

	// EdgeSourceHandle discriminates which outgoing branch to follow for
	// branching nodes and for the fail-branch error strategy.
	EdgeSourceHandle string
}

// RouteNodeStatus is the terminal classification of a node visit.
type RouteNodeStatus string

const (
	RouteNodeStatusRunning   RouteNodeStatus = "running"
	RouteNodeStatusSuccess   RouteNodeStatus = "success"
	RouteNodeStatusFailed    RouteNodeStatus = "failed"
	RouteNodeStatusException RouteNodeStatus = "exception"
)

// RouteNodeState records one node visit. States are linked source->target
// to reconstruct the traversed route and correlate events after the run.
type RouteNodeState struct {
	// ID uniquely identifies this visit (a node can be visited more than
	// once across retries of the surrounding graph constructs).
	ID string

	NodeID string

	Status RouteNodeStatus

	StartAt  time.Time
	FinishAt time.Time

	// Index is the monotonic step counter stamped when the node starts.
	Index int

	NodeRunResult *NodeRunResult

	FailedReason string
}

// setFinished stamps the terminal status derived from the run result.
func (s *RouteNodeState) setFinished(result *NodeRunResult) {
	s.NodeRunResult = result
	s.FinishAt = time.Now()

	switch result.Status {
	case NodeRunStatusSucceeded:
		s.Status = RouteNodeStatusSuccess
	case NodeRunStatusException:
		s.Status = RouteNodeStatusException
	default:
		s.Status = RouteNodeStatusFailed
		s.FailedReason = result.Error
	}
}

// RuntimeState is the mutable state of one run: the variable pool, the
// step counter, token totals, collected outputs, and the route states.
//
// The driver goroutine is the only writer to the counters and outputs;
// parallel branches touch shared state only through the variable pool.
// The mutex covers the route maps, which event consumers may read while
// branches still append.
type RuntimeState struct {
	VariablePool *VariablePool

	// StartAt anchors the wall-clock deadline. Set by NewRuntimeState.
	StartAt time.Time

	NodeRunSteps int
	TotalTokens  int
	LLMUsage     LLMUsage
	Outputs      map[string]any

	mu         sync.Mutex
	nodeStates map[string]*RouteNodeState
	routes     map[string][]string
}

// NewRuntimeState creates run state around an existing variable pool.
func NewRuntimeState(pool *VariablePool) *RuntimeState {
	return &RuntimeState{
		VariablePool: pool,
		StartAt:      time.Now(),
		Outputs:      make(map[string]any),
		nodeStates:   make(map[string]*RouteNodeState),
		routes:       make(map[string][]string),
	}
}

// steps reads the step counter. Parallel branches advance it
// concurrently, hence the lock.
func (rs *RuntimeState) steps() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.NodeRunSteps
}

// incrementSteps advances the step counter and returns the new value,
// which becomes the index of the starting node visit.
func (rs *RuntimeState) incrementSteps() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.NodeRunSteps++
	return rs.NodeRunSteps
}

// addUsage folds tokens and optional detailed usage into the run totals.
func (rs *RuntimeState) addUsage(tokens int, usage *LLMUsage) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.TotalTokens += tokens
	if usage != nil {
		rs.LLMUsage.Merge(*usage)
	}
}

// createNodeState opens a running route state for a node visit.
func (rs *RuntimeState) createNodeState(nodeID string) *RouteNodeState {
	return &RouteNodeState{
		ID:      uuid.NewString(),
		NodeID:  nodeID,
		Status:  RouteNodeStatusRunning,
		StartAt: time.Now(),
	}
}

// storeNodeState registers a finished or in-flight state for correlation.
func (rs *RuntimeState) storeNodeState(state *RouteNodeState) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.nodeStates[state.ID] = state
}

// addRoute links two route states source -> target.
func (rs *RuntimeState) addRoute(sourceStateID, targetStateID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.routes[sourceStateID] = append(rs.routes[sourceStateID], targetStateID)
}

// NodeState returns a stored route state by its id.
func (rs *RuntimeState) NodeState(stateID string) (*RouteNodeState, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	s, ok := rs.nodeStates[stateID]
	return s, ok
}

// RoutesFrom returns the ids of route states reached from the given state.
func (rs *RuntimeState) RoutesFrom(stateID string) []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]string, len(rs.routes[stateID]))
	copy(out, rs.routes[stateID])
	return out
}

// Child derives state for a child engine: the same wall-clock anchor, a
// cloned variable pool, and reset counters. Iteration and loop bodies
// run against a Child so their accounting and writes stay isolated.
func (rs *RuntimeState) Child() *RuntimeState {
	child := NewRuntimeState(rs.VariablePool.Clone())
	child.StartAt = rs.StartAt
	return child
}
