package workflow

import "time"

// Event is the sum type of everything an Engine run emits. Consumers
// switch on the concrete types below.
type Event interface {
	isEvent()
}

// ParallelContext tags an event with the parallel region it ran in. The
// zero value means the event happened on the main route.
type ParallelContext struct {
	ParallelID                string
	ParallelStartNodeID       string
	ParentParallelID          string
	ParentParallelStartNodeID string
}

// InParallel reports whether the event happened inside a parallel branch.
func (c ParallelContext) InParallel() bool {
	return c.ParallelID != ""
}

// Graph lifecycle events.

// GraphRunStartedEvent is always the first event of a run.
type GraphRunStartedEvent struct{}

// GraphRunSucceededEvent terminates a clean run.
type GraphRunSucceededEvent struct {
	Outputs map[string]any
}

// GraphRunPartialSucceededEvent terminates a run in which one or more
// nodes failed but were absorbed by an error strategy.
type GraphRunPartialSucceededEvent struct {
	Outputs         map[string]any
	ExceptionsCount int
}

// GraphRunFailedEvent terminates a failed run.
type GraphRunFailedEvent struct {
	Error           string
	ExceptionsCount int
}

func (GraphRunStartedEvent) isEvent()          {}
func (GraphRunSucceededEvent) isEvent()        {}
func (GraphRunPartialSucceededEvent) isEvent() {}
func (GraphRunFailedEvent) isEvent()           {}

// BaseNodeEvent carries the identity shared by all node-scoped events.
// ID is the route-state id of the visit, so started/succeeded/failed pairs
// correlate even when the same node runs more than once.
type BaseNodeEvent struct {
	ID          string
	NodeID      string
	NodeType    NodeType
	NodeTitle   string
	NodeVersion string

	RouteNodeState *RouteNodeState

	ParallelContext

	// InIterationID / InLoopID are set when the node ran inside a
	// container node's body.
	InIterationID string
	InLoopID      string
}

// NodeRunStartedEvent is emitted when a node visit begins. The global step
// counter has already been incremented and stamped on the route state.
type NodeRunStartedEvent struct {
	BaseNodeEvent
	PredecessorNodeID string
	AgentStrategy     string
}

// NodeRunSucceededEvent is emitted when a node visit finishes successfully.
type NodeRunSucceededEvent struct {
	BaseNodeEvent
}

// NodeRunFailedEvent is emitted when a node visit fails terminally.
type NodeRunFailedEvent struct {
	BaseNodeEvent
	Error string
}

// NodeRunExceptionEvent is emitted when a node failed but its error
// strategy absorbed the failure and the run continues.
type NodeRunExceptionEvent struct {
	BaseNodeEvent
	Error string
}

// NodeRunRetryEvent is emitted before each retry attempt. RetryIndex is
// 1-based over the attempts already failed.
type NodeRunRetryEvent struct {
	BaseNodeEvent
	Error      string
	RetryIndex int
	StartAt    time.Time
}

// NodeRunStreamChunkEvent carries one streamed text fragment from a node.
type NodeRunStreamChunkEvent struct {
	BaseNodeEvent
	ChunkContent         string
	FromVariableSelector []string
}

// NodeRunRetrieverResourceEvent carries citation metadata from a
// knowledge-retrieval node.
type NodeRunRetrieverResourceEvent struct {
	BaseNodeEvent
	RetrieverResources []map[string]any
	Context            string
}

func (NodeRunStartedEvent) isEvent()           {}
func (NodeRunSucceededEvent) isEvent()         {}
func (NodeRunFailedEvent) isEvent()            {}
func (NodeRunExceptionEvent) isEvent()         {}
func (NodeRunRetryEvent) isEvent()             {}
func (NodeRunStreamChunkEvent) isEvent()       {}
func (NodeRunRetrieverResourceEvent) isEvent() {}

// Parallel branch lifecycle events.

// ParallelBranchRunStartedEvent is the first event a branch emits.
type ParallelBranchRunStartedEvent struct {
	ParallelContext
}

// ParallelBranchRunSucceededEvent is the last event of a clean branch.
type ParallelBranchRunSucceededEvent struct {
	ParallelContext
}

// ParallelBranchRunFailedEvent is the last event of a failed branch. Any
// branch failure fails the whole run.
type ParallelBranchRunFailedEvent struct {
	ParallelContext
	Error string
}

func (ParallelBranchRunStartedEvent) isEvent()   {}
func (ParallelBranchRunSucceededEvent) isEvent() {}
func (ParallelBranchRunFailedEvent) isEvent()    {}

// Container (iteration / loop) lifecycle events. These are emitted by the
// container nodes themselves and forwarded through the engine stream.

// IterationRunStartedEvent opens an iteration node run.
type IterationRunStartedEvent struct {
	BaseNodeEvent
	StartAt  time.Time
	Inputs   map[string]any
	Metadata map[string]any
}

// IterationRunNextEvent precedes each element of the iterated sequence.
type IterationRunNextEvent struct {
	BaseNodeEvent
	Index        int
	PreIteration any
}

// IterationRunSucceededEvent closes a clean iteration node run.
type IterationRunSucceededEvent struct {
	BaseNodeEvent
	StartAt time.Time
	Inputs  map[string]any
	Outputs map[string]any
	Steps   int
}

// IterationRunFailedEvent closes a failed iteration node run.
type IterationRunFailedEvent struct {
	BaseNodeEvent
	StartAt time.Time
	Inputs  map[string]any
	Steps   int
	Error   string
}

func (IterationRunStartedEvent) isEvent()   {}
func (IterationRunNextEvent) isEvent()      {}
func (IterationRunSucceededEvent) isEvent() {}
func (IterationRunFailedEvent) isEvent()    {}

// LoopRunStartedEvent opens a loop node run.
type LoopRunStartedEvent struct {
	BaseNodeEvent
	StartAt  time.Time
	Inputs   map[string]any
	Metadata map[string]any
}

// LoopRunNextEvent precedes each loop turn.
type LoopRunNextEvent struct {
	BaseNodeEvent
	Index   int
	PreLoop any
}

// LoopRunSucceededEvent closes a clean loop node run.
type LoopRunSucceededEvent struct {
	BaseNodeEvent
	StartAt time.Time
	Inputs  map[string]any
	Outputs map[string]any
	Steps   int
}

// LoopRunFailedEvent closes a failed loop node run.
type LoopRunFailedEvent struct {
	BaseNodeEvent
	StartAt time.Time
	Inputs  map[string]any
	Steps   int
	Error   string
}

func (LoopRunStartedEvent) isEvent()   {}
func (LoopRunNextEvent) isEvent()      {}
func (LoopRunSucceededEvent) isEvent() {}
func (LoopRunFailedEvent) isEvent()    {}

// AgentLogEvent carries one structured log entry from an agent node's
// reasoning trace. Entries form a tree through ParentID.
type AgentLogEvent struct {
	BaseNodeEvent
	MessageID string
	ParentID  string
	Label     string
	Status    string
	Data      map[string]any
	Metadata  map[string]any
	Error     string
}

func (AgentLogEvent) isEvent() {}
