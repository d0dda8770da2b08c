package workflow

import "time"

// WorkflowType selects the output-shaping strategy for a run.
type WorkflowType string

const (
	// WorkflowTypeChat accumulates answer-node text into outputs["answer"].
	WorkflowTypeChat WorkflowType = "chat"

	// WorkflowTypeWorkflow captures the outputs of the end node verbatim.
	WorkflowTypeWorkflow WorkflowType = "workflow"
)

// InvokeFrom identifies the caller class of a run. The engine only carries
// the tag; routing decisions based on it happen downstream.
type InvokeFrom string

const (
	InvokeFromServiceAPI InvokeFrom = "service_api"
	InvokeFromWebApp     InvokeFrom = "web_app"
	InvokeFromExplore    InvokeFrom = "explore"
	InvokeFromDebugger   InvokeFrom = "debugger"
)

// SystemIdentity carries the request identity stamped into the sys
// namespace of the variable pool.
type SystemIdentity struct {
	UserID              string
	AppID               string
	WorkflowID          string
	WorkflowExecutionID string
}

// Limits bounds a single run. Zero values fall back to the defaults below.
type Limits struct {
	// MaxExecutionSteps caps the number of node starts in one run.
	MaxExecutionSteps int

	// MaxExecutionTime is the wall-clock deadline for the whole run.
	MaxExecutionTime time.Duration

	// MaxWorkers is the size of the worker pool backing parallel branches.
	// Only used when the engine creates its own pool.
	MaxWorkers int

	// MaxSubmitCount caps in-flight submissions to the worker pool.
	// Submissions past the cap fail the run; they never block forever.
	MaxSubmitCount int
}

// Defaults applied when the corresponding Limits field is zero.
const (
	DefaultMaxExecutionSteps = 500
	DefaultMaxExecutionTime  = 1200 * time.Second
	DefaultMaxWorkers        = 10
	DefaultMaxSubmitCount    = 100
)

func (l Limits) withDefaults() Limits {
	if l.MaxExecutionSteps <= 0 {
		l.MaxExecutionSteps = DefaultMaxExecutionSteps
	}
	if l.MaxExecutionTime <= 0 {
		l.MaxExecutionTime = DefaultMaxExecutionTime
	}
	if l.MaxWorkers <= 0 {
		l.MaxWorkers = DefaultMaxWorkers
	}
	if l.MaxSubmitCount <= 0 {
		l.MaxSubmitCount = DefaultMaxSubmitCount
	}
	return l
}
