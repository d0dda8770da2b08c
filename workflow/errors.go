package workflow

import "errors"

// Sentinel errors returned by graph construction and pool submission.
var (
	// ErrPoolFull is returned by WorkerPool.Submit when the submit-count
	// cap has been reached. The engine surfaces it as a graph failure.
	ErrPoolFull = errors.New("max submit count of workflow worker pool reached")

	// ErrPoolReleased is returned by WorkerPool.Submit after Release.
	ErrPoolReleased = errors.New("workflow worker pool already released")

	// ErrNoRootNode is returned when a graph config has no root node
	// (a node with no incoming edges) or more than one.
	ErrNoRootNode = errors.New("graph must have exactly one root node")

	// ErrCyclicGraph is returned when ordinary nodes form a direct cycle.
	// Cycles are only legal through iteration or loop node semantics.
	ErrCyclicGraph = errors.New("graph contains a cycle outside iteration/loop scope")
)

// GraphRunError is the fatal error class of a run: max steps or time
// exceeded, missing node config, missing parallel metadata, pool overflow,
// or a failed parallel branch. It terminates the run with GraphRunFailed.
type GraphRunError struct {
	Message string
}

func (e *GraphRunError) Error() string {
	return e.Message
}

// nodeFailedError carries a node failure out of the driver subtree so the
// enclosing supervisor can translate it: the top-level driver into
// GraphRunFailed, a branch supervisor into ParallelBranchRunFailed.
type nodeFailedError struct {
	reason string
}

func (e *nodeFailedError) Error() string {
	return e.reason
}

// errRunStopped signals cooperative cancellation between node visits, or
// a consumer that abandoned the stream. The driver stops and unwinds.
var errRunStopped = errors.New("workflow run stopped")

// errNodeStopped signals cancellation that interrupted a node mid-run.
// The node is marked failed with this reason and the failure propagates
// to the terminal GraphRunFailed.
var errNodeStopped = errors.New("workflow stopped")
