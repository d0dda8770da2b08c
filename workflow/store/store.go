// Package store records workflow execution history: one row per run and
// one row per node execution. Recorders back the audit trail an
// operator consults after the fact; the engine itself never reads them.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run has no recorded history.
var ErrNotFound = errors.New("not found")

// RunStatus is the terminal status of a recorded run.
type RunStatus string

const (
	RunStatusRunning          RunStatus = "running"
	RunStatusSucceeded        RunStatus = "succeeded"
	RunStatusPartialSucceeded RunStatus = "partial-succeeded"
	RunStatusFailed           RunStatus = "failed"
)

// RunRecord summarizes one workflow run.
type RunRecord struct {
	RunID      string
	WorkflowID string
	Status     RunStatus
	Outputs    map[string]any
	Error      string
	Exceptions int
	Steps      int
	Tokens     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// NodeRecord captures one node execution within a run.
type NodeRecord struct {
	// ID is the route-state id of the node visit, unique per run.
	ID        string
	RunID     string
	NodeID    string
	NodeType  string
	NodeTitle string

	// Index is the step counter at which the visit started.
	Index int

	Status    string
	Inputs    map[string]any
	Outputs   map[string]any
	Error     string
	CreatedAt time.Time
	ElapsedMS int64
}

// Recorder persists run and node records.
//
// Implementations must be safe for concurrent use; parallel branches
// report node executions from worker goroutines.
type Recorder interface {
	// SaveRun inserts or updates the run summary keyed by RunID.
	SaveRun(ctx context.Context, run RunRecord) error

	// SaveNode inserts or updates a node execution keyed by its ID.
	SaveNode(ctx context.Context, node NodeRecord) error

	// Run loads a run summary. Returns ErrNotFound when unknown.
	Run(ctx context.Context, runID string) (RunRecord, error)

	// Nodes lists the node executions of a run ordered by Index.
	Nodes(ctx context.Context, runID string) ([]NodeRecord, error)

	// Close releases the backing resources.
	Close() error
}
