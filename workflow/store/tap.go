package store

import (
	"context"
	"time"

	"github.com/vison888/dify/workflow"
)

// Tap records a run's history as a side effect of consuming its event
// stream. It sits between the engine and the real consumer: every event
// is recorded (best effort) and then forwarded unchanged.
type Tap struct {
	// RunID and WorkflowID key the recorded rows.
	RunID      string
	WorkflowID string

	Recorder Recorder

	// OnError receives recording failures. Recording never blocks or
	// aborts the run; a nil OnError drops the errors.
	OnError func(error)
}

// Record consumes events, persists them through the tap's recorder, and
// returns the forwarded stream. The returned channel closes when events
// closes.
func (t *Tap) Record(ctx context.Context, events <-chan workflow.Event) <-chan workflow.Event {
	out := make(chan workflow.Event)
	go func() {
		defer close(out)
		run := RunRecord{
			RunID:      t.RunID,
			WorkflowID: t.WorkflowID,
			Status:     RunStatusRunning,
			StartedAt:  time.Now(),
		}
		for ev := range events {
			t.record(ctx, &run, ev)
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (t *Tap) record(ctx context.Context, run *RunRecord, ev workflow.Event) {
	switch e := ev.(type) {
	case workflow.GraphRunStartedEvent:
		t.saveRun(ctx, *run)

	case workflow.GraphRunSucceededEvent:
		run.Status = RunStatusSucceeded
		run.Outputs = e.Outputs
		run.FinishedAt = time.Now()
		t.saveRun(ctx, *run)

	case workflow.GraphRunPartialSucceededEvent:
		run.Status = RunStatusPartialSucceeded
		run.Outputs = e.Outputs
		run.Exceptions = e.ExceptionsCount
		run.FinishedAt = time.Now()
		t.saveRun(ctx, *run)

	case workflow.GraphRunFailedEvent:
		run.Status = RunStatusFailed
		run.Error = e.Error
		run.Exceptions = e.ExceptionsCount
		run.FinishedAt = time.Now()
		t.saveRun(ctx, *run)

	case workflow.NodeRunStartedEvent:
		run.Steps++
		t.saveNode(ctx, t.nodeRecord(e.BaseNodeEvent, string(workflow.NodeRunStatusRunning), ""))

	case workflow.NodeRunSucceededEvent:
		t.saveNode(ctx, t.nodeRecord(e.BaseNodeEvent, string(workflow.NodeRunStatusSucceeded), ""))

	case workflow.NodeRunFailedEvent:
		t.saveNode(ctx, t.nodeRecord(e.BaseNodeEvent, string(workflow.NodeRunStatusFailed), e.Error))

	case workflow.NodeRunExceptionEvent:
		t.saveNode(ctx, t.nodeRecord(e.BaseNodeEvent, string(workflow.NodeRunStatusException), e.Error))
	}
}

func (t *Tap) nodeRecord(base workflow.BaseNodeEvent, status, errMsg string) NodeRecord {
	node := NodeRecord{
		ID:        base.ID,
		RunID:     t.RunID,
		NodeID:    base.NodeID,
		NodeType:  string(base.NodeType),
		NodeTitle: base.NodeTitle,
		Status:    status,
		Error:     errMsg,
		CreatedAt: time.Now(),
	}
	if rs := base.RouteNodeState; rs != nil {
		node.Index = rs.Index
		node.CreatedAt = rs.StartAt
		if !rs.FinishAt.IsZero() {
			node.ElapsedMS = rs.FinishAt.Sub(rs.StartAt).Milliseconds()
		}
		if result := rs.NodeRunResult; result != nil {
			node.Inputs = result.Inputs
			node.Outputs = result.Outputs
		}
	}
	return node
}

func (t *Tap) saveRun(ctx context.Context, run RunRecord) {
	if err := t.Recorder.SaveRun(ctx, run); err != nil && t.OnError != nil {
		t.OnError(err)
	}
}

func (t *Tap) saveNode(ctx context.Context, node NodeRecord) {
	if err := t.Recorder.SaveNode(ctx, node); err != nil && t.OnError != nil {
		t.OnError(err)
	}
}
