package workflow

import "strings"

// streamProcessor shapes the final outputs of a run from the event
// stream while it flows to the consumer.
//
// Chat workflows accumulate answer-node text; the final answer is the
// non-empty answers joined by newlines. Plain workflows capture the
// outputs of the end node verbatim.
type streamProcessor struct {
	workflowType WorkflowType
	state        *RuntimeState

	answers    []string
	endOutputs map[string]any
}

func newStreamProcessor(workflowType WorkflowType, state *RuntimeState) *streamProcessor {
	return &streamProcessor{workflowType: workflowType, state: state}
}

// process observes one event. Called from the run goroutine only.
func (sp *streamProcessor) process(ev Event) {
	succeeded, ok := ev.(NodeRunSucceededEvent)
	if !ok {
		return
	}
	result := succeeded.RouteNodeState.NodeRunResult
	if result == nil {
		return
	}

	switch succeeded.NodeType {
	case NodeTypeAnswer:
		if sp.workflowType != WorkflowTypeChat {
			return
		}
		if answer, ok := result.Outputs["answer"].(string); ok && answer != "" {
			sp.answers = append(sp.answers, answer)
		}
	case NodeTypeEnd:
		sp.endOutputs = result.Outputs
	}
}

// finalOutputs materializes the run outputs and records them on the
// runtime state.
func (sp *streamProcessor) finalOutputs() map[string]any {
	outputs := make(map[string]any)
	switch sp.workflowType {
	case WorkflowTypeChat:
		outputs["answer"] = strings.TrimSpace(strings.Join(sp.answers, "\n"))
	default:
		for k, v := range sp.endOutputs {
			outputs[k] = v
		}
	}
	sp.state.Outputs = outputs
	return outputs
}
