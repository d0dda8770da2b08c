package nodes

import (
	"context"
	"fmt"

	"github.com/vison888/dify/workflow"
)

// Retriever searches knowledge datasets for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, datasetIDs []string, topK int) ([]Document, error)
}

// Document is one retrieved knowledge chunk.
type Document struct {
	Content   string         `json:"content"`
	Title     string         `json:"title,omitempty"`
	Score     float64        `json:"score,omitempty"`
	DatasetID string         `json:"dataset_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

const defaultTopK = 4

// KnowledgeRetrievalNode queries the retriever with a pool variable and
// outputs the matched documents, also surfacing them as citation
// resources on the event stream.
type KnowledgeRetrievalNode struct {
	workflow.BaseNode
	config    retrievalConfig
	retriever Retriever
}

type retrievalConfig struct {
	QueryVariableSelector []string `json:"query_variable_selector"`
	DatasetIDs            []string `json:"dataset_ids"`
	TopK                  int      `json:"top_k,omitempty"`
}

func (d Deps) newKnowledgeRetrievalNode(init workflow.NodeInit) (workflow.Node, error) {
	n := &KnowledgeRetrievalNode{BaseNode: workflow.NewBaseNode(init), retriever: d.Retriever}
	if err := decodeConfig(init.Config.Data.Config, &n.config); err != nil {
		return nil, err
	}
	if n.config.TopK <= 0 {
		n.config.TopK = defaultTopK
	}
	return n, nil
}

// ExtractVariableSelectors implements workflow.VariableMapper.
func (n *KnowledgeRetrievalNode) ExtractVariableSelectors() map[string][]string {
	return map[string][]string{"query": n.config.QueryVariableSelector}
}

// Run implements workflow.Node.
func (n *KnowledgeRetrievalNode) Run(ctx context.Context) <-chan workflow.NodeEvent {
	ch := make(chan workflow.NodeEvent, 2)
	go func() {
		defer close(ch)
		result := n.execute(ctx, ch)
		select {
		case ch <- workflow.CompletedEvent{Result: result}:
		case <-ctx.Done():
		}
	}()
	return ch
}

func (n *KnowledgeRetrievalNode) execute(ctx context.Context, ch chan<- workflow.NodeEvent) workflow.NodeRunResult {
	if n.retriever == nil {
		return workflow.FailedResult(fmt.Errorf("no retriever configured"))
	}

	queryValue, ok := n.Pool().Get(n.config.QueryVariableSelector)
	if !ok {
		return workflow.FailedResult(
			fmt.Errorf("query variable %v not found", n.config.QueryVariableSelector))
	}
	query := stringify(queryValue)
	inputs := map[string]any{"query": query}

	docs, err := n.retriever.Retrieve(ctx, query, n.config.DatasetIDs, n.config.TopK)
	if err != nil {
		result := workflow.FailedResult(err)
		result.Inputs = inputs
		result.ErrorType = "RetrievalError"
		return result
	}

	resources := make([]map[string]any, len(docs))
	results := make([]any, len(docs))
	for i, doc := range docs {
		entry := map[string]any{
			"content":    doc.Content,
			"title":      doc.Title,
			"score":      doc.Score,
			"dataset_id": doc.DatasetID,
		}
		for k, v := range doc.Metadata {
			entry[k] = v
		}
		resources[i] = entry
		results[i] = entry
	}

	if len(resources) > 0 {
		select {
		case ch <- workflow.RetrieverResourceEvent{RetrieverResources: resources}:
		case <-ctx.Done():
			return workflow.FailedResult(ctx.Err())
		}
	}
	return workflow.SucceededResult(inputs, map[string]any{"result": results})
}
