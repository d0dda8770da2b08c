package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryRecorder keeps history in process memory. Suited to tests and
// single-shot CLI runs where nothing needs to outlive the process.
type MemoryRecorder struct {
	mu    sync.RWMutex
	runs  map[string]RunRecord
	nodes map[string][]NodeRecord // runID -> executions
	index map[string]int          // nodeRecordID -> position in nodes[runID]
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		runs:  make(map[string]RunRecord),
		nodes: make(map[string][]NodeRecord),
		index: make(map[string]int),
	}
}

func (m *MemoryRecorder) SaveRun(_ context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.RunID] = run
	return nil
}

func (m *MemoryRecorder) SaveNode(_ context.Context, node NodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pos, ok := m.index[node.ID]; ok {
		m.nodes[node.RunID][pos] = node
		return nil
	}
	m.index[node.ID] = len(m.nodes[node.RunID])
	m.nodes[node.RunID] = append(m.nodes[node.RunID], node)
	return nil
}

func (m *MemoryRecorder) Run(_ context.Context, runID string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return run, nil
}

func (m *MemoryRecorder) Nodes(_ context.Context, runID string) ([]NodeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.nodes[runID]
	out := make([]NodeRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *MemoryRecorder) Close() error { return nil }
