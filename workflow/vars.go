package workflow

import "sync"

// Reserved variable-pool namespaces. They behave like node ids but are
// written by the engine, never by nodes.
const (
	SystemNamespace       = "sys"
	EnvironmentNamespace  = "env"
	ConversationNamespace = "conv"
)

// System variable keys under the sys namespace.
const (
	SystemVarFiles               = "files"
	SystemVarUserID              = "user_id"
	SystemVarAppID               = "app_id"
	SystemVarWorkflowID          = "workflow_id"
	SystemVarWorkflowExecutionID = "workflow_execution_id"
)

// FileHandle references an uploaded file available to nodes through the
// sys.files variable.
type FileHandle struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	TransferMethod string         `json:"transfer_method"`
	URL            string         `json:"url,omitempty"`
	StorageKey     string         `json:"storage_key,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// VariablePool is the shared key/value store of a run. Values are addressed
// by a selector [node_id, key, sub_key, ...] and may be scalars, sequences,
// nested mappings, or file handles.
//
// The pool is logically partitioned by node id: the driver is the only
// writer to sys and env, and each node writes only its own namespace, so
// parallel branches never collide on a key. A single mutex guards the map
// for the cross-goroutine reads.
type VariablePool struct {
	mu   sync.RWMutex
	vars map[string]map[string]any
}

// NewVariablePool builds a pool seeded with system identity, user inputs,
// environment variables, and conversation variables. Any of the maps may
// be nil. User inputs land under the sys namespace alongside the identity
// keys, matching how start nodes read them.
func NewVariablePool(identity SystemIdentity, userInputs map[string]any, files []FileHandle, env map[string]any, conv map[string]any) *VariablePool {
	p := &VariablePool{vars: make(map[string]map[string]any)}

	p.Add([]string{SystemNamespace, SystemVarUserID}, identity.UserID)
	p.Add([]string{SystemNamespace, SystemVarAppID}, identity.AppID)
	p.Add([]string{SystemNamespace, SystemVarWorkflowID}, identity.WorkflowID)
	p.Add([]string{SystemNamespace, SystemVarWorkflowExecutionID}, identity.WorkflowExecutionID)
	if files != nil {
		p.Add([]string{SystemNamespace, SystemVarFiles}, files)
	}
	for k, v := range userInputs {
		p.Add([]string{SystemNamespace, k}, v)
	}
	for k, v := range env {
		p.Add([]string{EnvironmentNamespace, k}, v)
	}
	for k, v := range conv {
		p.Add([]string{ConversationNamespace, k}, v)
	}
	return p
}

// Add writes a value at the selector, creating intermediate mappings as
// needed. A selector needs at least [node_id, key].
func (p *VariablePool) Add(selector []string, value any) {
	if len(selector) < 2 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ns, ok := p.vars[selector[0]]
	if !ok {
		ns = make(map[string]any)
		p.vars[selector[0]] = ns
	}

	cur := ns
	for _, key := range selector[1 : len(selector)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[key] = next
		}
		cur = next
	}
	cur[selector[len(selector)-1]] = value
}

// AddRecursively appends a node output into the pool. When the value is a
// nested mapping, every intermediate key is registered as well, so both
// [node, "body"] and [node, "body", "status"] resolve afterwards.
func (p *VariablePool) AddRecursively(nodeID string, keyPath []string, value any) {
	p.Add(append([]string{nodeID}, keyPath...), value)

	if m, ok := value.(map[string]any); ok {
		for k, v := range m {
			p.AddRecursively(nodeID, append(append([]string{}, keyPath...), k), v)
		}
	}
}

// Get resolves a selector. The second return reports whether the full path
// exists.
func (p *VariablePool) Get(selector []string) (any, bool) {
	if len(selector) < 2 {
		return nil, false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	ns, ok := p.vars[selector[0]]
	if !ok {
		return nil, false
	}

	var cur any = ns
	for _, key := range selector[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Remove deletes everything under a selector prefix. A one-element
// selector drops the whole node namespace.
func (p *VariablePool) Remove(selector []string) {
	if len(selector) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(selector) == 1 {
		delete(p.vars, selector[0])
		return
	}

	ns, ok := p.vars[selector[0]]
	if !ok {
		return
	}
	cur := ns
	for _, key := range selector[1 : len(selector)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, selector[len(selector)-1])
}

// Clone returns a deep copy of the pool. Child engines (iteration and loop
// bodies) run against a clone so their writes stay isolated.
func (p *VariablePool) Clone() *VariablePool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	clone := &VariablePool{vars: make(map[string]map[string]any, len(p.vars))}
	for nodeID, ns := range p.vars {
		clone.vars[nodeID] = deepCopyMap(ns)
	}
	return clone
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(sub)
		} else {
			out[k] = v
		}
	}
	return out
}
