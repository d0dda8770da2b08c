package workflow

import (
	"fmt"
	"time"
)

// NodeType is the wire name of a node kind in a graph config document.
type NodeType string

const (
	NodeTypeStart              NodeType = "start"
	NodeTypeEnd                NodeType = "end"
	NodeTypeAnswer             NodeType = "answer"
	NodeTypeLLM                NodeType = "llm"
	NodeTypeHTTPRequest        NodeType = "http-request"
	NodeTypeAgent              NodeType = "agent"
	NodeTypeIteration          NodeType = "iteration"
	NodeTypeIterationStart     NodeType = "iteration-start"
	NodeTypeLoop               NodeType = "loop"
	NodeTypeLoopStart          NodeType = "loop-start"
	NodeTypeIfElse             NodeType = "if-else"
	NodeTypeCode               NodeType = "code"
	NodeTypeTemplateTransform  NodeType = "template-transform"
	NodeTypeVariableAggregator NodeType = "variable-aggregator"
	NodeTypeKnowledgeRetrieval NodeType = "knowledge-retrieval"
)

// ErrorStrategy selects how a node failure is handled after retries are
// exhausted.
type ErrorStrategy string

const (
	// ErrorStrategyNone propagates the failure.
	ErrorStrategyNone ErrorStrategy = ""

	// ErrorStrategyDefaultValue substitutes configured outputs and
	// continues on the normal route.
	ErrorStrategyDefaultValue ErrorStrategy = "default-value"

	// ErrorStrategyFailBranch continues on the edge tagged "failed".
	ErrorStrategyFailBranch ErrorStrategy = "fail-branch"
)

// RetryConfig bounds automatic re-execution of a failed node.
type RetryConfig struct {
	Enabled       bool          `json:"retry_enabled"`
	MaxRetries    int           `json:"max_retries"`
	RetryInterval time.Duration `json:"retry_interval"`
}

// NodeData is the typed portion of a node config shared by all node kinds.
// Kind-specific settings stay in Config and are decoded by the node
// implementation.
type NodeData struct {
	Type          NodeType       `json:"type"`
	Title         string         `json:"title"`
	Version       string         `json:"version,omitempty"`
	ErrorStrategy ErrorStrategy  `json:"error_strategy,omitempty"`
	Retry         RetryConfig    `json:"retry_config,omitempty"`
	DefaultValue  map[string]any `json:"default_value,omitempty"`

	// IterationID / LoopID mark nodes that belong to a container node's
	// body. Body nodes are skipped by the top-level driver and only run
	// inside the container's carved sub-graph.
	IterationID string `json:"iteration_id,omitempty"`
	LoopID      string `json:"loop_id,omitempty"`

	Config map[string]any `json:"config,omitempty"`
}

// ContinueOnError reports whether a failure of this node is absorbed by an
// error strategy instead of failing the run.
func (d NodeData) ContinueOnError() bool {
	return d.ErrorStrategy != ErrorStrategyNone
}

// NodeConfig is one node entry of a graph config document.
type NodeConfig struct {
	ID   string   `json:"id"`
	Data NodeData `json:"data"`
}

// EdgeConfig is one edge entry of a graph config document.
type EdgeConfig struct {
	Source       string        `json:"source"`
	Target       string        `json:"target"`
	SourceHandle string        `json:"source_handle,omitempty"`
	RunCondition *RunCondition `json:"run_condition,omitempty"`
}

// GraphConfig is the document form of a workflow graph.
type GraphConfig struct {
	Nodes []NodeConfig `json:"nodes"`
	Edges []EdgeConfig `json:"edges"`
}

// Edge is a resolved edge of a built graph.
type Edge struct {
	Source       string
	Target       string
	SourceHandle string
	RunCondition *RunCondition
}

// ParallelRegion describes one statically derived fan-out region.
type ParallelRegion struct {
	// ID is stable across builds of the same config.
	ID string

	// StartFromNodeID is the fan-out node whose outgoing edges open the
	// region.
	StartFromNodeID string

	// ParentParallelID is set for regions nested inside another region.
	ParentParallelID string

	// EndToNodeID is the join node where the branches converge. Empty when
	// the branches run to their own terminus.
	EndToNodeID string
}

// Graph is the immutable topology of a workflow: node configs, edge
// adjacency, the root node, and the derived parallel regions.
type Graph struct {
	RootNodeID string

	nodeConfigs map[string]NodeConfig
	nodeOrder   []string

	edgeMapping        map[string][]Edge
	reverseEdgeMapping map[string][]Edge

	// ParallelMapping indexes regions by id; NodeParallelMapping maps each
	// member node to the innermost region containing it.
	ParallelMapping     map[string]*ParallelRegion
	NodeParallelMapping map[string]string
}

// NewGraph validates a config and derives the runtime topology.
//
// Returns error if:
//   - a node id is duplicated or an edge references an unknown node
//   - there is not exactly one root node (no incoming edges), ignoring
//     container body nodes
//   - nodes outside a loop body form a cycle
func NewGraph(config GraphConfig) (*Graph, error) {
	g := &Graph{
		nodeConfigs:         make(map[string]NodeConfig, len(config.Nodes)),
		edgeMapping:         make(map[string][]Edge),
		reverseEdgeMapping:  make(map[string][]Edge),
		ParallelMapping:     make(map[string]*ParallelRegion),
		NodeParallelMapping: make(map[string]string),
	}

	for _, nc := range config.Nodes {
		if nc.ID == "" {
			return nil, fmt.Errorf("graph: node with empty id")
		}
		if _, dup := g.nodeConfigs[nc.ID]; dup {
			return nil, fmt.Errorf("graph: duplicate node id %q", nc.ID)
		}
		g.nodeConfigs[nc.ID] = nc
		g.nodeOrder = append(g.nodeOrder, nc.ID)
	}

	for _, ec := range config.Edges {
		if _, ok := g.nodeConfigs[ec.Source]; !ok {
			return nil, fmt.Errorf("graph: edge source %q not found", ec.Source)
		}
		if _, ok := g.nodeConfigs[ec.Target]; !ok {
			return nil, fmt.Errorf("graph: edge target %q not found", ec.Target)
		}
		edge := Edge{
			Source:       ec.Source,
			Target:       ec.Target,
			SourceHandle: ec.SourceHandle,
			RunCondition: ec.RunCondition,
		}
		g.edgeMapping[ec.Source] = append(g.edgeMapping[ec.Source], edge)
		g.reverseEdgeMapping[ec.Target] = append(g.reverseEdgeMapping[ec.Target], edge)
	}

	root, err := g.findRoot()
	if err != nil {
		return nil, err
	}
	g.RootNodeID = root

	if err := g.checkCycles(); err != nil {
		return nil, err
	}

	g.deriveParallelRegions()
	return g, nil
}

// NodeConfig returns the config of a node.
func (g *Graph) NodeConfig(nodeID string) (NodeConfig, bool) {
	nc, ok := g.nodeConfigs[nodeID]
	return nc, ok
}

// NodeIDs returns all node ids in config order.
func (g *Graph) NodeIDs() []string {
	out := make([]string, len(g.nodeOrder))
	copy(out, g.nodeOrder)
	return out
}

// OutgoingEdges returns the edges leaving a node in config order.
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	return g.edgeMapping[nodeID]
}

// IncomingEdges returns the edges entering a node in config order.
func (g *Graph) IncomingEdges(nodeID string) []Edge {
	return g.reverseEdgeMapping[nodeID]
}

// findRoot locates the single node with no incoming edges among the
// top-level nodes. Container body nodes are excluded, their roots are
// resolved when the body sub-graph is carved.
func (g *Graph) findRoot() (string, error) {
	var roots []string
	for _, id := range g.nodeOrder {
		nc := g.nodeConfigs[id]
		if nc.Data.IterationID != "" || nc.Data.LoopID != "" {
			continue
		}
		if len(g.reverseEdgeMapping[id]) == 0 {
			roots = append(roots, id)
		}
	}
	if len(roots) != 1 {
		return "", ErrNoRootNode
	}
	return roots[0], nil
}

// checkCycles rejects cycles among nodes that are not part of a loop
// body. Loop bodies may legitimately route back to their start.
func (g *Graph) checkCycles() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodeOrder))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, e := range g.edgeMapping[id] {
			if g.nodeConfigs[e.Target].Data.LoopID != "" {
				continue
			}
			switch color[e.Target] {
			case gray:
				return ErrCyclicGraph
			case white:
				if err := visit(e.Target); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range g.nodeOrder {
		if g.nodeConfigs[id].Data.LoopID != "" {
			continue
		}
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// deriveParallelRegions finds every fan-out in breadth-first order from
// the root and records a region per fan-out group. Processing inner
// fan-outs after outer ones lets the innermost region win the per-node
// mapping, which is how nesting is represented.
func (g *Graph) deriveParallelRegions() {
	for _, fanout := range g.bfsOrder(g.RootNodeID) {
		for _, group := range g.edgeGroups(fanout) {
			if len(group) < 2 {
				continue
			}
			g.addParallelRegion(fanout, group)
		}
	}
}

// edgeGroups partitions a node's outgoing edges by condition hash,
// preserving config order of the groups.
func (g *Graph) edgeGroups(nodeID string) [][]Edge {
	var order []string
	grouped := make(map[string][]Edge)
	for _, e := range g.edgeMapping[nodeID] {
		h := e.RunCondition.Hash()
		if _, seen := grouped[h]; !seen {
			order = append(order, h)
		}
		grouped[h] = append(grouped[h], e)
	}
	out := make([][]Edge, 0, len(order))
	for _, h := range order {
		out = append(out, grouped[h])
	}
	return out
}

func (g *Graph) addParallelRegion(fanout string, branches []Edge) {
	region := &ParallelRegion{
		ID:               "parallel-" + fanout,
		StartFromNodeID:  fanout,
		ParentParallelID: g.NodeParallelMapping[fanout],
	}

	// The join is the nearest node reachable from every branch target.
	reach := make([]map[string]bool, len(branches))
	for i, e := range branches {
		reach[i] = g.reachableFrom(e.Target)
	}
	for _, candidate := range g.bfsOrder(branches[0].Target) {
		all := true
		for _, r := range reach[1:] {
			if !r[candidate] {
				all = false
				break
			}
		}
		if all {
			region.EndToNodeID = candidate
			break
		}
	}

	for _, e := range branches {
		for _, member := range g.branchMembers(e.Target, region.EndToNodeID) {
			g.NodeParallelMapping[member] = region.ID
		}
	}
	g.ParallelMapping[region.ID] = region
}

// branchMembers lists the nodes on a branch starting at target, stopping
// before the join. With no join the whole reachable set is the branch.
func (g *Graph) branchMembers(target, join string) []string {
	var members []string
	seen := map[string]bool{}
	queue := []string{target}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] || id == join {
			continue
		}
		seen[id] = true
		members = append(members, id)
		for _, e := range g.edgeMapping[id] {
			queue = append(queue, e.Target)
		}
	}
	return members
}

func (g *Graph) reachableFrom(start string) map[string]bool {
	seen := map[string]bool{}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, e := range g.edgeMapping[id] {
			queue = append(queue, e.Target)
		}
	}
	return seen
}

// bfsOrder returns nodes reachable from start in breadth-first order.
func (g *Graph) bfsOrder(start string) []string {
	var order []string
	seen := map[string]bool{}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		order = append(order, id)
		for _, e := range g.edgeMapping[id] {
			queue = append(queue, e.Target)
		}
	}
	return order
}
