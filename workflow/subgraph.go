package workflow

import (
	"fmt"
	"strings"
)

// CarveIterationBody extracts the body sub-graph of an iteration node:
// the nodes marked with its iteration id and the edges connecting them.
// startNodeID names the body root from the container's config.
func (g *Graph) CarveIterationBody(containerID, startNodeID string) (*Graph, error) {
	return g.carveBody(containerID, startNodeID, func(d NodeData) bool {
		return d.IterationID == containerID
	})
}

// CarveLoopBody extracts the body sub-graph of a loop node.
func (g *Graph) CarveLoopBody(containerID, startNodeID string) (*Graph, error) {
	return g.carveBody(containerID, startNodeID, func(d NodeData) bool {
		return d.LoopID == containerID
	})
}

// carveBody builds a graph from the member nodes of a container. Body
// nodes keep their container marks so event consumers can attribute
// them; the carved graph gets its root set explicitly, bypassing
// root discovery.
func (g *Graph) carveBody(containerID, startNodeID string, member func(NodeData) bool) (*Graph, error) {
	sub := &Graph{
		RootNodeID:          startNodeID,
		nodeConfigs:         make(map[string]NodeConfig),
		edgeMapping:         make(map[string][]Edge),
		reverseEdgeMapping:  make(map[string][]Edge),
		ParallelMapping:     make(map[string]*ParallelRegion),
		NodeParallelMapping: make(map[string]string),
	}

	for _, id := range g.nodeOrder {
		nc := g.nodeConfigs[id]
		if !member(nc.Data) {
			continue
		}
		sub.nodeConfigs[id] = nc
		sub.nodeOrder = append(sub.nodeOrder, id)
	}
	if len(sub.nodeOrder) == 0 {
		return nil, fmt.Errorf("graph: container %s has no body nodes", containerID)
	}
	if _, ok := sub.nodeConfigs[startNodeID]; !ok {
		return nil, fmt.Errorf("graph: container %s start node %s not in body", containerID, startNodeID)
	}

	for _, id := range sub.nodeOrder {
		for _, e := range g.edgeMapping[id] {
			if _, ok := sub.nodeConfigs[e.Target]; !ok {
				continue
			}
			sub.edgeMapping[e.Source] = append(sub.edgeMapping[e.Source], e)
			sub.reverseEdgeMapping[e.Target] = append(sub.reverseEdgeMapping[e.Target], e)
		}
	}

	sub.deriveParallelRegions()
	return sub, nil
}

// CarveSingleNode builds a one-node graph for isolated debug execution
// of the given node, as used by single-step runs from the editor.
func (g *Graph) CarveSingleNode(nodeID string) (*Graph, error) {
	nc, ok := g.nodeConfigs[nodeID]
	if !ok {
		return nil, fmt.Errorf("graph: node %s not found", nodeID)
	}

	// Container marks are cleared so the node runs as its own root.
	nc.Data.IterationID = ""
	nc.Data.LoopID = ""

	return &Graph{
		RootNodeID:          nodeID,
		nodeConfigs:         map[string]NodeConfig{nodeID: nc},
		nodeOrder:           []string{nodeID},
		edgeMapping:         make(map[string][]Edge),
		reverseEdgeMapping:  make(map[string][]Edge),
		ParallelMapping:     make(map[string]*ParallelRegion),
		NodeParallelMapping: make(map[string]string),
	}, nil
}

// SeedVariableMapping fills a fresh pool for an isolated debug run of
// one node. Every selector the node declares through VariableMapper is
// resolved from userInputs, keyed by the mapping's input name or by
// the dotted selector path, and written at the selector so the node
// reads it exactly as it would in a full run. Nodes that declare no
// mapping are left to the pool's existing contents.
func SeedVariableMapping(pool *VariablePool, node Node, userInputs map[string]any) {
	mapper, ok := node.(VariableMapper)
	if !ok {
		return
	}
	for name, selector := range mapper.ExtractVariableSelectors() {
		if len(selector) < 2 {
			continue
		}
		value, ok := userInputs[name]
		if !ok {
			value, ok = userInputs[strings.Join(selector, ".")]
		}
		if !ok {
			continue
		}
		pool.Add(selector, value)
	}
}
