// Package engine implements the workflow engine: a graph-structured,
// concurrent execution engine for declaratively defined workflows.
package engine

import (
	"fmt"
	"time"
)

// NodeType is the closed enumeration of node kinds a WorkflowDefinition
// may contain.
type NodeType string

const (
	NodeStart      NodeType = "START"
	NodeEnd        NodeType = "END"
	NodeTask       NodeType = "TASK"
	NodeDecision   NodeType = "DECISION"
	NodeParallel   NodeType = "PARALLEL"
	NodeMerge      NodeType = "MERGE"
	NodeLoop       NodeType = "LOOP"
	NodeCondition  NodeType = "CONDITION"
	NodeSubprocess NodeType = "SUBPROCESS"
	NodeDelay      NodeType = "DELAY"
)

func (t NodeType) valid() bool {
	switch t {
	case NodeStart, NodeEnd, NodeTask, NodeDecision, NodeParallel, NodeMerge,
		NodeLoop, NodeCondition, NodeSubprocess, NodeDelay:
		return true
	}
	return false
}

// EdgeType is the closed enumeration of edge kinds.
type EdgeType string

const (
	EdgeSequential   EdgeType = "SEQUENTIAL"
	EdgeConditional  EdgeType = "CONDITIONAL"
	EdgeParallel     EdgeType = "PARALLEL"
	EdgeLoopBack     EdgeType = "LOOP_BACK"
	EdgeErrorHandler EdgeType = "ERROR_HANDLER"
	EdgeTimeout      EdgeType = "TIMEOUT"
)

func (t EdgeType) valid() bool {
	switch t {
	case EdgeSequential, EdgeConditional, EdgeParallel, EdgeLoopBack, EdgeErrorHandler, EdgeTimeout:
		return true
	}
	return false
}

// Node is one vertex of a WorkflowDefinition. Field applicability
// depends on Type: TASK uses AgentType/Action/Parameters/Timeout/
// MaxRetries; DECISION/CONDITION use Conditions; DELAY uses
// Parameters["delay_seconds"]; SUBPROCESS uses Parameters["workflow_id"].
type Node struct {
	ID         string
	Type       NodeType
	Name       string
	Desc       string
	AgentType  string
	Action     string
	Parameters map[string]any
	Conditions map[string]float64
	Timeout    *time.Duration
	MaxRetries int
}

// effectiveMaxRetries returns the node's configured retry budget,
// defaulting to 3 per spec §3.
func (n Node) effectiveMaxRetries() int {
	if n.MaxRetries > 0 {
		return n.MaxRetries
	}
	return 3
}

// Edge is one directed connection between two nodes.
type Edge struct {
	ID        string
	From      string
	To        string
	Type      EdgeType
	Condition string
}

// WorkflowDefinition is an immutable, registered workflow graph.
type WorkflowDefinition struct {
	WorkflowID  string
	Name        string
	Description string
	Version     string
	Tags        []string
	Timeout     *time.Duration // workflow-wide deadline, optional

	Nodes map[string]Node
	Edges []Edge

	startNodeID   string
	outgoing      map[string][]Edge // from_node -> edges
	incoming      map[string][]Edge // to_node -> edges
}

// Validate checks the invariants from spec §3: exactly one START node,
// at least one END node, every edge endpoint exists, and non-LOOP_BACK
// edges never form a cycle. It returns validation errors and, separately,
// non-fatal warnings (e.g. unreachable nodes).
func (d *WorkflowDefinition) Validate() (warnings []string, err error) {
	if d.Nodes == nil {
		d.Nodes = map[string]Node{}
	}

	var startCount, endCount int
	for id, n := range d.Nodes {
		if n.ID == "" {
			n.ID = id
			d.Nodes[id] = n
		}
		if !n.Type.valid() {
			return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("node %s: %v: %s", id, ErrUnknownNodeType, n.Type)}
		}
		switch n.Type {
		case NodeStart:
			startCount++
			d.startNodeID = id
		case NodeEnd:
			endCount++
		}
	}
	if startCount != 1 {
		return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("%v: found %d", ErrMissingStartNode, startCount)}
	}
	if endCount < 1 {
		return nil, &Error{Kind: KindValidation, Message: ErrMissingEndNode.Error()}
	}

	d.outgoing = make(map[string][]Edge, len(d.Edges))
	d.incoming = make(map[string][]Edge, len(d.Edges))
	for _, e := range d.Edges {
		if !e.Type.valid() {
			return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("edge %s: %v: %s", e.ID, ErrUnknownEdgeType, e.Type)}
		}
		if _, ok := d.Nodes[e.From]; !ok {
			return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("edge %s: %v: from_node %s", e.ID, ErrDanglingEdge, e.From)}
		}
		if _, ok := d.Nodes[e.To]; !ok {
			return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("edge %s: %v: to_node %s", e.ID, ErrDanglingEdge, e.To)}
		}
		d.outgoing[e.From] = append(d.outgoing[e.From], e)
		d.incoming[e.To] = append(d.incoming[e.To], e)
	}

	if err := d.checkAcyclicExceptLoopBack(); err != nil {
		return nil, &Error{Kind: KindValidation, Message: err.Error()}
	}

	warnings = d.unreachableNodeWarnings()
	return warnings, nil
}

// checkAcyclicExceptLoopBack walks the subgraph of non-LOOP_BACK edges
// and fails if it contains a cycle.
func (d *WorkflowDefinition) checkAcyclicExceptLoopBack() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.Nodes))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, e := range d.outgoing[id] {
			if e.Type == EdgeLoopBack {
				continue
			}
			switch color[e.To] {
			case white:
				if err := visit(e.To); err != nil {
					return err
				}
			case gray:
				return ErrNonLoopBackCycle
			}
		}
		color[id] = black
		return nil
	}
	for id := range d.Nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// unreachableNodeWarnings returns node IDs not reachable from START,
// per spec §3: "unreachable nodes are allowed but warned at registration".
func (d *WorkflowDefinition) unreachableNodeWarnings() []string {
	reached := map[string]bool{d.startNodeID: true}
	queue := []string{d.startNodeID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range d.outgoing[id] {
			if !reached[e.To] {
				reached[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	var warnings []string
	for id := range d.Nodes {
		if !reached[id] {
			warnings = append(warnings, fmt.Sprintf("node %s is unreachable from START", id))
		}
	}
	return warnings
}

// OutgoingEdges returns the edges leaving nodeID, in definition order.
func (d *WorkflowDefinition) OutgoingEdges(nodeID string) []Edge {
	return d.outgoing[nodeID]
}

// IncomingEdges returns the edges entering nodeID, in definition order.
func (d *WorkflowDefinition) IncomingEdges(nodeID string) []Edge {
	return d.incoming[nodeID]
}

// StartNodeID returns the definition's single START node id. Validate
// must have succeeded first.
func (d *WorkflowDefinition) StartNodeID() string {
	return d.startNodeID
}

// referencedSubWorkflows returns the workflow_ids named by this
// definition's SUBPROCESS nodes.
func (d *WorkflowDefinition) referencedSubWorkflows() []string {
	var ids []string
	for _, n := range d.Nodes {
		if n.Type != NodeSubprocess {
			continue
		}
		if id, ok := n.Parameters["workflow_id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
