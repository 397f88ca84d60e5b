package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"go.yaml.in/yaml/v2"
)

// wireDefinition mirrors spec §6 item 3's workflow definition wire
// format. It exists separately from WorkflowDefinition so that
// timeout_seconds (a number on the wire) can convert to a
// time.Duration without leaking a misleading struct tag onto the
// in-memory type.
type wireDefinition struct {
	WorkflowID  string              `json:"workflow_id" yaml:"workflow_id"`
	Name        string              `json:"name" yaml:"name"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string              `json:"version,omitempty" yaml:"version,omitempty"`
	Tags        []string            `json:"tags,omitempty" yaml:"tags,omitempty"`
	TimeoutMin  *float64            `json:"timeout_minutes,omitempty" yaml:"timeout_minutes,omitempty"`
	Nodes       map[string]wireNode `json:"nodes" yaml:"nodes"`
	Edges       map[string]wireEdge `json:"edges" yaml:"edges"`
}

type wireNode struct {
	NodeType   NodeType           `json:"node_type" yaml:"node_type"`
	Name       string             `json:"name" yaml:"name"`
	Desc       string             `json:"description,omitempty" yaml:"description,omitempty"`
	AgentType  string             `json:"agent_type,omitempty" yaml:"agent_type,omitempty"`
	Action     string             `json:"action,omitempty" yaml:"action,omitempty"`
	Parameters map[string]any     `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Conditions map[string]float64 `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	TimeoutSec *float64           `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	MaxRetries int                `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

type wireEdge struct {
	FromNode  string   `json:"from_node" yaml:"from_node"`
	ToNode    string   `json:"to_node" yaml:"to_node"`
	EdgeType  EdgeType `json:"edge_type" yaml:"edge_type"`
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// ParseDefinitionJSON decodes a workflow definition from its spec §6
// item 3 JSON wire format.
func ParseDefinitionJSON(data []byte) (*WorkflowDefinition, error) {
	var w wireDefinition
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse workflow definition json: %w", err)
	}
	return w.toDefinition(), nil
}

// ParseDefinitionYAML decodes a workflow definition from the YAML
// rendering of the same wire format.
func ParseDefinitionYAML(data []byte) (*WorkflowDefinition, error) {
	var w wireDefinition
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse workflow definition yaml: %w", err)
	}
	return w.toDefinition(), nil
}

func (w wireDefinition) toDefinition() *WorkflowDefinition {
	def := &WorkflowDefinition{
		WorkflowID:  w.WorkflowID,
		Name:        w.Name,
		Description: w.Description,
		Version:     w.Version,
		Tags:        w.Tags,
	}
	if w.TimeoutMin != nil {
		d := time.Duration(*w.TimeoutMin * float64(time.Minute))
		def.Timeout = &d
	}

	def.Nodes = make(map[string]Node, len(w.Nodes))
	for id, n := range w.Nodes {
		node := Node{
			ID:         id,
			Type:       n.NodeType,
			Name:       n.Name,
			Desc:       n.Desc,
			AgentType:  n.AgentType,
			Action:     n.Action,
			Parameters: n.Parameters,
			Conditions: n.Conditions,
			MaxRetries: n.MaxRetries,
		}
		if n.TimeoutSec != nil {
			d := time.Duration(*n.TimeoutSec * float64(time.Second))
			node.Timeout = &d
		}
		def.Nodes[id] = node
	}

	def.Edges = make([]Edge, 0, len(w.Edges))
	for id, e := range w.Edges {
		def.Edges = append(def.Edges, Edge{
			ID:        id,
			From:      e.FromNode,
			To:        e.ToNode,
			Type:      e.EdgeType,
			Condition: e.Condition,
		})
	}
	return def
}
