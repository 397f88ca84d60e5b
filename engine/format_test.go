package engine

import "testing"

const sampleJSON = `{
  "workflow_id": "wf-1",
  "name": "demo",
  "version": "1.0",
  "nodes": {
    "start": {"node_type": "START", "name": "start"},
    "A": {"node_type": "TASK", "name": "A", "agent_type": "agent-x", "timeout_seconds": 30, "max_retries": 2},
    "end": {"node_type": "END", "name": "end"}
  },
  "edges": {
    "e1": {"from_node": "start", "to_node": "A", "edge_type": "SEQUENTIAL"},
    "e2": {"from_node": "A", "to_node": "end", "edge_type": "SEQUENTIAL"}
  }
}`

const sampleYAML = `
workflow_id: wf-1
name: demo
version: "1.0"
nodes:
  start:
    node_type: START
    name: start
  A:
    node_type: TASK
    name: A
    agent_type: agent-x
    timeout_seconds: 30
    max_retries: 2
  end:
    node_type: END
    name: end
edges:
  e1:
    from_node: start
    to_node: A
    edge_type: SEQUENTIAL
  e2:
    from_node: A
    to_node: end
    edge_type: SEQUENTIAL
`

func TestParseDefinitionJSON(t *testing.T) {
	def, err := ParseDefinitionJSON([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("ParseDefinitionJSON: %v", err)
	}
	assertParsedDefinition(t, def)
}

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseDefinitionYAML: %v", err)
	}
	assertParsedDefinition(t, def)
}

func assertParsedDefinition(t *testing.T, def *WorkflowDefinition) {
	t.Helper()
	if def.WorkflowID != "wf-1" || def.Name != "demo" {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if len(def.Nodes) != 3 || len(def.Edges) != 2 {
		t.Fatalf("expected 3 nodes and 2 edges, got %d nodes, %d edges", len(def.Nodes), len(def.Edges))
	}
	a, ok := def.Nodes["A"]
	if !ok || a.AgentType != "agent-x" || a.MaxRetries != 2 {
		t.Fatalf("unexpected node A: %+v", a)
	}
	if a.Timeout == nil || *a.Timeout != 30e9 {
		t.Fatalf("expected 30s timeout, got %v", a.Timeout)
	}

	if _, err := def.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
