// Package graph holds the capability graph: which tools connect to which
// skills and knowledge bases, and their authorization status. Snapshots are
// immutable values; nothing outside this package ever mutates one.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// NodeType is the semantic type of a graph node.
type NodeType string

const (
	NodeTool          NodeType = "tool"
	NodeSkill         NodeType = "skill"
	NodeKnowledgeBase NodeType = "knowledge_base"
)

// NodeStatus applies to tool and skill nodes.
type NodeStatus string

const (
	StatusActive  NodeStatus = "active"
	StatusPlanned NodeStatus = "planned"
	StatusMissing NodeStatus = "missing"
	StatusPartial NodeStatus = "partial"
)

// Authority applies to knowledge-base nodes.
type Authority string

const (
	AuthorityCanonical Authority = "canonical"
	AuthorityInferred  Authority = "inferred"
)

// EdgeType is the semantic relationship between two nodes.
type EdgeType string

const (
	EdgeUses     EdgeType = "uses"
	EdgeConnects EdgeType = "connects"
	EdgeRequires EdgeType = "requires"
)

// Node is one vertex of the capability graph.
type Node struct {
	ID        string            `json:"id"`
	Type      NodeType          `json:"type"`
	Status    NodeStatus        `json:"status,omitempty"`
	Authority Authority         `json:"authority,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// HighRisk reports whether the node is flagged high-risk in metadata.
func (n Node) HighRisk() bool {
	return n.Metadata["risk"] == "high"
}

// Edge is a directed, typed connection between two nodes. Parallel edges
// (multiple types between the same pair) are allowed.
type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"type"`
}

// Graph is an immutable capability graph snapshot.
type Graph struct {
	Nodes    map[string]Node
	Edges    []Edge
	Out      map[string][]Edge // adjacency by source id
	In       map[string]int    // inbound edge count by target id
	LoadedAt time.Time
	Hash     string // sha256 of the raw serialized form
}

// file is the serialized form produced by the graph ingestion collaborator.
type file struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// LoadError reports structural problems in a serialized graph.
// A LoadError is fatal to the load, never to the running process:
// callers keep the last good snapshot.
type LoadError struct {
	Problems []string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("graph load failed: %s", strings.Join(e.Problems, "; "))
}

// Parse builds a validated snapshot from serialized graph bytes.
func Parse(data []byte) (*Graph, error) {
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &LoadError{Problems: []string{fmt.Sprintf("invalid JSON: %v", err)}}
	}

	var problems []string
	nodes := make(map[string]Node, len(f.Nodes))
	for _, n := range f.Nodes {
		if n.ID == "" {
			problems = append(problems, "node with empty id")
			continue
		}
		if _, dup := nodes[n.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		switch n.Type {
		case NodeTool, NodeSkill:
			switch n.Status {
			case StatusActive, StatusPlanned, StatusMissing, StatusPartial:
			default:
				problems = append(problems, fmt.Sprintf("node %q: unknown status %q", n.ID, n.Status))
				continue
			}
		case NodeKnowledgeBase:
			switch n.Authority {
			case AuthorityCanonical, AuthorityInferred:
			default:
				problems = append(problems, fmt.Sprintf("node %q: unknown authority %q", n.ID, n.Authority))
				continue
			}
		default:
			problems = append(problems, fmt.Sprintf("node %q: unknown type %q", n.ID, n.Type))
			continue
		}
		nodes[n.ID] = n
	}

	out := make(map[string][]Edge)
	in := make(map[string]int)
	for _, e := range f.Edges {
		switch e.Type {
		case EdgeUses, EdgeConnects, EdgeRequires:
		default:
			problems = append(problems, fmt.Sprintf("edge %s->%s: unknown type %q", e.Source, e.Target, e.Type))
			continue
		}
		if _, ok := nodes[e.Source]; !ok {
			problems = append(problems, fmt.Sprintf("edge %s->%s: dangling source", e.Source, e.Target))
			continue
		}
		if _, ok := nodes[e.Target]; !ok {
			problems = append(problems, fmt.Sprintf("edge %s->%s: dangling target", e.Source, e.Target))
			continue
		}
		out[e.Source] = append(out[e.Source], e)
		in[e.Target]++
	}

	if len(problems) > 0 {
		return nil, &LoadError{Problems: problems}
	}

	h := sha256.Sum256(data)
	return &Graph{
		Nodes:    nodes,
		Edges:    f.Edges,
		Out:      out,
		In:       in,
		LoadedAt: time.Now().UTC(),
		Hash:     "sha256:" + hex.EncodeToString(h[:]),
	}, nil
}

// LoadFile reads and parses a serialized graph from disk.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}
	return Parse(data)
}

// NodesOfType returns node ids of the given type in sorted order.
// Sorted output keeps batch validation deterministic across runs.
func (g *Graph) NodesOfType(t NodeType) []string {
	var ids []string
	for id, n := range g.Nodes {
		if n.Type == t {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
