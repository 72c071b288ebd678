// Package authority answers "is X authorized" questions over a capability
// graph snapshot. Every function is pure: no I/O, no mutation, O(out-degree)
// of the queried node.
package authority

import "github.com/ppiankov/capwatch/internal/graph"

// IsToolAuthorized reports whether the tool exists and is grounded in at
// least one active skill via a connects or uses edge.
func IsToolAuthorized(g *graph.Graph, toolID string) bool {
	n, ok := g.Nodes[toolID]
	if !ok || n.Type != graph.NodeTool {
		return false
	}
	for _, e := range g.Out[toolID] {
		if e.Type != graph.EdgeConnects && e.Type != graph.EdgeUses {
			continue
		}
		target, ok := g.Nodes[e.Target]
		if ok && target.Type == graph.NodeSkill && target.Status == graph.StatusActive {
			return true
		}
	}
	return false
}

// CanClaimSkill reports whether the skill exists and is active.
// Claims of planned or missing skills are contract breaches.
func CanClaimSkill(g *graph.Graph, skillID string) bool {
	n, ok := g.Nodes[skillID]
	return ok && n.Type == graph.NodeSkill && n.Status == graph.StatusActive
}

// IsKnowledgeCanonical reports whether the node is a knowledge base whose
// authority is canonical.
func IsKnowledgeCanonical(g *graph.Graph, kbID string) bool {
	n, ok := g.Nodes[kbID]
	return ok && n.Type == graph.NodeKnowledgeBase && n.Authority == graph.AuthorityCanonical
}
