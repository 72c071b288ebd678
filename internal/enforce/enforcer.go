// Package enforce is the inline admission gate: it decides, per capability
// invocation, whether the agent's claimed authority matches the capability
// graph, and blocks or records accordingly.
package enforce

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/capwatch/internal/authority"
	"github.com/ppiankov/capwatch/internal/graph"
	"github.com/ppiankov/capwatch/internal/metrics"
	"github.com/ppiankov/capwatch/internal/model"
)

// Recorder receives violations and invocation counts without ever blocking
// the caller. Implementations must drop rather than stall.
type Recorder interface {
	Enqueue(v model.Violation)
	CountInvocation(tool string)
}

// Enforcer gates capability invocations against the current graph snapshot.
// CheckAuthority does a handful of map lookups and returns before any
// violation is durably persisted.
type Enforcer struct {
	graphs   *graph.Store
	config   ConfigSource
	recorder Recorder
}

// New creates an enforcer. recorder may be nil (decisions are still made,
// nothing is persisted).
func New(graphs *graph.Store, config ConfigSource, recorder Recorder) *Enforcer {
	return &Enforcer{graphs: graphs, config: config, recorder: recorder}
}

// CheckAuthority resolves the invoked capability and returns the
// enforcement decision. Infrastructure failures never block: a missing
// graph snapshot allows the invocation and records a low-severity
// GRAPH_UNAVAILABLE violation instead.
func (e *Enforcer) CheckAuthority(inv model.Invocation) model.Decision {
	cfg, cfgHash := e.config.Current()

	// Disabled mode: fast bypass, not even a violation is computed.
	if cfg.Mode == ModeDisabled {
		metrics.Decisions.WithLabelValues("allow").Inc()
		return model.Decision{Allow: true}
	}

	if e.recorder != nil {
		e.recorder.CountInvocation(inv.ToolName)
	}

	g, err := e.graphs.Current()
	if err != nil {
		// Fail open: an availability outage must not become a blanket
		// capability outage.
		v := e.newViolation(inv, cfgHash, model.GraphUnavailable, model.CatGraphIntegrity,
			model.SevLow, "no capability graph loaded; invocation allowed")
		e.emit(v)
		metrics.Decisions.WithLabelValues("allow").Inc()
		return model.Decision{Allow: true, Violation: &v}
	}

	vt, cat, sev, detail, authorized := e.resolve(g, inv.ToolName)
	if authorized {
		metrics.Decisions.WithLabelValues("allow").Inc()
		return model.Decision{Allow: true}
	}

	v := e.newViolation(inv, cfgHash, vt, cat, sev, detail)
	blocked := cfg.ShouldBlock(&v)
	v.Blocked = blocked
	e.emit(v)

	if blocked {
		metrics.Decisions.WithLabelValues("block").Inc()
		return model.Decision{
			Allow:       false,
			BlockReason: detail,
			Violation:   &v,
		}
	}
	metrics.Decisions.WithLabelValues("allow").Inc()
	return model.Decision{Allow: true, Violation: &v}
}

// resolve classifies an invoked capability id against the graph.
func (e *Enforcer) resolve(g *graph.Graph, id string) (model.ViolationType, model.Category, model.Severity, string, bool) {
	n, ok := g.Nodes[id]
	if !ok {
		return model.DisconnectedTool, model.CatToolAuthority, model.SevHigh,
			fmt.Sprintf("capability %q does not exist in the graph", id), false
	}

	switch n.Type {
	case graph.NodeTool:
		if authority.IsToolAuthorized(g, id) {
			return "", "", "", "", true
		}
		return model.DisconnectedTool, model.CatToolAuthority, model.SevHigh,
			fmt.Sprintf("tool %q is not connected to any active skill", id), false

	case graph.NodeSkill:
		if authority.CanClaimSkill(g, id) {
			return "", "", "", "", true
		}
		if n.Status == graph.StatusMissing {
			return model.MissingSkillRequest, model.CatSkillAuthority, model.SevCritical,
				fmt.Sprintf("skill %q is missing and cannot be invoked", id), false
		}
		return model.PlannedSkillClaim, model.CatSkillAuthority, model.SevHigh,
			fmt.Sprintf("skill %q has status %q and cannot be claimed", id, n.Status), false

	case graph.NodeKnowledgeBase:
		if authority.IsKnowledgeCanonical(g, id) {
			return "", "", "", "", true
		}
		return model.NoncanonicalKBUse, model.CatKnowledgeBase, model.SevMedium,
			fmt.Sprintf("knowledge base %q is not canonical", id), false

	default:
		return model.DisconnectedTool, model.CatToolAuthority, model.SevHigh,
			fmt.Sprintf("capability %q has unknown type", id), false
	}
}

func (e *Enforcer) newViolation(inv model.Invocation, cfgHash string, vt model.ViolationType,
	cat model.Category, sev model.Severity, detail string) model.Violation {
	return model.Violation{
		ID:       uuid.NewString(),
		Type:     vt,
		Category: cat,
		Severity: sev,
		Source:   model.SourceRuntime,
		Detail:   detail,
		Context: model.Context{
			Tool:        inv.ToolName,
			ArgsDigest:  digestArgs(inv.Args),
			RequestID:   inv.RequestID,
			SessionID:   inv.SessionID,
			RequestText: inv.RequestText,
			ConfigHash:  cfgHash,
		},
		DetectedAt:     time.Now().UTC(),
		RecommendedFix: model.RecommendedFix(vt),
	}
}

func (e *Enforcer) emit(v model.Violation) {
	metrics.Violations.WithLabelValues(string(v.Severity), string(v.Category)).Inc()
	if e.recorder != nil {
		e.recorder.Enqueue(v)
	}
}

// digestArgs hashes invocation arguments so reports never carry raw values.
func digestArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}
