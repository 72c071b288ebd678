package model

import "time"

// Severity classifies how serious a violation is.
type Severity string

const (
	SevLow      Severity = "low"
	SevMedium   Severity = "medium"
	SevHigh     Severity = "high"
	SevCritical Severity = "critical"
)

// SevRank maps severity to a comparable integer for threshold checks.
var SevRank = map[Severity]int{
	SevLow:      0,
	SevMedium:   1,
	SevHigh:     2,
	SevCritical: 3,
}

// ValidSeverity reports whether s is a known severity level.
func ValidSeverity(s Severity) bool {
	_, ok := SevRank[s]
	return ok
}

// Category groups violations by the authority surface they breach.
type Category string

const (
	CatToolAuthority  Category = "TOOL_AUTHORITY"
	CatSkillAuthority Category = "SKILL_AUTHORITY"
	CatKnowledgeBase  Category = "KNOWLEDGE_BASE_LEGITIMACY"
	CatRefusal        Category = "REFUSAL_CONTRACT"
	CatGraphIntegrity Category = "GRAPH_INTEGRITY"
)

// Categories lists every category in stable report order.
var Categories = []Category{
	CatToolAuthority,
	CatSkillAuthority,
	CatKnowledgeBase,
	CatRefusal,
	CatGraphIntegrity,
}

// ViolationType is the closed set of detectable contract breaches.
type ViolationType string

const (
	DisconnectedTool      ViolationType = "DISCONNECTED_TOOL"
	PlannedSkillClaim     ViolationType = "PLANNED_SKILL_CLAIM"
	MissingSkillRequest   ViolationType = "MISSING_SKILL_REQUEST"
	NoncanonicalKBUse     ViolationType = "NONCANONICAL_KB_USE"
	RefusalContractBreach ViolationType = "REFUSAL_CONTRACT_BREACH"
	OrphanedKnowledgeBase ViolationType = "ORPHANED_KNOWLEDGE_BASE"
	DuplicateNodeID       ViolationType = "DUPLICATE_NODE_ID"
	GraphUnavailable      ViolationType = "GRAPH_UNAVAILABLE"

	// Types produced by the diagnostic bridge.
	ToolMisuse             ViolationType = "TOOL_MISUSE"
	SkillGap               ViolationType = "SKILL_GAP"
	KnowledgeGap           ViolationType = "KNOWLEDGE_GAP"
	ContextLoss            ViolationType = "CONTEXT_LOSS"
	WidgetControlFault     ViolationType = "WIDGET_CONTROL_FAULT"
	ErrorHandlingBreach    ViolationType = "ERROR_HANDLING_BREACH"
	PerformanceDegradation ViolationType = "PERFORMANCE_DEGRADATION"
)

// Source records which pipeline detected a violation.
type Source string

const (
	SourceTest    Source = "test"
	SourceRuntime Source = "runtime"
)

// Context carries invocation metadata attached to a violation.
type Context struct {
	Tool        string `json:"tool,omitempty"`
	Skill       string `json:"skill,omitempty"`
	ArgsDigest  string `json:"args_digest,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	RequestText string `json:"request_text,omitempty"`
	ConfigHash  string `json:"config_hash,omitempty"`
}

// Violation is one immutable record of a contract breach.
// Records are append-only; corrections are new records, never mutations.
type Violation struct {
	ID             string        `json:"id"`
	Type           ViolationType `json:"type"`
	Category       Category      `json:"category"`
	Severity       Severity      `json:"severity"`
	Source         Source        `json:"source"`
	Detail         string        `json:"detail"`
	Context        Context       `json:"context"`
	Blocked        bool          `json:"blocked,omitempty"`
	DetectedAt     time.Time     `json:"detected_at"`
	RecommendedFix string        `json:"recommended_fix,omitempty"`
}

// Key identifies a violation for test-vs-runtime overlap matching.
// Two violations with the same (type, tool) pair are the same finding
// regardless of which pipeline saw it.
func (v Violation) Key() string {
	return string(v.Type) + "|" + v.Context.Tool
}

// Invocation describes one capability call presented to the enforcer.
type Invocation struct {
	ToolName    string         `json:"tool_name"`
	Args        map[string]any `json:"args,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	RequestText string         `json:"request_text,omitempty"`
}

// Decision is the enforcement outcome for a single invocation.
type Decision struct {
	Allow       bool       `json:"allow"`
	BlockReason string     `json:"block_reason,omitempty"`
	Violation   *Violation `json:"violation,omitempty"`
}
