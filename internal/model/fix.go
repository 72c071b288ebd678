package model

// RecommendedFix returns the standing remediation advice for a violation type.
// The table is fixed: reports must give identical advice for identical findings.
func RecommendedFix(t ViolationType) string {
	switch t {
	case DisconnectedTool:
		return "connect tool to an active skill or deprecate it"
	case PlannedSkillClaim:
		return "remove claims of the planned skill or finish its implementation and mark it active"
	case MissingSkillRequest:
		return "stop routing requests to the missing skill; add a refusal path until it exists"
	case NoncanonicalKBUse:
		return "replace the inferred knowledge base with its canonical source or mark the source canonical"
	case RefusalContractBreach:
		return "harden the refusal prompt for missing/planned skills and re-run the contract suite"
	case OrphanedKnowledgeBase:
		return "link the knowledge base to at least one consumer or retire it"
	case DuplicateNodeID:
		return "deduplicate node ids in the graph export"
	case GraphUnavailable:
		return "load a capability graph before serving traffic"
	case ToolMisuse:
		return "review tool selection prompts against the capability graph"
	case SkillGap:
		return "review reasoning failures; consider decomposing the skill"
	case KnowledgeGap:
		return "refresh or extend the canonical knowledge bases"
	case ContextLoss:
		return "review session memory wiring for the failing flows"
	case WidgetControlFault:
		return "re-validate widget action bindings against the capability graph"
	case ErrorHandlingBreach:
		return "add explicit error and refusal handling for the failing cases"
	case PerformanceDegradation:
		return "profile the failing capability path; check graph lookup hot spots"
	default:
		return "inspect the violation detail; no standing recommendation for this type"
	}
}
