package model

import "testing"

func TestSevRankOrdering(t *testing.T) {
	if SevRank[SevLow] >= SevRank[SevMedium] {
		t.Error("low must rank below medium")
	}
	if SevRank[SevMedium] >= SevRank[SevHigh] {
		t.Error("medium must rank below high")
	}
	if SevRank[SevHigh] >= SevRank[SevCritical] {
		t.Error("high must rank below critical")
	}
}

func TestValidSeverity(t *testing.T) {
	for _, s := range []Severity{SevLow, SevMedium, SevHigh, SevCritical} {
		if !ValidSeverity(s) {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if ValidSeverity("urgent") {
		t.Error("unknown severity must not validate")
	}
}

func TestViolationKey(t *testing.T) {
	a := Violation{Type: DisconnectedTool, Context: Context{Tool: "T1"}}
	b := Violation{Type: DisconnectedTool, Context: Context{Tool: "T1"}, Source: SourceRuntime}
	if a.Key() != b.Key() {
		t.Errorf("same (type, tool) must share a key: %q vs %q", a.Key(), b.Key())
	}
	c := Violation{Type: DisconnectedTool, Context: Context{Tool: "T2"}}
	if a.Key() == c.Key() {
		t.Error("different tools must not share a key")
	}
}

func TestRecommendedFixCoversAllTypes(t *testing.T) {
	types := []ViolationType{
		DisconnectedTool, PlannedSkillClaim, MissingSkillRequest,
		NoncanonicalKBUse, RefusalContractBreach, OrphanedKnowledgeBase,
		DuplicateNodeID, GraphUnavailable, ToolMisuse, SkillGap,
		KnowledgeGap, ContextLoss, WidgetControlFault, ErrorHandlingBreach,
		PerformanceDegradation,
	}
	fallback := RecommendedFix("SOMETHING_ELSE")
	for _, vt := range types {
		if RecommendedFix(vt) == fallback {
			t.Errorf("type %s has no dedicated recommendation", vt)
		}
	}
}
