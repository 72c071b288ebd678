package diagnostic

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/capwatch/internal/model"
	"github.com/ppiankov/capwatch/internal/violations"
)

func openStore(t *testing.T) *violations.Store {
	t.Helper()
	st, err := violations.Open(filepath.Join(t.TempDir(), "capwatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func report(runID string, ts time.Time, results []CaseResult) *Report {
	return &Report{RunID: runID, Timestamp: ts, Results: results}
}

// Ten ToolUsage cases with four failures and full marks elsewhere must
// land on a weighted score of 90.
func TestIngestWeightedScore(t *testing.T) {
	st := openStore(t)
	b := NewBridge(st)

	var results []CaseResult
	for i := 0; i < 10; i++ {
		results = append(results, CaseResult{
			Category: CatToolUsage,
			Name:     "tool-" + string(rune('a'+i)),
			Passed:   i < 6,
			Tool:     "crm_update",
		})
	}
	for _, cat := range []string{CatBasicQA, CatComplexReasoning, CatMemoryContext, CatWidgetControl, CatErrorHandling, CatPerformance} {
		results = append(results, CaseResult{Category: cat, Name: cat + "-ok", Passed: true})
	}

	snap, err := b.Ingest(context.Background(), report("run-1", time.Now().UTC(), results))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if math.Abs(snap.IntelligenceScore-90) > 1e-9 {
		t.Fatalf("intelligence score = %v, want 90", snap.IntelligenceScore)
	}
	if got := snap.CategoryScores[CatToolUsage]; got != 60 {
		t.Fatalf("ToolUsage score = %v, want 60", got)
	}
	if snap.Comparison != nil {
		t.Fatalf("first run should have no comparison, got %+v", snap.Comparison)
	}
}

func TestIngestMapsFailuresToViolations(t *testing.T) {
	st := openStore(t)
	b := NewBridge(st)

	_, err := b.Ingest(context.Background(), report("run-1", time.Now().UTC(), []CaseResult{
		{Category: CatToolUsage, Name: "wrong-tool", Passed: false, Tool: "search_web"},
		{Category: CatErrorHandling, Name: "swallowed-error", Passed: false},
		{Category: CatBasicQA, Name: "fact", Passed: true},
	}))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	got, err := st.Query(violations.Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d violations, want 2", len(got))
	}
	byType := make(map[model.ViolationType]model.Violation)
	for _, v := range got {
		byType[v.Type] = v
	}
	tm, ok := byType[model.ToolMisuse]
	if !ok {
		t.Fatalf("missing TOOL_MISUSE violation: %+v", got)
	}
	if tm.Category != model.CatToolAuthority || tm.Severity != model.SevHigh {
		t.Fatalf("TOOL_MISUSE classified as %s/%s", tm.Category, tm.Severity)
	}
	if tm.Source != model.SourceTest {
		t.Fatalf("source = %s, want test", tm.Source)
	}
	if tm.Context.Tool != "search_web" {
		t.Fatalf("tool = %q", tm.Context.Tool)
	}
	eh, ok := byType[model.ErrorHandlingBreach]
	if !ok {
		t.Fatalf("missing ERROR_HANDLING_BREACH violation")
	}
	if eh.Category != model.CatRefusal {
		t.Fatalf("ERROR_HANDLING_BREACH category = %s", eh.Category)
	}
}

// Re-ingesting the same report must not duplicate violations.
func TestIngestIdempotent(t *testing.T) {
	st := openStore(t)
	b := NewBridge(st)

	rep := report("run-1", time.Now().UTC(), []CaseResult{
		{Category: CatMemoryContext, Name: "forgets-name", Passed: false},
	})
	for i := 0; i < 2; i++ {
		if _, err := b.Ingest(context.Background(), rep); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	got, err := st.Query(violations.Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d violations after double ingest, want 1", len(got))
	}
}

func TestIngestUnknownCategory(t *testing.T) {
	st := openStore(t)
	b := NewBridge(st)

	_, err := b.Ingest(context.Background(), report("run-1", time.Now().UTC(), []CaseResult{
		{Category: "FutureCategory", Name: "novel", Passed: false},
	}))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	got, err := st.Query(violations.Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d violations, want 1", len(got))
	}
	if got[0].Category != model.CatGraphIntegrity || got[0].Severity != model.SevLow {
		t.Fatalf("unknown category classified as %s/%s", got[0].Category, got[0].Severity)
	}
}

func TestIngestComparisonAndHistory(t *testing.T) {
	st := openStore(t)
	b := NewBridge(st)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	fail := func(n int) []CaseResult {
		var out []CaseResult
		for i := 0; i < 10; i++ {
			out = append(out, CaseResult{Category: CatToolUsage, Name: "c" + string(rune('0'+i)), Passed: i >= n})
		}
		return out
	}

	if _, err := b.Ingest(ctx, report("run-1", base, fail(4))); err != nil {
		t.Fatalf("ingest 1: %v", err)
	}
	snap2, err := b.Ingest(ctx, report("run-2", base.Add(24*time.Hour), fail(0)))
	if err != nil {
		t.Fatalf("ingest 2: %v", err)
	}
	if snap2.Comparison == nil {
		t.Fatalf("second run has no comparison")
	}
	if math.Abs(snap2.Comparison.Delta-10) > 1e-9 {
		t.Fatalf("delta = %v, want 10", snap2.Comparison.Delta)
	}
	if snap2.Comparison.Trend != "improving" {
		t.Fatalf("trend = %q, want improving", snap2.Comparison.Trend)
	}

	history, err := b.History()
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].RunID != "run-1" || history[1].RunID != "run-2" {
		t.Fatalf("history out of order: %q, %q", history[0].RunID, history[1].RunID)
	}
}

func TestIngestRejectsMissingRunID(t *testing.T) {
	b := NewBridge(openStore(t))
	if _, err := b.Ingest(context.Background(), &Report{}); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestIngestCancellation(t *testing.T) {
	b := NewBridge(openStore(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Ingest(ctx, report("run-1", time.Now().UTC(), []CaseResult{
		{Category: CatBasicQA, Name: "x", Passed: false},
	}))
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestScoreTrend(t *testing.T) {
	mk := func(scores ...float64) []Snapshot {
		out := make([]Snapshot, len(scores))
		for i, s := range scores {
			out[i] = Snapshot{IntelligenceScore: s}
		}
		return out
	}

	cases := []struct {
		name      string
		history   []Snapshot
		direction string
	}{
		{"empty", nil, "stable"},
		{"single", mk(80), "stable"},
		{"flat", mk(80, 80, 80), "stable"},
		{"rising", mk(70, 75, 82, 88), "improving"},
		{"falling", mk(90, 84, 77, 70), "degrading"},
		{"noise within band", mk(80, 80.3, 79.9, 80.2), "stable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreTrend(tc.history)
			if got.Direction != tc.direction {
				t.Fatalf("direction = %q (slope %v), want %q", got.Direction, got.Slope, tc.direction)
			}
		})
	}
}
