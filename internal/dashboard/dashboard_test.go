package dashboard

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/capwatch/internal/model"
	"github.com/ppiankov/capwatch/internal/violations"
)

func testStore(t *testing.T) *violations.Store {
	t.Helper()
	s, err := violations.Open(filepath.Join(t.TempDir(), "capwatch.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(t *testing.T, s *violations.Store, id, tool string, vt model.ViolationType, src model.Source, at time.Time) {
	t.Helper()
	err := s.Record(model.Violation{
		ID: id, Type: vt,
		Category: model.CatToolAuthority, Severity: model.SevHigh,
		Source: src, Context: model.Context{Tool: tool}, DetectedAt: at,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func window() (time.Time, time.Time) {
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return from, from.Add(7 * 24 * time.Hour)
}

func TestConsistencyIdenticalSets(t *testing.T) {
	var vs []model.Violation
	for i := 0; i < 5; i++ {
		tool := fmt.Sprintf("T%d", i)
		vs = append(vs,
			model.Violation{Type: model.DisconnectedTool, Source: model.SourceTest, Context: model.Context{Tool: tool}},
			model.Violation{Type: model.DisconnectedTool, Source: model.SourceRuntime, Context: model.Context{Tool: tool}},
		)
	}
	score := Consistency(vs)
	if score == nil || *score != 100 {
		t.Fatalf("identical sets must score 100, got %v", score)
	}
}

func TestConsistencyDisjointSets(t *testing.T) {
	vs := []model.Violation{
		{Type: model.DisconnectedTool, Source: model.SourceTest, Context: model.Context{Tool: "A"}},
		{Type: model.DisconnectedTool, Source: model.SourceRuntime, Context: model.Context{Tool: "B"}},
	}
	score := Consistency(vs)
	if score == nil || *score != 0 {
		t.Fatalf("disjoint sets must score 0, got %v", score)
	}
}

func TestConsistencyNilWhenSourceMissing(t *testing.T) {
	vs := []model.Violation{
		{Type: model.DisconnectedTool, Source: model.SourceTest, Context: model.Context{Tool: "A"}},
	}
	if Consistency(vs) != nil {
		t.Fatal("missing runtime source must yield nil, not a score")
	}
	if Consistency(nil) != nil {
		t.Fatal("empty set must yield nil")
	}
}

// 12 runtime, 10 test, 9 overlapping keys → 9/13 ≈ 69.2%.
func TestConsistencyOverlapScenario(t *testing.T) {
	var vs []model.Violation
	for i := 0; i < 12; i++ {
		vs = append(vs, model.Violation{
			Type: model.DisconnectedTool, Source: model.SourceRuntime,
			Context: model.Context{Tool: fmt.Sprintf("T%d", i)},
		})
	}
	// Test pipeline sees T0..T8 (overlap 9) plus one key of its own.
	for i := 0; i < 9; i++ {
		vs = append(vs, model.Violation{
			Type: model.DisconnectedTool, Source: model.SourceTest,
			Context: model.Context{Tool: fmt.Sprintf("T%d", i)},
		})
	}
	vs = append(vs, model.Violation{
		Type: model.DisconnectedTool, Source: model.SourceTest,
		Context: model.Context{Tool: "TEST_ONLY"},
	})

	score := Consistency(vs)
	if score == nil {
		t.Fatal("expected a score")
	}
	want := 9.0 / 13.0 * 100
	if math.Abs(*score-want) > 0.01 {
		t.Errorf("expected %.1f, got %.1f", want, *score)
	}
	if *score >= 80 {
		t.Error("this scenario must be below the 80% gate")
	}
}

func TestComplianceBuckets(t *testing.T) {
	cases := []struct {
		violations, invocations int
		want                    string
	}{
		{0, 100, StatusCompliant},
		{4, 100, StatusCompliant},
		{10, 100, StatusWarning},
		{30, 100, StatusNonCompliant},
		{5, 0, StatusNonCompliant}, // no denominator data clamps to 0
	}
	for i, c := range cases {
		got := compliance(c.violations, c.invocations)
		if got.Status != c.want {
			t.Errorf("case %d: got %s (rate %.2f), want %s", i, got.Status, got.Rate, c.want)
		}
	}
}

func TestTrendSlope(t *testing.T) {
	// Strictly increasing counts: slope must be positive and near 1/day.
	daily := []DayCount{{Count: 1}, {Count: 2}, {Count: 3}, {Count: 4}}
	if got := slope(daily); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("expected slope 1.0, got %f", got)
	}
	if got := slope([]DayCount{{Count: 3}}); got != 0 {
		t.Errorf("single bucket has no slope, got %f", got)
	}
	flat := []DayCount{{Count: 2}, {Count: 2}, {Count: 2}}
	if got := slope(flat); got != 0 {
		t.Errorf("flat series slope must be 0, got %f", got)
	}
}

func TestGenerateDashboard(t *testing.T) {
	s := testStore(t)
	from, to := window()

	record(t, s, "r1", "T1", model.DisconnectedTool, model.SourceRuntime, from.Add(24*time.Hour))
	record(t, s, "r2", "T1", model.DisconnectedTool, model.SourceRuntime, from.Add(48*time.Hour))
	record(t, s, "t1", "T1", model.DisconnectedTool, model.SourceTest, from.Add(24*time.Hour))
	if err := s.AddInvocations("2026-08-02", "T1", 100); err != nil {
		t.Fatal(err)
	}
	if err := s.AddInvocations("2026-08-03", "T2", 900); err != nil {
		t.Fatal(err)
	}

	d, err := NewService(s).Generate(context.Background(), Query{From: from, To: to})
	if err != nil {
		t.Fatal(err)
	}

	if d.TotalViolations != 3 || d.TotalInvocations != 1000 {
		t.Errorf("totals: %d violations, %d invocations", d.TotalViolations, d.TotalInvocations)
	}
	if d.Compliance.Status != StatusCompliant {
		t.Errorf("3/1000 violations is compliant, got %s", d.Compliance.Status)
	}
	if d.Consistency == nil || *d.Consistency != 100 {
		t.Errorf("both sources agree on (DISCONNECTED_TOOL, T1): want 100, got %v", d.Consistency)
	}
	if len(d.Trend.Daily) != 8 {
		t.Errorf("expected 8 day buckets, got %d", len(d.Trend.Daily))
	}
	if len(d.ToolHealth) != 1 || d.ToolHealth[0].Tool != "T1" {
		t.Fatalf("tool health: %+v", d.ToolHealth)
	}
	// 3 violations over 100 T1 invocations = 30 per 1000 → degraded.
	if d.ToolHealth[0].Status != ToolDegraded {
		t.Errorf("expected degraded T1, got %s (%.1f/1000)", d.ToolHealth[0].Status, d.ToolHealth[0].RatePer1000)
	}
	if len(d.QuickWins) == 0 || d.QuickWins[0].Tool != "T1" {
		t.Errorf("quick wins: %+v", d.QuickWins)
	}
}

func TestGenerateToleratesMissingSources(t *testing.T) {
	s := testStore(t)
	from, to := window()
	record(t, s, "t1", "T1", model.DisconnectedTool, model.SourceTest, from.Add(time.Hour))

	d, err := NewService(s).Generate(context.Background(), Query{From: from, To: to})
	if err != nil {
		t.Fatalf("partial data must not error: %v", err)
	}
	if d.Consistency != nil {
		t.Error("consistency must be nil without runtime data")
	}
}

func TestGenerateHonorsCancellation(t *testing.T) {
	s := testStore(t)
	from, to := window()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewService(s).Generate(ctx, Query{From: from, To: to}); err == nil {
		t.Fatal("cancelled context must abort aggregation")
	}
}

func TestQuickWinRanking(t *testing.T) {
	vs := []model.Violation{
		// 3 orphan findings (effort 1) → score 3.
		{Type: model.OrphanedKnowledgeBase, Context: model.Context{Tool: "KB1"}},
		{Type: model.OrphanedKnowledgeBase, Context: model.Context{Tool: "KB1"}},
		{Type: model.OrphanedKnowledgeBase, Context: model.Context{Tool: "KB1"}},
		// 4 missing-skill findings (effort 5) → score 0.8.
		{Type: model.MissingSkillRequest, Context: model.Context{Tool: "S1"}},
		{Type: model.MissingSkillRequest, Context: model.Context{Tool: "S1"}},
		{Type: model.MissingSkillRequest, Context: model.Context{Tool: "S1"}},
		{Type: model.MissingSkillRequest, Context: model.Context{Tool: "S1"}},
	}
	wins := quickWins(vs)
	if len(wins) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(wins))
	}
	if wins[0].Type != model.OrphanedKnowledgeBase {
		t.Errorf("cheap high-impact fix must rank first, got %s", wins[0].Type)
	}
	if wins[0].Impact != 3 || wins[1].Impact != 4 {
		t.Errorf("impacts: %d, %d", wins[0].Impact, wins[1].Impact)
	}
}
