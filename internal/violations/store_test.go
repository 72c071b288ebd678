package violations

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/capwatch/internal/model"
)

func testDB(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "capwatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleViolation(id, tool string, src model.Source, at time.Time) model.Violation {
	return model.Violation{
		ID:         id,
		Type:       model.DisconnectedTool,
		Category:   model.CatToolAuthority,
		Severity:   model.SevHigh,
		Source:     src,
		Detail:     "tool has no active skill",
		Context:    model.Context{Tool: tool, RequestID: "r-1"},
		DetectedAt: at,
	}
}

func TestRecordAndQueryRoundTrip(t *testing.T) {
	s := testDB(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	v := sampleViolation("v1", "T1", model.SourceRuntime, now)
	v.Blocked = true
	if err := s.Record(v); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := s.Query(Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(got))
	}
	if got[0].ID != "v1" || !got[0].Blocked || got[0].Context.RequestID != "r-1" {
		t.Errorf("round trip mismatch: %+v", got[0])
	}
	if !got[0].DetectedAt.Equal(now) {
		t.Errorf("timestamp mismatch: want %v got %v", now, got[0].DetectedAt)
	}
}

func TestRecordIsIdempotentForSameID(t *testing.T) {
	s := testDB(t)
	now := time.Now().UTC()
	v := sampleViolation("content-addressed", "T1", model.SourceTest, now)

	if err := s.Record(v); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(v); err != nil {
		t.Fatal(err)
	}

	got, err := s.Query(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("duplicate id must not create a second row, got %d", len(got))
	}
}

func TestQueryFilters(t *testing.T) {
	s := testDB(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	a := sampleViolation("a", "T1", model.SourceRuntime, base)
	b := sampleViolation("b", "T2", model.SourceTest, base.Add(24*time.Hour))
	b.Severity = model.SevCritical
	b.Category = model.CatSkillAuthority
	for _, v := range []model.Violation{a, b} {
		if err := s.Record(v); err != nil {
			t.Fatal(err)
		}
	}

	bySource, err := s.Query(Filter{Source: model.SourceTest})
	if err != nil || len(bySource) != 1 || bySource[0].ID != "b" {
		t.Errorf("source filter: %v %v", bySource, err)
	}

	byTool, err := s.Query(Filter{Tool: "T1"})
	if err != nil || len(byTool) != 1 || byTool[0].ID != "a" {
		t.Errorf("tool filter: %v %v", byTool, err)
	}

	bySev, err := s.Query(Filter{Severity: model.SevCritical})
	if err != nil || len(bySev) != 1 || bySev[0].ID != "b" {
		t.Errorf("severity filter: %v %v", bySev, err)
	}

	byRange, err := s.Query(Filter{From: base.Add(time.Hour), To: base.Add(48 * time.Hour)})
	if err != nil || len(byRange) != 1 || byRange[0].ID != "b" {
		t.Errorf("range filter: %v %v", byRange, err)
	}
}

func TestInvocationCounting(t *testing.T) {
	s := testDB(t)
	if err := s.AddInvocations("2026-08-01", "T1", 5); err != nil {
		t.Fatal(err)
	}
	if err := s.AddInvocations("2026-08-01", "T1", 3); err != nil {
		t.Fatal(err)
	}
	if err := s.AddInvocations("2026-08-02", "T2", 2); err != nil {
		t.Fatal(err)
	}

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)

	all, err := s.InvocationCount(from, to, "")
	if err != nil || all != 10 {
		t.Errorf("expected 10 invocations, got %d (%v)", all, err)
	}
	t1, err := s.InvocationCount(from, to, "T1")
	if err != nil || t1 != 8 {
		t.Errorf("expected 8 T1 invocations, got %d (%v)", t1, err)
	}
}

func TestEarliestRuntime(t *testing.T) {
	s := testDB(t)

	if _, ok, err := s.EarliestRuntime(); err != nil || ok {
		t.Fatalf("empty store must report no runtime data (ok=%v err=%v)", ok, err)
	}

	early := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	late := early.Add(72 * time.Hour)
	if err := s.Record(sampleViolation("r2", "T1", model.SourceRuntime, late)); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(sampleViolation("r1", "T1", model.SourceRuntime, early)); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(sampleViolation("t1", "T1", model.SourceTest, early.Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.EarliestRuntime()
	if err != nil || !ok {
		t.Fatalf("expected runtime data (ok=%v err=%v)", ok, err)
	}
	if !got.Equal(early) {
		t.Errorf("expected %v, got %v", early, got)
	}
}

func TestSnapshotHistory(t *testing.T) {
	s := testDB(t)
	base := time.Now().UTC()
	if err := s.AppendSnapshot("run-2", base.Add(time.Hour), []byte(`{"b":2}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendSnapshot("run-1", base, []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}

	snaps, err := s.Snapshots()
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if string(snaps[0]) != `{"a":1}` {
		t.Errorf("snapshots must come back oldest first, got %s", snaps[0])
	}
}
