// Package diagnostic maps external functional-test results into the
// governance violation taxonomy and tracks a weighted capability score
// across runs.
package diagnostic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ppiankov/capwatch/internal/model"
	"github.com/ppiankov/capwatch/internal/violations"
)

// Diagnostic test categories produced by the external harness.
const (
	CatBasicQA          = "BasicQA"
	CatComplexReasoning = "ComplexReasoning"
	CatToolUsage        = "ToolUsage"
	CatMemoryContext    = "MemoryContext"
	CatWidgetControl    = "WidgetControl"
	CatErrorHandling    = "ErrorHandling"
	CatPerformance      = "Performance"
)

// weights of each category in the intelligence score. Sums to 1.
var weights = map[string]float64{
	CatBasicQA:          0.20,
	CatComplexReasoning: 0.15,
	CatToolUsage:        0.25,
	CatMemoryContext:    0.15,
	CatWidgetControl:    0.10,
	CatErrorHandling:    0.10,
	CatPerformance:      0.05,
}

// CaseResult is one test case from the diagnostic harness.
type CaseResult struct {
	Category  string `json:"category"`
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Tool      string `json:"tool,omitempty"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int    `json:"latency_ms,omitempty"`
}

// Report is the harness output consumed by the bridge.
type Report struct {
	RunID     string       `json:"run_id"`
	Timestamp time.Time    `json:"timestamp"`
	Results   []CaseResult `json:"results"`
}

// Comparison relates a snapshot to the previous run.
type Comparison struct {
	Delta float64 `json:"delta"`
	Trend string  `json:"trend"` // improving | degrading | stable
}

// Snapshot is one immutable intelligence measurement.
type Snapshot struct {
	Timestamp         time.Time          `json:"timestamp"`
	RunID             string             `json:"run_id"`
	PassRate          float64            `json:"pass_rate"`       // 0..1
	CategoryScores    map[string]float64 `json:"category_scores"` // 0..100
	IntelligenceScore float64            `json:"intelligence_score"`
	Comparison        *Comparison        `json:"comparison_to_previous,omitempty"`
}

// mapCase translates a diagnostic category into the governance taxonomy.
// Unknown categories land in GRAPH_INTEGRITY at low severity so a newer
// harness cannot break ingestion.
func mapCase(category string) (model.Category, model.ViolationType, model.Severity) {
	switch category {
	case CatBasicQA:
		return model.CatKnowledgeBase, model.KnowledgeGap, model.SevMedium
	case CatComplexReasoning:
		return model.CatSkillAuthority, model.SkillGap, model.SevMedium
	case CatToolUsage:
		return model.CatToolAuthority, model.ToolMisuse, model.SevHigh
	case CatMemoryContext:
		return model.CatKnowledgeBase, model.ContextLoss, model.SevMedium
	case CatWidgetControl:
		return model.CatToolAuthority, model.WidgetControlFault, model.SevMedium
	case CatErrorHandling:
		return model.CatRefusal, model.ErrorHandlingBreach, model.SevHigh
	case CatPerformance:
		return model.CatGraphIntegrity, model.PerformanceDegradation, model.SevLow
	default:
		return model.CatGraphIntegrity, model.ToolMisuse, model.SevLow
	}
}

// Bridge ingests diagnostic reports into the violation store and keeps
// the snapshot history.
type Bridge struct {
	store *violations.Store
}

// NewBridge creates a bridge over the given store.
func NewBridge(store *violations.Store) *Bridge {
	return &Bridge{store: store}
}

// Ingest converts failed cases into test-source violations, computes the
// weighted intelligence score, and appends the snapshot to history.
func (b *Bridge) Ingest(ctx context.Context, rep *Report) (*Snapshot, error) {
	if rep.RunID == "" {
		return nil, fmt.Errorf("diagnostic report has no run id")
	}
	ts := rep.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	ran := make(map[string]int)
	passed := make(map[string]int)
	for _, c := range rep.Results {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ran[c.Category]++
		if c.Passed {
			passed[c.Category]++
			continue
		}

		cat, vt, sev := mapCase(c.Category)
		// Content-addressed per (run, case): re-ingesting a report is a no-op.
		h := sha256.Sum256([]byte(rep.RunID + "|" + c.Category + "|" + c.Name))
		detail := c.Detail
		if detail == "" {
			detail = fmt.Sprintf("diagnostic case %q (%s) failed", c.Name, c.Category)
		}
		v := model.Violation{
			ID:             "sha256:" + hex.EncodeToString(h[:]),
			Type:           vt,
			Category:       cat,
			Severity:       sev,
			Source:         model.SourceTest,
			Detail:         detail,
			Context:        model.Context{Tool: c.Tool, RequestID: rep.RunID},
			DetectedAt:     ts,
			RecommendedFix: model.RecommendedFix(vt),
		}
		if err := b.store.Record(v); err != nil {
			return nil, fmt.Errorf("ingest diagnostic violation: %w", err)
		}
	}

	snap := &Snapshot{
		Timestamp:      ts,
		RunID:          rep.RunID,
		CategoryScores: make(map[string]float64),
	}

	totalRan, totalPassed := 0, 0
	for cat, n := range ran {
		totalRan += n
		totalPassed += passed[cat]
		snap.CategoryScores[cat] = float64(passed[cat]) / float64(n) * 100
	}
	if totalRan > 0 {
		snap.PassRate = float64(totalPassed) / float64(totalRan)
	}

	// Weighted sum over the seven categories. A category the harness did
	// not exercise contributes its full weight: no evidence of failure.
	score := 0.0
	for cat, w := range weights {
		cs, ok := snap.CategoryScores[cat]
		if !ok {
			cs = 100
		}
		score += w * cs
	}
	snap.IntelligenceScore = score

	history, err := b.History()
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		prev := history[len(history)-1]
		delta := snap.IntelligenceScore - prev.IntelligenceScore
		snap.Comparison = &Comparison{Delta: delta, Trend: direction(delta)}
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := b.store.AppendSnapshot(snap.RunID, ts, payload); err != nil {
		return nil, err
	}
	return snap, nil
}

// History returns all snapshots, oldest first.
func (b *Bridge) History() ([]Snapshot, error) {
	raw, err := b.store.Snapshots()
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(raw))
	for _, p := range raw {
		var s Snapshot
		if err := json.Unmarshal(p, &s); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}
