// Package dashboard aggregates the violation log into compliance, trend,
// consistency, and tool-health views. Pure read path: it runs outside any
// request handler and tolerates partial data by reporting nil for metrics
// whose inputs are absent.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ppiankov/capwatch/internal/model"
	"github.com/ppiankov/capwatch/internal/violations"
)

// Compliance buckets.
const (
	StatusCompliant    = "compliant"    // ≥95%
	StatusWarning      = "warning"      // 80–95%
	StatusNonCompliant = "nonCompliant" // <80%
)

// Tool health buckets, by violations per 1000 invocations.
const (
	ToolHealthy   = "healthy"   // <10
	ToolDegraded  = "degraded"  // 10–50
	ToolUnhealthy = "unhealthy" // >50
)

// Query selects the violation window and optional filters.
type Query struct {
	From     time.Time      `json:"from"`
	To       time.Time      `json:"to"`
	Severity model.Severity `json:"severity,omitempty"`
	Category model.Category `json:"category,omitempty"`
	Source   model.Source   `json:"source,omitempty"`
	Tool     string         `json:"tool,omitempty"`
}

// Compliance is the invocation-weighted violation rate.
type Compliance struct {
	Rate   float64 `json:"rate"` // 0..1
	Status string  `json:"status"`
}

// DayCount is one day bucket of the trend series.
type DayCount struct {
	Day   string `json:"day"` // 2006-01-02 (UTC)
	Count int    `json:"count"`
}

// Trend is the day-bucketed violation series with a naive slope.
type Trend struct {
	Daily []DayCount `json:"daily"`
	Slope float64    `json:"slope"` // violations per day over the window
}

// ToolHealth is the per-tool violation rate.
type ToolHealth struct {
	Tool        string  `json:"tool"`
	Violations  int     `json:"violations"`
	Invocations int     `json:"invocations"`
	RatePer1000 float64 `json:"ratePer1000"`
	Status      string  `json:"status"`
}

// QuickWin is a violation group ranked by impact over fix effort.
type QuickWin struct {
	Type   model.ViolationType `json:"type"`
	Tool   string              `json:"tool"`
	Impact int                 `json:"impact"` // affected findings in window
	Effort int                 `json:"effort"` // fixed per-type constant
	Score  float64             `json:"score"`  // impact / effort
}

// Data is one dashboard snapshot. Consistency is nil when either the test
// or the runtime source has no data in the window.
type Data struct {
	Query            Query              `json:"query"`
	GeneratedAt      time.Time          `json:"generatedAt"`
	TotalViolations  int                `json:"totalViolations"`
	TotalInvocations int                `json:"totalInvocations"`
	Summary          violations.Summary `json:"summary"`
	Compliance       Compliance         `json:"compliance"`
	Trend            Trend              `json:"trend"`
	Consistency      *float64           `json:"consistency"` // 0..100
	ToolHealth       []ToolHealth       `json:"toolHealth"`
	QuickWins        []QuickWin         `json:"quickWins"`
}

// Service computes dashboards over the violation store.
type Service struct {
	store *violations.Store
}

// NewService creates a dashboard service.
func NewService(store *violations.Store) *Service {
	return &Service{store: store}
}

// Generate runs the aggregation for the query window. Honors ctx
// cancellation between stages so a slow query cannot starve other readers.
func (s *Service) Generate(ctx context.Context, q Query) (*Data, error) {
	vs, err := s.store.Query(violations.Filter{
		From: q.From, To: q.To,
		Severity: q.Severity, Category: q.Category,
		Source: q.Source, Tool: q.Tool,
	})
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	total, err := s.store.InvocationCount(q.From, q.To, q.Tool)
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := &Data{
		Query:            q,
		GeneratedAt:      time.Now().UTC(),
		TotalViolations:  len(vs),
		TotalInvocations: total,
		Summary:          violations.Summarize(vs),
		Compliance:       compliance(len(vs), total),
		Trend:            trend(vs, q.From, q.To),
		Consistency:      Consistency(vs),
		QuickWins:        quickWins(vs),
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.ToolHealth, err = s.toolHealth(vs, q)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func compliance(violationCount, invocations int) Compliance {
	denom := invocations
	if denom < 1 {
		denom = 1
	}
	rate := 1 - float64(violationCount)/float64(denom)
	if rate < 0 {
		rate = 0
	}
	c := Compliance{Rate: rate}
	switch {
	case rate >= 0.95:
		c.Status = StatusCompliant
	case rate >= 0.80:
		c.Status = StatusWarning
	default:
		c.Status = StatusNonCompliant
	}
	return c
}

func trend(vs []model.Violation, from, to time.Time) Trend {
	if to.Before(from) || from.IsZero() || to.IsZero() {
		return Trend{}
	}

	counts := make(map[string]int)
	for _, v := range vs {
		counts[v.DetectedAt.UTC().Format("2006-01-02")]++
	}

	var daily []DayCount
	for day := from.UTC().Truncate(24 * time.Hour); !day.After(to); day = day.Add(24 * time.Hour) {
		key := day.Format("2006-01-02")
		daily = append(daily, DayCount{Day: key, Count: counts[key]})
	}

	return Trend{Daily: daily, Slope: slope(daily)}
}

// slope performs least-squares linear regression y = a + bx over the day
// series and returns b.
func slope(daily []DayCount) float64 {
	n := float64(len(daily))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, d := range daily {
		x := float64(i)
		y := float64(d.Count)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// Consistency scores how well the test and runtime pipelines agree:
// overlap divided by the union of (type, tool) keys, times 100. Returns
// nil when either source has no data; a score needs both.
func Consistency(vs []model.Violation) *float64 {
	testKeys := make(map[string]bool)
	runtimeKeys := make(map[string]bool)
	for _, v := range vs {
		switch v.Source {
		case model.SourceTest:
			testKeys[v.Key()] = true
		case model.SourceRuntime:
			runtimeKeys[v.Key()] = true
		}
	}
	if len(testKeys) == 0 || len(runtimeKeys) == 0 {
		return nil
	}

	overlap := 0
	for k := range testKeys {
		if runtimeKeys[k] {
			overlap++
		}
	}
	union := len(testKeys) + len(runtimeKeys) - overlap
	score := float64(overlap) / float64(union) * 100
	return &score
}

func (s *Service) toolHealth(vs []model.Violation, q Query) ([]ToolHealth, error) {
	byTool := make(map[string]int)
	for _, v := range vs {
		if v.Context.Tool != "" {
			byTool[v.Context.Tool]++
		}
	}

	var out []ToolHealth
	for tool, count := range byTool {
		inv, err := s.store.InvocationCount(q.From, q.To, tool)
		if err != nil {
			return nil, fmt.Errorf("dashboard tool health: %w", err)
		}
		denom := inv
		if denom < 1 {
			denom = 1
		}
		rate := float64(count) / float64(denom) * 1000
		th := ToolHealth{
			Tool:        tool,
			Violations:  count,
			Invocations: inv,
			RatePer1000: rate,
		}
		switch {
		case rate < 10:
			th.Status = ToolHealthy
		case rate <= 50:
			th.Status = ToolDegraded
		default:
			th.Status = ToolUnhealthy
		}
		out = append(out, th)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RatePer1000 != out[j].RatePer1000 {
			return out[i].RatePer1000 > out[j].RatePer1000
		}
		return out[i].Tool < out[j].Tool
	})
	return out, nil
}

// fixEffort is the fixed per-type effort constant used for quick-win
// ranking. Lower is easier.
func fixEffort(t model.ViolationType) int {
	switch t {
	case model.OrphanedKnowledgeBase, model.DuplicateNodeID, model.GraphUnavailable:
		return 1
	case model.DisconnectedTool, model.NoncanonicalKBUse:
		return 2
	case model.PlannedSkillClaim:
		return 3
	case model.RefusalContractBreach:
		return 4
	case model.MissingSkillRequest:
		return 5
	default:
		return 3
	}
}

func quickWins(vs []model.Violation) []QuickWin {
	type groupKey struct {
		t    model.ViolationType
		tool string
	}
	groups := make(map[groupKey]int)
	for _, v := range vs {
		groups[groupKey{v.Type, v.Context.Tool}]++
	}

	var wins []QuickWin
	for k, impact := range groups {
		effort := fixEffort(k.t)
		wins = append(wins, QuickWin{
			Type:   k.t,
			Tool:   k.tool,
			Impact: impact,
			Effort: effort,
			Score:  float64(impact) / float64(effort),
		})
	}
	sort.Slice(wins, func(i, j int) bool {
		if wins[i].Score != wins[j].Score {
			return wins[i].Score > wins[j].Score
		}
		return wins[i].Tool < wins[j].Tool
	})
	if len(wins) > 10 {
		wins = wins[:10]
	}
	return wins
}
