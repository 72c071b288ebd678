package violations

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/capwatch/internal/model"
)

// Summary aggregates a violation set by severity and category.
type Summary struct {
	Total      int                    `json:"totalViolations"`
	BySeverity map[model.Severity]int `json:"bySeverity"`
	ByCategory map[model.Category]int `json:"byCategory"`
}

// Summarize builds severity/category counts over a violation list.
func Summarize(vs []model.Violation) Summary {
	s := Summary{
		Total:      len(vs),
		BySeverity: make(map[model.Severity]int),
		ByCategory: make(map[model.Category]int),
	}
	for _, v := range vs {
		s.BySeverity[v.Severity]++
		s.ByCategory[v.Category]++
	}
	return s
}

// MaxSeverity returns the highest severity present, or ok=false for an
// empty set.
func MaxSeverity(vs []model.Violation) (model.Severity, bool) {
	best := -1
	var out model.Severity
	for _, v := range vs {
		if r := model.SevRank[v.Severity]; r > best {
			best = r
			out = v.Severity
		}
	}
	return out, best >= 0
}

// FormatText renders a violation list for humans. The JSON artifact is the
// source of truth; this is derived from the same data.
func FormatText(vs []model.Violation) string {
	var b strings.Builder
	if len(vs) == 0 {
		b.WriteString("No violations.\n")
		return b.String()
	}

	s := Summarize(vs)
	fmt.Fprintf(&b, "%d violation(s)\n\n", s.Total)

	b.WriteString("By severity:\n")
	for _, sev := range []model.Severity{model.SevCritical, model.SevHigh, model.SevMedium, model.SevLow} {
		if n := s.BySeverity[sev]; n > 0 {
			fmt.Fprintf(&b, "  %-8s %d\n", sev, n)
		}
	}

	b.WriteString("By category:\n")
	for _, cat := range model.Categories {
		if n := s.ByCategory[cat]; n > 0 {
			fmt.Fprintf(&b, "  %-28s %d\n", cat, n)
		}
	}

	// Highest severity first, then detection order.
	sorted := make([]model.Violation, len(vs))
	copy(sorted, vs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return model.SevRank[sorted[i].Severity] > model.SevRank[sorted[j].Severity]
	})

	b.WriteString("\nFindings:\n")
	for _, v := range sorted {
		fmt.Fprintf(&b, "  [%s] %s (%s, %s)\n", v.Severity, v.Type, v.Category, v.Source)
		if v.Context.Tool != "" {
			fmt.Fprintf(&b, "      capability: %s\n", v.Context.Tool)
		}
		if v.Detail != "" {
			fmt.Fprintf(&b, "      detail: %s\n", v.Detail)
		}
		if v.RecommendedFix != "" {
			fmt.Fprintf(&b, "      fix: %s\n", v.RecommendedFix)
		}
	}
	return b.String()
}
