package contract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/capwatch/internal/model"
	"github.com/ppiankov/capwatch/internal/violations"
)

// Report is the full contract validation artifact. The JSON form is the
// source of truth; the text rendering is derived from the same data.
type Report struct {
	Metadata struct {
		GeneratedAt time.Time `json:"generatedAt"`
		TotalNodes  int       `json:"totalNodes"`
		TotalEdges  int       `json:"totalEdges"`
		GraphHash   string    `json:"graphHash,omitempty"`
	} `json:"metadata"`
	Summary    violations.Summary `json:"summary"`
	Violations []model.Violation  `json:"violations"`
	Execution  struct {
		DurationMS  int64 `json:"duration"`
		TestsRun    int   `json:"testsRun"`
		TestsPassed int   `json:"testsPassed"`
		TestsFailed int   `json:"testsFailed"`
	} `json:"execution"`
}

func (r *Report) ran() {
	r.Execution.TestsRun++
}

func (r *Report) add(v model.Violation) {
	r.Violations = append(r.Violations, v)
}

func (r *Report) finish(d time.Duration) {
	r.Summary = violations.Summarize(r.Violations)
	r.Execution.DurationMS = d.Milliseconds()
	r.Execution.TestsFailed = len(r.Violations)
	r.Execution.TestsPassed = r.Execution.TestsRun - r.Execution.TestsFailed
	if r.Execution.TestsPassed < 0 {
		r.Execution.TestsPassed = 0
	}
}

// HasAtOrAbove reports whether any violation meets the severity floor.
// CI gates exit non-zero on true.
func (r *Report) HasAtOrAbove(floor model.Severity) bool {
	for _, v := range r.Violations {
		if model.SevRank[v.Severity] >= model.SevRank[floor] {
			return true
		}
	}
	return false
}

// JSON renders the report artifact.
func (r *Report) JSON() ([]byte, error) {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return out, nil
}

// Text renders the human-readable artifact from the same data.
func (r *Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Contract validation at %s\n", r.Metadata.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Graph: %d node(s), %d edge(s)\n", r.Metadata.TotalNodes, r.Metadata.TotalEdges)
	fmt.Fprintf(&b, "Checks: %d run, %d passed, %d failed (%dms)\n\n",
		r.Execution.TestsRun, r.Execution.TestsPassed, r.Execution.TestsFailed, r.Execution.DurationMS)
	b.WriteString(violations.FormatText(r.Violations))
	return b.String()
}
