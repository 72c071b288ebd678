package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/capwatch/internal/dashboard"
	"github.com/ppiankov/capwatch/internal/model"
)

// CheckInput defines parameters for the capwatch_check tool.
type CheckInput struct {
	Tool        string         `json:"tool" jsonschema:"capability node id being invoked"`
	Args        map[string]any `json:"args,omitempty" jsonschema:"invocation arguments"`
	RequestID   string         `json:"request_id,omitempty" jsonschema:"request correlation id"`
	SessionID   string         `json:"session_id,omitempty" jsonschema:"session correlation id"`
	RequestText string         `json:"request_text,omitempty" jsonschema:"user request being served"`
}

// CheckOutput contains the enforcement decision.
type CheckOutput struct {
	Allow       bool   `json:"allow"`
	BlockReason string `json:"block_reason,omitempty"`
	Violation   string `json:"violation,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Fix         string `json:"recommended_fix,omitempty"`
}

// ValidateInput defines parameters for the capwatch_validate tool.
type ValidateInput struct {
	FailOn string `json:"fail_on,omitempty" jsonschema:"severity floor that marks the run failed (low/medium/high/critical)"`
}

// ValidateOutput summarizes a contract validation run.
type ValidateOutput struct {
	TotalViolations int               `json:"totalViolations"`
	BySeverity      map[string]int    `json:"bySeverity"`
	ByCategory      map[string]int    `json:"byCategory"`
	TestsRun        int               `json:"testsRun"`
	TestsPassed     int               `json:"testsPassed"`
	TestsFailed     int               `json:"testsFailed"`
	DurationMS      int64             `json:"duration"`
	Failed          bool              `json:"failed"`
	Violations      []model.Violation `json:"violations,omitempty"`
}

// DashboardInput defines parameters for the capwatch_dashboard tool.
type DashboardInput struct {
	WindowDays int    `json:"window_days,omitempty" jsonschema:"lookback window in days, default 30"`
	Severity   string `json:"severity,omitempty" jsonschema:"filter by severity"`
	Category   string `json:"category,omitempty" jsonschema:"filter by category"`
	Tool       string `json:"tool,omitempty" jsonschema:"filter by tool id"`
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	if input.Tool == "" {
		return nil, CheckOutput{}, fmt.Errorf("tool is required")
	}

	d := s.enforcer.CheckAuthority(model.Invocation{
		ToolName:    input.Tool,
		Args:        input.Args,
		RequestID:   input.RequestID,
		SessionID:   input.SessionID,
		RequestText: input.RequestText,
	})

	out := CheckOutput{Allow: d.Allow, BlockReason: d.BlockReason}
	if d.Violation != nil {
		out.Violation = string(d.Violation.Type)
		out.Severity = string(d.Violation.Severity)
		out.Fix = d.Violation.RecommendedFix
	}
	if !d.Allow {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleValidate(ctx context.Context, req *mcpsdk.CallToolRequest, input ValidateInput) (*mcpsdk.CallToolResult, ValidateOutput, error) {
	if s.validator == nil {
		return nil, ValidateOutput{}, fmt.Errorf("contract validation is not configured")
	}
	g, err := s.graphs.Current()
	if err != nil {
		return nil, ValidateOutput{}, err
	}

	rep, err := s.validator.Validate(ctx, g)
	if err != nil {
		return nil, ValidateOutput{}, err
	}

	out := ValidateOutput{
		TotalViolations: rep.Summary.Total,
		BySeverity:      make(map[string]int),
		ByCategory:      make(map[string]int),
		TestsRun:        rep.Execution.TestsRun,
		TestsPassed:     rep.Execution.TestsPassed,
		TestsFailed:     rep.Execution.TestsFailed,
		DurationMS:      rep.Execution.DurationMS,
		Violations:      rep.Violations,
	}
	for sev, n := range rep.Summary.BySeverity {
		out.BySeverity[string(sev)] = n
	}
	for cat, n := range rep.Summary.ByCategory {
		out.ByCategory[string(cat)] = n
	}

	if input.FailOn != "" {
		floor := model.Severity(input.FailOn)
		if !model.ValidSeverity(floor) {
			return nil, ValidateOutput{}, fmt.Errorf("unknown severity %q", input.FailOn)
		}
		out.Failed = rep.HasAtOrAbove(floor)
	}
	if out.Failed {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleDashboard(ctx context.Context, req *mcpsdk.CallToolRequest, input DashboardInput) (*mcpsdk.CallToolResult, dashboard.Data, error) {
	days := input.WindowDays
	if days <= 0 {
		days = 30
	}
	if input.Severity != "" && !model.ValidSeverity(model.Severity(input.Severity)) {
		return nil, dashboard.Data{}, fmt.Errorf("unknown severity %q", input.Severity)
	}

	now := time.Now().UTC()
	data, err := s.dash.Generate(ctx, dashboard.Query{
		From:     now.AddDate(0, 0, -days),
		To:       now,
		Severity: model.Severity(input.Severity),
		Category: model.Category(input.Category),
		Tool:     input.Tool,
	})
	if err != nil {
		return nil, dashboard.Data{}, err
	}
	return nil, *data, nil
}
