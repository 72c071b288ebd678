// Package transition governs the staged rollout from soft (record-only)
// to hard (blocking) enforcement, and the rollback path out of it.
package transition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/capwatch/internal/dashboard"
	"github.com/ppiankov/capwatch/internal/enforce"
	"github.com/ppiankov/capwatch/internal/model"
	"github.com/ppiankov/capwatch/internal/violations"
)

// State is the current rollout stage.
type State string

const (
	StateSoft       State = "soft"
	StateHardPhase1 State = "hard_phase1" // block critical only
	StateHardPhase2 State = "hard_phase2" // block critical and high
	StateHardPhase3 State = "hard_phase3" // block critical, high and medium
)

// order of forward promotion. Rollback always lands on soft.
var order = []State{StateSoft, StateHardPhase1, StateHardPhase2, StateHardPhase3}

// ValidState reports whether s is a known rollout state.
func ValidState(s State) bool {
	for _, v := range order {
		if v == s {
			return true
		}
	}
	return false
}

// Next returns the state after s, or s itself when already at the last
// phase.
func Next(s State) State {
	for i, v := range order[:len(order)-1] {
		if v == s {
			return order[i+1]
		}
	}
	return s
}

// PhaseConfig returns the enforcement config a state maps to. Soft
// records everything and blocks nothing.
func PhaseConfig(s State) enforce.Config {
	cfg := enforce.Config{
		Mode: enforce.ModeHard,
		BlockThresholds: map[model.Severity]bool{
			model.SevCritical: false,
			model.SevHigh:     false,
			model.SevMedium:   false,
			model.SevLow:      false,
		},
	}
	switch s {
	case StateHardPhase3:
		cfg.BlockThresholds[model.SevMedium] = true
		fallthrough
	case StateHardPhase2:
		cfg.BlockThresholds[model.SevHigh] = true
		fallthrough
	case StateHardPhase1:
		cfg.BlockThresholds[model.SevCritical] = true
	default:
		cfg.Mode = enforce.ModeSoft
	}
	return cfg
}

// blockRateCeiling is the admissible share of blocked invocations while
// holding a phase. Exceeding it triggers rollback.
func blockRateCeiling(s State) float64 {
	switch s {
	case StateHardPhase1:
		return 0.001
	case StateHardPhase2:
		return 0.005
	default:
		return 1
	}
}

// Status is the persisted rollout position.
type Status struct {
	State     State     `yaml:"state"`
	EnteredAt time.Time `yaml:"entered_at"`
}

// DefaultStatusPath is used when no explicit path is given.
func DefaultStatusPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "transition.yaml"
	}
	return filepath.Join(home, ".capwatch", "transition.yaml")
}

// LoadStatus reads the persisted rollout position. A missing file means
// soft mode entered now.
func LoadStatus(path string) (*Status, error) {
	if path == "" {
		path = DefaultStatusPath()
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Status{State: StateSoft, EnteredAt: time.Now().UTC()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read transition status: %w", err)
	}
	var st Status
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse transition status: %w", err)
	}
	if !ValidState(st.State) {
		return nil, fmt.Errorf("unknown rollout state %q", st.State)
	}
	return &st, nil
}

// SaveStatus writes the rollout position, creating parent directories.
func SaveStatus(path string, st *Status) error {
	if path == "" {
		path = DefaultStatusPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal transition status: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Signals are operational facts the gate cannot derive from the store
// and which an operator or external monitor must attest.
type Signals struct {
	DashboardOperational bool `json:"dashboard_operational"`
	RollbackReady        bool `json:"rollback_ready"` // rollback to soft verified under 5 minutes
	FalsePositives       int  `json:"false_positives"`
	UserFacingErrors     int  `json:"user_facing_errors"` // errors attributed to enforcement
}

// Check is one named promotion criterion.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Evaluation is the gate's verdict on a requested move.
type Evaluation struct {
	From     State   `json:"from"`
	To       State   `json:"to"`
	Eligible bool    `json:"eligible"`
	Checks   []Check `json:"checks"`
}

func (e *Evaluation) add(name string, passed bool, detail string) {
	e.Checks = append(e.Checks, Check{Name: name, Passed: passed, Detail: detail})
	if !passed {
		e.Eligible = false
	}
}

// Gate evaluates promotion and rollback criteria against the violation
// store.
type Gate struct {
	store *violations.Store

	// MinConsistency is the required test-vs-runtime agreement in
	// percent before any blocking is allowed.
	MinConsistency float64

	// MinRuntimeDays of soft-mode data before the first hard phase.
	MinRuntimeDays int

	// MinStableDays in the current hard phase before the next one.
	MinStableDays int

	// MaxFalsePositiveRate among soft-mode findings.
	MaxFalsePositiveRate float64

	now func() time.Time
}

// NewGate creates a gate with the default thresholds.
func NewGate(store *violations.Store) *Gate {
	return &Gate{
		store:                store,
		MinConsistency:       80,
		MinRuntimeDays:       7,
		MinStableDays:        3,
		MaxFalsePositiveRate: 0.01,
		now:                  func() time.Time { return time.Now().UTC() },
	}
}

// EvaluatePromotion checks whether the current state may advance one
// phase. It never mutates anything; callers apply the result with
// Promote.
func (g *Gate) EvaluatePromotion(ctx context.Context, st *Status, sig Signals) (*Evaluation, error) {
	ev := &Evaluation{From: st.State, To: Next(st.State), Eligible: true}
	if ev.To == ev.From {
		ev.add("phase", false, "already at the final phase")
		return ev, nil
	}
	if st.State == StateSoft {
		return g.evalInitial(ctx, ev, sig)
	}
	return g.evalAdvance(ctx, ev, st, sig)
}

// evalInitial gates soft to the first blocking phase.
func (g *Gate) evalInitial(ctx context.Context, ev *Evaluation, sig Signals) (*Evaluation, error) {
	now := g.now()

	earliest, ok, err := g.store.EarliestRuntime()
	if err != nil {
		return nil, fmt.Errorf("gate: %w", err)
	}
	if !ok {
		ev.add("runtime_data", false, "no runtime observations recorded")
	} else {
		days := now.Sub(earliest).Hours() / 24
		ev.add("runtime_data",
			days >= float64(g.MinRuntimeDays),
			fmt.Sprintf("%.1f days of runtime data, need %d", days, g.MinRuntimeDays))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vs, err := g.store.Query(violations.Filter{To: now})
	if err != nil {
		return nil, fmt.Errorf("gate: %w", err)
	}
	if c := dashboard.Consistency(vs); c == nil {
		ev.add("consistency", false, "one of the test or runtime pipelines has produced no findings")
	} else {
		ev.add("consistency",
			*c >= g.MinConsistency,
			fmt.Sprintf("test/runtime consistency %.1f%%, need %.0f%%", *c, g.MinConsistency))
	}

	// In soft mode nothing blocks, so false positives are findings an
	// operator reviewed and rejected, measured against all runtime
	// findings in the window.
	runtime := 0
	for _, v := range vs {
		if v.Source == model.SourceRuntime {
			runtime++
		}
	}
	if runtime == 0 {
		ev.add("false_positive_rate", false, "no runtime findings to measure against")
	} else {
		rate := float64(sig.FalsePositives) / float64(runtime)
		ev.add("false_positive_rate",
			rate < g.MaxFalsePositiveRate,
			fmt.Sprintf("%.2f%% of %d runtime findings, need under %.2f%%", rate*100, runtime, g.MaxFalsePositiveRate*100))
	}

	ev.add("dashboard_operational", sig.DashboardOperational, "attested by operator")
	ev.add("rollback_ready", sig.RollbackReady, "rollback to soft verified under 5 minutes")
	return ev, nil
}

// evalAdvance gates one hard phase to the next.
func (g *Gate) evalAdvance(ctx context.Context, ev *Evaluation, st *Status, sig Signals) (*Evaluation, error) {
	now := g.now()

	days := now.Sub(st.EnteredAt).Hours() / 24
	ev.add("stable_days",
		days >= float64(g.MinStableDays),
		fmt.Sprintf("%.1f days in %s, need %d", days, st.State, g.MinStableDays))

	ev.add("user_facing_errors",
		sig.UserFacingErrors == 0,
		fmt.Sprintf("%d errors attributed to enforcement, need 0", sig.UserFacingErrors))

	rate, blocked, total, err := g.blockRate(ctx, st.EnteredAt, now)
	if err != nil {
		return nil, err
	}
	ceiling := blockRateCeiling(st.State)
	if total == 0 {
		ev.add("block_rate", false, "no invocations recorded in the current phase")
	} else {
		ev.add("block_rate",
			rate <= ceiling,
			fmt.Sprintf("%d of %d invocations blocked (%.3f%%), ceiling %.3f%%", blocked, total, rate*100, ceiling*100))
	}
	return ev, nil
}

// EvaluateRollback reports whether the current hard phase must fall
// back to soft. Soft mode never rolls back.
func (g *Gate) EvaluateRollback(ctx context.Context, st *Status, sig Signals) (*Evaluation, error) {
	ev := &Evaluation{From: st.State, To: StateSoft}
	if st.State == StateSoft {
		return ev, nil
	}
	if sig.UserFacingErrors > 0 {
		ev.Eligible = true
		ev.Checks = append(ev.Checks, Check{
			Name:   "user_facing_errors",
			Passed: false,
			Detail: fmt.Sprintf("%d errors attributed to enforcement", sig.UserFacingErrors),
		})
	}
	rate, blocked, total, err := g.blockRate(ctx, st.EnteredAt, g.now())
	if err != nil {
		return nil, err
	}
	ceiling := blockRateCeiling(st.State)
	if total > 0 && rate > ceiling {
		ev.Eligible = true
		ev.Checks = append(ev.Checks, Check{
			Name:   "block_rate",
			Passed: false,
			Detail: fmt.Sprintf("%d of %d invocations blocked (%.3f%%), ceiling %.3f%%", blocked, total, rate*100, ceiling*100),
		})
	}
	return ev, nil
}

// Promote applies an eligible promotion and returns the new status and
// the enforcement config it maps to.
func (g *Gate) Promote(st *Status, ev *Evaluation) (*Status, enforce.Config, error) {
	if !ev.Eligible {
		return nil, enforce.Config{}, fmt.Errorf("promotion %s to %s not eligible", ev.From, ev.To)
	}
	if ev.From != st.State {
		return nil, enforce.Config{}, fmt.Errorf("stale evaluation: state is %s, evaluated %s", st.State, ev.From)
	}
	next := &Status{State: ev.To, EnteredAt: g.now()}
	return next, PhaseConfig(next.State), nil
}

// Rollback drops any hard phase back to soft unconditionally. It is the
// path EvaluateRollback triggers and the operator escape hatch, so it
// takes no evaluation.
func (g *Gate) Rollback(st *Status) (*Status, enforce.Config) {
	next := &Status{State: StateSoft, EnteredAt: g.now()}
	return next, PhaseConfig(next.State)
}

func (g *Gate) blockRate(ctx context.Context, from, to time.Time) (rate float64, blocked, total int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, 0, err
	}
	total, err = g.store.InvocationCount(from, to, "")
	if err != nil {
		return 0, 0, 0, fmt.Errorf("gate: %w", err)
	}
	vs, err := g.store.Query(violations.Filter{From: from, To: to, Source: model.SourceRuntime})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("gate: %w", err)
	}
	for _, v := range vs {
		if v.Blocked {
			blocked++
		}
	}
	if total > 0 {
		rate = float64(blocked) / float64(total)
	}
	return rate, blocked, total, nil
}
