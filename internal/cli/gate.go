package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/capwatch/internal/enforce"
	"github.com/ppiankov/capwatch/internal/transition"
)

var (
	gateStatusPath     string
	gateMinConsistency float64
	gateDashboardOK    bool
	gateRollbackReady  bool
	gateFalsePositives int
	gateUserErrors     int
	gateApply          bool
	gateRollback       bool
)

func init() {
	rootCmd.AddCommand(gateCmd)
	gateCmd.Flags().StringVar(&gateStatusPath, "status", "", "Path to the rollout status file (default ~/.capwatch/transition.yaml)")
	gateCmd.Flags().Float64Var(&gateMinConsistency, "min-consistency", 80, "Required test/runtime consistency in percent")
	gateCmd.Flags().BoolVar(&gateDashboardOK, "dashboard-ok", false, "Attest that the dashboard is operational")
	gateCmd.Flags().BoolVar(&gateRollbackReady, "rollback-ready", false, "Attest that rollback to soft is verified under 5 minutes")
	gateCmd.Flags().IntVar(&gateFalsePositives, "false-positives", 0, "Findings reviewed and rejected by an operator")
	gateCmd.Flags().IntVar(&gateUserErrors, "user-facing-errors", 0, "User-facing errors attributed to enforcement")
	gateCmd.Flags().BoolVar(&gateApply, "apply", false, "Apply the promotion when eligible")
	gateCmd.Flags().BoolVar(&gateRollback, "rollback", false, "Force rollback to soft mode now")
}

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Evaluate the soft-to-hard enforcement transition",
	Long: "Checks the promotion criteria for the next rollout phase and\n" +
		"prints every check. With --apply, an eligible promotion is recorded\n" +
		"and the matching enforcement thresholds are printed. A breached\n" +
		"block-rate ceiling or an enforcement-attributed user-facing error\n" +
		"makes the gate demand rollback.\n\n" +
		"Exit code 0 when eligible (or rolled back), 1 otherwise.",
	RunE: runGate,
}

func runGate(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	status, err := transition.LoadStatus(gateStatusPath)
	if err != nil {
		return err
	}
	gate := transition.NewGate(store)
	gate.MinConsistency = gateMinConsistency

	sig := transition.Signals{
		DashboardOperational: gateDashboardOK,
		RollbackReady:        gateRollbackReady,
		FalsePositives:       gateFalsePositives,
		UserFacingErrors:     gateUserErrors,
	}

	if gateRollback {
		next, cfg := gate.Rollback(status)
		if err := transition.SaveStatus(gateStatusPath, next); err != nil {
			return err
		}
		fmt.Printf("Rolled back %s to %s\n", status.State, next.State)
		printPhaseConfig(cfg)
		return nil
	}

	// A forced rollback condition overrides any promotion.
	rb, err := gate.EvaluateRollback(cmd.Context(), status, sig)
	if err != nil {
		return err
	}
	if rb.Eligible {
		fmt.Printf("Rollback required from %s:\n", status.State)
		printChecks(rb.Checks)
		if gateApply {
			next, cfg := gate.Rollback(status)
			if err := transition.SaveStatus(gateStatusPath, next); err != nil {
				return err
			}
			fmt.Printf("Rolled back to %s\n", next.State)
			printPhaseConfig(cfg)
			return nil
		}
		os.Exit(1)
	}

	ev, err := gate.EvaluatePromotion(cmd.Context(), status, sig)
	if err != nil {
		return err
	}

	fmt.Printf("Promotion %s to %s: ", ev.From, ev.To)
	if ev.Eligible {
		fmt.Println("eligible")
	} else {
		fmt.Println("not eligible")
	}
	printChecks(ev.Checks)

	if !ev.Eligible {
		os.Exit(1)
	}
	if gateApply {
		next, cfg, err := gate.Promote(status, ev)
		if err != nil {
			return err
		}
		if err := transition.SaveStatus(gateStatusPath, next); err != nil {
			return err
		}
		fmt.Printf("\nPromoted to %s\n", next.State)
		printPhaseConfig(cfg)
	}
	return nil
}

func printChecks(checks []transition.Check) {
	for _, c := range checks {
		mark := "PASS"
		if !c.Passed {
			mark = "FAIL"
		}
		fmt.Printf("  [%s] %-22s %s\n", mark, c.Name, c.Detail)
	}
}

func printPhaseConfig(cfg enforce.Config) {
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return
	}
	fmt.Printf("Enforcement config:\n%s\n", out)
}
