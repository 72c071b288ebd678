package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/capwatch/internal/dashboard"
	"github.com/ppiankov/capwatch/internal/model"
)

var (
	dashDays     int
	dashSeverity string
	dashCategory string
	dashTool     string
	dashFormat   string
	dashOut      string
)

func init() {
	rootCmd.AddCommand(dashboardCmd)
	dashboardCmd.Flags().IntVar(&dashDays, "days", 30, "Lookback window in days")
	dashboardCmd.Flags().StringVar(&dashSeverity, "severity", "", "Filter by severity")
	dashboardCmd.Flags().StringVar(&dashCategory, "category", "", "Filter by category")
	dashboardCmd.Flags().StringVar(&dashTool, "tool", "", "Filter by tool id")
	dashboardCmd.Flags().StringVarP(&dashFormat, "format", "f", "text", "Output format (text|json)")
	dashboardCmd.Flags().StringVarP(&dashOut, "out", "o", "", "Also write the JSON snapshot to this file")
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Aggregate recorded violations into a governance view",
	Long: "Compliance rate, day-bucketed trend, test-vs-runtime consistency,\n" +
		"per-tool health, and quick wins ranked by impact over fix effort.",
	RunE: runDashboard,
}

func runDashboard(cmd *cobra.Command, args []string) error {
	if dashSeverity != "" && !model.ValidSeverity(model.Severity(dashSeverity)) {
		return fmt.Errorf("unknown severity %q", dashSeverity)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now().UTC()
	data, err := dashboard.NewService(store).Generate(cmd.Context(), dashboard.Query{
		From:     now.AddDate(0, 0, -dashDays),
		To:       now,
		Severity: model.Severity(dashSeverity),
		Category: model.Category(dashCategory),
		Tool:     dashTool,
	})
	if err != nil {
		return err
	}

	if dashOut != "" {
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(dashOut, out, 0o644); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
	}

	if dashFormat == "json" {
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	printDashboard(data)
	return nil
}

func printDashboard(d *dashboard.Data) {
	fmt.Printf("Governance dashboard, last %s to %s\n\n",
		d.Query.From.Format("2006-01-02"), d.Query.To.Format("2006-01-02"))
	fmt.Printf("Violations:  %d across %d invocations\n", d.TotalViolations, d.TotalInvocations)
	fmt.Printf("Compliance:  %.1f%% (%s)\n", d.Compliance.Rate*100, d.Compliance.Status)
	if d.Consistency != nil {
		fmt.Printf("Consistency: %.1f%% test/runtime agreement\n", *d.Consistency)
	} else {
		fmt.Println("Consistency: n/a (needs both test and runtime findings)")
	}
	fmt.Printf("Trend:       %+.2f violations/day\n", d.Trend.Slope)

	if len(d.ToolHealth) > 0 {
		fmt.Println("\nTool health:")
		for _, th := range d.ToolHealth {
			fmt.Printf("  %-24s %4d violations / %6d invocations  %8.1f per 1000  [%s]\n",
				th.Tool, th.Violations, th.Invocations, th.RatePer1000, th.Status)
		}
	}
	if len(d.QuickWins) > 0 {
		fmt.Println("\nQuick wins:")
		for _, w := range d.QuickWins {
			fmt.Printf("  %-28s %-24s impact %3d  effort %d  score %.1f\n",
				w.Type, w.Tool, w.Impact, w.Effort, w.Score)
		}
	}
}
