package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ppiankov/capwatch/internal/diagnostic"
)

func init() {
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <report.json>",
	Short: "Ingest a diagnostic test report",
	Long: "Maps failed diagnostic cases to governance violations, computes\n" +
		"the weighted intelligence score, and appends a snapshot to the\n" +
		"history. Re-ingesting the same report is a no-op.",
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	var rep diagnostic.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return fmt.Errorf("parse report: %w", err)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	bridge := diagnostic.NewBridge(store)
	snap, err := bridge.Ingest(cmd.Context(), &rep)
	if err != nil {
		return err
	}

	history, err := bridge.History()
	if err != nil {
		return err
	}
	trend := diagnostic.ScoreTrend(history)

	fmt.Printf("Run %s: intelligence score %.1f (pass rate %.1f%%)\n",
		snap.RunID, snap.IntelligenceScore, snap.PassRate*100)
	cats := make([]string, 0, len(snap.CategoryScores))
	for cat := range snap.CategoryScores {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		fmt.Printf("  %-20s %.1f\n", cat, snap.CategoryScores[cat])
	}
	if snap.Comparison != nil {
		fmt.Printf("Versus previous run: %+.1f (%s)\n", snap.Comparison.Delta, snap.Comparison.Trend)
	}
	fmt.Printf("Trend over %d run(s): %+.2f points/run (%s)\n", len(history), trend.Slope, trend.Direction)
	return nil
}
