package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/capwatch/internal/contract"
	"github.com/ppiankov/capwatch/internal/model"
)

var (
	validateFailOn  string
	validateOut     string
	validatePersist bool
	validateSamples int
)

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateFailOn, "fail-on", "", "Exit 1 if any violation is at or above this severity (low|medium|high|critical)")
	validateCmd.Flags().StringVarP(&validateOut, "out", "o", ".", "Directory for report.json and report.txt")
	validateCmd.Flags().BoolVar(&validatePersist, "persist", false, "Also record violations in the database")
	validateCmd.Flags().IntVar(&validateSamples, "refusal-samples", 3, "How many missing/planned skills to probe for refusal")
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run contract validation against the capability graph",
	Long: "Checks tool grounding, skill authority, knowledge base legitimacy,\n" +
		"refusal behavior, and graph integrity. Writes report.json and\n" +
		"report.txt, then prints the text report.\n\n" +
		"Refusal probing runs only when CAPWATCH_API_URL is set.\n" +
		"Use --fail-on in CI to gate deployments on graph health.",
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	var floor model.Severity
	if validateFailOn != "" {
		floor = model.Severity(validateFailOn)
		if !model.ValidSeverity(floor) {
			return fmt.Errorf("unknown severity %q", validateFailOn)
		}
	}

	graphs, err := loadGraph()
	if err != nil {
		return err
	}
	g, err := graphs.Current()
	if err != nil {
		return err
	}

	val := &contract.Validator{SampleLimit: validateSamples}
	if url := os.Getenv("CAPWATCH_API_URL"); url != "" {
		val.Verifier = &contract.HTTPVerifier{
			APIURL: url,
			APIKey: os.Getenv("CAPWATCH_API_KEY"),
			Model:  os.Getenv("CAPWATCH_MODEL"),
		}
	}

	rep, err := val.Validate(cmd.Context(), g)
	if err != nil {
		return err
	}

	if err := writeReports(rep); err != nil {
		return err
	}
	if validatePersist {
		if err := persistReport(rep); err != nil {
			return err
		}
	}

	fmt.Print(rep.Text())

	if floor != "" && rep.HasAtOrAbove(floor) {
		os.Exit(1)
	}
	return nil
}

func writeReports(rep *contract.Report) error {
	if err := os.MkdirAll(validateOut, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	data, err := rep.JSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(validateOut, "report.json"), data, 0o644); err != nil {
		return fmt.Errorf("write report.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(validateOut, "report.txt"), []byte(rep.Text()), 0o644); err != nil {
		return fmt.Errorf("write report.txt: %w", err)
	}
	return nil
}

func persistReport(rep *contract.Report) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	for _, v := range rep.Violations {
		if err := store.Record(v); err != nil {
			return fmt.Errorf("persist violation %s: %w", v.ID, err)
		}
	}
	return nil
}
