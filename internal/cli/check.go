package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/capwatch/internal/enforce"
	"github.com/ppiankov/capwatch/internal/model"
	"github.com/ppiankov/capwatch/internal/violations"
)

var (
	checkEnforcement string
	checkArgs        string
	checkRequestID   string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkEnforcement, "enforcement", "", "Path to enforcement YAML (default ~/.capwatch/enforcement.yaml)")
	checkCmd.Flags().StringVar(&checkArgs, "args", "", "Invocation arguments as a JSON object")
	checkCmd.Flags().StringVar(&checkRequestID, "request-id", "", "Request correlation id")
}

var checkCmd = &cobra.Command{
	Use:   "check <tool-id>",
	Short: "Check one capability invocation against the graph",
	Long: "Runs a single invocation through the enforcer and prints the\n" +
		"decision as JSON. The decision and any violation are recorded in\n" +
		"the database.\n\n" +
		"Exit code 0 if allowed, 1 if blocked.",
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	var invArgs map[string]any
	if checkArgs != "" {
		if err := json.Unmarshal([]byte(checkArgs), &invArgs); err != nil {
			return fmt.Errorf("invalid --args: %w", err)
		}
	}

	graphs, err := loadGraph()
	if err != nil {
		return err
	}
	cfg, hash, err := enforce.LoadConfigWithHash(checkEnforcement)
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	rec := violations.NewRecorder(store, 0)
	ctx, cancel := context.WithCancel(cmd.Context())
	go rec.Run(ctx)

	e := enforce.New(graphs, enforce.NewAtomicSource(cfg, hash), rec)
	d := e.CheckAuthority(model.Invocation{
		ToolName:  args[0],
		Args:      invArgs,
		RequestID: checkRequestID,
	})

	cancel()
	rec.Wait()

	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !d.Allow {
		os.Exit(1)
	}
	return nil
}
