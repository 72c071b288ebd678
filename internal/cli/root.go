package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/capwatch/internal/graph"
	"github.com/ppiankov/capwatch/internal/violations"
)

var (
	graphPath string
	dbPath    string
)

var rootCmd = &cobra.Command{
	Use:   "capwatch",
	Short: "Capability governance engine for AI agents",
	Long: "Validates an agent's capability graph, enforces tool authority at\n" +
		"invocation time, and tracks whether the agent's observed behavior\n" +
		"matches its declared capabilities.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&graphPath, "graph", "capabilities.json", "Path to the capability graph JSON")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath(), "Path to the violation database")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "capwatch.db"
	}
	return filepath.Join(home, ".capwatch", "capwatch.db")
}

// openStore opens the violation database, creating its directory.
func openStore() (*violations.Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return violations.Open(dbPath)
}

// loadGraph loads the capability graph into a fresh store.
func loadGraph() (*graph.Store, error) {
	s := graph.NewStore()
	if _, err := s.Load(graphPath); err != nil {
		return nil, err
	}
	return s, nil
}
