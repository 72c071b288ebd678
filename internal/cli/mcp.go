package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ppiankov/capwatch/internal/contract"
	"github.com/ppiankov/capwatch/internal/dashboard"
	"github.com/ppiankov/capwatch/internal/enforce"
	capmcp "github.com/ppiankov/capwatch/internal/mcp"
	"github.com/ppiankov/capwatch/internal/metrics"
	"github.com/ppiankov/capwatch/internal/violations"
)

var (
	mcpEnforcement string
	mcpMetricsAddr string
	mcpQueueSize   int
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpEnforcement, "enforcement", "", "Path to enforcement YAML (default ~/.capwatch/enforcement.yaml)")
	mcpCmd.Flags().StringVar(&mcpMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	mcpCmd.Flags().IntVar(&mcpQueueSize, "queue-size", 1024, "Violation recorder queue size")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP governance server for agent integration",
	Long: "Runs capwatch as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes capwatch_check, capwatch_validate, and capwatch_dashboard.\n" +
		"The enforcement config hot-reloads on change.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	graphs, err := loadGraph()
	if err != nil {
		return err
	}
	g, err := graphs.Current()
	if err != nil {
		return err
	}
	metrics.GraphNodes.Set(float64(len(g.Nodes)))
	metrics.GraphEdges.Set(float64(len(g.Edges)))

	cfg, hash, err := enforce.LoadConfigWithHash(mcpEnforcement)
	if err != nil {
		return err
	}
	source := enforce.NewAtomicSource(cfg, hash)

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	rec := violations.NewRecorder(store, mcpQueueSize)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	go rec.Run(ctx)

	if mcpEnforcement != "" {
		reloader, err := enforce.NewReloader(source, mcpEnforcement)
		if err != nil {
			fmt.Fprintf(os.Stderr, "enforcement hot reload disabled: %v\n", err)
		} else {
			go reloader.Run(ctx)
		}
	}

	if mcpMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(mcpMetricsAddr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
	}

	srv := capmcp.New(capmcp.Deps{
		Graphs:    graphs,
		Enforcer:  enforce.New(graphs, source, rec),
		Validator: &contract.Validator{},
		Dashboard: dashboard.NewService(store),
	})

	fmt.Fprintln(os.Stderr, "capwatch MCP server running on stdio")
	fmt.Fprintf(os.Stderr, "graph: %d node(s), %d edge(s)  mode: %s\n", len(g.Nodes), len(g.Edges), cfg.Mode)

	runErr := srv.Run(ctx)

	cancel()
	rec.Wait()
	if n := rec.Drops(); n > 0 {
		fmt.Fprintf(os.Stderr, "recorder dropped %d event(s)\n", n)
	}
	return runErr
}
