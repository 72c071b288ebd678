// Package mcp exposes the governance engine over the Model Context
// Protocol so agent frontends can consult it in-band.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/capwatch/internal/contract"
	"github.com/ppiankov/capwatch/internal/dashboard"
	"github.com/ppiankov/capwatch/internal/enforce"
	"github.com/ppiankov/capwatch/internal/graph"
)

// Deps are the engine components the server fronts. All are required
// except Validator, which disables capwatch_validate when nil.
type Deps struct {
	Graphs    *graph.Store
	Enforcer  *enforce.Enforcer
	Validator *contract.Validator
	Dashboard *dashboard.Service
}

// Server wraps the MCP SDK server around the governance components.
type Server struct {
	mcpServer *mcpsdk.Server
	graphs    *graph.Store
	enforcer  *enforce.Enforcer
	validator *contract.Validator
	dash      *dashboard.Service
}

// New creates an MCP server with the capwatch tools registered.
func New(deps Deps) *Server {
	s := &Server{
		graphs:    deps.Graphs,
		enforcer:  deps.Enforcer,
		validator: deps.Validator,
		dash:      deps.Dashboard,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "capwatch",
			Version: "0.1.0",
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "capwatch_check",
		Description: "Check a capability invocation against the capability graph. Returns the enforcement decision; blocked invocations include the reason.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "capwatch_validate",
		Description: "Run the full contract validation suite against the current capability graph and return the violation summary.",
	}, s.handleValidate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "capwatch_dashboard",
		Description: "Generate the governance dashboard over a recent window: compliance, trend, consistency, tool health and quick wins.",
	}, s.handleDashboard)
}
