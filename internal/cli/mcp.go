package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/argusai/testrun-investigator/internal/server"
	"github.com/argusai/testrun-investigator/internal/tools"
)

var mcpHTTPAddr string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the investigator tools over MCP",
	Long: `Serve the investigator tools to an agent over MCP.

Without --http the server speaks MCP on stdin/stdout. With --http it serves
the streamable HTTP transport on /mcp and a health check on /health, and the
status, tasks and ingest --remote commands can talk to it.

Examples:
  investigator mcp
  investigator mcp --http :8484`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpHTTPAddr, "http", "", "serve streamable HTTP on this address (default $INVESTIGATOR_HTTP_ADDR)")
}

func runMCP(cmd *cobra.Command, args []string) error {
	s, err := getService()
	if err != nil {
		return err
	}

	srv := server.New(Version, logger)
	srv.Setup()
	tools.RegisterAll(srv.MCPServer(), tools.FromService(s, logger))

	addr := cfg.HTTPAddr
	if mcpHTTPAddr != "" {
		addr = mcpHTTPAddr
	}
	if addr == "" {
		return srv.Run(cmd.Context())
	}
	return srv.RunHTTP(cmd.Context(), addr, func(ctx context.Context) (any, bool) {
		h := s.Health.Probe(ctx)
		return h, h.Healthy()
	})
}
