// Package mcptools exposes the pipeline coordinator as MCP tools so an
// operator's assistant can trigger and inspect supervision runs.
package mcptools

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewServer creates an MCP server with the run tools registered:
// trigger_run, get_run, list_runs and list_departments.
func NewServer(svc *RunService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "vigil",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "trigger_run",
		Description: "Run the department pipeline for one conversation snapshot. Returns the terminal run with its decision label and tool.",
	}, svc.TriggerRun)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_run",
		Description: "Get the full record of a run: context, extraction, temperature, compliance, decision, audit trail and state transitions.",
	}, svc.GetRun)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_runs",
		Description: "List runs newest first, optionally filtered by conversation, department or state.",
	}, svc.ListRuns)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_departments",
		Description: "List the loaded department descriptors with their source tags, stages and extraction variant.",
	}, svc.ListDepartments)

	return server
}

// RunStdio runs the MCP server on stdio transport, blocking until stdin is
// closed or the context is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the MCP server over streamable HTTP on addr until ctx is
// cancelled.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Shutdown gracefully when context is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
