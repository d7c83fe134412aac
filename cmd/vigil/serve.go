package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dusk-indust/vigil/internal/mcptools"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run tools over MCP (streamable HTTP or stdio)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			server := mcptools.NewServer(mcptools.NewRunService(a.coord))
			switch a.cfg.MCP.Transport {
			case "stdio":
				a.log.Info("mcp server starting", "transport", "stdio")
				return mcptools.RunStdio(ctx, server)
			case "http":
				a.log.Info("mcp server starting", "transport", "http", "addr", a.cfg.MCP.Addr)
				fmt.Fprintf(cmd.ErrOrStderr(), "vigil MCP server listening on %s\n", a.cfg.MCP.Addr)
				return mcptools.RunHTTP(ctx, server, a.cfg.MCP.Addr)
			default:
				return fmt.Errorf("unknown mcp transport %q", a.cfg.MCP.Transport)
			}
		},
	}
	cmd.Flags().String("transport", "", "MCP transport: http or stdio (default from mcp.transport)")
	cmd.Flags().String("addr", "", "listen address for the http transport (default from mcp.addr)")
	_ = viper.BindPFlag("mcp.transport", cmd.Flags().Lookup("transport"))
	_ = viper.BindPFlag("mcp.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

