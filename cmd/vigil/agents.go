package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dusk-indust/vigil/internal/a2a"
	"github.com/dusk-indust/vigil/internal/agent"
	"github.com/dusk-indust/vigil/internal/config"
	"github.com/dusk-indust/vigil/internal/orchestrator"
	"github.com/spf13/cobra"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Host or probe the perspective agents",
	}
	cmd.AddCommand(newAgentsServeCmd(), newAgentsCheckCmd())
	return cmd
}

func newAgentsServeCmd() *cobra.Command {
	var host string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve one heuristic A2A agent per role on sequential ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := agent.NewRegistry(agent.NewLocalProvider())
			spawned, err := reg.SpawnAll(ctx, host, cfg.Agents.BasePort)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range spawned {
				fmt.Fprintf(out, "  %-13s %s\n", s.Role, s.URL)
				log.Info("agent started", "role", string(s.Role), "url", s.URL)
			}
			fmt.Fprintln(out, "Agents ready. Press Ctrl+C to stop.")

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return reg.StopAll(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "interface to bind")
	return cmd
}

func newAgentsCheckCmd() *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe the configured agent endpoints through their agent cards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Close()

			endpoints := agentEndpoints(cfg)
			det := orchestrator.NewAgentDetector(a2a.NewHTTPClient(a2a.WithTimeout(timeout)), timeout, log)
			statuses := det.Detect(cmd.Context(), endpoints)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statuses)
			}

			down := 0
			for _, st := range statuses {
				if st.Reachable {
					fmt.Fprintf(cmd.OutOrStdout(), "  ✓ %-13s %s (%s)\n", st.Role, st.Endpoint, st.Name)
					continue
				}
				down++
				fmt.Fprintf(cmd.OutOrStdout(), "  ✗ %-13s %s: %s\n", st.Role, st.Endpoint, st.Error)
			}
			if down > 0 {
				return fmt.Errorf("%d of %d agents unreachable", down, len(statuses))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "per-agent probe timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print statuses as JSON")
	return cmd
}

// agentEndpoints resolves the endpoint of every role: explicit entries
// first, then the default endpoint, then the local agent host layout.
func agentEndpoints(cfg *config.Config) map[string]string {
	out := make(map[string]string)
	for i, role := range agent.Roles() {
		switch {
		case cfg.Provider.Endpoints[string(role)] != "":
			out[string(role)] = cfg.Provider.Endpoints[string(role)]
		case cfg.Provider.DefaultEndpoint != "":
			out[string(role)] = cfg.Provider.DefaultEndpoint
		default:
			out[string(role)] = fmt.Sprintf("http://127.0.0.1:%d", cfg.Agents.BasePort+i)
		}
	}
	return out
}
