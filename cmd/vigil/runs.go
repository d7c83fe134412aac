package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dusk-indust/vigil/internal/config"
	"github.com/dusk-indust/vigil/internal/export"
	"github.com/dusk-indust/vigil/internal/store"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored runs",
		Long: `Inspect stored runs. The memory backend only lives for one process;
use store.backend=kuzu to keep runs between invocations.`,
	}
	cmd.AddCommand(newRunsListCmd(), newRunsShowCmd(), newRunsExportCmd())
	return cmd
}

// openStore opens the configured run store.
func openStore(ctx context.Context) (store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, cfg.Store.Backend, cfg.Store.Path)
}

func newRunsListCmd() *cobra.Command {
	var filter store.RunFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tDEPARTMENT\tSNAPSHOT\tSTATE\tLABEL\tAUTH\tSTARTED")
			for _, r := range runs {
				label := "-"
				if r.Decision != nil {
					label = r.Decision.Label
				}
				auth := ""
				if r.Authoritative {
					auth = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s@%d\t%s\t%s\t%s\t%s\n",
					r.ID, r.Department, r.ConversationID, r.SnapshotVersion,
					r.State, label, auth, r.StartedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.ConversationID, "conversation", "", "only runs for this conversation")
	cmd.Flags().StringVar(&filter.Department, "department", "", "only runs of this department")
	cmd.Flags().StringVar(&filter.State, "state", "", "only runs in this state")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of runs")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			rec, err := s.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			printRun(cmd.OutOrStdout(), rec)
			fmt.Fprintln(cmd.OutOrStdout(), "Transitions:")
			for _, tr := range rec.Transitions {
				line := fmt.Sprintf("  %s  %s -> %s", tr.At.Format(time.RFC3339), tr.From, tr.To)
				if tr.Note != "" {
					line += "  (" + tr.Note + ")"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full run record as JSON")
	return cmd
}

func newRunsExportCmd() *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export a run as JSON or as a Mermaid state diagram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			rec, err := s.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var data []byte
			switch format {
			case "json":
				data, err = export.Marshal(export.ExportRun(rec, time.Now()))
				if err != nil {
					return err
				}
			case "mermaid":
				data = []byte(export.GenerateMermaid(rec))
			default:
				return fmt.Errorf("unknown format %q (want json or mermaid)", format)
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "  wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "export format: json or mermaid")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}
