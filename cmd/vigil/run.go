package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dusk-indust/vigil/internal/orchestrator"
	"github.com/dusk-indust/vigil/internal/store"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		source   string
		snapshot int64
		asJSON   bool
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "run <conversation-id>",
		Short: "Run the department pipeline for one conversation snapshot",
		Example: `  vigil run 5511987654321@s.whatsapp.net --source whatsapp --snapshot 1
  vigil run thread-42 --source email --snapshot 1 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, !quiet)
			if err != nil {
				return err
			}
			defer a.Close()

			done := make(chan struct{})
			printed := make(chan struct{})
			go func() {
				defer close(printed)
				if a.progress == nil {
					return
				}
				printProgress(cmd.ErrOrStderr(), a.progress.Subscribe(), done)
			}()

			rec, err := a.coord.Trigger(ctx, orchestrator.Trigger{
				ConversationID:  args[0],
				SourceTag:       source,
				SnapshotVersion: snapshot,
			})
			close(done)
			<-printed
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			printRun(cmd.OutOrStdout(), rec)
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "chat", "source tag: chat, whatsapp or email")
	cmd.Flags().Int64Var(&snapshot, "snapshot", 1, "snapshot version")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full run record as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print stage progress")
	return cmd
}

// printProgress writes events until done is closed, then drains what is
// already buffered. The channel is never closed: late branches may still
// emit after the run returns.
func printProgress(w io.Writer, events <-chan orchestrator.ProgressEvent, done <-chan struct{}) {
	for {
		select {
		case ev := <-events:
			fmt.Fprintln(w, orchestrator.FormatProgress(ev))
		case <-done:
			for {
				select {
				case ev := <-events:
					fmt.Fprintln(w, orchestrator.FormatProgress(ev))
				default:
					return
				}
			}
		}
	}
}

// printRun writes a short human summary of a terminal run.
func printRun(w io.Writer, rec *store.RunRecord) {
	fmt.Fprintf(w, "Run:        %s\n", rec.ID)
	fmt.Fprintf(w, "Department: %s\n", rec.Department)
	fmt.Fprintf(w, "Snapshot:   %s@%d\n", rec.ConversationID, rec.SnapshotVersion)
	fmt.Fprintf(w, "State:      %s\n", rec.State)
	if rec.SupersededBy != "" {
		fmt.Fprintf(w, "Superseded: by %s\n", rec.SupersededBy)
	}
	if rec.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", rec.Error)
	}
	if d := rec.Decision; d != nil {
		fmt.Fprintf(w, "Decision:   %s", d.Label)
		if d.Rule != "" {
			fmt.Fprintf(w, " (rule %s)", d.Rule)
		}
		fmt.Fprintln(w)
		if d.Tool != nil {
			fmt.Fprintf(w, "Tool:       %s %s\n", d.Tool.Name, formatArgs(d.Tool.Args))
		}
		if d.Rationale != "" {
			fmt.Fprintln(w, "Rationale:")
			for _, line := range strings.Split(d.Rationale, "\n") {
				fmt.Fprintf(w, "  %s\n", line)
			}
		}
	}
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprint(args)
	}
	return string(data)
}
