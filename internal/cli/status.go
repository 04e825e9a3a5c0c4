package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/me/exportq/internal/taskmgr"
	"github.com/spf13/cobra"
)

// defaultServer returns the default status API URL, checking EXPORTQ_SERVER first.
func defaultServer() string {
	if s := os.Getenv("EXPORTQ_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

func newStatusCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show live scheduler state of a run serving the status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewClient(serverURL, logger)

			resp, err := client.Get(cmd.Context(), "/api/v1/manager")
			if err != nil {
				return fmt.Errorf("get manager: %w", err)
			}

			var st taskmgr.Stats
			if err := json.Unmarshal(resp.Data, &st); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			printStats(cmd.OutOrStdout(), st)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServer(), "Status API URL (or EXPORTQ_SERVER env)")

	return cmd
}

func printStats(w io.Writer, st taskmgr.Stats) {
	state := "running"
	switch {
	case !st.Running:
		state = "stopped"
	case st.Busy:
		state = "busy"
	}

	fmt.Fprintf(w, "Run:      %s\n", st.RunID)
	fmt.Fprintf(w, "  State:   %s\n", state)
	fmt.Fprintf(w, "  Active:  %d/%d (cursor %d)\n", st.Active, st.MaxActive, st.Cursor)
	fmt.Fprintf(w, "  Waiting: %d/%d\n", st.Waiting, st.MaxWaiting)
	fmt.Fprintf(w, "  Tasks:   %s submitted, %s started, %s retired, %s failed\n",
		humanize.Comma(st.Submitted), humanize.Comma(st.Started),
		humanize.Comma(st.Retired), humanize.Comma(st.Failed))
	if st.StartFailures > 0 || st.StatusErrors > 0 || st.CancelFailures > 0 {
		fmt.Fprintf(w, "  Errors:  %s start, %s status, %s cancel\n",
			humanize.Comma(st.StartFailures), humanize.Comma(st.StatusErrors), humanize.Comma(st.CancelFailures))
	}
	fmt.Fprintf(w, "  Polls:   %s\n", humanize.Comma(st.Polls))
}
