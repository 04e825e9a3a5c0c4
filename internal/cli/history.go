package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/exportq/internal/store"
	"github.com/me/exportq/pkg/model"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var limit, offset int
	var kind string

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List journaled runs, or the events of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := model.ListOptions{Limit: limit, Offset: offset, Kind: model.EventKind(kind)}
			if opts.Kind != "" && !opts.Kind.Valid() {
				return fmt.Errorf("unknown event kind %q", kind)
			}

			journal, err := openJournal(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer journal.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				runs, total, err := journal.ListRuns(cmd.Context(), opts)
				if err != nil {
					return fmt.Errorf("list runs: %w", err)
				}
				printRuns(out, runs, total)
				return nil
			}

			run, err := journal.GetRun(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("run %s not found", args[0])
			}
			if err != nil {
				return err
			}
			events, total, err := journal.ListEvents(cmd.Context(), run.ID, opts)
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}
			printRun(out, run)
			printEvents(out, events, total)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	cmd.Flags().StringVar(&kind, "kind", "", "Only show events of this kind (submitted, started, retired, start_failed, status_error, cancelled, cancel_failed)")

	return cmd
}

func printRuns(w io.Writer, runs []*model.Run, total int) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}

	const row = "%-40s  %-20s  %-7s  %-7s  %-16s  %s\n"
	fmt.Fprintf(w, row, "ID", "NAME", "SLOTS", "EVENTS", "STARTED", "DURATION")
	fmt.Fprintf(w, row, "--", "----", "-----", "------", "-------", "--------")
	for _, r := range runs {
		fmt.Fprintf(w, row,
			r.ID, r.Name, fmt.Sprintf("%d/%d", r.MaxActive, r.MaxWaiting),
			humanize.Comma(int64(r.Events)), humanize.Time(r.CreatedAt), runDuration(r))
	}

	if total > len(runs) {
		fmt.Fprintf(w, "\nShowing %d of %s runs\n", len(runs), humanize.Comma(int64(total)))
	}
}

func printRun(w io.Writer, r *model.Run) {
	fmt.Fprintf(w, "Run: %s\n", r.ID)
	fmt.Fprintf(w, "  Name:        %s\n", r.Name)
	fmt.Fprintf(w, "  Max active:  %d\n", r.MaxActive)
	fmt.Fprintf(w, "  Max waiting: %d\n", r.MaxWaiting)
	fmt.Fprintf(w, "  Started:     %s (%s)\n", r.CreatedAt.Local().Format(time.DateTime), humanize.Time(r.CreatedAt))
	fmt.Fprintf(w, "  Duration:    %s\n", runDuration(r))
	fmt.Fprintf(w, "  Events:      %s\n", humanize.Comma(int64(r.Events)))
}

func printEvents(w io.Writer, events []*model.Event, total int) {
	if len(events) == 0 {
		fmt.Fprintln(w, "\nNo events.")
		return
	}

	fmt.Fprintln(w)
	const row = "%-12s  %-12s  %-4s  %-30s  %-10s  %s\n"
	fmt.Fprintf(w, row, "TIME", "KIND", "SLOT", "TASK", "STATE", "DETAIL")
	fmt.Fprintf(w, row, "----", "----", "----", "----", "-----", "------")
	for _, ev := range events {
		slot := "-"
		if ev.Slot >= 0 {
			slot = fmt.Sprint(ev.Slot)
		}
		fmt.Fprintf(w, row,
			ev.At.Local().Format("15:04:05.000"), ev.Kind, slot, ev.Task, ev.State, ev.Detail)
	}

	if total > len(events) {
		fmt.Fprintf(w, "\nShowing %d of %s events\n", len(events), humanize.Comma(int64(total)))
	}
}

func runDuration(r *model.Run) string {
	if r.FinishedAt == nil {
		return "running"
	}
	return r.FinishedAt.Sub(r.CreatedAt).Round(time.Millisecond).String()
}
