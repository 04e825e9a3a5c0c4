package cli

import (
	"errors"
	"time"

	"github.com/me/exportq/internal/manifest"
	"github.com/me/exportq/internal/taskmgr"
	"github.com/me/exportq/internal/tasks"
	"github.com/spf13/cobra"
)

func newSimulateCmd() *cobra.Command {
	var mf managerFlags
	var count int
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run dummy tasks through the scheduler",
		Long: `Submits --tasks dummy tasks. Each one steps READY, RUNNING and
COMPLETED, spending one to two --interval in every state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return errors.New("--tasks must be positive")
			}
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}

			batch := make([]taskmgr.Task, count)
			for i := range batch {
				batch[i] = tasks.NewDummy(interval)
			}

			s := &session{
				name:  "simulate",
				c:     mf.apply(cmd, cfg),
				tasks: batch,
				out:   cmd.OutOrStdout(),
			}
			return s.run(cmd.Context())
		},
	}

	mf.register(cmd)
	cmd.Flags().IntVarP(&count, "tasks", "n", 20, "Number of dummy tasks")
	cmd.Flags().DurationVar(&interval, "interval", manifest.DefaultDummyInterval, "Base time spent in each dummy state")

	return cmd
}
