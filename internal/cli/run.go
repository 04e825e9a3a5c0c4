package cli

import (
	"fmt"

	"github.com/me/exportq/internal/manifest"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var mf managerFlags
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run <manifest.yaml>",
		Short: "Run the jobs of an export manifest",
		Long: `Loads an export manifest, expands every job into one task per shard
and runs them through the bounded scheduler. Each run and its scheduling
events are recorded in the journal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}

			if dryRun {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Manifest %s: %d jobs, %d tasks\n", m.Name, len(m.Jobs), m.TaskCount())
				for _, job := range m.Jobs {
					fmt.Fprintf(out, "  - %s (%s) x%d\n", job.Name, job.Kind, job.ShardCount())
				}
				return nil
			}

			tasks, err := m.Build(manifest.BuildOptions{Logger: logger})
			if err != nil {
				return err
			}

			s := &session{
				name:  m.Name,
				c:     mf.apply(cmd, cfg),
				tasks: tasks,
				out:   cmd.OutOrStdout(),
			}
			return s.run(cmd.Context())
		},
	}

	mf.register(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the manifest and list its jobs without running them")

	return cmd
}
