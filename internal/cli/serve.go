package cli

import (
	"os/signal"
	"syscall"

	"github.com/me/exportq/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the journal over the status API",
		Long: `Serves past runs and their events read-only. Live manager state is only
available from a run started with --status-addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("addr") && cfg.StatusAddr != "" {
				addr = cfg.StatusAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			journal, err := openJournal(ctx, cfg)
			if err != nil {
				return err
			}
			defer journal.Close()

			return server.New(journal, logger).Serve(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")

	return cmd
}
