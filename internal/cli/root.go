package cli

import (
	"log/slog"

	"github.com/me/exportq/internal/config"
	"github.com/me/exportq/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagDB        string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    config.Config
	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the exportq CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "exportq",
		Short: "exportq: bounded scheduler for long-running export tasks",
		Long: `exportq runs export tasks through a bounded scheduler: at most
max_active tasks run at once, further tasks wait in a FIFO queue and
producers are throttled while both are full. Runs are journaled to SQLite.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("db") {
				loaded.DBPath = flagDB
			}
			if flags.Changed("log-level") {
				loaded.Log.Level = flagLogLevel
			}
			if flags.Changed("log-format") {
				loaded.Log.Format = flagLogFormat
			}
			if flagDebug {
				loaded.Log.Level = "debug"
			}

			l, err := logging.New(logging.Options{
				Level:  loaded.Log.Level,
				Format: loaded.Log.Format,
				Writer: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			cfg, logger = loaded, l
			return nil
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Config file (YAML); EXPORTQ_* env vars override it")
	pf.StringVar(&flagDB, "db", "", "SQLite journal path (default ~/.exportq/exportq.db)")
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newSimulateCmd(),
		newHistoryCmd(),
		newServeCmd(),
		newStatusCmd(),
	)

	return root
}
