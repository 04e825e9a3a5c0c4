package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/me/exportq/internal/config"
	"github.com/me/exportq/internal/server"
	"github.com/me/exportq/internal/store"
	"github.com/me/exportq/internal/taskmgr"
	"github.com/me/exportq/pkg/model"
	"github.com/spf13/cobra"
)

// stopTimeout bounds cancellation of outstanding tasks when a session ends.
const stopTimeout = 30 * time.Second

// managerFlags are the per-command overrides of the manager config.
type managerFlags struct {
	maxActive    int
	maxWaiting   int
	pollInterval time.Duration
	callTimeout  time.Duration
	verbose      bool
	statusAddr   string
}

func (f *managerFlags) register(cmd *cobra.Command) {
	d := taskmgr.DefaultConfig()
	cmd.Flags().IntVar(&f.maxActive, "max-active", d.MaxActive, "Maximum number of running tasks")
	cmd.Flags().IntVar(&f.maxWaiting, "max-waiting", d.MaxWaiting, "Queue length at which producers are throttled")
	cmd.Flags().DurationVar(&f.pollInterval, "poll-interval", d.PollInterval, "Delay between scheduler ticks")
	cmd.Flags().DurationVar(&f.callTimeout, "call-timeout", 0, "Deadline for each start/status call (0 = none)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Log every scheduling decision at INFO")
	cmd.Flags().StringVar(&f.statusAddr, "status-addr", "", "Serve the status API on this address during the run")
}

// apply overlays explicitly set flags on the loaded config.
func (f *managerFlags) apply(cmd *cobra.Command, c config.Config) config.Config {
	flags := cmd.Flags()
	if flags.Changed("max-active") {
		c.Manager.MaxActive = f.maxActive
	}
	if flags.Changed("max-waiting") {
		c.Manager.MaxWaiting = f.maxWaiting
	}
	if flags.Changed("poll-interval") {
		c.Manager.PollInterval = f.pollInterval
	}
	if flags.Changed("call-timeout") {
		c.Manager.CallTimeout = f.callTimeout
	}
	if flags.Changed("verbose") {
		c.Manager.Verbose = f.verbose
	}
	if flags.Changed("status-addr") {
		c.StatusAddr = f.statusAddr
	}
	return c
}

// openJournal opens and migrates the configured SQLite journal.
func openJournal(ctx context.Context, c config.Config) (*store.SQLiteStore, error) {
	path, err := c.ResolveDBPath()
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return st, nil
}

// session runs one batch of tasks through a journaled Manager.
type session struct {
	name  string
	c     config.Config
	tasks []taskmgr.Task
	out   io.Writer
}

// run submits every task, waits for the batch to drain and stops the
// manager. An interrupt (SIGINT, SIGTERM) or ctx cancellation stops the
// manager early, cancelling whatever is still active or waiting.
func (s *session) run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	journal, err := openJournal(ctx, s.c)
	if err != nil {
		return err
	}
	defer journal.Close()

	run := &model.Run{
		ID:         "run_" + uuid.New().String(),
		Name:       s.name,
		MaxActive:  s.c.Manager.MaxActive,
		MaxWaiting: s.c.Manager.MaxWaiting,
	}
	if err := journal.CreateRun(ctx, run); err != nil {
		return err
	}
	recorder := store.NewRecorder(journal, run.ID, logger)

	mgr, err := taskmgr.New(s.c.Manager, logger,
		taskmgr.WithRunID(run.ID),
		taskmgr.WithObserver(recorder),
	)
	if err != nil {
		return err
	}

	srvCtx, stopServer := context.WithCancel(ctx)
	srvDone := make(chan error, 1)
	if s.c.StatusAddr != "" {
		srv := server.New(journal, logger, server.WithManager(mgr))
		go func() { srvDone <- srv.Serve(srvCtx, s.c.StatusAddr) }()
	} else {
		close(srvDone)
	}

	logger.Info("run started", "run_id", run.ID, "name", s.name, "tasks", len(s.tasks))
	start := time.Now()

	runErr := s.drive(ctx, mgr)

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	stopErr := mgr.Stop(stopCtx)

	stopServer()
	if err := <-srvDone; err != nil {
		logger.Error("status api", "error", err)
	}

	if err := journal.FinishRun(stopCtx, run.ID); err != nil {
		logger.Error("finish run", "run_id", run.ID, "error", err)
	}
	if n := recorder.Dropped(); n > 0 {
		logger.Warn("journal events dropped", "run_id", run.ID, "count", n)
	}

	printSummary(s.out, run.ID, mgr.Stats(), time.Since(start))

	if runErr != nil {
		return runErr
	}
	return stopErr
}

func (s *session) drive(ctx context.Context, mgr *taskmgr.Manager) error {
	for _, t := range s.tasks {
		if err := mgr.Submit(ctx, t); err != nil {
			return interrupted(err)
		}
	}
	return interrupted(mgr.Wait(ctx))
}

func interrupted(err error) error {
	if errors.Is(err, context.Canceled) {
		return errors.New("interrupted")
	}
	return err
}

func printSummary(w io.Writer, runID string, st taskmgr.Stats, elapsed time.Duration) {
	fmt.Fprintf(w, "Run %s finished in %s\n", runID, elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  Submitted:      %s\n", humanize.Comma(st.Submitted))
	fmt.Fprintf(w, "  Started:        %s\n", humanize.Comma(st.Started))
	fmt.Fprintf(w, "  Retired:        %s (%s failed)\n", humanize.Comma(st.Retired), humanize.Comma(st.Failed))
	if st.StartFailures > 0 {
		fmt.Fprintf(w, "  Start failures: %s\n", humanize.Comma(st.StartFailures))
	}
	if st.StatusErrors > 0 {
		fmt.Fprintf(w, "  Status errors:  %s\n", humanize.Comma(st.StatusErrors))
	}
	fmt.Fprintf(w, "  Cancelled:      %s\n", humanize.Comma(st.Cancelled))
	if st.CancelFailures > 0 {
		fmt.Fprintf(w, "  Cancel errors:  %s\n", humanize.Comma(st.CancelFailures))
	}
	fmt.Fprintf(w, "  Polls:          %s\n", humanize.Comma(st.Polls))
}
