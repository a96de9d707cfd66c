package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/varorder/internal/status"
	"github.com/Sumatoshi-tech/varorder/pkg/checkpoint"
	"github.com/Sumatoshi-tech/varorder/pkg/engine"
	"github.com/Sumatoshi-tech/varorder/pkg/failurelog"
	"github.com/Sumatoshi-tech/varorder/pkg/observability"
	"github.com/Sumatoshi-tech/varorder/pkg/sink"
)

const (
	progressInterval = 500 * time.Millisecond
	statusShutdown   = 5 * time.Second
)

// TestCommand holds flags for the execution pass.
type TestCommand struct {
	global    *GlobalOptions
	newSolver SolverFactory

	workload      string
	output        string
	backups       string
	statusAddr    string
	runID         string
	workers       int
	window        int
	chunkSize     int
	keep          int
	backupEvery   int64
	resultTimeout time.Duration
	noProbe       bool
	progress      bool
}

// NewTestCommand creates the test command, which runs every pending job.
func NewTestCommand(global *GlobalOptions) *cobra.Command {
	return newTestCommandWithDeps(global, NewProcessSolver)
}

func newTestCommandWithDeps(global *GlobalOptions, newSolver SolverFactory) *cobra.Command {
	tc := &TestCommand{global: global, newSolver: newSolver}

	cmd := &cobra.Command{
		Use:     "test",
		Aliases: []string{"run"},
		Short:   "Run the solver on every pending job",
		Long: `Resume from the output dataset, run the solver on every job not yet in it
and append the statistics. Interrupting stops dispatching, drains running
jobs and flushes their results; rerun to continue.`,
		Args: cobra.NoArgs,
		RunE: tc.run,
	}

	cmd.Flags().StringVar(&tc.workload, "workload", "", "Workload DSN (sqlite path or mysql DSN)")
	cmd.Flags().StringVar(&tc.output, "output", "", "Output dataset directory")
	cmd.Flags().StringVar(&tc.backups, "backups", "", "Checkpoint archive directory")
	cmd.Flags().IntVar(&tc.workers, "workers", 0, "Solver workers (0 = CPU count - 2)")
	cmd.Flags().IntVar(&tc.window, "window", 0, "Jobs fetched per batch")
	cmd.Flags().IntVar(&tc.chunkSize, "chunk-size", 0, "Results per output file")
	cmd.Flags().Int64Var(&tc.backupEvery, "backup-every", 0, "Archive the output every N processed jobs (0 = never)")
	cmd.Flags().IntVar(&tc.keep, "keep", 0, "Archives to retain (0 = all)")
	cmd.Flags().DurationVar(&tc.resultTimeout, "result-timeout", 0, "Abort when no result arrives for this long")
	cmd.Flags().BoolVar(&tc.noProbe, "no-probe", false, "Skip the runtime probe")
	cmd.Flags().StringVar(&tc.statusAddr, "status-addr", "", "Serve /status, /healthz, /readyz and /metrics on host:port")
	cmd.Flags().StringVar(&tc.runID, "run-id", "", "Checkpoint run id (default: random UUID)")
	cmd.Flags().BoolVar(&tc.progress, "progress", false, "Show a progress bar on stderr")

	return cmd
}

func (tc *TestCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := tc.global.loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	overrideString(flags, "workload", &cfg.Workload.DSN, tc.workload)
	overrideString(flags, "output", &cfg.Output.Dir, tc.output)
	overrideString(flags, "backups", &cfg.Checkpoint.Dir, tc.backups)
	overrideString(flags, "status-addr", &cfg.Status.Addr, tc.statusAddr)
	overrideInt(flags, "workers", &cfg.Engine.Workers, tc.workers)
	overrideInt(flags, "window", &cfg.Engine.Window, tc.window)
	overrideInt(flags, "chunk-size", &cfg.Engine.ChunkSize, tc.chunkSize)
	overrideInt(flags, "keep", &cfg.Checkpoint.Keep, tc.keep)
	overrideInt64(flags, "backup-every", &cfg.Checkpoint.Every, tc.backupEvery)
	overrideDuration(flags, "result-timeout", &cfg.Engine.ResultTimeout, tc.resultTimeout)

	if tc.noProbe {
		cfg.Engine.Probe = false
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return validateErr
	}

	a, err := tc.global.start(cfg, observability.ModeRun, cfg.Status.Addr != "")
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	out, err := sink.Open(cfg.Output.Dir)
	if err != nil {
		return err
	}

	solver, err := tc.newSolver(cfg.Solver, a.logger)
	if err != nil {
		return err
	}

	runID := tc.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	archiver := checkpoint.NewManager(cfg.Checkpoint.Dir, runID, a.logger)
	archiver.Keep = cfg.Checkpoint.Keep

	progress := engine.NewProgress(runID)

	eng, err := engine.New(engine.Config{
		Workers:       cfg.Engine.Workers,
		Window:        cfg.Engine.Window,
		ChunkSize:     cfg.Engine.ChunkSize,
		QueueTimeout:  cfg.Engine.QueueTimeout,
		ResultTimeout: cfg.Engine.ResultTimeout,
		BackupEvery:   cfg.Checkpoint.Every,
		Probe:         cfg.Engine.Probe,
		ProbeFailFast: cfg.Engine.ProbeFailFast,
		Workload:      cfg.Workload.DSN,
	}, engine.Deps{
		Source:   store,
		Sink:     out,
		Failures: failurelog.New(filepath.Join(cfg.Output.Dir, cfg.Output.FailureLog)),
		Solver:   solver,
		Archiver: archiver,
		Logger:   a.logger,
		Tracer:   a.providers.Tracer,
		Metrics:  a.metrics,
	}, progress)
	if err != nil {
		return err
	}

	if cfg.Status.Addr != "" {
		srv := status.New(progress.Snapshot, a.providers.MetricsHandler, a.logger, store.Ping)

		startErr := srv.Start(cfg.Status.Addr)
		if startErr != nil {
			return startErr
		}

		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), statusShutdown)
			defer cancel()

			_ = srv.Shutdown(ctx)
		}()
	}

	a.logger.Info("run starting",
		"run_id", runID,
		"workload", cfg.Workload.DSN,
		"output", cfg.Output.Dir)

	var stopBar func()
	if tc.progress && !tc.global.Quiet {
		stopBar = startProgressBar(cmd.ErrOrStderr(), progress)
	}

	summary, runErr := eng.Run(cmd.Context())

	if stopBar != nil {
		stopBar()
	}

	if !tc.global.Quiet {
		printSummary(cmd.OutOrStdout(), runID, summary, runErr)
	}

	return runErr
}

// startProgressBar renders progress until the returned stop function is called.
func startProgressBar(w io.Writer, progress *engine.Progress) func() {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)

		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()

		var bar *progressbar.ProgressBar

		for {
			select {
			case <-done:
				if bar != nil {
					snap := progress.Snapshot()
					_ = bar.Set64(snap.Processed)
					_ = bar.Exit()
				}

				return
			case <-ticker.C:
				snap := progress.Snapshot()
				if snap.Target == 0 {
					continue
				}

				if bar == nil {
					bar = progressbar.NewOptions64(snap.Target,
						progressbar.OptionSetWriter(w),
						progressbar.OptionSetDescription("solving"),
						progressbar.OptionShowCount(),
						progressbar.OptionShowIts(),
						progressbar.OptionSetItsString("jobs"),
						progressbar.OptionSetPredictTime(true),
					)
				}

				_ = bar.Set64(snap.Processed)
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

func printSummary(w io.Writer, runID string, s engine.Summary, err error) {
	line := fmt.Sprintf("run %s: %s of %s jobs processed, %s failed in %s",
		runID,
		humanize.Comma(s.Processed),
		humanize.Comma(s.Target),
		humanize.Comma(s.Failed),
		s.Elapsed.Round(time.Millisecond))

	switch {
	case errors.Is(err, engine.ErrInterrupted):
		color.New(color.FgYellow).Fprintf(w, "%s (interrupted, rerun to resume)\n", line)
	case err != nil:
		color.New(color.FgRed).Fprintf(w, "%s (failed: %v)\n", line, err)
	case s.Failed > 0:
		color.New(color.FgYellow).Fprintf(w, "%s (investigate dataset)\n", line)
	default:
		color.New(color.FgGreen).Fprintf(w, "%s\n", line)
	}
}
