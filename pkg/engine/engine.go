package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/varorder/pkg/experiment"
	"github.com/Sumatoshi-tech/varorder/pkg/observability"
)

// Defaults for Config.
const (
	DefaultWindow        = 10_000
	DefaultChunkSize     = 10_000
	DefaultBackupEvery   = 5_000_000
	DefaultQueueTimeout  = 30 * time.Second
	DefaultResultTimeout = 60 * time.Second
)

// Sentinel errors returned by Run.
var (
	ErrStalled     = errors.New("no result within the result timeout")
	ErrInterrupted = errors.New("run interrupted")
	ErrMissingDep  = errors.New("missing engine dependency")
)

// ResultSink is the output dataset.
type ResultSink interface {
	ChunkWriter
	IDs(ctx context.Context) ([]int64, error)
	Root() string
}

// FailureRecorder persists the ids of failed jobs.
type FailureRecorder interface {
	Append(id int64) error
}

// Archiver snapshots the output dataset during a run.
type Archiver interface {
	Begin(workload, outputDir string, target int64) error
	Archive(ctx context.Context, srcDir string, processed, failed int64) (string, error)
	Finish(processed, failed int64) error
}

// Config tunes a run.
type Config struct {
	// Workers is the execution pool size; zero means DefaultWorkers.
	Workers int
	// Window is the number of jobs fetched per batch load.
	Window int
	// ChunkSize is the number of results per sink write.
	ChunkSize int
	// QueueTimeout is how long an idle worker waits for a job before exiting.
	QueueTimeout time.Duration
	// ResultTimeout is how long the run loop waits for any result.
	ResultTimeout time.Duration
	// BackupEvery archives the sink each time this many jobs have been processed; zero disables.
	BackupEvery int64
	// Probe times one job per problem before starting the pool.
	Probe bool
	// ProbeFailFast aborts the run when a probe job fails.
	ProbeFailFast bool
	// Workload names the job source in checkpoint metadata.
	Workload string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:       DefaultWorkers(),
		Window:        DefaultWindow,
		ChunkSize:     DefaultChunkSize,
		QueueTimeout:  DefaultQueueTimeout,
		ResultTimeout: DefaultResultTimeout,
		BackupEvery:   DefaultBackupEvery,
		Probe:         true,
		ProbeFailFast: true,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()

	if c.Workers <= 0 {
		c.Workers = def.Workers
	}

	if c.Window <= 0 {
		c.Window = def.Window
	}

	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}

	if c.QueueTimeout <= 0 {
		c.QueueTimeout = def.QueueTimeout
	}

	if c.ResultTimeout <= 0 {
		c.ResultTimeout = def.ResultTimeout
	}

	return c
}

// Deps are the collaborators of an Engine. Archiver, Logger, Tracer and
// Metrics are optional.
type Deps struct {
	Source   JobSource
	Sink     ResultSink
	Failures FailureRecorder
	Solver   StatisticsSolver
	Archiver Archiver
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Metrics  *observability.EngineMetrics
}

// Summary is the outcome of a run.
type Summary struct {
	Target      int64
	Processed   int64
	Failed      int64
	ResumePoint int64
	Elapsed     time.Duration
	Probe       *ProbeReport
	Interrupted bool
}

// Engine executes the pending jobs of a workload.
type Engine struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	tracer   trace.Tracer
	progress *Progress
}

// New creates an engine. Source, Sink, Failures and Solver are required.
func New(cfg Config, deps Deps, progress *Progress) (*Engine, error) {
	switch {
	case deps.Source == nil:
		return nil, fmt.Errorf("%w: source", ErrMissingDep)
	case deps.Sink == nil:
		return nil, fmt.Errorf("%w: sink", ErrMissingDep)
	case deps.Failures == nil:
		return nil, fmt.Errorf("%w: failure log", ErrMissingDep)
	case deps.Solver == nil:
		return nil, fmt.Errorf("%w: solver", ErrMissingDep)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("")
	}

	if progress == nil {
		progress = NewProgress("")
	}

	return &Engine{cfg: cfg.normalized(), deps: deps, logger: logger, tracer: tracer, progress: progress}, nil
}

// Progress returns the live progress tracker.
func (e *Engine) Progress() *Progress {
	return e.progress
}

// Probe times one job per problem without writing any result.
func (e *Engine) Probe(ctx context.Context) (ProbeReport, error) {
	ctx, span := e.tracer.Start(ctx, "varorder.probe")
	defer span.End()

	report, err := RunProbe(ctx, e.deps.Source, e.deps.Solver, e.cfg.Workers, e.logger)
	if err != nil {
		span.RecordError(err)
	}

	span.SetAttributes(attribute.Float64("varorder.probe.hours", report.TotalHours))

	return report, err
}

// run is the mutable state of one Run call, owned by the run loop.
type run struct {
	*Engine

	dispatcher *Dispatcher
	sequencer  *Sequencer
	pool       *Pool
	results    chan experiment.Outcome
	target     int64
	drained    int64
}

// Run syncs the sink into the workload, then executes every pending job.
// It returns ErrInterrupted when ctx ends first and ErrStalled when results
// stop arriving; buffered results are flushed in both cases.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	ctx, span := e.tracer.Start(ctx, "varorder.run")
	defer span.End()

	start := time.Now()

	summary, err := e.run(ctx)
	summary.Elapsed = time.Since(start)
	summary.Interrupted = errors.Is(err, ErrInterrupted)

	span.SetAttributes(
		attribute.Int64("varorder.run.target", summary.Target),
		attribute.Int64("varorder.run.processed", summary.Processed),
		attribute.Int64("varorder.run.failed", summary.Failed),
	)

	if err != nil && !errors.Is(err, ErrInterrupted) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	e.report(ctx, summary, err)

	return summary, err
}

func (e *Engine) run(ctx context.Context) (Summary, error) {
	var summary Summary

	ids, err := e.deps.Sink.IDs(ctx)
	if err != nil {
		return summary, fmt.Errorf("read sink ids: %w", err)
	}

	err = e.deps.Source.SyncCompleted(ctx, ids)
	if err != nil {
		return summary, fmt.Errorf("sync completed ids: %w", err)
	}

	target, err := e.deps.Source.PendingCount(ctx)
	if err != nil {
		return summary, fmt.Errorf("count pending jobs: %w", err)
	}

	summary.Target = target
	e.progress.Begin(target)

	e.logger.InfoContext(ctx, "workload synced",
		slog.Int("completed", len(ids)),
		slog.Int64("pending", target))

	if target == 0 {
		e.progress.Finish()

		return summary, nil
	}

	res, err := LoadResources(ctx, e.deps.Source, e.deps.Solver)
	if err != nil {
		return summary, fmt.Errorf("load feature vectors: %w", err)
	}

	executor := NewExecutor(res, e.logger)

	if e.cfg.Probe {
		report, probeErr := runProbe(ctx, e.deps.Source, executor.Execute, e.cfg.Workers, e.logger)
		summary.Probe = &report

		if probeErr != nil {
			return summary, e.interruptedOr(ctx, fmt.Errorf("probe: %w", probeErr))
		}

		if failed := report.Failures(); e.cfg.ProbeFailFast && len(failed) > 0 {
			return summary, fmt.Errorf("%w: %d of %d problems, first %s: %s",
				ErrProbeFailed, len(failed), len(report.Entries), failed[0].ProblemID, failed[0].Error)
		}
	}

	if e.deps.Archiver != nil {
		err = e.deps.Archiver.Begin(e.cfg.Workload, e.deps.Sink.Root(), target)
		if err != nil {
			return summary, fmt.Errorf("begin checkpoint: %w", err)
		}
	}

	r := e.newRun(executor.Execute, target)

	err = r.execute(ctx, &summary)
	summary.Processed, summary.Failed = e.progress.Counts()

	if e.deps.Archiver != nil {
		finishErr := e.deps.Archiver.Finish(summary.Processed, summary.Failed)
		if finishErr != nil {
			err = errors.Join(err, fmt.Errorf("finish checkpoint: %w", finishErr))
		}
	}

	if err == nil {
		e.progress.Finish()
	}

	return summary, err
}

func (e *Engine) newRun(step StepFunc, target int64) *run {
	jobs := make(chan experiment.Job, 2*e.cfg.Window)
	results := make(chan experiment.Outcome, e.cfg.Workers)

	r := &run{Engine: e, results: results, target: target}
	r.dispatcher = NewDispatcher(e.deps.Source, e.cfg.Window, jobs, e.logger, e.deps.Metrics)
	r.pool = NewPool(e.cfg.Workers, e.cfg.QueueTimeout, step, jobs, results, e.logger, e.deps.Metrics)
	r.sequencer = NewSequencer(e.deps.Sink, e.cfg.ChunkSize, func(rows int) {
		e.deps.Metrics.RecordFlush(context.Background(), rows)
	})

	return r
}

func (r *run) execute(ctx context.Context, summary *Summary) error {
	resume, ok, err := r.dispatcher.Start(ctx)
	if err != nil {
		return err
	}

	summary.ResumePoint = resume

	if !ok {
		return nil
	}

	// Two windows prefill the queue; each further window is loaded after a
	// window of results drained, which bounds the queue at 2*window.
	for range 2 {
		_, err = r.dispatcher.LoadNextBatch(ctx)
		if err != nil {
			return r.interruptedOr(ctx, fmt.Errorf("load batch: %w", err))
		}
	}

	r.logger.InfoContext(ctx, "execution started",
		slog.Int("workers", r.pool.Size()),
		slog.Int64("resume_point", resume),
		slog.Int64("target", r.target))

	r.pool.Start(ctx)

	// Persistence must complete even when ctx is canceled.
	persistCtx := context.WithoutCancel(ctx)

	timer := time.NewTimer(r.cfg.ResultTimeout)
	defer timer.Stop()

	for r.drained < r.target {
		select {
		case out := <-r.results:
			handleErr := r.handle(ctx, persistCtx, out)
			if handleErr != nil {
				return r.abort(persistCtx, handleErr)
			}

			timer.Reset(r.cfg.ResultTimeout)
		case <-timer.C:
			return r.abort(persistCtx, fmt.Errorf("%w: %s", ErrStalled, r.cfg.ResultTimeout))
		case <-r.pool.Done():
			drainErr := r.drainBuffered(ctx, persistCtx)
			if drainErr != nil {
				return r.abort(persistCtx, drainErr)
			}

			if r.drained < r.target {
				return r.abort(persistCtx, fmt.Errorf("%w: every worker exited with %d jobs pending",
					ErrStalled, r.target-r.drained))
			}
		case <-ctx.Done():
			return r.interrupt(ctx, persistCtx)
		}
	}

	r.pool.Stop()

	return r.flush(persistCtx)
}

// handle records one outcome: failures go to the failure log at once,
// results to the sequencer.
func (r *run) handle(ctx, persistCtx context.Context, out experiment.Outcome) error {
	r.drained++

	processed, percent := r.progress.Observe(out.Failed())
	r.deps.Metrics.RecordJob(ctx, out.Failed(), out.Duration)

	attrs := []any{
		slog.Int64("job_id", out.Job.ID),
		slog.String("problem", out.Job.ProblemID),
		slog.String("progress", fmt.Sprintf("%.2f%%", percent)),
	}

	if out.Failed() {
		r.logger.ErrorContext(ctx, "job failed", append(attrs, slog.Any("error", out.Err))...)

		appendErr := r.deps.Failures.Append(out.Job.ID)
		if appendErr != nil {
			return fmt.Errorf("record failed job %d: %w", out.Job.ID, appendErr)
		}
	} else {
		r.logger.InfoContext(ctx, "job done", append(attrs,
			slog.Int64("failures", out.Result.Failures),
			slog.Float64("solve_time", out.Result.SolveTime))...)

		addErr := r.sequencer.Add(persistCtx, out.Result)
		if addErr != nil {
			return addErr
		}
	}

	r.progress.SetQueueState(r.sequencer.Len(), r.dispatcher.Cursor())

	if r.drained%int64(r.cfg.Window) == 0 && ctx.Err() == nil {
		_, loadErr := r.dispatcher.LoadNextBatch(ctx)
		if loadErr != nil && ctx.Err() == nil {
			return fmt.Errorf("load batch: %w", loadErr)
		}
	}

	if r.cfg.BackupEvery > 0 && processed%r.cfg.BackupEvery == 0 {
		return r.archive(persistCtx)
	}

	return nil
}

// archive flushes the buffer so the snapshot covers every processed job.
func (r *run) archive(ctx context.Context) error {
	if r.deps.Archiver == nil {
		return nil
	}

	flushErr := r.sequencer.Flush(ctx)
	if flushErr != nil {
		return flushErr
	}

	processed, failed := r.progress.Counts()

	_, archiveErr := r.deps.Archiver.Archive(ctx, r.deps.Sink.Root(), processed, failed)
	if archiveErr != nil {
		return fmt.Errorf("archive sink: %w", archiveErr)
	}

	r.deps.Metrics.RecordArchive(ctx)

	return nil
}

// drainBuffered consumes results still queued after every worker exited.
func (r *run) drainBuffered(ctx, persistCtx context.Context) error {
	for {
		select {
		case out := <-r.results:
			handleErr := r.handle(ctx, persistCtx, out)
			if handleErr != nil {
				return handleErr
			}
		default:
			return nil
		}
	}
}

// interrupt stops the pool, keeps every result already computed and flushes.
func (r *run) interrupt(ctx, persistCtx context.Context) error {
	r.logger.WarnContext(persistCtx, "interrupted, draining workers",
		slog.Int64("processed", r.drained),
		slog.Int64("target", r.target))

	r.pool.Stop()

	var handleErr error

	for done := false; !done; {
		select {
		case out := <-r.results:
			handleErr = errors.Join(handleErr, r.handle(ctx, persistCtx, out))
		case <-r.pool.Done():
			handleErr = errors.Join(handleErr, r.drainBuffered(ctx, persistCtx))
			done = true
		}
	}

	return errors.Join(ErrInterrupted, handleErr, r.flush(persistCtx))
}

// abort stops the pool and flushes what is buffered.
func (r *run) abort(persistCtx context.Context, cause error) error {
	r.pool.Stop()

	return errors.Join(cause, r.flush(persistCtx))
}

func (r *run) flush(ctx context.Context) error {
	err := r.sequencer.Flush(ctx)
	if err != nil {
		return err
	}

	r.progress.SetQueueState(0, r.dispatcher.Cursor())

	return nil
}

func (e *Engine) interruptedOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Join(ErrInterrupted, err)
	}

	return err
}

func (e *Engine) report(ctx context.Context, s Summary, err error) {
	attrs := []any{
		slog.Int64("target", s.Target),
		slog.Int64("processed", s.Processed),
		slog.Int64("failed", s.Failed),
		slog.Duration("elapsed", s.Elapsed),
	}

	switch {
	case errors.Is(err, ErrInterrupted):
		e.logger.WarnContext(ctx, "run interrupted, rerun to resume", attrs...)
	case err != nil:
		e.logger.ErrorContext(ctx, "run failed", append(attrs, slog.Any("error", err))...)
	case s.Failed > 0:
		e.logger.WarnContext(ctx, "run finished with failed jobs, investigate dataset", attrs...)
	default:
		e.logger.InfoContext(ctx, "run finished", attrs...)
	}
}
