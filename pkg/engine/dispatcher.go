package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Sumatoshi-tech/varorder/pkg/experiment"
	"github.com/Sumatoshi-tech/varorder/pkg/observability"
)

// JobSource is the workload store as seen by the engine.
type JobSource interface {
	SyncCompleted(ctx context.Context, ids []int64) error
	ResumePoint(ctx context.Context) (int64, bool, error)
	PendingCount(ctx context.Context) (int64, error)
	PendingWindow(ctx context.Context, from int64, limit int) ([]experiment.Job, error)
	ProbeSample(ctx context.Context) ([]experiment.Job, error)
	CountByProblem(ctx context.Context) (map[string]int64, error)
	FeatureVectors(ctx context.Context) ([]experiment.FeatureVector, error)
}

// Dispatcher feeds the job queue one window at a time, starting at the
// resume point and skipping jobs already present in the sink.
type Dispatcher struct {
	src     JobSource
	window  int
	queue   chan<- experiment.Job
	logger  *slog.Logger
	metrics *observability.EngineMetrics

	mu        sync.Mutex
	cursor    int64
	exhausted bool
}

// NewDispatcher creates a dispatcher writing to queue. The queue must hold at
// least two windows so a batch load never blocks the run loop.
func NewDispatcher(
	src JobSource, window int, queue chan<- experiment.Job, logger *slog.Logger, metrics *observability.EngineMetrics,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{src: src, window: window, queue: queue, logger: logger, metrics: metrics}
}

// Start positions the cursor at the smallest pending id. ok is false when
// every job is already in the sink.
func (d *Dispatcher) Start(ctx context.Context) (resume int64, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	resume, ok, err = d.src.ResumePoint(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("compute resume point: %w", err)
	}

	d.cursor = resume
	d.exhausted = !ok

	d.logger.InfoContext(ctx, "dispatcher positioned",
		slog.Int64("resume_point", resume),
		slog.Bool("pending", ok))

	return resume, ok, nil
}

// Cursor returns the next id the dispatcher will read from.
func (d *Dispatcher) Cursor() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.cursor
}

// LoadNextBatch enqueues up to one window of pending jobs and returns how many
// it enqueued. Calls are serialized; zero means the workload is exhausted.
func (d *Dispatcher) LoadNextBatch(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.exhausted {
		return 0, nil
	}

	jobs, err := d.src.PendingWindow(ctx, d.cursor, d.window)
	if err != nil {
		return 0, err
	}

	if len(jobs) < d.window {
		d.exhausted = true
	}

	for i, job := range jobs {
		select {
		case d.queue <- job:
		case <-ctx.Done():
			d.cursor = job.ID
			d.metrics.AddQueued(ctx, int64(i))

			return i, ctx.Err()
		}
	}

	if len(jobs) > 0 {
		d.cursor = jobs[len(jobs)-1].ID + 1
	}

	d.metrics.AddQueued(ctx, int64(len(jobs)))

	d.logger.DebugContext(ctx, "batch loaded",
		slog.Int("jobs", len(jobs)),
		slog.Int64("cursor", d.cursor))

	return len(jobs), nil
}
