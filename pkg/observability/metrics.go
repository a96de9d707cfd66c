package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricJobsTotal      = "varorder.jobs.total"
	metricSolverDuration = "varorder.solver.duration.seconds"
	metricFlushesTotal   = "varorder.sink.flushes.total"
	metricFlushedRows    = "varorder.sink.rows.total"
	metricArchivesTotal  = "varorder.checkpoint.archives.total"
	metricQueueDepth     = "varorder.queue.depth"
	metricGeneratedTotal = "varorder.generate.jobs.total"

	attrStatus  = "status"
	attrProblem = "problem"

	statusOK     = "ok"
	statusFailed = "failed"
)

// solverBuckets spans sub-millisecond trivial instances up to ten-minute solves.
var solverBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 600}

// EngineMetrics holds the instruments recorded by generation and execution.
// Every Record method is safe on a nil receiver.
type EngineMetrics struct {
	jobs           metric.Int64Counter
	solverDuration metric.Float64Histogram
	flushes        metric.Int64Counter
	flushedRows    metric.Int64Counter
	archives       metric.Int64Counter
	queueDepth     metric.Int64UpDownCounter
	generated      metric.Int64Counter
}

// NewEngineMetrics creates the engine instruments from mt.
func NewEngineMetrics(mt metric.Meter) (*EngineMetrics, error) {
	jobs, err := mt.Int64Counter(metricJobsTotal,
		metric.WithDescription("Jobs processed by outcome"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricJobsTotal, err)
	}

	duration, err := mt.Float64Histogram(metricSolverDuration,
		metric.WithDescription("Wall time of one solver invocation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(solverBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricSolverDuration, err)
	}

	flushes, err := mt.Int64Counter(metricFlushesTotal,
		metric.WithDescription("Result chunks written to the sink"),
		metric.WithUnit("{flush}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFlushesTotal, err)
	}

	rows, err := mt.Int64Counter(metricFlushedRows,
		metric.WithDescription("Result rows written to the sink"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFlushedRows, err)
	}

	archives, err := mt.Int64Counter(metricArchivesTotal,
		metric.WithDescription("Checkpoint archives written"),
		metric.WithUnit("{archive}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricArchivesTotal, err)
	}

	depth, err := mt.Int64UpDownCounter(metricQueueDepth,
		metric.WithDescription("Jobs enqueued and not yet picked up by a worker"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricQueueDepth, err)
	}

	generated, err := mt.Int64Counter(metricGeneratedTotal,
		metric.WithDescription("Jobs generated per problem"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricGeneratedTotal, err)
	}

	return &EngineMetrics{
		jobs:           jobs,
		solverDuration: duration,
		flushes:        flushes,
		flushedRows:    rows,
		archives:       archives,
		queueDepth:     depth,
		generated:      generated,
	}, nil
}

// RecordJob records one finished job.
func (em *EngineMetrics) RecordJob(ctx context.Context, failed bool, d time.Duration) {
	if em == nil {
		return
	}

	status := statusOK
	if failed {
		status = statusFailed
	}

	em.jobs.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
	em.solverDuration.Record(ctx, d.Seconds())
}

// RecordFlush records a chunk of rows written to the sink.
func (em *EngineMetrics) RecordFlush(ctx context.Context, rows int) {
	if em == nil {
		return
	}

	em.flushes.Add(ctx, 1)
	em.flushedRows.Add(ctx, int64(rows))
}

// RecordArchive records a checkpoint archive.
func (em *EngineMetrics) RecordArchive(ctx context.Context) {
	if em == nil {
		return
	}

	em.archives.Add(ctx, 1)
}

// AddQueued adjusts the queue depth by delta.
func (em *EngineMetrics) AddQueued(ctx context.Context, delta int64) {
	if em == nil {
		return
	}

	em.queueDepth.Add(ctx, delta)
}

// RecordGenerated records the jobs generated for one problem.
func (em *EngineMetrics) RecordGenerated(ctx context.Context, problem string, jobs int) {
	if em == nil {
		return
	}

	em.generated.Add(ctx, int64(jobs), metric.WithAttributes(attribute.String(attrProblem, problem)))
}
