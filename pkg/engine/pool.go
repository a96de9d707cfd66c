package engine

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/varorder/pkg/experiment"
	"github.com/Sumatoshi-tech/varorder/pkg/observability"
)

// reservedCPUs are left to the run loop and the operating system.
const reservedCPUs = 2

// DefaultWorkers returns max(1, NumCPU-2).
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()-reservedCPUs)
}

// Pool runs a fixed number of workers over a job channel. A worker exits when
// the pool is stopped, the context ends, the job channel closes, or no job
// arrives within the idle timeout.
type Pool struct {
	size    int
	idle    time.Duration
	step    StepFunc
	jobs    <-chan experiment.Job
	results chan<- experiment.Outcome
	logger  *slog.Logger
	metrics *observability.EngineMetrics

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewPool creates a pool; Start launches it.
func NewPool(
	size int,
	idle time.Duration,
	step StepFunc,
	jobs <-chan experiment.Job,
	results chan<- experiment.Outcome,
	logger *slog.Logger,
	metrics *observability.EngineMetrics,
) *Pool {
	if size <= 0 {
		size = DefaultWorkers()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		size:    size,
		idle:    idle,
		step:    step,
		jobs:    jobs,
		results: results,
		logger:  logger,
		metrics: metrics,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Start launches the workers.
func (p *Pool) Start(ctx context.Context) {
	for i := range p.size {
		p.wg.Add(1)

		go p.worker(ctx, i)
	}

	go func() {
		p.wg.Wait()
		close(p.done)
	}()
}

// Stop asks every worker to exit after its current job.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Done is closed once every worker has exited.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// worker delivers every outcome it produced, so the consumer must keep
// reading results until Done is closed.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	timer := time.NewTimer(p.idle)
	defer timer.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			p.logger.DebugContext(ctx, "worker idle, exiting", slog.Int("worker", id))

			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}

			p.metrics.AddQueued(ctx, -1)

			if ctx.Err() != nil {
				return
			}

			p.results <- p.step(ctx, job)

			timer.Reset(p.idle)
		}
	}
}
