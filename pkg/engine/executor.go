// Package engine schedules generated jobs onto a pool of solver workers,
// persists their results in id order and keeps the run resumable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/varorder/pkg/experiment"
	"github.com/Sumatoshi-tech/varorder/pkg/flatzinc"
)

// ErrMissingFeatureVector is returned for jobs whose problem has no feature vector.
var ErrMissingFeatureVector = errors.New("no feature vector for problem")

// StatisticsSolver runs the solver on one encoding.
type StatisticsSolver interface {
	Solve(ctx context.Context, input string) (experiment.Statistics, error)
}

// StepFunc is one worker step: it turns a job into a result or a failure.
type StepFunc func(ctx context.Context, job experiment.Job) experiment.Outcome

// Resources are the read-only inputs shared by every worker of a run.
type Resources struct {
	// Features maps problem id to its feature vector, search annotation
	// already normalized to input_order.
	Features map[string]experiment.FeatureVector
	Solver   StatisticsSolver
}

// LoadResources reads every feature vector from src and normalizes its search annotation.
func LoadResources(ctx context.Context, src JobSource, solver StatisticsSolver) (Resources, error) {
	fvs, err := src.FeatureVectors(ctx)
	if err != nil {
		return Resources{}, err
	}

	features := make(map[string]experiment.FeatureVector, len(fvs))

	for _, fv := range fvs {
		fv.FlatZinc = flatzinc.EnsureInputOrderAnnotation(fv.FlatZinc)
		features[fv.ProblemID] = fv
	}

	return Resources{Features: features, Solver: solver}, nil
}

// Executor performs the worker step.
type Executor struct {
	res    Resources
	logger *slog.Logger
}

// NewExecutor creates an executor over res.
func NewExecutor(res Resources, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{res: res, logger: logger}
}

// Execute runs one job. Every error becomes a failed Outcome; nothing panics
// or escapes to the worker.
func (e *Executor) Execute(ctx context.Context, job experiment.Job) experiment.Outcome {
	start := time.Now()
	out := experiment.Outcome{Job: job}

	stats, err := e.solve(ctx, job)

	out.Duration = time.Since(start)
	if err != nil {
		out.Err = err

		return out
	}

	out.Result = experiment.NewResult(job, stats)

	return out
}

func (e *Executor) solve(ctx context.Context, job experiment.Job) (experiment.Statistics, error) {
	fv, ok := e.res.Features[job.ProblemID]
	if !ok {
		return experiment.Statistics{}, fmt.Errorf("%w: %s", ErrMissingFeatureVector, job.ProblemID)
	}

	e.logger.DebugContext(ctx, "solving",
		slog.Int64("job_id", job.ID),
		slog.String("problem", job.ProblemID),
		slog.String("ordering", strings.Join(job.Permutation, ",")))

	mutated, err := flatzinc.SubstituteVariables(fv.FlatZinc, job.Permutation)
	if err != nil {
		return experiment.Statistics{}, fmt.Errorf("substitute ordering: %w", err)
	}

	stats, err := e.res.Solver.Solve(ctx, mutated)
	if err != nil {
		return experiment.Statistics{}, fmt.Errorf("solve job %d: %w", job.ID, err)
	}

	return stats, nil
}
