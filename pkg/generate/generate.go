// Package generate turns feature vectors into a workload of sampled
// variable orderings.
package generate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/varorder/pkg/experiment"
	"github.com/Sumatoshi-tech/varorder/pkg/flatzinc"
	"github.com/Sumatoshi-tech/varorder/pkg/observability"
	"github.com/Sumatoshi-tech/varorder/pkg/permute"
)

// ErrDuplicateProblem is returned when two feature vectors share a problem id.
var ErrDuplicateProblem = errors.New("duplicate problem id")

// Store is the workload store as seen by generation.
type Store interface {
	PutFeatureVectors(ctx context.Context, fvs []experiment.FeatureVector) error
	PutJobs(ctx context.Context, jobs []experiment.Job) error
	MaxID(ctx context.Context) (int64, bool, error)
	CountByProblem(ctx context.Context) (map[string]int64, error)
}

// Options tune sampling.
type Options struct {
	// Budget is the maximum number of orderings per problem.
	Budget int
	// CutoffExcess caps every problem at exactly Budget orderings.
	CutoffExcess bool
	// SampleWorkers is the sampler pool size; zero means one per CPU.
	SampleWorkers int
	// Verify checks every substituted encoding before storing its job.
	Verify bool
}

// Entry reports one problem.
type Entry struct {
	ProblemID string   `json:"problem_id"`
	Variables int      `json:"variables"`
	Space     *big.Int `json:"space"`
	Jobs      int      `json:"jobs"`
	FirstID   int64    `json:"first_id"`
	// Skipped is set for problems that already had jobs in the store.
	Skipped bool `json:"skipped,omitempty"`
}

// Report is the outcome of a generation pass.
type Report struct {
	Entries []Entry `json:"entries"`
	Jobs    int64   `json:"jobs"`
	NextID  int64   `json:"next_id"`
}

// Generator samples orderings for each problem and stores them as jobs.
type Generator struct {
	store   Store
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.EngineMetrics
}

// New creates a generator. Logger, tracer and metrics may be nil.
func New(store Store, opts Options, logger *slog.Logger, tracer trace.Tracer, metrics *observability.EngineMetrics) *Generator {
	if logger == nil {
		logger = slog.Default()
	}

	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("")
	}

	return &Generator{store: store, opts: opts, logger: logger, tracer: tracer, metrics: metrics}
}

// Run stores fvs and generates jobs for every problem without jobs yet.
// Problems are processed in id order and ids continue after the store's
// current maximum, so the workload stays contiguous.
func (g *Generator) Run(ctx context.Context, fvs []experiment.FeatureVector) (Report, error) {
	ctx, span := g.tracer.Start(ctx, "varorder.generate")
	defer span.End()

	var report Report

	sorted := slices.Clone(fvs)
	slices.SortFunc(sorted, func(a, b experiment.FeatureVector) int { return cmp.Compare(a.ProblemID, b.ProblemID) })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].ProblemID == sorted[i-1].ProblemID {
			return report, fmt.Errorf("%w: %s", ErrDuplicateProblem, sorted[i].ProblemID)
		}
	}

	err := g.store.PutFeatureVectors(ctx, sorted)
	if err != nil {
		return report, fmt.Errorf("store feature vectors: %w", err)
	}

	existing, err := g.store.CountByProblem(ctx)
	if err != nil {
		return report, fmt.Errorf("count existing jobs: %w", err)
	}

	maxID, ok, err := g.store.MaxID(ctx)
	if err != nil {
		return report, fmt.Errorf("read max job id: %w", err)
	}

	if ok {
		report.NextID = maxID + 1
	}

	ix := permute.NewIndexer(0)

	for _, fv := range sorted {
		entry, genErr := g.problem(ctx, ix, fv, report.NextID, existing[fv.ProblemID] > 0)
		if genErr != nil {
			span.RecordError(genErr)

			return report, genErr
		}

		report.Entries = append(report.Entries, entry)
		report.Jobs += int64(entry.Jobs)
		report.NextID += int64(entry.Jobs)
	}

	span.SetAttributes(
		attribute.Int("varorder.generate.problems", len(report.Entries)),
		attribute.Int64("varorder.generate.jobs", report.Jobs),
	)

	g.logger.InfoContext(ctx, "generation finished",
		slog.Int("problems", len(report.Entries)),
		slog.Int64("jobs", report.Jobs),
		slog.Int64("next_id", report.NextID))

	return report, nil
}

func (g *Generator) problem(
	ctx context.Context, ix *permute.Indexer, fv experiment.FeatureVector, firstID int64, skip bool,
) (Entry, error) {
	vars := flatzinc.ExtractVariables(fv.FlatZinc)
	entry := Entry{ProblemID: fv.ProblemID, Variables: len(vars), FirstID: firstID, Skipped: skip}

	if len(vars) == 0 {
		return entry, fmt.Errorf("problem %s: %w", fv.ProblemID, permute.ErrEmptyVariableSet)
	}

	entry.Space = ix.Factorial(len(vars))

	if skip {
		g.logger.InfoContext(ctx, "problem already generated", slog.String("problem", fv.ProblemID))

		return entry, nil
	}

	perms, err := permute.Sample(ctx, vars, g.opts.Budget, permute.SampleOptions{
		Workers:      g.opts.SampleWorkers,
		CutoffExcess: g.opts.CutoffExcess,
		Indexer:      ix,
	})
	if err != nil {
		return entry, fmt.Errorf("problem %s: %w", fv.ProblemID, err)
	}

	jobs := make([]experiment.Job, len(perms))

	for i, perm := range perms {
		if g.opts.Verify {
			verifyErr := verify(fv.FlatZinc, perm.Order)
			if verifyErr != nil {
				return entry, fmt.Errorf("problem %s ordering %s: %w", fv.ProblemID, perm.Index, verifyErr)
			}
		}

		jobs[i] = experiment.Job{
			ProblemID:   fv.ProblemID,
			ID:          firstID + int64(i),
			PermIndex:   perm.Index.String(),
			Permutation: perm.Order,
		}
	}

	err = g.store.PutJobs(ctx, jobs)
	if err != nil {
		return entry, fmt.Errorf("store jobs of %s: %w", fv.ProblemID, err)
	}

	entry.Jobs = len(jobs)
	g.metrics.RecordGenerated(ctx, fv.ProblemID, len(jobs))

	g.logger.InfoContext(ctx, "problem generated",
		slog.String("problem", fv.ProblemID),
		slog.Int("variables", len(vars)),
		slog.String("space", entry.Space.String()),
		slog.Int("jobs", len(jobs)),
		slog.Int64("first_id", firstID))

	return entry, nil
}

func verify(text string, ordering []string) error {
	mutated, err := flatzinc.SubstituteVariables(text, ordering)
	if err != nil {
		return err
	}

	return flatzinc.VerifySubstitution(text, mutated, ordering)
}
