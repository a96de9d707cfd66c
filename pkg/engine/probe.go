package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrProbeFailed is returned when a probe job fails and fail-fast is enabled.
var ErrProbeFailed = errors.New("probe job failed")

const secondsPerHour = 3600

// ProbeEntry is the timing of one representative job.
type ProbeEntry struct {
	ProblemID      string        `json:"problem_id"`
	JobID          int64         `json:"job_id"`
	Duration       time.Duration `json:"duration"`
	JobCount       int64         `json:"job_count"`
	EstimatedHours float64       `json:"estimated_hours"`
	Error          string        `json:"error,omitempty"`
}

// Failed reports whether the probe job failed.
func (e ProbeEntry) Failed() bool {
	return e.Error != ""
}

// ProbeReport is the duration estimate for a whole workload.
type ProbeReport struct {
	Workers    int           `json:"workers"`
	Entries    []ProbeEntry  `json:"entries"`
	Total      time.Duration `json:"total"`
	TotalHours float64       `json:"total_hours"`
}

// Failures returns the entries whose job failed.
func (r ProbeReport) Failures() []ProbeEntry {
	var failed []ProbeEntry

	for _, e := range r.Entries {
		if e.Failed() {
			failed = append(failed, e)
		}
	}

	return failed
}

// EstimateHours is the wall time of count jobs each taking d, spread over workers.
func EstimateHours(d time.Duration, count int64, workers int) float64 {
	return d.Seconds() * float64(count) / secondsPerHour / float64(max(1, workers))
}

// RunProbe loads the feature vectors of src and times one job per problem
// with solver, without writing any result.
func RunProbe(
	ctx context.Context, src JobSource, solver StatisticsSolver, workers int, logger *slog.Logger,
) (ProbeReport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	res, err := LoadResources(ctx, src, solver)
	if err != nil {
		return ProbeReport{}, fmt.Errorf("load feature vectors: %w", err)
	}

	return runProbe(ctx, src, NewExecutor(res, logger).Execute, max(1, workers), logger)
}

// runProbe times the lowest-id job of every problem, one at a time.
func runProbe(ctx context.Context, src JobSource, step StepFunc, workers int, logger *slog.Logger) (ProbeReport, error) {
	sample, err := src.ProbeSample(ctx)
	if err != nil {
		return ProbeReport{}, fmt.Errorf("select probe jobs: %w", err)
	}

	counts, err := src.CountByProblem(ctx)
	if err != nil {
		return ProbeReport{}, fmt.Errorf("count jobs per problem: %w", err)
	}

	report := ProbeReport{Workers: workers, Entries: make([]ProbeEntry, 0, len(sample))}

	for _, job := range sample {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}

		out := step(ctx, job)

		entry := ProbeEntry{
			ProblemID:      job.ProblemID,
			JobID:          job.ID,
			Duration:       out.Duration,
			JobCount:       counts[job.ProblemID],
			EstimatedHours: EstimateHours(out.Duration, counts[job.ProblemID], workers),
		}

		if out.Failed() {
			entry.Error = out.Err.Error()
			logger.ErrorContext(ctx, "probe job failed",
				slog.String("problem", job.ProblemID),
				slog.Int64("job_id", job.ID),
				slog.Any("error", out.Err))
		} else {
			logger.InfoContext(ctx, "probe",
				slog.String("problem", job.ProblemID),
				slog.Int64("job_id", job.ID),
				slog.Duration("duration", out.Duration),
				slog.Int64("jobs", entry.JobCount),
				slog.Float64("estimated_hours", entry.EstimatedHours))
		}

		report.Entries = append(report.Entries, entry)
		report.Total += out.Duration
		report.TotalHours += entry.EstimatedHours
	}

	logger.InfoContext(ctx, "probe finished",
		slog.Int("problems", len(report.Entries)),
		slog.Int("workers", workers),
		slog.Float64("estimated_hours", report.TotalHours))

	return report, nil
}
