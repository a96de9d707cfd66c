// Package experiment defines the records that flow through generation and
// execution: jobs, feature vectors, results and per-job outcomes.
package experiment

import (
	"encoding/json"
	"time"
)

// Job is one solver invocation: a problem and one ordering of its search variables.
// IDs are globally unique and contiguous; jobs never change after generation.
type Job struct {
	ProblemID   string   `json:"problem_id"`
	ID          int64    `json:"id"`
	PermIndex   string   `json:"perm_index"`
	Permutation []string `json:"permutation"`
}

// FeatureVector carries the encoding of one problem plus the features
// extracted from it upstream.
type FeatureVector struct {
	ProblemID string          `json:"problemId"`
	FlatZinc  string          `json:"flatZinc"`
	Method    string          `json:"method,omitempty"`
	Features  json.RawMessage `json:"features,omitempty"`
}

// Statistics is the solver's execution statistics for one run.
type Statistics struct {
	InitTime     float64 `json:"initTime"`
	SolveTime    float64 `json:"solveTime"`
	Solutions    int64   `json:"solutions"`
	Variables    int64   `json:"variables"`
	Propagators  int64   `json:"propagators"`
	Propagations int64   `json:"propagations"`
	Nodes        int64   `json:"nodes"`
	Failures     int64   `json:"failures"`
	Restarts     int64   `json:"restarts"`
	PeakDepth    int64   `json:"peakDepth"`
	NSolutions   *int64  `json:"nSolutions,omitempty"`
}

// Result is the record written to the output sink for a successful job.
type Result struct {
	ID           int64    `json:"id" parquet:"id"`
	ProblemID    string   `json:"problem_id" parquet:"problem_id,dict"`
	PermIndex    string   `json:"perm_index" parquet:"perm_index"`
	Permutation  []string `json:"permutation" parquet:"permutation,list"`
	InitTime     float64  `json:"initTime" parquet:"init_time"`
	SolveTime    float64  `json:"solveTime" parquet:"solve_time"`
	Solutions    int64    `json:"solutions" parquet:"solutions"`
	Variables    int64    `json:"variables" parquet:"variables"`
	Propagators  int64    `json:"propagators" parquet:"propagators"`
	Propagations int64    `json:"propagations" parquet:"propagations"`
	Nodes        int64    `json:"nodes" parquet:"nodes"`
	Failures     int64    `json:"failures" parquet:"failures"`
	Restarts     int64    `json:"restarts" parquet:"restarts"`
	PeakDepth    int64    `json:"peakDepth" parquet:"peak_depth"`
}

// NewResult attaches the job's identity to solver statistics.
func NewResult(job Job, stats Statistics) Result {
	return Result{
		ID:           job.ID,
		ProblemID:    job.ProblemID,
		PermIndex:    job.PermIndex,
		Permutation:  job.Permutation,
		InitTime:     stats.InitTime,
		SolveTime:    stats.SolveTime,
		Solutions:    stats.Solutions,
		Variables:    stats.Variables,
		Propagators:  stats.Propagators,
		Propagations: stats.Propagations,
		Nodes:        stats.Nodes,
		Failures:     stats.Failures,
		Restarts:     stats.Restarts,
		PeakDepth:    stats.PeakDepth,
	}
}

// Outcome is what a worker step returns: a Result, or Err for a failed job.
type Outcome struct {
	Job      Job
	Result   Result
	Err      error
	Duration time.Duration
}

// Failed reports whether the job failed.
func (o Outcome) Failed() bool {
	return o.Err != nil
}
