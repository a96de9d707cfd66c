package solver

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/varorder/pkg/experiment"
)

// Default solver invocation: Gecode through MiniZinc, JSON stream with statistics, model on stdin.
const (
	DefaultExecutable = "minizinc"
	DefaultArgs       = "--solver gecode --json-stream --solver-statistics --input-from-stdin --input-is-flatzinc"
)

// ErrNoStatistics is returned when no output line parses as statistics.
var ErrNoStatistics = errors.New("no statistics in solver output")

// Solver combines a Runner with a StatisticsParser.
type Solver struct {
	runner Runner
	parser *StatisticsParser
}

// New creates a Solver.
func New(runner Runner, parser *StatisticsParser) *Solver {
	return &Solver{runner: runner, parser: parser}
}

// Solve runs the solver on input and returns the first statistics line found.
func (s *Solver) Solve(ctx context.Context, input string) (experiment.Statistics, error) {
	out, err := s.runner.Run(ctx, input)
	if err != nil {
		return experiment.Statistics{}, err
	}

	for _, line := range out.Lines {
		stats, ok := s.parser.Parse(line)
		if ok {
			return stats, nil
		}
	}

	return experiment.Statistics{}, fmt.Errorf("%w (exit code %d)", ErrNoStatistics, out.ExitCode)
}
