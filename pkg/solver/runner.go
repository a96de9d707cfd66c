// Package solver runs an external constraint solver over a FlatZinc encoding
// and extracts its execution statistics.
package solver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/google/shlex"
)

// InputMode selects how the encoding reaches the solver.
type InputMode string

const (
	// InputStdin pipes the encoding to the solver's standard input.
	InputStdin InputMode = "stdin"
	// InputFile writes the encoding to a temporary file passed by path.
	InputFile InputMode = "file"
)

// FilePlaceholder is replaced by the temporary file path in InputFile mode.
const FilePlaceholder = "{fzn_file}"

// Runner errors.
var (
	ErrEmptyCommand     = errors.New("empty solver command")
	ErrSpawn            = errors.New("spawn solver")
	ErrUnknownInputMode = errors.New("unknown solver input mode")
)

// Output is what a solver process produced.
type Output struct {
	ExitCode int
	Lines    []string
	Stderr   string
}

// Runner executes the solver on one encoding.
type Runner interface {
	Run(ctx context.Context, input string) (Output, error)
}

// ProcessRunner starts the solver as a child process per call.
// A started process always runs to completion.
type ProcessRunner struct {
	executable string
	args       []string
	mode       InputMode
	tempDir    string
	logger     *slog.Logger
}

// NewProcessRunner splits the argument template shell-style and prepares a runner.
func NewProcessRunner(executable, argTemplate string, mode InputMode, tempDir string, logger *slog.Logger) (*ProcessRunner, error) {
	if strings.TrimSpace(executable) == "" {
		return nil, ErrEmptyCommand
	}

	args, err := shlex.Split(argTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse solver arguments: %w", err)
	}

	switch mode {
	case InputStdin:
	case InputFile:
		if !slices.Contains(args, FilePlaceholder) {
			args = append(args, FilePlaceholder)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownInputMode, mode)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &ProcessRunner{
		executable: executable,
		args:       args,
		mode:       mode,
		tempDir:    tempDir,
		logger:     logger,
	}, nil
}

// Command returns the executable and arguments as they are passed to the process.
func (r *ProcessRunner) Command() []string {
	return append([]string{r.executable}, r.args...)
}

// Run executes the solver once. A nonzero exit code is logged and returned in
// Output; only a failure to start the process is an error.
func (r *ProcessRunner) Run(ctx context.Context, input string) (Output, error) {
	args := slices.Clone(r.args)

	var stdin *strings.Reader

	if r.mode == InputFile {
		path, cleanup, err := writeTempInput(r.tempDir, input)
		if err != nil {
			return Output{}, err
		}
		defer cleanup()

		for i, a := range args {
			args[i] = strings.ReplaceAll(a, FilePlaceholder, path)
		}
	} else {
		stdin = strings.NewReader(input)
	}

	//nolint:gosec // The solver command comes from operator configuration.
	cmd := exec.Command(r.executable, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	out := Output{}

	runErr := cmd.Run()
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return Output{}, fmt.Errorf("%w: %w", ErrSpawn, runErr)
		}

		out.ExitCode = exitErr.ExitCode()
		r.logger.WarnContext(ctx, "solver exited with nonzero code",
			slog.Int("exit_code", out.ExitCode),
			slog.String("stderr", strings.TrimSpace(stderr.String())))
	}

	out.Lines = strings.Split(stdout.String(), "\n")
	out.Stderr = stderr.String()

	return out, nil
}

func writeTempInput(dir, input string) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp(dir, "varorder-*.fzn")
	if err != nil {
		return "", nil, fmt.Errorf("create solver input: %w", err)
	}

	cleanup = func() { _ = os.Remove(f.Name()) }

	_, writeErr := f.WriteString(input)
	closeErr := f.Close()

	if joined := errors.Join(writeErr, closeErr); joined != nil {
		cleanup()

		return "", nil, fmt.Errorf("write solver input: %w", joined)
	}

	return f.Name(), cleanup, nil
}
