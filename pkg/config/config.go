package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// Sentinel validation errors.
var (
	ErrInvalidDriver     = errors.New("invalid workload driver")
	ErrEmptyDSN          = errors.New("workload dsn must be set")
	ErrInvalidBatchSize  = errors.New("workload batch size must be positive")
	ErrInvalidInputMode  = errors.New("invalid solver input mode")
	ErrEmptyExecutable   = errors.New("solver executable must be set")
	ErrInvalidWorkers    = errors.New("workers must not be negative")
	ErrInvalidWindow     = errors.New("engine window must be positive")
	ErrInvalidChunkSize  = errors.New("engine chunk size must be positive")
	ErrInvalidTimeout    = errors.New("engine timeouts must be positive")
	ErrInvalidBudget     = errors.New("generate budget must be positive")
	ErrInvalidCheckpoint = errors.New("checkpoint every and keep must not be negative")
	ErrInvalidLogLevel   = errors.New("invalid log level")
	ErrInvalidSampling   = errors.New("trace sample ratio must be within [0, 1]")
)

var (
	validDrivers    = []string{"sqlite", "mysql"}
	validInputModes = []string{"stdin", "file"}
)

// Config holds all varorder configuration.
type Config struct {
	Workload   WorkloadConfig   `mapstructure:"workload"`
	Output     OutputConfig     `mapstructure:"output"`
	Solver     SolverConfig     `mapstructure:"solver"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Generate   GenerateConfig   `mapstructure:"generate"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Status     StatusConfig     `mapstructure:"status"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// WorkloadConfig selects the job store.
type WorkloadConfig struct {
	Driver    string `mapstructure:"driver"`
	DSN       string `mapstructure:"dsn"`
	BatchSize int    `mapstructure:"batch_size"`
}

// OutputConfig locates the result dataset and the failure log.
type OutputConfig struct {
	Dir        string `mapstructure:"dir"`
	FailureLog string `mapstructure:"failure_log"`
}

// SolverConfig describes the external solver command.
type SolverConfig struct {
	Executable string `mapstructure:"executable"`
	Args       string `mapstructure:"args"`
	InputMode  string `mapstructure:"input_mode"`
	TempDir    string `mapstructure:"temp_dir"`
}

// EngineConfig tunes execution.
type EngineConfig struct {
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
	ResultTimeout time.Duration `mapstructure:"result_timeout"`
	Workers       int           `mapstructure:"workers"`
	Window        int           `mapstructure:"window"`
	ChunkSize     int           `mapstructure:"chunk_size"`
	Probe         bool          `mapstructure:"probe"`
	ProbeFailFast bool          `mapstructure:"probe_fail_fast"`
}

// GenerateConfig tunes sampling.
type GenerateConfig struct {
	Features      string `mapstructure:"features"`
	Budget        int    `mapstructure:"budget"`
	SampleWorkers int    `mapstructure:"sample_workers"`
	CutoffExcess  bool   `mapstructure:"cutoff_excess"`
	Verify        bool   `mapstructure:"verify"`
}

// CheckpointConfig controls periodic archives of the result dataset.
type CheckpointConfig struct {
	Dir   string `mapstructure:"dir"`
	Every int64  `mapstructure:"every"`
	Keep  int    `mapstructure:"keep"`
}

// LoggingConfig controls the logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	JSON       bool   `mapstructure:"json"`
}

// StatusConfig enables the HTTP status server when Addr is set.
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Environment  string  `mapstructure:"environment"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	return errors.Join(
		c.Workload.validate(),
		c.Solver.validate(),
		c.Engine.validate(),
		c.Generate.validate(),
		c.Checkpoint.validate(),
		c.Logging.validate(),
		c.Telemetry.validate(),
	)
}

func (w WorkloadConfig) validate() error {
	if !slices.Contains(validDrivers, w.Driver) {
		return fmt.Errorf("%w: %q", ErrInvalidDriver, w.Driver)
	}

	if w.DSN == "" {
		return ErrEmptyDSN
	}

	if w.BatchSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBatchSize, w.BatchSize)
	}

	return nil
}

func (s SolverConfig) validate() error {
	if s.Executable == "" {
		return ErrEmptyExecutable
	}

	if !slices.Contains(validInputModes, s.InputMode) {
		return fmt.Errorf("%w: %q", ErrInvalidInputMode, s.InputMode)
	}

	return nil
}

func (e EngineConfig) validate() error {
	if e.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, e.Workers)
	}

	if e.Window <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWindow, e.Window)
	}

	if e.ChunkSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, e.ChunkSize)
	}

	if e.QueueTimeout <= 0 || e.ResultTimeout <= 0 {
		return fmt.Errorf("%w: queue %s, result %s", ErrInvalidTimeout, e.QueueTimeout, e.ResultTimeout)
	}

	return nil
}

func (g GenerateConfig) validate() error {
	if g.Budget <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBudget, g.Budget)
	}

	if g.SampleWorkers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, g.SampleWorkers)
	}

	return nil
}

func (c CheckpointConfig) validate() error {
	if c.Every < 0 || c.Keep < 0 {
		return fmt.Errorf("%w: every %d, keep %d", ErrInvalidCheckpoint, c.Every, c.Keep)
	}

	return nil
}

func (l LoggingConfig) validate() error {
	_, err := l.SlogLevel()

	return err
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(strings.ToUpper(l.Level)))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}

	return level, nil
}

func (t TelemetryConfig) validate() error {
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSampling, t.SampleRatio)
	}

	return nil
}
