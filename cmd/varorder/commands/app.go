// Package commands implements CLI command handlers for varorder.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/varorder/pkg/config"
	"github.com/Sumatoshi-tech/varorder/pkg/engine"
	"github.com/Sumatoshi-tech/varorder/pkg/observability"
	"github.com/Sumatoshi-tech/varorder/pkg/solver"
	"github.com/Sumatoshi-tech/varorder/pkg/version"
	"github.com/Sumatoshi-tech/varorder/pkg/workload"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitInterrupted = 130
)

const (
	envOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envOTLPHeaders  = "OTEL_EXPORTER_OTLP_HEADERS"
)

// GlobalOptions are the persistent flags shared by every command.
type GlobalOptions struct {
	ConfigPath string
	LogFile    string
	Verbose    bool
	Quiet      bool
	LogJSON    bool
}

// Register binds the persistent flags to root.
func (g *GlobalOptions) Register(root *cobra.Command) {
	root.PersistentFlags().StringVar(&g.ConfigPath, "config", "", "Config file (default: .varorder.yaml in CWD or $HOME)")
	root.PersistentFlags().BoolVarP(&g.Verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().BoolVarP(&g.Quiet, "quiet", "q", false, "suppress output")
	root.PersistentFlags().BoolVar(&g.LogJSON, "log-json", false, "Emit logs as JSON")
	root.PersistentFlags().StringVar(&g.LogFile, "log-file", "", "Also write logs to this size-rotated file")
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, engine.ErrInterrupted), errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitError
	}
}

// app is what every command needs once configuration and telemetry are up.
type app struct {
	cfg       *config.Config
	providers observability.Providers
	logger    *slog.Logger
	metrics   *observability.EngineMetrics
}

// loadConfig reads the config file and applies the global flag overrides.
func (g *GlobalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(g.ConfigPath)
	if err != nil {
		return nil, err
	}

	if g.LogJSON {
		cfg.Logging.JSON = true
	}

	if g.LogFile != "" {
		cfg.Logging.File = g.LogFile
	}

	return cfg, nil
}

// start loads configuration and initializes telemetry for mode. withMetrics
// attaches the Prometheus reader.
func (g *GlobalOptions) start(cfg *config.Config, mode observability.AppMode, withMetrics bool) (*app, error) {
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return nil, err
	}

	switch {
	case g.Verbose:
		level = slog.LevelDebug
	case g.Quiet:
		level = slog.LevelError
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = cfg.Telemetry.Environment
	obsCfg.Mode = mode
	obsCfg.OTLPEndpoint = firstNonEmpty(cfg.Telemetry.OTLPEndpoint, os.Getenv(envOTLPEndpoint))
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(firstNonEmpty(cfg.Telemetry.OTLPHeaders, os.Getenv(envOTLPHeaders)))
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.SampleRatio = cfg.Telemetry.SampleRatio
	obsCfg.Prometheus = withMetrics
	obsCfg.LogLevel = level
	obsCfg.LogJSON = cfg.Logging.JSON
	obsCfg.LogFile = cfg.Logging.File
	obsCfg.LogMaxSizeMB = cfg.Logging.MaxSizeMB
	obsCfg.LogMaxBackups = cfg.Logging.MaxBackups

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	slog.SetDefault(providers.Logger)

	metrics, err := observability.NewEngineMetrics(providers.Meter)
	if err != nil {
		_ = providers.Shutdown(context.Background())

		return nil, err
	}

	return &app{cfg: cfg, providers: providers, logger: providers.Logger, metrics: metrics}, nil
}

func (a *app) close() {
	shutdownErr := a.providers.Shutdown(context.Background())
	if shutdownErr != nil {
		a.logger.Warn("observability shutdown failed", "error", shutdownErr)
	}
}

func (a *app) openStore() (*workload.Store, error) {
	return workload.Open(workload.Options{
		Driver:    workload.Driver(a.cfg.Workload.Driver),
		DSN:       a.cfg.Workload.DSN,
		BatchSize: a.cfg.Workload.BatchSize,
	})
}

// SolverFactory builds the statistics solver for a run.
type SolverFactory func(cfg config.SolverConfig, logger *slog.Logger) (engine.StatisticsSolver, error)

// NewProcessSolver runs the configured solver binary once per job.
func NewProcessSolver(cfg config.SolverConfig, logger *slog.Logger) (engine.StatisticsSolver, error) {
	runner, err := solver.NewProcessRunner(cfg.Executable, cfg.Args, solver.InputMode(cfg.InputMode), cfg.TempDir, logger)
	if err != nil {
		return nil, err
	}

	parser, err := solver.NewStatisticsParser()
	if err != nil {
		return nil, err
	}

	logger.Debug("solver command", slog.Any("argv", runner.Command()))

	return solver.New(runner, parser), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
