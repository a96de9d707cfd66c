package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/varorder/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".varorder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig_EmptyFile_UsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, config.DefaultWorkloadDriver, cfg.Workload.Driver)
	assert.Equal(t, config.DefaultWorkloadDSN, cfg.Workload.DSN)
	assert.Equal(t, config.DefaultWorkloadBatchSize, cfg.Workload.BatchSize)
	assert.Equal(t, config.DefaultOutputDir, cfg.Output.Dir)
	assert.Equal(t, config.DefaultFailureLog, cfg.Output.FailureLog)
	assert.Equal(t, config.DefaultSolverExecutable, cfg.Solver.Executable)
	assert.Equal(t, config.DefaultSolverArgs, cfg.Solver.Args)
	assert.Equal(t, config.DefaultSolverInputMode, cfg.Solver.InputMode)
	assert.Equal(t, config.DefaultEngineWindow, cfg.Engine.Window)
	assert.Equal(t, config.DefaultEngineChunkSize, cfg.Engine.ChunkSize)
	assert.Equal(t, config.DefaultEngineQueueTimeout, cfg.Engine.QueueTimeout)
	assert.Equal(t, config.DefaultEngineResultTimeout, cfg.Engine.ResultTimeout)
	assert.True(t, cfg.Engine.Probe)
	assert.True(t, cfg.Engine.ProbeFailFast)
	assert.Equal(t, config.DefaultGenerateBudget, cfg.Generate.Budget)
	assert.False(t, cfg.Generate.CutoffExcess)
	assert.Equal(t, int64(config.DefaultCheckpointEvery), cfg.Checkpoint.Every)
	assert.Equal(t, config.DefaultLoggingMaxSizeMB, cfg.Logging.MaxSizeMB)
	assert.Empty(t, cfg.Status.Addr)
	assert.InDelta(t, config.DefaultTelemetrySampleRatio, cfg.Telemetry.SampleRatio, 1e-9)
}

func TestLoadConfig_ValidFile_Unmarshals(t *testing.T) {
	t.Parallel()

	content := `workload:
  driver: mysql
  dsn: "user:pass@tcp(db:3306)/varorder?parseTime=true"
  batch_size: 500
output:
  dir: /data/results
solver:
  executable: /opt/minizinc/bin/minizinc
  args: "--solver chuffed --json-stream --solver-statistics {fzn_file}"
  input_mode: file
engine:
  workers: 6
  window: 2000
  chunk_size: 3000
  queue_timeout: 10s
  result_timeout: 2m
  probe: false
generate:
  budget: 50000
  cutoff_excess: true
  verify: true
checkpoint:
  dir: /data/backups
  every: 1000000
  keep: 3
logging:
  level: debug
  json: true
  file: /var/log/varorder.log
status:
  addr: ":9090"
`

	cfg, err := config.LoadConfig(writeConfig(t, content))
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Workload.Driver)
	assert.Equal(t, 500, cfg.Workload.BatchSize)
	assert.Equal(t, "/data/results", cfg.Output.Dir)
	assert.Equal(t, "file", cfg.Solver.InputMode)
	assert.Equal(t, 6, cfg.Engine.Workers)
	assert.Equal(t, 2000, cfg.Engine.Window)
	assert.Equal(t, 3000, cfg.Engine.ChunkSize)
	assert.Equal(t, 10*time.Second, cfg.Engine.QueueTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Engine.ResultTimeout)
	assert.False(t, cfg.Engine.Probe)
	assert.True(t, cfg.Engine.ProbeFailFast)
	assert.Equal(t, 50000, cfg.Generate.Budget)
	assert.True(t, cfg.Generate.CutoffExcess)
	assert.True(t, cfg.Generate.Verify)
	assert.Equal(t, int64(1_000_000), cfg.Checkpoint.Every)
	assert.Equal(t, 3, cfg.Checkpoint.Keep)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, ":9090", cfg.Status.Addr)

	level, err := cfg.Logging.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadConfig_MalformedYAML_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, "engine:\n  window: [invalid yaml\n"))
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{name: "driver", content: "workload:\n  driver: postgres\n", wantErr: config.ErrInvalidDriver},
		{name: "dsn", content: "workload:\n  dsn: \"\"\n", wantErr: config.ErrEmptyDSN},
		{name: "input mode", content: "solver:\n  input_mode: pipe\n", wantErr: config.ErrInvalidInputMode},
		{name: "window", content: "engine:\n  window: 0\n", wantErr: config.ErrInvalidWindow},
		{name: "workers", content: "engine:\n  workers: -1\n", wantErr: config.ErrInvalidWorkers},
		{name: "timeout", content: "engine:\n  result_timeout: 0s\n", wantErr: config.ErrInvalidTimeout},
		{name: "budget", content: "generate:\n  budget: 0\n", wantErr: config.ErrInvalidBudget},
		{name: "checkpoint", content: "checkpoint:\n  keep: -2\n", wantErr: config.ErrInvalidCheckpoint},
		{name: "log level", content: "logging:\n  level: loud\n", wantErr: config.ErrInvalidLogLevel},
		{name: "sampling", content: "telemetry:\n  sample_ratio: 1.5\n", wantErr: config.ErrInvalidSampling},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.LoadConfig(writeConfig(t, tt.content))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Setenv("VARORDER_ENGINE_WINDOW", "77")

	cfg, err := config.LoadConfig(writeConfig(t, "engine:\n  window: 5\n"))
	require.NoError(t, err)
	assert.Equal(t, 77, cfg.Engine.Window)
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.DefaultEngineWindow, cfg.Engine.Window)
}
