// Package config provides YAML-based configuration for varorder.
package config

import "time"

// Workload defaults.
const (
	DefaultWorkloadDriver    = "sqlite"
	DefaultWorkloadDSN       = "workload.sqlite"
	DefaultWorkloadBatchSize = 1000
)

// Output defaults.
const (
	DefaultOutputDir  = "results"
	DefaultFailureLog = "failed_jobs.txt"
)

// Solver defaults.
const (
	DefaultSolverExecutable = "minizinc"
	DefaultSolverArgs       = "--solver gecode --json-stream --solver-statistics --input-from-stdin --input-is-flatzinc"
	DefaultSolverInputMode  = "stdin"
	DefaultSolverTempDir    = ""
)

// Engine defaults.
const (
	DefaultEngineWorkers       = 0
	DefaultEngineWindow        = 10_000
	DefaultEngineChunkSize     = 10_000
	DefaultEngineQueueTimeout  = 30 * time.Second
	DefaultEngineResultTimeout = 60 * time.Second
	DefaultEngineProbe         = true
	DefaultEngineProbeFailFast = true
)

// Generate defaults.
const (
	DefaultGenerateBudget        = 1000
	DefaultGenerateCutoffExcess  = false
	DefaultGenerateSampleWorkers = 0
	DefaultGenerateVerify        = false
)

// Checkpoint defaults.
const (
	DefaultCheckpointDir   = "backups"
	DefaultCheckpointEvery = 5_000_000
	DefaultCheckpointKeep  = 0
)

// Logging defaults.
const (
	DefaultLoggingLevel      = "info"
	DefaultLoggingJSON       = false
	DefaultLoggingFile       = ""
	DefaultLoggingMaxSizeMB  = 100
	DefaultLoggingMaxBackups = 100
)

// Status server defaults.
const (
	DefaultStatusAddr = ""
)

// Telemetry defaults.
const (
	DefaultTelemetryEnvironment = "development"
	DefaultTelemetrySampleRatio = 1.0
)
