package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".varorder"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for varorder settings.
const envPrefix = "VARORDER"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file or env var is set.
func Default() *Config {
	viperCfg := viper.New()
	applyDefaults(viperCfg)

	var cfg Config

	// Defaults always decode.
	_ = viperCfg.Unmarshal(&cfg)

	return &cfg
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("workload.driver", DefaultWorkloadDriver)
	viperCfg.SetDefault("workload.dsn", DefaultWorkloadDSN)
	viperCfg.SetDefault("workload.batch_size", DefaultWorkloadBatchSize)

	viperCfg.SetDefault("output.dir", DefaultOutputDir)
	viperCfg.SetDefault("output.failure_log", DefaultFailureLog)

	viperCfg.SetDefault("solver.executable", DefaultSolverExecutable)
	viperCfg.SetDefault("solver.args", DefaultSolverArgs)
	viperCfg.SetDefault("solver.input_mode", DefaultSolverInputMode)
	viperCfg.SetDefault("solver.temp_dir", DefaultSolverTempDir)

	viperCfg.SetDefault("engine.workers", DefaultEngineWorkers)
	viperCfg.SetDefault("engine.window", DefaultEngineWindow)
	viperCfg.SetDefault("engine.chunk_size", DefaultEngineChunkSize)
	viperCfg.SetDefault("engine.queue_timeout", DefaultEngineQueueTimeout)
	viperCfg.SetDefault("engine.result_timeout", DefaultEngineResultTimeout)
	viperCfg.SetDefault("engine.probe", DefaultEngineProbe)
	viperCfg.SetDefault("engine.probe_fail_fast", DefaultEngineProbeFailFast)

	viperCfg.SetDefault("generate.features", "")
	viperCfg.SetDefault("generate.budget", DefaultGenerateBudget)
	viperCfg.SetDefault("generate.cutoff_excess", DefaultGenerateCutoffExcess)
	viperCfg.SetDefault("generate.sample_workers", DefaultGenerateSampleWorkers)
	viperCfg.SetDefault("generate.verify", DefaultGenerateVerify)

	viperCfg.SetDefault("checkpoint.dir", DefaultCheckpointDir)
	viperCfg.SetDefault("checkpoint.every", DefaultCheckpointEvery)
	viperCfg.SetDefault("checkpoint.keep", DefaultCheckpointKeep)

	viperCfg.SetDefault("logging.level", DefaultLoggingLevel)
	viperCfg.SetDefault("logging.json", DefaultLoggingJSON)
	viperCfg.SetDefault("logging.file", DefaultLoggingFile)
	viperCfg.SetDefault("logging.max_size_mb", DefaultLoggingMaxSizeMB)
	viperCfg.SetDefault("logging.max_backups", DefaultLoggingMaxBackups)

	viperCfg.SetDefault("status.addr", DefaultStatusAddr)

	viperCfg.SetDefault("telemetry.environment", DefaultTelemetryEnvironment)
	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.sample_ratio", DefaultTelemetrySampleRatio)
}
