// Package observability wires structured logging, OpenTelemetry tracing and
// metrics, and the Prometheus scrape endpoint for varorder.
package observability

import (
	"log/slog"
	"strings"
)

// AppMode identifies which subcommand the binary runs.
type AppMode string

const (
	// ModeGenerate is the job generation pass.
	ModeGenerate AppMode = "generate"
	// ModeRun is the job execution pass.
	ModeRun AppMode = "run"
	// ModeProbe is the stand-alone runtime estimate.
	ModeProbe AppMode = "probe"
	// ModeCLI covers short utility commands.
	ModeCLI AppMode = "cli"
)

const (
	defaultServiceName        = "varorder"
	defaultShutdownTimeoutSec = 5
	defaultLogMaxSizeMB       = 100
	defaultLogMaxBackups      = 100
)

// Config holds all observability configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Mode           AppMode

	// OTLPEndpoint is the OTLP gRPC collector address. Empty disables export.
	OTLPEndpoint string
	OTLPHeaders  map[string]string
	OTLPInsecure bool

	// SampleRatio is the trace sampling ratio; zero samples everything.
	SampleRatio float64

	// Prometheus attaches a scrape reader to the meter provider.
	Prometheus bool

	LogLevel slog.Level
	LogJSON  bool

	// LogFile mirrors log output into a size-rotated file when set.
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	ShutdownTimeoutSec int
}

// DefaultConfig returns a Config for zero-config startup.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		LogMaxSizeMB:       defaultLogMaxSizeMB,
		LogMaxBackups:      defaultLogMaxBackups,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}

// ParseOTLPHeaders parses "key=value,key=value" as used by
// OTEL_EXPORTER_OTLP_HEADERS. Empty or malformed input yields nil.
func ParseOTLPHeaders(raw string) map[string]string {
	if raw == "" {
		return nil
	}

	out := make(map[string]string)

	for pair := range strings.SplitSeq(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}

		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	if len(out) == 0 {
		return nil
	}

	return out
}
