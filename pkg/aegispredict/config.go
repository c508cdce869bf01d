package aegispredict

import (
	"github.com/ghalamif/AegisPredict/internal/adapters/onnx"
	"github.com/ghalamif/AegisPredict/internal/adapters/opcua"
	"github.com/ghalamif/AegisPredict/internal/app/config"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy carries scheduling and delivery knobs.
	Policy = ports.Policy
	// SchedulerConfig controls tick interval, concurrency and overlap handling.
	SchedulerConfig = config.SchedulerConfig
	// StateConfig bounds the per-machine rolling window.
	StateConfig = config.StateConfig
	// MachineConfig describes one machine of the static registry.
	MachineConfig = config.MachineConfig
	// SourceConfig selects where readings come from.
	SourceConfig = config.SourceConfig
	// OPCUAConfig holds connection and per-machine node details.
	OPCUAConfig = opcua.Config
	// ModelsConfig locates the four model artifacts.
	ModelsConfig = onnx.Config
	// SinkConfig selects result sinks and the retry budget.
	SinkConfig = config.SinkConfig
	// TimescaleConfig configures the TimescaleDB sink.
	TimescaleConfig = config.TimescaleConfig
	// RedisConfig configures the Redis sink.
	RedisConfig = config.RedisConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// WALConfig configures the dead-letter log.
	WALConfig = config.WALConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig parses, defaults and validates raw YAML.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
