package aegispredict

import (
	"context"
	"time"

	base "github.com/ghalamif/AegisPredict/pkg/aegispredict"
)

// Re-exported errors for convenience.
var (
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
	ErrNoFreshReading    = base.ErrNoFreshReading
	ErrSourceStopped     = base.ErrSourceStopped
)

// Type aliases so consumers can import github.com/ghalamif/AegisPredict directly.
type (
	Config           = base.Config
	Policy           = base.Policy
	SchedulerConfig  = base.SchedulerConfig
	StateConfig      = base.StateConfig
	MachineConfig    = base.MachineConfig
	SourceConfig     = base.SourceConfig
	OPCUAConfig      = base.OPCUAConfig
	ModelsConfig     = base.ModelsConfig
	SinkConfig       = base.SinkConfig
	TimescaleConfig  = base.TimescaleConfig
	RedisConfig      = base.RedisConfig
	MetricsConfig    = base.MetricsConfig
	WALConfig        = base.WALConfig
	Plan             = base.Plan
	Runtime          = base.Runtime
	RuntimeOption    = base.RuntimeOption
	Reading          = base.Reading
	FeatureVector    = base.FeatureVector
	PredictionRecord = base.PredictionRecord
	Tick             = base.Tick
	ModelInput       = base.ModelInput
	ModelOutput      = base.ModelOutput
	Models           = base.Models
	Collector        = base.Collector
	MachineRegistry  = base.MachineRegistry
	Model            = base.Model
	Sink             = base.Sink
	RecordHandler    = base.RecordHandler
	RecordQueue      = base.RecordQueue
	QueuedRecord     = base.QueuedRecord
	WAL              = base.WAL
	WALEntryID       = base.WALEntryID
	WALStats         = base.WALStats
	Observability    = base.Observability
	Field            = base.Field
	ExternalSource   = base.ExternalSource
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// ReadLatest reads the newest stored records of one machine from the Redis sink.
func ReadLatest(ctx context.Context, cfg *Config, machineID string, n int64) ([]*PredictionRecord, error) {
	return base.ReadLatest(ctx, cfg, machineID, n)
}

// Plan builder.
func LoadPlan(path string) (*Plan, error) {
	return base.LoadPlan(path)
}

func NewPlan(cfg *Config) (*Plan, error) {
	return base.NewPlan(cfg)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithCollector(col Collector) RuntimeOption {
	return base.WithCollector(col)
}

func WithRegistry(reg MachineRegistry) RuntimeOption {
	return base.WithRegistry(reg)
}

func WithSink(s Sink) RuntimeOption {
	return base.WithSink(s)
}

func WithModels(m Models) RuntimeOption {
	return base.WithModels(m)
}

func WithWAL(w WAL) RuntimeOption {
	return base.WithWAL(w)
}

func WithRecordQueue(q RecordQueue) RuntimeOption {
	return base.WithRecordQueue(q)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

// Sink adapters.
func NewCallbackSink(name string, fn RecordHandler) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan PredictionRecord, func()) {
	return base.NewChannelSink(name, buffer)
}

// External reading source.
func NewExternalSource(maxAge time.Duration) *ExternalSource {
	return base.NewExternalSource(maxAge)
}
