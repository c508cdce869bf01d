package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisPredict/internal/adapters/onnx"
	"github.com/ghalamif/AegisPredict/internal/adapters/opcua"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

const (
	SourceSimulator = "simulator"
	SourceOPCUA     = "opcua"
	SourceReplay    = "replay"

	SinkTimescale = "timescale"
	SinkRedis     = "redis"
	SinkMemory    = "memory"

	RegistryStatic   = "static"
	RegistryPostgres = "postgres"

	DefaultBaseHours = 5000
)

type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	State     StateConfig     `yaml:"state"`
	Registry  RegistryConfig  `yaml:"registry"`
	Machines  []MachineConfig `yaml:"machines"`
	Source    SourceConfig    `yaml:"source"`
	Models    onnx.Config     `yaml:"models"`
	Sink      SinkConfig      `yaml:"sink"`
	WAL       WALConfig       `yaml:"wal"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type SchedulerConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Concurrency   int           `yaml:"concurrency"`
	OverlapPolicy string        `yaml:"overlap_policy"`
	QueueDepth    int           `yaml:"queue_depth"`
	StageTimeout  time.Duration `yaml:"stage_timeout"`
}

type StateConfig struct {
	Horizon        time.Duration `yaml:"horizon"`
	MaxSamples     int           `yaml:"max_samples"`
	MaxGap         time.Duration `yaml:"max_gap"`
	SequenceLength int           `yaml:"sequence_length"`
	TrendSamples   int           `yaml:"trend_samples"`
	Location       string        `yaml:"location"`
}

// RegistryConfig selects where the machine list comes from: the machines
// section, or a table of machine ids in PostgreSQL.
type RegistryConfig struct {
	Mode       string `yaml:"mode"`
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type MachineConfig struct {
	ID        string            `yaml:"id"`
	BaseHours float64           `yaml:"base_hours"`
	Nodes     map[string]string `yaml:"opcua_nodes"`
}

type SourceConfig struct {
	Mode        string       `yaml:"mode"`
	Seed        int64        `yaml:"seed"`
	AnomalyRate float64      `yaml:"anomaly_rate"`
	ReplayPath  string       `yaml:"replay_path"`
	OPCUA       opcua.Config `yaml:"opcua"`
}

type SinkConfig struct {
	Modes     []string        `yaml:"modes"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Redis     RedisConfig     `yaml:"redis"`

	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

type TimescaleConfig struct {
	ConnString   string `yaml:"conn_string"`
	Table        string `yaml:"table"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type WALConfig struct {
	Dir            string        `yaml:"dir"`
	MaxQueueLen    int           `yaml:"max_queue_len"`
	ReplayInterval time.Duration `yaml:"replay_interval"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML file, expanding ${VAR} references from the environment.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse([]byte(os.ExpandEnv(string(raw))))
}

func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = time.Minute
	}
	if c.Scheduler.OverlapPolicy == "" {
		c.Scheduler.OverlapPolicy = ports.OverlapDrop
	}
	if c.Scheduler.OverlapPolicy == ports.OverlapQueue && c.Scheduler.QueueDepth == 0 {
		c.Scheduler.QueueDepth = 4
	}
	if c.Scheduler.StageTimeout == 0 {
		c.Scheduler.StageTimeout = 5 * time.Second
	}

	if c.State.Horizon == 0 {
		c.State.Horizon = 24 * time.Hour
	}
	if c.State.MaxSamples == 0 {
		c.State.MaxSamples = 1440
	}
	if c.State.MaxGap == 0 {
		c.State.MaxGap = 5 * time.Minute
	}
	if c.State.SequenceLength == 0 {
		c.State.SequenceLength = 10
	}
	if c.State.TrendSamples == 0 {
		c.State.TrendSamples = 24
	}
	if c.State.Location == "" {
		c.State.Location = "UTC"
	}

	if c.Registry.Mode == "" {
		c.Registry.Mode = RegistryStatic
	}
	if c.Registry.Table == "" {
		c.Registry.Table = "factory"
	}
	for i := range c.Machines {
		if c.Machines[i].BaseHours == 0 {
			c.Machines[i].BaseHours = DefaultBaseHours
		}
	}

	if c.Source.Mode == "" {
		c.Source.Mode = SourceSimulator
	}
	if c.Source.Mode == SourceOPCUA {
		if c.Source.OPCUA.Machines == nil {
			c.Source.OPCUA.Machines = make(map[string]map[string]string, len(c.Machines))
		}
		for _, m := range c.Machines {
			if _, ok := c.Source.OPCUA.Machines[m.ID]; !ok && len(m.Nodes) > 0 {
				c.Source.OPCUA.Machines[m.ID] = m.Nodes
			}
		}
		c.Source.OPCUA.ApplyDefaults()
	}
	c.Models.ApplyDefaults()

	if len(c.Sink.Modes) == 0 {
		c.Sink.Modes = []string{SinkTimescale}
	}
	if c.Sink.Timescale.Table == "" {
		c.Sink.Timescale.Table = "predictions"
	}
	if c.Sink.Redis.KeyPrefix == "" {
		c.Sink.Redis.KeyPrefix = "aegis"
	}
	if c.Sink.MaxAttempts == 0 {
		c.Sink.MaxAttempts = 5
	}
	if c.Sink.BackoffInitial == 0 {
		c.Sink.BackoffInitial = 200 * time.Millisecond
	}
	if c.Sink.BackoffMax == 0 {
		c.Sink.BackoffMax = 10 * time.Second
	}
	if c.Sink.WriteTimeout == 0 {
		c.Sink.WriteTimeout = 5 * time.Second
	}

	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/dlq"
	}
	if c.WAL.MaxQueueLen == 0 {
		c.WAL.MaxQueueLen = 10_000
	}
	if c.WAL.ReplayInterval == 0 {
		c.WAL.ReplayInterval = 5 * time.Second
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func (c *Config) validate() error {
	switch c.Scheduler.OverlapPolicy {
	case ports.OverlapDrop, ports.OverlapQueue:
	default:
		return fmt.Errorf("scheduler.overlap_policy must be %q or %q, got %q", ports.OverlapDrop, ports.OverlapQueue, c.Scheduler.OverlapPolicy)
	}
	if c.Scheduler.Interval < 0 || c.Scheduler.Concurrency < 0 || c.Scheduler.QueueDepth < 0 {
		return fmt.Errorf("scheduler values must not be negative")
	}
	if c.State.SequenceLength < 1 || c.State.TrendSamples < 2 {
		return fmt.Errorf("state.sequence_length must be >= 1 and state.trend_samples >= 2")
	}
	if _, err := time.LoadLocation(c.State.Location); err != nil {
		return fmt.Errorf("state.location: %w", err)
	}

	switch c.Registry.Mode {
	case RegistryStatic:
		if len(c.Machines) == 0 {
			return fmt.Errorf("at least one machine is required")
		}
	case RegistryPostgres:
		if c.Registry.ConnString == "" {
			return fmt.Errorf("registry.conn_string is required")
		}
	default:
		return fmt.Errorf("registry.mode %q is not supported", c.Registry.Mode)
	}
	seen := make(map[string]bool, len(c.Machines))
	for _, m := range c.Machines {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("machine id must not be empty")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate machine id %q", m.ID)
		}
		seen[m.ID] = true
		if m.BaseHours < 0 {
			return fmt.Errorf("machine %s: base_hours must not be negative", m.ID)
		}
	}

	switch c.Source.Mode {
	case SourceSimulator:
		if c.Source.AnomalyRate < 0 || c.Source.AnomalyRate > 1 {
			return fmt.Errorf("source.anomaly_rate must be within [0,1]")
		}
	case SourceOPCUA:
		if err := c.Source.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	case SourceReplay:
		if c.Source.ReplayPath == "" {
			return fmt.Errorf("source.replay_path is required")
		}
	default:
		return fmt.Errorf("source.mode %q is not supported", c.Source.Mode)
	}

	if err := c.Models.Validate(); err != nil {
		return err
	}

	for _, mode := range c.Sink.Modes {
		switch mode {
		case SinkTimescale:
			if c.Sink.Timescale.ConnString == "" {
				return fmt.Errorf("sink.timescale.conn_string is required")
			}
		case SinkRedis:
			if c.Sink.Redis.Addr == "" {
				return fmt.Errorf("sink.redis.addr is required")
			}
		case SinkMemory:
		default:
			return fmt.Errorf("sink mode %q is not supported", mode)
		}
	}
	if c.Sink.MaxAttempts < 1 {
		return fmt.Errorf("sink.max_attempts must be >= 1")
	}
	if c.Sink.BackoffMax < c.Sink.BackoffInitial {
		return fmt.Errorf("sink.backoff_max must be >= sink.backoff_initial")
	}
	if c.WAL.Dir == "" {
		return fmt.Errorf("wal.dir is required")
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	return nil
}

// Policy gathers the scheduling and delivery knobs.
func (c *Config) Policy() ports.Policy {
	return ports.Policy{
		Interval:       c.Scheduler.Interval,
		Concurrency:    c.Scheduler.Concurrency,
		OverlapPolicy:  c.Scheduler.OverlapPolicy,
		QueueDepth:     c.Scheduler.QueueDepth,
		MaxAttempts:    c.Sink.MaxAttempts,
		BackoffInitial: c.Sink.BackoffInitial,
		BackoffMax:     c.Sink.BackoffMax,
		WriteTimeout:   c.Sink.WriteTimeout,
		StageTimeout:   c.Scheduler.StageTimeout,
	}
}

// Location resolves state.location; validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.State.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) MachineIDs() []string {
	ids := make([]string, 0, len(c.Machines))
	for _, m := range c.Machines {
		ids = append(ids, m.ID)
	}
	return ids
}

// BaseHours returns the configured starting machine hours, falling back to
// DefaultBaseHours for machines only known to a dynamic registry.
func (c *Config) BaseHours(machineID string) float64 {
	for _, m := range c.Machines {
		if m.ID == machineID {
			return m.BaseHours
		}
	}
	return DefaultBaseHours
}
