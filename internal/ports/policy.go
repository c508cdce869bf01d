package ports

import "time"

const (
	OverlapDrop  = "drop"
	OverlapQueue = "queue"
)

type Policy struct {
	Interval      time.Duration `yaml:"interval"`
	Concurrency   int           `yaml:"concurrency"`
	OverlapPolicy string        `yaml:"overlap_policy"` // "drop", "queue"
	QueueDepth    int           `yaml:"queue_depth"`

	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`

	StageTimeout time.Duration `yaml:"stage_timeout"`
}
