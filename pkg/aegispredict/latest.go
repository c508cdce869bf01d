package aegispredict

import (
	"context"
	"fmt"
	"slices"

	"github.com/ghalamif/AegisPredict/internal/adapters/sink"
	"github.com/ghalamif/AegisPredict/internal/app/config"
)

// ReadLatest returns up to n of the newest records for machineID, newest
// first, from the Redis sink configured in cfg. It does not load models or
// start a runtime.
func ReadLatest(ctx context.Context, cfg *Config, machineID string, n int64) ([]*PredictionRecord, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if machineID == "" {
		return nil, fmt.Errorf("machine id is required")
	}
	if !slices.Contains(cfg.Sink.Modes, config.SinkRedis) {
		return nil, fmt.Errorf("latest predictions need the %q sink, configured sinks: %v", config.SinkRedis, cfg.Sink.Modes)
	}

	rs, err := sink.NewRedisSink(ctx, redisSinkConfig(cfg))
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	return rs.Latest(ctx, machineID, n)
}

func redisSinkConfig(cfg *Config) sink.RedisConfig {
	rc := cfg.Sink.Redis
	return sink.RedisConfig{
		Addr:      rc.Addr,
		Password:  rc.Password,
		DB:        rc.DB,
		KeyPrefix: rc.KeyPrefix,
	}
}
