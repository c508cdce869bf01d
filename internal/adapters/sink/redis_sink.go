package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

// RedisConfig configures the Redis result sink.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisSink keeps one hash per machine, field = RFC3339 timestamp, value =
// record JSON, plus a sorted-set timeline scored by unix milliseconds.
type RedisSink struct {
	client redis.Cmdable
	closer func() error
	prefix string
}

// NewRedisSink dials Redis and verifies the connection.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis sink: %w", err)
	}
	s := NewRedisSinkWithClient(client, cfg.KeyPrefix)
	s.closer = client.Close
	return s, nil
}

// NewRedisSinkWithClient wraps an existing client without pinging it.
func NewRedisSinkWithClient(client redis.Cmdable, prefix string) *RedisSink {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "aegis"
	}
	return &RedisSink{client: client, prefix: prefix}
}

func (s *RedisSink) Name() string { return "redis" }

// Upsert writes both keys in one MULTI/EXEC. Redelivery overwrites the same
// hash field and sorted-set member, so a record lands at most once.
func (s *RedisSink) Upsert(ctx context.Context, rec *domain.PredictionRecord) error {
	if rec == nil {
		return nil
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	key := rec.Key()
	field := recordField(key)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.predictionsKey(key.MachineID), field, body)
		pipe.ZAdd(ctx, s.timelineKey(key.MachineID), redis.Z{
			Score:  float64(key.Timestamp.UnixMilli()),
			Member: field,
		})
		pipe.SAdd(ctx, s.machinesKey(), key.MachineID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert %s@%s: %w", key.MachineID, field, err)
	}
	return nil
}

// Latest returns up to n most recent records for a machine, newest first.
func (s *RedisSink) Latest(ctx context.Context, machineID string, n int64) ([]*domain.PredictionRecord, error) {
	if n <= 0 {
		n = 1
	}
	fields, err := s.client.ZRevRange(ctx, s.timelineKey(machineID), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read timeline: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	vals, err := s.client.HMGet(ctx, s.predictionsKey(machineID), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("read predictions: %w", err)
	}
	out := make([]*domain.PredictionRecord, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec domain.PredictionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode prediction: %w", err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (s *RedisSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *RedisSink) predictionsKey(machineID string) string {
	return s.prefix + ":" + machineID + ":predictions"
}

func (s *RedisSink) timelineKey(machineID string) string {
	return s.prefix + ":" + machineID + ":timeline"
}

func (s *RedisSink) machinesKey() string {
	return s.prefix + ":machines"
}

func recordField(key domain.RecordKey) string {
	return key.Timestamp.UTC().Format(time.RFC3339Nano)
}

var _ ports.Sink = (*RedisSink)(nil)
