package sink

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/ghalamif/AegisPredict/internal/domain"
)

func newRedisTestSink(t *testing.T) (*RedisSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisSink(context.Background(), RedisConfig{Addr: mr.Addr(), KeyPrefix: "test"})
	if err != nil {
		t.Fatalf("NewRedisSink returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisSinkRedeliveryKeepsOneEntry(t *testing.T) {
	s, mr := newRedisTestSink(t)
	ctx := context.Background()
	rec := sampleRecord()

	for i := 0; i < 2; i++ {
		if err := s.Upsert(ctx, rec); err != nil {
			t.Fatalf("upsert %d: %v", i+1, err)
		}
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	if n := client.HLen(ctx, "test:CNC_001:predictions").Val(); n != 1 {
		t.Fatalf("expected 1 hash field, got %d", n)
	}
	if n := client.ZCard(ctx, "test:CNC_001:timeline").Val(); n != 1 {
		t.Fatalf("expected 1 timeline member, got %d", n)
	}
	if ok, _ := mr.SIsMember("test:machines", "CNC_001"); !ok {
		t.Fatalf("expected machine to be registered in the machine set")
	}
}

func TestRedisSinkLatestNewestFirst(t *testing.T) {
	s, _ := newRedisTestSink(t)
	ctx := context.Background()

	first := sampleRecord()
	second := sampleRecord()
	second.Timestamp = first.Timestamp.Add(time.Minute)
	second.AnomalyFlag = false
	second.AnomalyType = domain.AnomalyTypeNone
	second.HealthScore = 88
	for _, rec := range []*domain.PredictionRecord{first, second} {
		if err := s.Upsert(ctx, rec); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := s.Latest(ctx, "CNC_001", 5)
	if err != nil {
		t.Fatalf("Latest returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(second.Timestamp) || got[0].HealthScore != 88 || got[0].AnomalyType != domain.AnomalyTypeNone {
		t.Fatalf("unexpected newest record %+v", got[0])
	}
	if !got[1].Timestamp.Equal(first.Timestamp) || got[1].AnomalyType != "tool_wear" {
		t.Fatalf("unexpected older record %+v", got[1])
	}
	if got[1].Features[domain.FieldRPM] != 3000 || got[1].Stages != first.Stages {
		t.Fatalf("record did not round-trip: %+v", got[1])
	}

	one, err := s.Latest(ctx, "CNC_001", 0)
	if err != nil || len(one) != 1 || !one[0].Timestamp.Equal(second.Timestamp) {
		t.Fatalf("expected only the newest record, got %v (%v)", one, err)
	}

	none, err := s.Latest(ctx, "CNC_404", 1)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no records for unknown machine, got %v (%v)", none, err)
	}
}

func TestRedisSinkUpsertSurfacesServerErrors(t *testing.T) {
	s, mr := newRedisTestSink(t)
	mr.SetError("LOADING dataset in memory")
	defer mr.SetError("")

	if err := s.Upsert(context.Background(), sampleRecord()); err == nil {
		t.Fatalf("expected error while the server refuses commands")
	}
}
