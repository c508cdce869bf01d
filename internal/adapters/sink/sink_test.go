package sink

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/ghalamif/AegisPredict/internal/domain"
)

type failingSink struct {
	err   error
	calls int
}

func (f *failingSink) Name() string { return "failing" }

func (f *failingSink) Upsert(context.Context, *domain.PredictionRecord) error {
	f.calls++
	return f.err
}

func TestMemorySinkDoubleDeliveryKeepsOneRow(t *testing.T) {
	s := NewMemorySink()
	rec := sampleRecord()

	for i := 0; i < 2; i++ {
		if err := s.Upsert(context.Background(), rec); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", s.Len())
	}
	if s.Writes() != 2 {
		t.Fatalf("expected 2 writes, got %d", s.Writes())
	}

	local := rec.Timestamp.In(time.FixedZone("CET", 3600))
	got, ok := s.Get(domain.RecordKey{MachineID: rec.MachineID, Timestamp: local})
	if !ok || got.AnomalyType != "tool_wear" {
		t.Fatalf("expected stored record by zone-independent key, got %+v ok=%v", got, ok)
	}
}

func TestMemorySinkRecordsOrdered(t *testing.T) {
	s := NewMemorySink()
	base := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	for _, m := range []int{3, 1, 2} {
		rec := sampleRecord()
		rec.Timestamp = base.Add(time.Duration(m) * time.Minute)
		_ = s.Upsert(context.Background(), rec)
	}
	recs := s.Records("CNC_001")
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if !recs[i-1].Timestamp.Before(recs[i].Timestamp) {
			t.Fatalf("records not ordered: %v", recs)
		}
	}
}

func TestMultiSinkDeliversToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("down")
	bad := &failingSink{err: boom}
	good := NewMemorySink()
	m := NewMultiSink(bad, good)

	err := m.Upsert(context.Background(), sampleRecord())
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if good.Len() != 1 {
		t.Fatalf("expected healthy sink to receive record")
	}
	if bad.calls != 1 {
		t.Fatalf("expected failing sink called once, got %d", bad.calls)
	}
	if m.Name() != "multi(failing,memory)" {
		t.Fatalf("unexpected name %s", m.Name())
	}
}

func TestRedisSinkKeys(t *testing.T) {
	s := NewRedisSinkWithClient(nil, "")
	if got := s.predictionsKey("CNC_001"); got != "aegis:CNC_001:predictions" {
		t.Fatalf("unexpected predictions key %s", got)
	}
	if got := s.timelineKey("CNC_001"); got != "aegis:CNC_001:timeline" {
		t.Fatalf("unexpected timeline key %s", got)
	}
	key := domain.RecordKey{MachineID: "CNC_001", Timestamp: time.Date(2024, 3, 4, 10, 15, 0, 0, time.UTC)}
	if got := recordField(key); got != "2024-03-04T10:15:00Z" {
		t.Fatalf("unexpected field %s", got)
	}
}

func TestRedisSinkUpsertUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	s := NewRedisSinkWithClient(client, "test")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.Upsert(ctx, sampleRecord())
	if err == nil {
		t.Fatalf("expected error from unreachable redis")
	}
	if !strings.Contains(err.Error(), "redis upsert CNC_001@") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
