package aegispredict

import (
	"context"
	"errors"
	"testing"
	"time"
)

func sampleRecord() *PredictionRecord {
	return &PredictionRecord{
		MachineID:   "CNC_001",
		Timestamp:   time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
		AnomalyType: "none",
		HealthScore: 0.87,
	}
}

func TestNewCallbackSink(t *testing.T) {
	var received []PredictionRecord
	sink := NewCallbackSink("cb", func(_ context.Context, rec PredictionRecord) error {
		received = append(received, rec)
		return nil
	})

	input := sampleRecord()
	if err := sink.Upsert(context.Background(), input); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 record, got %d", len(received))
	}
	got := received[0]
	if got.MachineID != input.MachineID || !got.Timestamp.Equal(input.Timestamp) {
		t.Fatalf("mismatched record: %+v vs %+v", got, input)
	}

	input.HealthScore = 0.1
	if received[0].HealthScore != 0.87 {
		t.Fatalf("expected handler to receive a copy")
	}
	if sink.Name() != "cb" {
		t.Fatalf("unexpected name %q", sink.Name())
	}
}

func TestNewCallbackSinkNilHandler(t *testing.T) {
	sink := NewCallbackSink("", nil)
	if err := sink.Upsert(context.Background(), sampleRecord()); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
	if sink.Name() != "callback" {
		t.Fatalf("expected default name, got %q", sink.Name())
	}
}

func TestNewChannelSink(t *testing.T) {
	sink, ch, closeFn := NewChannelSink("chan", 1)
	defer closeFn()

	input := sampleRecord()
	errCh := make(chan error, 1)
	go func() {
		errCh <- sink.Upsert(context.Background(), input)
	}()

	var got PredictionRecord
	select {
	case got = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel record")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if got.MachineID != input.MachineID {
		t.Fatalf("unexpected record: %+v", got)
	}

	closeFn()
	if err := sink.Upsert(context.Background(), input); !errors.Is(err, ErrChannelSinkClosed) {
		t.Fatalf("expected ErrChannelSinkClosed, got %v", err)
	}
}

func TestChannelSinkHonoursContext(t *testing.T) {
	sink, _, closeFn := NewChannelSink("chan", 0)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sink.Upsert(ctx, sampleRecord()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
