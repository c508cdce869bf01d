package aegispredict

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func TestExternalSourceServesLatestReadingOnce(t *testing.T) {
	src := NewExternalSource(0)
	base := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		r := Reading{MachineID: "CNC_001", Timestamp: base.Add(time.Duration(i) * time.Second), RPM: float64(1000 + i)}
		if err := src.Publish(r); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	got, err := src.Collect(context.Background(), "CNC_001", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got.RPM != 1002 {
		t.Fatalf("expected latest reading, got rpm %v", got.RPM)
	}
	if _, err := src.Collect(context.Background(), "CNC_001", base.Add(2*time.Minute)); !errors.Is(err, ErrNoFreshReading) {
		t.Fatalf("expected ErrNoFreshReading on second collect, got %v", err)
	}
	if ids := src.Machines(); len(ids) != 1 || ids[0] != "CNC_001" {
		t.Fatalf("unexpected machines %v", ids)
	}
}

func TestExternalSourceIgnoresOlderReadings(t *testing.T) {
	src := NewExternalSource(0)
	base := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	_ = src.Publish(Reading{MachineID: "M", Timestamp: base, RPM: 2})
	_ = src.Publish(Reading{MachineID: "M", Timestamp: base.Add(-time.Second), RPM: 1})

	got, err := src.Collect(context.Background(), "M", base)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got.RPM != 2 || src.Received() != 1 {
		t.Fatalf("expected older reading to be ignored, got rpm %v received %d", got.RPM, src.Received())
	}
}

func TestExternalSourceRejectsInvalidAndStale(t *testing.T) {
	src := NewExternalSource(time.Minute)
	base := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	if err := src.Publish(Reading{MachineID: "M", Timestamp: base, RPM: math.NaN()}); err == nil {
		t.Fatalf("expected invalid reading to be rejected")
	}
	if err := src.Publish(Reading{MachineID: "M", Timestamp: base}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := src.Collect(context.Background(), "M", base.Add(5*time.Minute)); !errors.Is(err, ErrNoFreshReading) {
		t.Fatalf("expected stale reading to be refused, got %v", err)
	}

	_ = src.Stop()
	if err := src.Publish(Reading{MachineID: "M", Timestamp: base.Add(time.Hour)}); !errors.Is(err, ErrSourceStopped) {
		t.Fatalf("expected ErrSourceStopped, got %v", err)
	}
}
