package simulator

import (
	"context"
	"testing"
	"time"
)

func collectSeries(t *testing.T, s *Simulator, machine string, n int) []float64 {
	t.Helper()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var out []float64
	for i := 0; i < n; i++ {
		r, err := s.Collect(context.Background(), machine, base.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatalf("collect %d: %v", i, err)
		}
		if err := r.Validate(); err != nil {
			t.Fatalf("reading %d invalid: %v", i, err)
		}
		out = append(out, r.VibrationRMS, r.ToolUsageMin)
	}
	return out
}

func TestSimulatorDeterministicPerSeed(t *testing.T) {
	a := collectSeries(t, New(Config{Seed: 42, AnomalyRate: 0.2}), "CNC_001", 50)
	b := collectSeries(t, New(Config{Seed: 42, AnomalyRate: 0.2}), "CNC_001", 50)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("series diverged at %d: %v vs %v", i, a[i], b[i])
		}
	}

	c := collectSeries(t, New(Config{Seed: 42, AnomalyRate: 0.2}), "CNC_002", 50)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("expected machines to get independent streams")
	}
}

func TestSimulatorToolUsageGrowsAndResets(t *testing.T) {
	s := New(Config{Seed: 1})
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	first, _ := s.Collect(context.Background(), "CNC_001", base)
	if first.ToolUsageMin != 0 {
		t.Fatalf("expected fresh tool, got %v", first.ToolUsageMin)
	}

	prev := 0.0
	reset := false
	for i := 1; i < 400; i++ {
		r, _ := s.Collect(context.Background(), "CNC_001", base.Add(time.Duration(i)*time.Hour))
		if r.ToolUsageMin < prev {
			if r.ToolUsageMin != 0 || prev <= toolUsageResetMin {
				t.Fatalf("unexpected tool usage drop %v -> %v", prev, r.ToolUsageMin)
			}
			reset = true
		} else if d := r.ToolUsageMin - prev; d < 10 || d > 20 {
			t.Fatalf("hourly tool usage increment out of range: %v", d)
		}
		prev = r.ToolUsageMin
	}
	if !reset {
		t.Fatalf("expected a tool change within 400 hours")
	}
}

func TestSimulatorAnomalyEpisodeDistortsReadings(t *testing.T) {
	s := New(Config{Seed: 7, AnomalyRate: 1})
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.Collect(context.Background(), "CNC_001", base); err != nil {
		t.Fatalf("collect: %v", err)
	}
	kind, ok := s.ActiveAnomaly("CNC_001")
	if !ok {
		t.Fatalf("expected an active anomaly with rate 1")
	}
	found := false
	for _, k := range AnomalyKinds {
		if k.Name == kind {
			found = true
		}
	}
	if !found {
		t.Fatalf("unknown anomaly kind %q", kind)
	}
}

func TestSimulatorNoAnomaliesWithZeroRate(t *testing.T) {
	s := New(Config{Seed: 7})
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		_, _ = s.Collect(context.Background(), "CNC_001", base.Add(time.Duration(i)*time.Minute))
		if _, ok := s.ActiveAnomaly("CNC_001"); ok {
			t.Fatalf("unexpected anomaly at tick %d", i)
		}
	}
}

func TestSimulatorCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(Config{}).Collect(ctx, "CNC_001", time.Now()); err == nil {
		t.Fatalf("expected context error")
	}
}
