package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

type mockObs struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
}

func newMockObs() *mockObs {
	return &mockObs{counters: map[string]float64{}, gauges: map[string]float64{}}
}

func (m *mockObs) LogInfo(string, ...ports.Field)                              {}
func (m *mockObs) LogError(string, error, ...ports.Field)                      {}
func (m *mockObs) LogCritical(string, error, ...ports.Field)                   {}
func (m *mockObs) ObserveLatency(string, float64)                              {}
func (m *mockObs) ObserveStage(domain.Stage, domain.StageStatus, float64)      {}
func (m *mockObs) RecordDLQ(ports.WALEntryID, *domain.PredictionRecord, error) {}

func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	m.counters[name] += v
	m.mu.Unlock()
}

func (m *mockObs) SetGauge(name string, v float64) {
	m.mu.Lock()
	m.gauges[name] = v
	m.mu.Unlock()
}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// gate blocks every run until released and records what ran.
type gate struct {
	release chan struct{}
	started chan string

	mu      sync.Mutex
	running map[string]int
	maxPer  int
	total   int
	maxAll  int
	seqs    map[string][]uint64
}

func newGate() *gate {
	return &gate{
		release: make(chan struct{}),
		started: make(chan string, 64),
		running: map[string]int{},
		seqs:    map[string][]uint64{},
	}
}

func (g *gate) run(ctx context.Context, tick domain.Tick, id string) (*domain.PredictionRecord, error) {
	g.mu.Lock()
	g.running[id]++
	g.total++
	if g.running[id] > g.maxPer {
		g.maxPer = g.running[id]
	}
	if g.total > g.maxAll {
		g.maxAll = g.total
	}
	g.seqs[id] = append(g.seqs[id], tick.Seq)
	g.mu.Unlock()

	g.started <- id
	select {
	case <-g.release:
	case <-ctx.Done():
	}

	g.mu.Lock()
	g.running[id]--
	g.total--
	g.mu.Unlock()
	return &domain.PredictionRecord{MachineID: id, Timestamp: tick.FiredAt}, nil
}

func (g *gate) waitStarted(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-g.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for run %d", i+1)
		}
	}
}

func newScheduler(t *testing.T, machines []string, run RunFunc, pol ports.Policy) (*Scheduler, *mockObs) {
	t.Helper()
	obs := newMockObs()
	s, err := New(StaticRegistry(machines), run, pol, obs)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, obs
}

func TestDropPolicySkipsBusyLane(t *testing.T) {
	g := newGate()
	s, obs := newScheduler(t, []string{"CNC_001"}, g.run, ports.Policy{OverlapPolicy: ports.OverlapDrop})

	s.fire(context.Background(), time.Now())
	g.waitStarted(t, 1)
	s.fire(context.Background(), time.Now())
	s.fire(context.Background(), time.Now())

	if got := obs.counter("aegis_ticks_dropped_total"); got != 2 {
		t.Fatalf("expected 2 dropped ticks, got %v", got)
	}
	if got := obs.counter("aegis_ticks_total"); got != 1 {
		t.Fatalf("expected 1 dispatched tick, got %v", got)
	}
	close(g.release)
}

func TestQueuePolicyBuffersUpToDepth(t *testing.T) {
	g := newGate()
	s, obs := newScheduler(t, []string{"CNC_001"}, g.run, ports.Policy{OverlapPolicy: ports.OverlapQueue, QueueDepth: 2})

	for i := 0; i < 5; i++ {
		s.fire(context.Background(), time.Now())
	}
	if got := obs.counter("aegis_ticks_dropped_total"); got != 2 {
		t.Fatalf("expected 2 dropped ticks, got %v", got)
	}
	close(g.release)
	g.waitStarted(t, 3)

	g.mu.Lock()
	seqs := append([]uint64(nil), g.seqs["CNC_001"]...)
	maxPer := g.maxPer
	g.mu.Unlock()
	if len(seqs) != 3 || seqs[0] != 1 || seqs[1] != 2 || seqs[2] != 3 {
		t.Fatalf("expected ticks 1,2,3 in order, got %v", seqs)
	}
	if maxPer != 1 {
		t.Fatalf("lane ran %d ticks concurrently", maxPer)
	}
}

func TestConcurrencyCapAcrossMachines(t *testing.T) {
	g := newGate()
	machines := []string{"CNC_001", "CNC_002", "CNC_003", "CNC_004"}
	s, _ := newScheduler(t, machines, g.run, ports.Policy{Concurrency: 2})

	s.fire(context.Background(), time.Now())
	g.waitStarted(t, 2)
	select {
	case id := <-g.started:
		t.Fatalf("machine %s started beyond the concurrency cap", id)
	case <-time.After(50 * time.Millisecond):
	}
	close(g.release)
	g.waitStarted(t, 2)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.maxAll != 2 {
		t.Fatalf("expected at most 2 concurrent ticks, got %d", g.maxAll)
	}
}

func TestRunOnceIsolatesMachineFailures(t *testing.T) {
	boom := errors.New("collector offline")
	run := func(_ context.Context, _ domain.Tick, id string) (*domain.PredictionRecord, error) {
		switch id {
		case "CNC_002":
			return nil, boom
		case "CNC_003":
			panic("bad reading")
		}
		return &domain.PredictionRecord{MachineID: id}, nil
	}
	s, obs := newScheduler(t, []string{"CNC_001", "CNC_002", "CNC_003"}, run, ports.Policy{})

	res := s.RunOnce(context.Background())
	if len(res) != 3 {
		t.Fatalf("expected 3 results, got %v", res)
	}
	if res["CNC_001"] != nil {
		t.Fatalf("healthy machine failed: %v", res["CNC_001"])
	}
	if !errors.Is(res["CNC_002"], boom) {
		t.Fatalf("expected collector error, got %v", res["CNC_002"])
	}
	if res["CNC_003"] == nil {
		t.Fatalf("expected panic to surface as error")
	}
	if obs.counter("aegis_ticks_total") != 3 {
		t.Fatalf("expected 3 ticks dispatched")
	}

	again := s.RunOnce(context.Background())
	if again["CNC_001"] != nil {
		t.Fatalf("scheduler must keep working after failures: %v", again["CNC_001"])
	}
}

func TestRunFiresPeriodicallyAndStops(t *testing.T) {
	var n atomic.Int64
	run := func(context.Context, domain.Tick, string) (*domain.PredictionRecord, error) {
		n.Add(1)
		return nil, nil
	}
	obs := newMockObs()
	s, err := New(StaticRegistry{"CNC_001", "CNC_002"}, run, ports.Policy{Interval: 10 * time.Millisecond}, obs)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n.Load() < 4 {
		t.Fatalf("expected several ticks per machine, got %d runs", n.Load())
	}
	if got := s.RunOnce(context.Background()); got["CNC_001"] == nil {
		t.Fatalf("expected stopped scheduler to refuse work")
	}
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	_, err := New(StaticRegistry{"CNC_001"}, noop,
		ports.Policy{OverlapPolicy: "coalesce"}, newMockObs())
	if err == nil {
		t.Fatalf("expected invalid policy error")
	}
}

func TestTickIDsAreUnique(t *testing.T) {
	s, _ := newScheduler(t, []string{"CNC_001"}, noop, ports.Policy{})
	a := s.newTick(time.Now())
	b := s.newTick(time.Now())
	if a.ID == b.ID || b.Seq != a.Seq+1 {
		t.Fatalf("unexpected ticks %+v %+v", a, b)
	}
}

func noop(context.Context, domain.Tick, string) (*domain.PredictionRecord, error) { return nil, nil }

func TestRunMachineSharesLaneWithScheduledTicks(t *testing.T) {
	g := newGate()
	s, obs := newScheduler(t, []string{"CNC_001", "CNC_002"}, g.run, ports.Policy{OverlapPolicy: ports.OverlapDrop})

	s.fire(context.Background(), time.Now())
	g.waitStarted(t, 2)

	type out struct {
		rec *domain.PredictionRecord
		err error
	}
	manual := make(chan out, 1)
	go func() {
		rec, err := s.RunMachine(context.Background(), "CNC_001")
		manual <- out{rec, err}
	}()
	select {
	case id := <-g.started:
		t.Fatalf("manual tick for %s started while the lane was busy", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(g.release)
	g.waitStarted(t, 1)
	got := <-manual
	if got.err != nil {
		t.Fatalf("run machine: %v", got.err)
	}
	if got.rec == nil || got.rec.MachineID != "CNC_001" || got.rec.Timestamp.IsZero() {
		t.Fatalf("unexpected record %+v", got.rec)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.maxPer != 1 {
		t.Fatalf("lane ran %d ticks concurrently", g.maxPer)
	}
	if seqs := g.seqs["CNC_001"]; len(seqs) != 2 || seqs[0] >= seqs[1] {
		t.Fatalf("expected scheduled tick before manual tick, got %v", seqs)
	}
	if obs.counter("aegis_ticks_dropped_total") != 0 {
		t.Fatalf("manual tick must not be dropped")
	}
}

func TestRunMachineRespectsContext(t *testing.T) {
	g := newGate()
	s, _ := newScheduler(t, []string{"CNC_001"}, g.run, ports.Policy{})
	s.fire(context.Background(), time.Now())
	g.waitStarted(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := s.RunMachine(ctx, "CNC_001"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	close(g.release)
}
