// Package scheduler fires periodic ticks and fans them out to per-machine
// lanes. A lane runs its machine's ticks one at a time, in firing order; lanes
// of different machines run in parallel up to the concurrency cap.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

const (
	DefaultInterval = time.Minute
	manualSlots     = 4
)

// RunFunc processes one tick for one machine.
type RunFunc func(ctx context.Context, tick domain.Tick, machineID string) (*domain.PredictionRecord, error)

// StaticRegistry is a fixed machine list.
type StaticRegistry []string

func (r StaticRegistry) Machines() []string {
	out := append([]string(nil), r...)
	sort.Strings(out)
	return out
}

type item struct {
	ctx  context.Context
	tick domain.Tick
	done chan result
}

type result struct {
	rec *domain.PredictionRecord
	err error
}

type lane struct {
	id       string
	ch       chan item
	inflight atomic.Int32
	limit    int32
}

type Scheduler struct {
	registry ports.MachineRegistry
	run      RunFunc
	pol      ports.Policy
	obs      ports.Observability
	now      func() time.Time

	sem chan struct{}
	seq atomic.Uint64

	// dispatch orders tick creation with enqueueing, so every lane receives
	// ticks in FiredAt order.
	dispatch sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	lanes map[string]*lane
}

func New(registry ports.MachineRegistry, run RunFunc, pol ports.Policy, obs ports.Observability) (*Scheduler, error) {
	if registry == nil || run == nil {
		return nil, fmt.Errorf("scheduler: registry and run func are required")
	}
	if pol.Interval <= 0 {
		pol.Interval = DefaultInterval
	}
	switch pol.OverlapPolicy {
	case "":
		pol.OverlapPolicy = ports.OverlapDrop
	case ports.OverlapDrop, ports.OverlapQueue:
	default:
		return nil, fmt.Errorf("scheduler: unknown overlap policy %q", pol.OverlapPolicy)
	}
	if pol.OverlapPolicy == ports.OverlapQueue && pol.QueueDepth <= 0 {
		pol.QueueDepth = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		registry: registry,
		run:      run,
		pol:      pol,
		obs:      obs,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		lanes:    make(map[string]*lane),
	}
	if pol.Concurrency > 0 {
		s.sem = make(chan struct{}, pol.Concurrency)
	}
	return s, nil
}

// Run fires immediately and then every interval until ctx is done, then waits
// for in-flight ticks to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pol.Interval)
	defer ticker.Stop()

	s.obs.LogInfo("scheduler_started",
		ports.Field{Key: "interval", Value: s.pol.Interval.String()},
		ports.Field{Key: "overlap_policy", Value: s.pol.OverlapPolicy},
		ports.Field{Key: "concurrency", Value: s.pol.Concurrency})

	s.fire(ctx, s.now())
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			s.obs.LogInfo("scheduler_stopped")
			return nil
		case <-ticker.C:
			s.fire(ctx, s.now())
		}
	}
}

// RunOnce fires one tick for every machine, bypassing the overlap policy, and
// waits for all of them. The result maps machine id to its tick error.
func (s *Scheduler) RunOnce(ctx context.Context) map[string]error {
	machines := s.registry.Machines()
	s.obs.SetGauge("aegis_machines", float64(len(machines)))

	waits := make(map[string]chan result, len(machines))
	results := make(map[string]error, len(machines))
	s.dispatch.Lock()
	tick := s.newTick(s.now())
	for _, id := range machines {
		done, err := s.submit(ctx, id, tick)
		if err != nil {
			results[id] = err
			continue
		}
		waits[id] = done
	}
	s.dispatch.Unlock()
	for id, done := range waits {
		_, results[id] = s.wait(ctx, done)
	}
	return results
}

// RunMachine runs one tick for a single machine on that machine's lane, so it
// never overlaps a scheduled tick of the same machine. It bypasses the
// overlap policy and waits for the record.
func (s *Scheduler) RunMachine(ctx context.Context, machineID string) (*domain.PredictionRecord, error) {
	s.dispatch.Lock()
	done, err := s.submit(ctx, machineID, s.newTick(s.now()))
	s.dispatch.Unlock()
	if err != nil {
		return nil, err
	}
	return s.wait(ctx, done)
}

func (s *Scheduler) submit(ctx context.Context, id string, tick domain.Tick) (chan result, error) {
	l := s.lane(id)
	it := item{ctx: ctx, tick: tick, done: make(chan result, 1)}
	l.inflight.Add(1)
	select {
	case l.ch <- it:
		s.obs.IncCounter("aegis_ticks_total", 1)
		return it.done, nil
	case <-ctx.Done():
		l.inflight.Add(-1)
		return nil, ctx.Err()
	case <-s.ctx.Done():
		l.inflight.Add(-1)
		return nil, s.ctx.Err()
	}
}

func (s *Scheduler) wait(ctx context.Context, done chan result) (*domain.PredictionRecord, error) {
	select {
	case res := <-done:
		return res.rec, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

// Stop ends all lanes and waits for running ticks.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) fire(ctx context.Context, at time.Time) {
	machines := s.registry.Machines()
	s.obs.SetGauge("aegis_machines", float64(len(machines)))

	s.dispatch.Lock()
	defer s.dispatch.Unlock()
	if now := s.now(); now.After(at) {
		at = now
	}
	tick := s.newTick(at)

	for _, id := range machines {
		l := s.lane(id)
		if l.inflight.Add(1) > l.limit {
			l.inflight.Add(-1)
			s.obs.IncCounter("aegis_ticks_dropped_total", 1)
			s.obs.LogError("tick_dropped", fmt.Errorf("lane busy under %s policy", s.pol.OverlapPolicy),
				ports.Field{Key: "machine_id", Value: id},
				ports.Field{Key: "tick_id", Value: tick.ID},
				ports.Field{Key: "seq", Value: tick.Seq})
			continue
		}
		l.ch <- item{ctx: ctx, tick: tick}
		s.obs.IncCounter("aegis_ticks_total", 1)
	}
}

func (s *Scheduler) newTick(at time.Time) domain.Tick {
	return domain.Tick{ID: uuid.NewString(), Seq: s.seq.Add(1), FiredAt: at}
}

func (s *Scheduler) lane(id string) *lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lanes[id]; ok {
		return l
	}
	limit := int32(1)
	if s.pol.OverlapPolicy == ports.OverlapQueue {
		limit += int32(s.pol.QueueDepth)
	}
	// manual items skip the limit, so leave room for a few of them
	l := &lane{id: id, ch: make(chan item, limit+manualSlots), limit: limit}
	s.lanes[id] = l
	s.wg.Add(1)
	go s.loop(l)
	return l
}

func (s *Scheduler) loop(l *lane) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case it := <-l.ch:
			s.execute(l, it)
		}
	}
}

func (s *Scheduler) execute(l *lane, it item) {
	defer l.inflight.Add(-1)

	var rec *domain.PredictionRecord
	err := s.acquire(it.ctx)
	if err == nil {
		rec, err = s.safeRun(it.ctx, it.tick, l.id)
		s.release()
	}
	if err != nil {
		s.obs.LogError("tick_failed", err,
			ports.Field{Key: "machine_id", Value: l.id},
			ports.Field{Key: "tick_id", Value: it.tick.ID})
	}
	if it.done != nil {
		it.done <- result{rec: rec, err: err}
	}
}

func (s *Scheduler) acquire(ctx context.Context) error {
	if s.sem == nil {
		return ctx.Err()
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) release() {
	if s.sem != nil {
		<-s.sem
	}
}

func (s *Scheduler) safeRun(ctx context.Context, tick domain.Tick, machineID string) (rec *domain.PredictionRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
			s.obs.LogCritical("tick_panic", err, ports.Field{Key: "machine_id", Value: machineID})
		}
	}()
	return s.run(ctx, tick, machineID)
}
