// Package pipeline runs one machine's tick end to end: collect a reading,
// prepare the rolling state, build the feature vector, execute the model chain,
// commit the state, and persist the record, dead-lettering it when the sink
// keeps failing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ghalamif/AegisPredict/internal/app/chain"
	"github.com/ghalamif/AegisPredict/internal/app/features"
	"github.com/ghalamif/AegisPredict/internal/app/state"
	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

type Tick struct {
	collector ports.Collector
	store     *state.Store
	builder   *features.Builder
	executor  *chain.Executor
	sink      ports.Sink
	dlq       *DeadLetter
	pol       ports.Policy
	obs       ports.Observability

	sleep func(ctx context.Context, d time.Duration) error
}

func NewTick(collector ports.Collector, store *state.Store, builder *features.Builder, executor *chain.Executor,
	sink ports.Sink, dlq *DeadLetter, pol ports.Policy, obs ports.Observability) *Tick {
	return &Tick{
		collector: collector,
		store:     store,
		builder:   builder,
		executor:  executor,
		sink:      sink,
		dlq:       dlq,
		pol:       pol,
		obs:       obs,
		sleep:     sleepCtx,
	}
}

// Run processes one tick for one machine. It returns the persisted record, or
// the record together with a *domain.SinkWriteError when every write attempt
// failed and the record went to the dead-letter WAL. On any earlier failure
// no record exists and the rolling state is unchanged.
func (t *Tick) Run(ctx context.Context, tick domain.Tick, machineID string) (*domain.PredictionRecord, error) {
	start := time.Now()
	fields := []ports.Field{
		{Key: "machine_id", Value: machineID},
		{Key: "tick_id", Value: tick.ID},
	}

	reading, err := t.collector.Collect(ctx, machineID, tick.FiredAt)
	if err != nil {
		t.obs.IncCounter("aegis_tick_failures_total", 1)
		t.obs.LogError("collect_failed", err, fields...)
		return nil, fmt.Errorf("collect %s: %w", machineID, err)
	}

	pending, err := t.store.Prepare(machineID, reading)
	if err != nil {
		t.obs.IncCounter("aegis_tick_failures_total", 1)
		if errors.Is(err, domain.ErrOutOfOrderReading) || errors.Is(err, domain.ErrInvalidReading) {
			t.obs.IncCounter("aegis_readings_rejected_total", 1)
		}
		t.obs.LogError("reading_rejected", err, fields...)
		return nil, err
	}

	snap := pending.Snapshot()
	vec := t.builder.Build(reading, snap)
	window := snap.SequenceWindow(vec, t.executor.SequenceLength())

	rec, err := t.executor.Execute(ctx, machineID, reading.Timestamp, vec, window)
	if err != nil {
		t.obs.IncCounter("aegis_tick_failures_total", 1)
		return nil, fmt.Errorf("tick %s for %s: %w", tick.ID, machineID, err)
	}
	if err := ctx.Err(); err != nil {
		t.obs.IncCounter("aegis_tick_failures_total", 1)
		return nil, err
	}

	if _, err := pending.Commit(vec); err != nil {
		t.obs.IncCounter("aegis_tick_failures_total", 1)
		t.obs.LogError("state_commit_failed", err, fields...)
		return nil, err
	}
	if rec.Stages.Degraded() {
		t.obs.LogInfo("prediction_degraded", append(fields,
			ports.Field{Key: "stages", Value: rec.Stages})...)
	}

	if err := t.persist(ctx, rec); err != nil {
		t.obs.IncCounter("aegis_tick_failures_total", 1)
		return rec, err
	}
	t.obs.ObserveLatency("aegis_tick_duration_seconds", time.Since(start).Seconds())
	return rec, nil
}

// persist writes the complete record even if ctx is cancelled meanwhile:
// attempts use a context detached from ctx and bounded by the write timeout.
// Cancellation of ctx only stops further backoff waits.
func (t *Tick) persist(ctx context.Context, rec *domain.PredictionRecord) error {
	attempts := t.pol.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	timeout := t.pol.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	detached := context.WithoutCancel(ctx)

	var (
		lastErr error
		tried   int
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			t.obs.IncCounter("aegis_sink_retries_total", 1)
			if err := t.sleep(ctx, backoffDelay(t.pol.BackoffInitial, t.pol.BackoffMax, attempt-1)); err != nil {
				break
			}
		}
		tried = attempt

		wctx, cancel := context.WithTimeout(detached, timeout)
		start := time.Now()
		err := t.sink.Upsert(wctx, rec)
		cancel()
		if err == nil {
			t.obs.ObserveLatency("aegis_sink_latency_seconds", time.Since(start).Seconds())
			t.obs.IncCounter("aegis_predictions_written_total", 1)
			return nil
		}
		lastErr = err
		t.obs.LogError("sink_write_failed", err,
			ports.Field{Key: "machine_id", Value: rec.MachineID},
			ports.Field{Key: "attempt", Value: attempt})
	}

	werr := &domain.SinkWriteError{Key: rec.Key(), Attempts: tried, Cause: lastErr}
	if t.dlq == nil {
		t.obs.LogCritical("sink_write_exhausted", werr)
		return werr
	}
	if _, err := t.dlq.Put(rec, werr); err != nil {
		return errors.Join(werr, err)
	}
	t.obs.LogCritical("sink_write_dead_lettered", werr,
		ports.Field{Key: "machine_id", Value: rec.MachineID},
		ports.Field{Key: "ts", Value: rec.Timestamp})
	return werr
}

// backoffDelay doubles initial per retry, capped at maxDelay.
func backoffDelay(initial, maxDelay time.Duration, retry int) time.Duration {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	d := initial
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
