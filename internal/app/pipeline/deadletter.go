package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

// DeadLetter holds records whose sink writes exhausted their retries. Records
// are appended to the WAL first, queued for replay, and the WAL is committed
// as the replayer delivers them in order.
type DeadLetter struct {
	wal  ports.WAL
	q    ports.RecordQueue
	sink ports.Sink
	pol  ports.Policy
	obs  ports.Observability

	batch int
	idle  time.Duration

	mu sync.Mutex
	// overflowFrom is the first WAL id that did not fit in the queue; nothing
	// at or after it may be committed until it has been re-read from the WAL.
	overflowFrom ports.WALEntryID
}

func NewDeadLetter(wal ports.WAL, q ports.RecordQueue, sink ports.Sink, pol ports.Policy, obs ports.Observability) *DeadLetter {
	return &DeadLetter{
		wal:   wal,
		q:     q,
		sink:  sink,
		pol:   pol,
		obs:   obs,
		batch: 64,
		idle:  time.Second,
	}
}

// WithReplayInterval sets how long the replayer idles when the queue is empty
// or the sink is still failing.
func (d *DeadLetter) WithReplayInterval(idle time.Duration) *DeadLetter {
	if idle > 0 {
		d.idle = idle
	}
	return d
}

// Put durably stores rec. The queue is best effort; a record that does not fit
// is picked up again from the WAL.
func (d *DeadLetter) Put(rec *domain.PredictionRecord, cause error) (ports.WALEntryID, error) {
	d.mu.Lock()
	id, err := d.wal.Append(rec)
	if err != nil {
		d.mu.Unlock()
		d.obs.LogCritical("dlq_wal_append_failed", err,
			ports.Field{Key: "machine_id", Value: rec.MachineID},
			ports.Field{Key: "ts", Value: rec.Timestamp})
		return 0, fmt.Errorf("dead-letter append: %w", err)
	}
	if d.overflowFrom != 0 || !d.q.Enqueue(id, rec) {
		if d.overflowFrom == 0 {
			d.overflowFrom = id
			d.obs.LogError("dlq_queue_full", fmt.Errorf("record %d left in WAL for later replay", id))
		}
	}
	d.mu.Unlock()

	d.obs.RecordDLQ(id, rec, cause)
	d.updateGauges()
	return id, nil
}

// Recover re-queues every uncommitted WAL entry. Called once at startup
// before the replayer runs.
func (d *DeadLetter) Recover() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	from := d.wal.Stats().OldestUncommitted
	n, err := d.loadLocked(from)
	d.updateGauges()
	return n, err
}

func (d *DeadLetter) loadLocked(from ports.WALEntryID) (int, error) {
	d.overflowFrom = 0
	n := 0
	err := d.wal.Iterate(from, func(id ports.WALEntryID, rec *domain.PredictionRecord) error {
		if d.overflowFrom != 0 {
			return nil
		}
		if !d.q.Enqueue(id, rec) {
			d.overflowFrom = id
			return nil
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("dead-letter recover: %w", err)
	}
	return n, nil
}

// Run redelivers queued records until ctx is done.
func (d *DeadLetter) Run(ctx context.Context) {
	for {
		delivered, err := d.ReplayOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if delivered > 0 && err == nil {
			continue
		}
		t := time.NewTimer(d.idle)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// ReplayOnce delivers one batch in WAL order and stops at the first failure,
// putting the undelivered rest back at the head of the queue.
func (d *DeadLetter) ReplayOnce(ctx context.Context) (int, error) {
	batch := d.q.DequeueBatch(d.batch)
	if len(batch) == 0 {
		d.mu.Lock()
		from := d.overflowFrom
		if from != 0 {
			_, err := d.loadLocked(from)
			d.mu.Unlock()
			return 0, err
		}
		d.mu.Unlock()
		return 0, nil
	}

	var (
		delivered int
		lastID    ports.WALEntryID
		failErr   error
	)
	for i, item := range batch {
		if err := d.upsert(ctx, item.Record); err != nil {
			d.q.Requeue(batch[i:])
			d.obs.LogError("dlq_replay_failed", err,
				ports.Field{Key: "wal_id", Value: uint64(item.ID)},
				ports.Field{Key: "machine_id", Value: item.Record.MachineID})
			failErr = err
			break
		}
		delivered++
		lastID = item.ID
	}

	if delivered > 0 {
		d.obs.IncCounter("aegis_dlq_replayed_total", float64(delivered))
		d.commit(lastID)
	}
	d.updateGauges()
	return delivered, failErr
}

func (d *DeadLetter) upsert(ctx context.Context, rec *domain.PredictionRecord) error {
	timeout := d.pol.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.sink.Upsert(wctx, rec)
}

func (d *DeadLetter) commit(upto ports.WALEntryID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.overflowFrom != 0 && upto >= d.overflowFrom {
		upto = d.overflowFrom - 1
	}
	if upto == 0 {
		return
	}
	if err := d.wal.Commit(upto); err != nil {
		d.obs.LogError("dlq_wal_commit_failed", err)
		return
	}
	stats := d.wal.Stats()
	if stats.OldestUncommitted > stats.LatestAppended && stats.SizeBytes > 0 {
		if err := d.wal.TruncateCommitted(); err != nil {
			d.obs.LogError("dlq_wal_truncate_failed", err)
		}
	}
}

// Pending is the number of records waiting for redelivery.
func (d *DeadLetter) Pending() int {
	stats := d.wal.Stats()
	if stats.LatestAppended == 0 || stats.LatestAppended < stats.OldestUncommitted {
		return 0
	}
	return int(stats.LatestAppended - stats.OldestUncommitted + 1)
}

func (d *DeadLetter) updateGauges() {
	d.obs.SetGauge("aegis_dlq_queue_length", float64(d.q.Len()))
	d.obs.SetGauge("aegis_wal_size_bytes", float64(d.wal.Stats().SizeBytes))
}
