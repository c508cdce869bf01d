package queue

import (
	"testing"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

func TestMemQueueEnqueueDequeueOrder(t *testing.T) {
	q := NewMemQueue(4)

	r1 := &domain.PredictionRecord{MachineID: "M1"}
	r2 := &domain.PredictionRecord{MachineID: "M2"}

	if !q.Enqueue(1, r1) || !q.Enqueue(2, r2) {
		t.Fatalf("expected successful enqueue")
	}

	batch := q.DequeueBatch(1)
	if len(batch) != 1 || batch[0].ID != 1 || batch[0].Record.MachineID != "M1" {
		t.Fatalf("unexpected first batch: %+v", batch)
	}

	remaining := q.DequeueBatch(10)
	if len(remaining) != 1 || remaining[0].ID != 2 {
		t.Fatalf("unexpected second batch: %+v", remaining)
	}

	if q.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", q.Len())
	}
}

func TestMemQueueCapacity(t *testing.T) {
	q := NewMemQueue(2)

	rec := &domain.PredictionRecord{MachineID: "cap"}

	if !q.Enqueue(1, rec) || !q.Enqueue(2, rec) {
		t.Fatalf("expected enqueue within capacity")
	}
	if q.Enqueue(3, rec) {
		t.Fatalf("enqueue should fail when capacity exceeded")
	}

	q.DequeueBatch(1)
	if !q.Enqueue(4, rec) {
		t.Fatalf("expected enqueue to succeed after dequeue")
	}
}

func TestMemQueueRequeueKeepsOrder(t *testing.T) {
	q := NewMemQueue(2)
	for i := 1; i <= 2; i++ {
		q.Enqueue(ports.WALEntryID(i), &domain.PredictionRecord{})
	}

	batch := q.DequeueBatch(1)
	q.Enqueue(3, &domain.PredictionRecord{})
	q.Requeue(batch)

	if q.Len() != 3 {
		t.Fatalf("expected requeue to bypass capacity, got len %d", q.Len())
	}
	got := q.DequeueBatch(0)
	for i, item := range got {
		if item.ID != ports.WALEntryID(i+1) {
			t.Fatalf("expected FIFO order after requeue, got %+v", got)
		}
	}
}
