package queue

import (
	"sync"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

// MemQueue is a bounded in-memory FIFO of dead-letter records awaiting replay.
type MemQueue struct {
	mu   sync.Mutex
	data []ports.QueuedRecord
	cap  int
}

func NewMemQueue(capacity int) *MemQueue {
	return &MemQueue{
		data: make([]ports.QueuedRecord, 0, capacity),
		cap:  capacity,
	}
}

func (q *MemQueue) Enqueue(id ports.WALEntryID, rec *domain.PredictionRecord) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		return false
	}
	q.data = append(q.data, ports.QueuedRecord{ID: id, Record: rec})
	return true
}

func (q *MemQueue) DequeueBatch(max int) []ports.QueuedRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]ports.QueuedRecord, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

// Requeue puts items back at the head of the queue in their original order.
// They were admitted before, so capacity is not enforced.
func (q *MemQueue) Requeue(items []ports.QueuedRecord) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	data := make([]ports.QueuedRecord, 0, len(items)+len(q.data))
	data = append(data, items...)
	q.data = append(data, q.data...)
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

var _ ports.RecordQueue = (*MemQueue)(nil)
