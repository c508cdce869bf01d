package sink

import (
	"context"
	"sort"
	"sync"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

// MemorySink keeps records in process, keyed by (machine, timestamp).
// The first delivery of a key wins, matching the SQL sink.
type MemorySink struct {
	mu      sync.RWMutex
	records map[domain.RecordKey]*domain.PredictionRecord
	writes  int
}

func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[domain.RecordKey]*domain.PredictionRecord)}
}

func (m *MemorySink) Name() string { return "memory" }

func (m *MemorySink) Upsert(ctx context.Context, rec *domain.PredictionRecord) error {
	if rec == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	key := rec.Key()
	if _, ok := m.records[key]; ok {
		return nil
	}
	cp := *rec
	m.records[key] = &cp
	return nil
}

// Len is the number of distinct rows.
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Writes counts Upsert calls, duplicates included.
func (m *MemorySink) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemorySink) Get(key domain.RecordKey) (*domain.PredictionRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[domain.RecordKey{MachineID: key.MachineID, Timestamp: key.Timestamp.UTC()}]
	return rec, ok
}

// Records returns one machine's rows in timestamp order.
func (m *MemorySink) Records(machineID string) []*domain.PredictionRecord {
	m.mu.RLock()
	out := make([]*domain.PredictionRecord, 0)
	for k, rec := range m.records {
		if k.MachineID == machineID {
			out = append(out, rec)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

var _ ports.Sink = (*MemorySink)(nil)
