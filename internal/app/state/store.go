package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ghalamif/AegisPredict/internal/domain"
)

// ErrStaleState is returned by Pending.Commit when the machine's state changed
// after the pending update was prepared.
var ErrStaleState = errors.New("rolling state changed since prepare")

const (
	DefaultHorizon      = 24 * time.Hour
	DefaultMaxSamples   = 24 * 60
	DefaultMaxGap       = 5 * time.Minute
	DefaultSequenceLen  = 10
	DefaultTrendSamples = 24
)

// Options bounds the per-machine window and controls hour accounting.
type Options struct {
	Horizon        time.Duration
	MaxSamples     int
	MaxGap         time.Duration
	SequenceLength int
	Location       *time.Location
	// BaseHours seeds total_machine_hours the first time a machine is seen.
	BaseHours func(machineID string) float64
}

func (o *Options) applyDefaults() {
	if o.Horizon <= 0 {
		o.Horizon = DefaultHorizon
	}
	if o.MaxSamples <= 0 {
		o.MaxSamples = DefaultMaxSamples
	}
	if o.MaxGap == 0 {
		o.MaxGap = DefaultMaxGap
	}
	if o.SequenceLength <= 0 {
		o.SequenceLength = DefaultSequenceLen
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
}

// machineState is never mutated once installed in the store; every update
// builds a fresh value.
type machineState struct {
	machineID     string
	window        []domain.Reading
	vectors       []domain.FeatureVector
	hoursToday    float64
	totalHours    float64
	toolWearTotal float64
	toolWearToday float64
	generation    uint64
}

// Store owns the RollingState of every machine. Updates for one machine must be
// serialized by the caller; different machines may update concurrently.
type Store struct {
	mu       sync.RWMutex
	opts     Options
	machines map[string]*machineState
}

func NewStore(opts Options) *Store {
	opts.applyDefaults()
	return &Store{
		opts:     opts,
		machines: make(map[string]*machineState),
	}
}

// Options returns the effective options after defaults.
func (s *Store) Options() Options { return s.opts }

// Update appends the reading, evicts expired entries, recomputes aggregates and
// commits the result.
func (s *Store) Update(machineID string, r domain.Reading) (Snapshot, error) {
	p, err := s.Prepare(machineID, r)
	if err != nil {
		return Snapshot{}, err
	}
	return p.Commit()
}

// Pending is a fully computed next state that has not been installed yet.
type Pending struct {
	store *Store
	base  uint64
	next  *machineState
}

// Snapshot exposes the prepared state, including the new reading.
func (p *Pending) Snapshot() Snapshot {
	return Snapshot{st: p.next, loc: p.store.opts.Location}
}

// Commit installs the prepared state. Vectors are appended to the machine's
// feature history used for sequence windows.
func (p *Pending) Commit(vectors ...domain.FeatureVector) (Snapshot, error) {
	next := p.next
	if len(vectors) > 0 {
		cp := *next
		cp.vectors = appendBounded(next.vectors, vectors, p.store.opts.SequenceLength)
		next = &cp
	}

	s := p.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var current uint64
	if cur, ok := s.machines[next.machineID]; ok {
		current = cur.generation
	}
	if current != p.base {
		return Snapshot{}, fmt.Errorf("machine %s: %w", next.machineID, ErrStaleState)
	}
	s.machines[next.machineID] = next
	return Snapshot{st: next, loc: s.opts.Location}, nil
}

// Prepare validates the reading and computes the next state without touching
// the stored one.
func (s *Store) Prepare(machineID string, r domain.Reading) (*Pending, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.MachineID != machineID {
		return nil, fmt.Errorf("%w: reading for %s routed to %s", domain.ErrInvalidReading, r.MachineID, machineID)
	}

	s.mu.RLock()
	cur := s.machines[machineID]
	s.mu.RUnlock()

	if cur == nil {
		cur = &machineState{machineID: machineID}
		if s.opts.BaseHours != nil {
			cur.totalHours = s.opts.BaseHours(machineID)
		}
	}

	if n := len(cur.window); n > 0 {
		last := cur.window[n-1].Timestamp
		if !r.Timestamp.After(last) {
			return nil, &domain.OutOfOrderReadingError{MachineID: machineID, Last: last, Got: r.Timestamp}
		}
	}

	return &Pending{
		store: s,
		base:  cur.generation,
		next:  s.advance(cur, r),
	}, nil
}

func (s *Store) advance(cur *machineState, r domain.Reading) *machineState {
	next := &machineState{
		machineID:     cur.machineID,
		vectors:       cur.vectors,
		hoursToday:    cur.hoursToday,
		totalHours:    cur.totalHours,
		toolWearTotal: cur.toolWearTotal,
		toolWearToday: cur.toolWearToday,
		generation:    cur.generation + 1,
	}

	if n := len(cur.window); n > 0 {
		prev := cur.window[n-1]
		gap := r.Timestamp.Sub(prev.Timestamp)
		if s.opts.MaxGap > 0 && gap > s.opts.MaxGap {
			gap = s.opts.MaxGap
		}

		credit := gap
		if !sameDay(prev.Timestamp, r.Timestamp, s.opts.Location) {
			next.hoursToday = 0
			next.toolWearToday = 0
			if since := r.Timestamp.Sub(startOfDay(r.Timestamp, s.opts.Location)); since < credit {
				credit = since
			}
		}
		next.hoursToday += credit.Hours()
		next.totalHours += gap.Hours()

		if delta := r.ToolUsageMin - prev.ToolUsageMin; delta > 0 {
			next.toolWearTotal += delta
			next.toolWearToday += delta
		}
	}

	next.window = s.evict(cur.window, r)
	return next
}

// evict returns a new window ending with r, bounded by horizon and sample count.
func (s *Store) evict(window []domain.Reading, r domain.Reading) []domain.Reading {
	start := 0
	for start < len(window) && r.Timestamp.Sub(window[start].Timestamp) >= s.opts.Horizon {
		start++
	}
	if keep := len(window) - start + 1; keep > s.opts.MaxSamples {
		start += keep - s.opts.MaxSamples
	}

	out := make([]domain.Reading, 0, len(window)-start+1)
	out = append(out, window[start:]...)
	return append(out, r)
}

// Snapshot returns the committed state of a machine.
func (s *Store) Snapshot(machineID string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.machines[machineID]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{st: st, loc: s.opts.Location}, true
}

// Machines lists every machine with committed state, sorted.
func (s *Store) Machines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.machines))
	for id := range s.machines {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Forget drops a machine's state.
func (s *Store) Forget(machineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.machines, machineID)
}

func appendBounded(dst, src []domain.FeatureVector, limit int) []domain.FeatureVector {
	total := len(dst) + len(src)
	skip := 0
	if total > limit {
		skip = total - limit
	}
	out := make([]domain.FeatureVector, 0, total-skip)
	for i, v := range dst {
		if i >= skip {
			out = append(out, v)
		}
	}
	for i, v := range src {
		if len(dst)+i >= skip {
			out = append(out, v)
		}
	}
	return out
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
