package aegispredict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ghalamif/AegisPredict/internal/ports"
)

// ErrNoFreshReading is returned by ExternalSource.Collect when nothing was
// published for the machine since its previous tick.
var ErrNoFreshReading = errors.New("aegispredict: no fresh reading")

// ErrSourceStopped is returned when publishing to a stopped ExternalSource.
var ErrSourceStopped = errors.New("aegispredict: external source stopped")

// ExternalSource lets callers push readings (MQTT bridges, fieldbus gateways,
// batch importers) into the tick pipeline. Each tick consumes the most recent
// reading published for the machine; older unconsumed readings are superseded.
type ExternalSource struct {
	mu       sync.Mutex
	latest   map[string]Reading
	fresh    map[string]bool
	stopped  bool
	maxAge   time.Duration
	received uint64
}

// NewExternalSource returns a source. maxAge > 0 rejects readings older than
// maxAge relative to the tick time.
func NewExternalSource(maxAge time.Duration) *ExternalSource {
	return &ExternalSource{
		latest: make(map[string]Reading),
		fresh:  make(map[string]bool),
		maxAge: maxAge,
	}
}

// Publish validates and stores r as the machine's latest reading.
func (s *ExternalSource) Publish(r Reading) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSourceStopped
	}
	if prev, ok := s.latest[r.MachineID]; ok && !r.Timestamp.After(prev.Timestamp) {
		return nil
	}
	s.latest[r.MachineID] = r
	s.fresh[r.MachineID] = true
	s.received++
	return nil
}

func (s *ExternalSource) Start(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()
	return nil
}

func (s *ExternalSource) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func (s *ExternalSource) Collect(ctx context.Context, machineID string, at time.Time) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.latest[machineID]
	if !ok || !s.fresh[machineID] {
		return Reading{}, fmt.Errorf("%w for machine %s", ErrNoFreshReading, machineID)
	}
	if s.maxAge > 0 && at.Sub(r.Timestamp) > s.maxAge {
		return Reading{}, fmt.Errorf("%w for machine %s: latest is %s old", ErrNoFreshReading, machineID, at.Sub(r.Timestamp))
	}
	s.fresh[machineID] = false
	return r, nil
}

// Machines lists every machine that has published at least once, so the
// source can double as the runtime's registry.
func (s *ExternalSource) Machines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.latest))
	for id := range s.latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Received counts accepted publishes.
func (s *ExternalSource) Received() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

var (
	_ ports.Collector       = (*ExternalSource)(nil)
	_ ports.MachineRegistry = (*ExternalSource)(nil)
)
