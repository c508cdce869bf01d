// Package simulator generates synthetic CNC readings: normal operation drawn
// from per-field gaussians, with injected anomaly episodes whose severity
// grows over the episode.
package simulator

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

const (
	toolUsageResetMin = 4000.0
	minEpisodeTicks   = 6
	maxEpisodeTicks   = 48
)

type gaussian struct {
	mean, std float64
}

var normalOperation = map[domain.Field]gaussian{
	domain.FieldVibrationRMS:      {0.8, 0.15},
	domain.FieldMotorTempC:        {65, 4},
	domain.FieldSpindleCurrentA:   {15, 1.5},
	domain.FieldRPM:               {3000, 200},
	domain.FieldCoolantTempC:      {30, 2},
	domain.FieldCuttingForceN:     {200, 15},
	domain.FieldPowerConsumptionW: {5000, 400},
	domain.FieldAcousticLevelDB:   {75, 3},
}

// AnomalyKind describes how an anomaly distorts a reading at full severity.
type AnomalyKind struct {
	Name        string
	Multipliers map[domain.Field]float64
	Progression float64
}

var AnomalyKinds = []AnomalyKind{
	{
		Name: "tool_wear",
		Multipliers: map[domain.Field]float64{
			domain.FieldVibrationRMS:    1.5,
			domain.FieldCuttingForceN:   1.3,
			domain.FieldAcousticLevelDB: 1.2,
		},
		Progression: 1.2,
	},
	{
		Name: "tool_break",
		Multipliers: map[domain.Field]float64{
			domain.FieldVibrationRMS:    2.5,
			domain.FieldCuttingForceN:   0.7,
			domain.FieldAcousticLevelDB: 1.5,
			domain.FieldSpindleCurrentA: 1.3,
		},
		Progression: 1.8,
	},
	{
		Name: "motor_overheating",
		Multipliers: map[domain.Field]float64{
			domain.FieldMotorTempC:        1.4,
			domain.FieldPowerConsumptionW: 1.2,
			domain.FieldSpindleCurrentA:   1.15,
		},
		Progression: 1.0,
	},
	{
		Name: "coolant_failure",
		Multipliers: map[domain.Field]float64{
			domain.FieldCoolantTempC: 1.5,
			domain.FieldMotorTempC:   1.2,
		},
		Progression: 1.5,
	},
	{
		Name: "power_supply_issue",
		Multipliers: map[domain.Field]float64{
			domain.FieldPowerConsumptionW: 1.3,
			domain.FieldSpindleCurrentA:   0.85,
			domain.FieldRPM:               0.9,
		},
		Progression: 0.8,
	},
}

type Config struct {
	Seed int64 `yaml:"seed"`
	// AnomalyRate is the probability that a healthy machine starts an anomaly
	// episode on a given tick.
	AnomalyRate float64 `yaml:"anomaly_rate"`
}

type episode struct {
	kind   *AnomalyKind
	length int
	pos    int
}

type machine struct {
	mu        sync.Mutex
	rng       *rand.Rand
	toolUsage float64
	last      time.Time
	active    *episode
}

// Simulator is a ports.Collector producing deterministic readings for a given
// seed and call sequence.
type Simulator struct {
	cfg      Config
	mu       sync.Mutex
	machines map[string]*machine
}

func New(cfg Config) *Simulator {
	if cfg.AnomalyRate < 0 {
		cfg.AnomalyRate = 0
	}
	if cfg.AnomalyRate > 1 {
		cfg.AnomalyRate = 1
	}
	return &Simulator{cfg: cfg, machines: make(map[string]*machine)}
}

func (s *Simulator) Start(ctx context.Context) error { return nil }

func (s *Simulator) Stop() error { return nil }

func (s *Simulator) Collect(ctx context.Context, machineID string, at time.Time) (domain.Reading, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reading{}, err
	}
	if machineID == "" {
		return domain.Reading{}, errors.New("simulator: empty machine id")
	}
	m := s.machine(machineID)

	m.mu.Lock()
	defer m.mu.Unlock()

	r := domain.Reading{MachineID: machineID, Timestamp: at}
	for _, f := range domain.RawFields() {
		if g, ok := normalOperation[f]; ok {
			r = r.WithValue(f, g.mean+g.std*m.rng.NormFloat64())
		}
	}

	if !m.last.IsZero() && at.After(m.last) {
		if m.toolUsage > toolUsageResetMin {
			m.toolUsage = 0
		} else {
			hours := at.Sub(m.last).Hours()
			m.toolUsage += (10 + 10*m.rng.Float64()) * hours
		}
	}
	if at.After(m.last) {
		m.last = at
	}
	r.ToolUsageMin = m.toolUsage

	if m.active == nil && s.cfg.AnomalyRate > 0 && m.rng.Float64() < s.cfg.AnomalyRate {
		m.active = &episode{
			kind:   &AnomalyKinds[m.rng.Intn(len(AnomalyKinds))],
			length: minEpisodeTicks + m.rng.Intn(maxEpisodeTicks-minEpisodeTicks+1),
		}
	}
	if ep := m.active; ep != nil {
		severity := float64(ep.pos)/float64(ep.length)*ep.kind.Progression + 0.05*m.rng.NormFloat64()
		severity = math.Max(0.1, math.Min(1.0, severity))
		for f, mult := range ep.kind.Multipliers {
			r = r.WithValue(f, r.Value(f)*(1+(mult-1)*severity))
		}
		ep.pos++
		if ep.pos >= ep.length {
			m.active = nil
		}
	}
	return r, nil
}

// ActiveAnomaly reports the anomaly kind currently injected for a machine.
func (s *Simulator) ActiveAnomaly(machineID string) (string, bool) {
	m := s.machine(machineID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", false
	}
	return m.active.kind.Name, true
}

func (s *Simulator) machine(id string) *machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[id]
	if !ok {
		h := fnv.New64a()
		_, _ = h.Write([]byte(id))
		m = &machine{rng: rand.New(rand.NewSource(s.cfg.Seed ^ int64(h.Sum64())))}
		s.machines[id] = m
	}
	return m
}

var _ ports.Collector = (*Simulator)(nil)
