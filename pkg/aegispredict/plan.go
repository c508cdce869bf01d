package aegispredict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ghalamif/AegisPredict/internal/adapters/sink"
	"github.com/ghalamif/AegisPredict/internal/app/scheduler"
)

// Plan describes a prediction service before it is built: where readings
// come from, which machines are polled and how often, which models run, and
// where records are written. Anything not set falls back to the config.
// Setters chain; invalid arguments are collected and reported by Build.
type Plan struct {
	cfg   *Config
	opts  []RuntimeOption
	sinks []Sink
	errs  []error
}

// LoadPlan reads the YAML config at path and starts a Plan from it.
func LoadPlan(path string) (*Plan, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewPlan(cfg)
}

// NewPlan starts a Plan from a config built in code. The Plan works on a
// copy, so cfg itself is not modified by Every.
func NewPlan(cfg *Config) (*Plan, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	c := *cfg
	return &Plan{cfg: &c}, nil
}

// Config is the configuration the Runtime will be built from.
func (p *Plan) Config() *Config {
	return p.cfg
}

// ReadFrom replaces the configured reading source.
func (p *Plan) ReadFrom(c Collector) *Plan {
	if c == nil {
		return p.fail("ReadFrom: collector is nil")
	}
	return p.with(WithCollector(c))
}

// ReadExternal takes readings pushed into src and polls the machines that
// have published to it.
func (p *Plan) ReadExternal(src *ExternalSource) *Plan {
	if src == nil {
		return p.fail("ReadExternal: source is nil")
	}
	return p.with(WithCollector(src), WithRegistry(src))
}

// Poll replaces the configured machine registry.
func (p *Plan) Poll(reg MachineRegistry) *Plan {
	if reg == nil {
		return p.fail("Poll: registry is nil")
	}
	return p.with(WithRegistry(reg))
}

// PollMachines polls a fixed list of machine ids.
func (p *Plan) PollMachines(ids ...string) *Plan {
	if len(ids) == 0 {
		return p.fail("PollMachines: no machine ids")
	}
	for _, id := range ids {
		if id == "" {
			return p.fail("PollMachines: empty machine id")
		}
	}
	return p.with(WithRegistry(scheduler.StaticRegistry(append([]string(nil), ids...))))
}

// Every sets the tick interval.
func (p *Plan) Every(d time.Duration) *Plan {
	if d <= 0 {
		return p.fail(fmt.Sprintf("Every: interval must be positive, got %s", d))
	}
	p.cfg.Scheduler.Interval = d
	return p
}

// PredictWith uses already-loaded models instead of the configured ONNX files.
func (p *Plan) PredictWith(m Models) *Plan {
	return p.with(WithModels(m))
}

// WriteTo adds a result sink. When any sink is added the configured sinks are
// not opened; several added sinks all receive every record.
func (p *Plan) WriteTo(s Sink) *Plan {
	if s == nil {
		return p.fail("WriteTo: sink is nil")
	}
	p.sinks = append(p.sinks, s)
	return p
}

// OnRecord adds a sink that hands every record to fn.
func (p *Plan) OnRecord(name string, fn RecordHandler) *Plan {
	if fn == nil {
		return p.fail("OnRecord: handler is nil")
	}
	return p.WriteTo(NewCallbackSink(name, fn))
}

// DeadLetterTo replaces the dead-letter WAL and queue. A nil argument keeps
// the default for that part.
func (p *Plan) DeadLetterTo(w WAL, q RecordQueue) *Plan {
	if w != nil {
		p.with(WithWAL(w))
	}
	if q != nil {
		p.with(WithRecordQueue(q))
	}
	return p
}

// Observe replaces the Prometheus and slog backend.
func (p *Plan) Observe(obs Observability) *Plan {
	if obs == nil {
		return p.fail("Observe: observability is nil")
	}
	return p.with(WithObservability(obs))
}

// With adds RuntimeOption values directly.
func (p *Plan) With(opts ...RuntimeOption) *Plan {
	return p.with(opts...)
}

// Build reports every invalid setter call, or builds the Runtime.
func (p *Plan) Build() (*Runtime, error) {
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	opts := append([]RuntimeOption(nil), p.opts...)
	switch len(p.sinks) {
	case 0:
	case 1:
		opts = append(opts, WithSink(p.sinks[0]))
	default:
		opts = append(opts, WithSink(sink.NewMultiSink(p.sinks...)))
	}
	return NewRuntime(p.cfg, opts...)
}

// Run builds the Runtime and blocks in Runtime.Run until ctx ends.
func (p *Plan) Run(ctx context.Context) error {
	rt, err := p.Build()
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

func (p *Plan) with(opts ...RuntimeOption) *Plan {
	for _, opt := range opts {
		if opt != nil {
			p.opts = append(p.opts, opt)
		}
	}
	return p
}

func (p *Plan) fail(msg string) *Plan {
	p.errs = append(p.errs, errors.New(msg))
	return p
}
