package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
	stageLat *prometheus.HistogramVec
	stageOut *prometheus.CounterVec
}

// NewPromObs registers the metric set on the default registry and logs through slog.Default.
func NewPromObs() *PromObs {
	return NewPromObsWithRegistry(prometheus.DefaultRegisterer, slog.Default())
}

func NewPromObsWithRegistry(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if logger == nil {
		logger = slog.Default()
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	ticks := counter("aegis_ticks_total", "Machine ticks dispatched by the scheduler.")
	dropped := counter("aegis_ticks_dropped_total", "Machine ticks skipped because the machine lane was busy or full.")
	failed := counter("aegis_tick_failures_total", "Machine ticks that ended without a prediction record.")
	rejected := counter("aegis_readings_rejected_total", "Readings rejected as invalid or out of order.")
	written := counter("aegis_predictions_written_total", "Prediction records acknowledged by the result sink.")
	retries := counter("aegis_sink_retries_total", "Result sink write attempts that were retried.")
	dlq := counter("aegis_dlq_total", "Prediction records sent to the dead-letter WAL after sink retries were exhausted.")
	replayed := counter("aegis_dlq_replayed_total", "Dead-letter records delivered on replay.")

	walGauge := gauge("aegis_wal_size_bytes", "Size of the dead-letter WAL on disk.")
	queueGauge := gauge("aegis_dlq_queue_length", "Dead-letter records waiting for replay.")
	machines := gauge("aegis_machines", "Machines known to the scheduler.")

	tickLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aegis_tick_duration_seconds",
		Help:    "Time from reading collection to sink acknowledgement for one machine tick.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	sinkLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aegis_sink_latency_seconds",
		Help:    "Latency of a successful result sink upsert.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	stageLat := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_stage_latency_seconds",
		Help:    "Model inference latency per chain stage.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"stage"})
	stageOut := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_stage_outcomes_total",
		Help: "Chain stage outcomes by status.",
	}, []string{"stage", "status"})

	reg.MustRegister(ticks, dropped, failed, rejected, written, retries, dlq, replayed,
		walGauge, queueGauge, machines, tickLatency, sinkLatency, stageLat, stageOut)

	return &PromObs{
		log: logger,
		counters: map[string]prometheus.Counter{
			"aegis_ticks_total":               ticks,
			"aegis_ticks_dropped_total":       dropped,
			"aegis_tick_failures_total":       failed,
			"aegis_readings_rejected_total":   rejected,
			"aegis_predictions_written_total": written,
			"aegis_sink_retries_total":        retries,
			"aegis_dlq_total":                 dlq,
			"aegis_dlq_replayed_total":        replayed,
		},
		gauges: map[string]prometheus.Gauge{
			"aegis_wal_size_bytes":   walGauge,
			"aegis_dlq_queue_length": queueGauge,
			"aegis_machines":         machines,
		},
		histos: map[string]prometheus.Observer{
			"aegis_tick_duration_seconds": tickLatency,
			"aegis_sink_latency_seconds":  sinkLatency,
		},
		stageLat: stageLat,
		stageOut: stageOut,
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), slog.Any("error", err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), slog.Any("error", err), slog.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) ObserveStage(stage domain.Stage, status domain.StageStatus, seconds float64) {
	p.stageOut.WithLabelValues(string(stage), string(status)).Inc()
	if status == domain.StatusOK || status == domain.StatusDegraded {
		p.stageLat.WithLabelValues(string(stage)).Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDLQ(id ports.WALEntryID, rec *domain.PredictionRecord, err error) {
	p.IncCounter("aegis_dlq_total", 1)
	if rec == nil {
		return
	}
	p.log.Error("dlq_record",
		slog.Uint64("wal_id", uint64(id)),
		slog.String("machine_id", rec.MachineID),
		slog.Time("ts", rec.Timestamp),
		slog.Any("error", err),
		slog.Bool("critical", true))
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
