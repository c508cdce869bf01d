package aegispredict

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghalamif/AegisPredict/internal/adapters/artifact"
	"github.com/ghalamif/AegisPredict/internal/adapters/observability"
	"github.com/ghalamif/AegisPredict/internal/adapters/onnx"
	"github.com/ghalamif/AegisPredict/internal/adapters/opcua"
	"github.com/ghalamif/AegisPredict/internal/adapters/queue"
	"github.com/ghalamif/AegisPredict/internal/adapters/registry"
	"github.com/ghalamif/AegisPredict/internal/adapters/replay"
	"github.com/ghalamif/AegisPredict/internal/adapters/simulator"
	"github.com/ghalamif/AegisPredict/internal/adapters/sink"
	"github.com/ghalamif/AegisPredict/internal/adapters/wal"
	"github.com/ghalamif/AegisPredict/internal/app/chain"
	"github.com/ghalamif/AegisPredict/internal/app/config"
	"github.com/ghalamif/AegisPredict/internal/app/features"
	"github.com/ghalamif/AegisPredict/internal/app/pipeline"
	"github.com/ghalamif/AegisPredict/internal/app/scheduler"
	"github.com/ghalamif/AegisPredict/internal/app/state"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

const (
	modelLoadTimeout = 2 * time.Minute
	defaultQueueLen  = 10_000
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	collector     Collector
	registry      MachineRegistry
	sink          Sink
	models        *Models
	wal           WAL
	queue         RecordQueue
	observability Observability
}

// WithCollector replaces the configured reading source.
func WithCollector(col Collector) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.collector = col
	}
}

// WithRegistry replaces the configured machine registry.
func WithRegistry(reg MachineRegistry) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registry = reg
	}
}

// WithSink replaces the configured result sinks; no sink connection is opened.
func WithSink(s Sink) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.sink = s
	}
}

// WithModels supplies already-loaded models and skips loading ONNX artifacts.
func WithModels(m Models) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.models = &m
	}
}

// WithWAL lets callers bring their own dead-letter WAL.
func WithWAL(w WAL) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.wal = w
	}
}

// WithRecordQueue injects a custom dead-letter queue implementation.
func WithRecordQueue(q RecordQueue) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.queue = q
	}
}

// WithObservability replaces the Prometheus/slog backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// Runtime wires collector → rolling state → features → model chain → sink,
// with the dead-letter WAL behind the sink and the scheduler driving ticks.
type Runtime struct {
	cfg       *Config
	policy    ports.Policy
	obs       ports.Observability
	collector ports.Collector
	registry  ports.MachineRegistry
	sink      ports.Sink
	wal       ports.WAL
	queue     ports.RecordQueue
	store     *state.Store
	tick      *pipeline.Tick
	dlq       *pipeline.DeadLetter
	sched     *scheduler.Scheduler

	closers    []func() error
	metricsSrv *http.Server
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewRuntime bootstraps the default adapters from cfg. Options override any
// dependency; an overridden sink or model set means the corresponding
// connections are never opened.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	rt := &Runtime{cfg: cfg, policy: cfg.Policy()}
	if err := rt.build(overrides); err != nil {
		_ = rt.closeAll()
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) build(o runtimeOverrides) error {
	cfg := r.cfg

	r.obs = o.observability
	if r.obs == nil {
		r.obs = observability.NewPromObs()
	}

	if r.wal = o.wal; r.wal == nil {
		fw, err := wal.NewFileWAL(cfg.WAL.Dir)
		if err != nil {
			return err
		}
		r.closers = append(r.closers, fw.Close)
		r.wal = fw
	}
	if r.queue = o.queue; r.queue == nil {
		capacity := cfg.WAL.MaxQueueLen
		if capacity <= 0 {
			capacity = defaultQueueLen
		}
		r.queue = queue.NewMemQueue(capacity)
	}

	var err error
	if r.collector = o.collector; r.collector == nil {
		if r.collector, err = newCollector(cfg); err != nil {
			return err
		}
	}

	if r.registry = o.registry; r.registry == nil {
		if r.registry, err = r.newRegistry(); err != nil {
			return err
		}
	}

	if r.sink = o.sink; r.sink == nil {
		if r.sink, err = r.newSink(); err != nil {
			return err
		}
	}

	var models Models
	if o.models != nil {
		models = *o.models
	} else if models, err = r.loadModels(); err != nil {
		return err
	}

	seqLen := cfg.State.SequenceLength
	if seqLen <= 0 {
		seqLen = state.DefaultSequenceLen
	}
	r.store = state.NewStore(state.Options{
		Horizon:        cfg.State.Horizon,
		MaxSamples:     cfg.State.MaxSamples,
		MaxGap:         cfg.State.MaxGap,
		SequenceLength: seqLen,
		Location:       cfg.Location(),
		BaseHours:      cfg.BaseHours,
	})
	executor, err := chain.NewExecutor(models, seqLen, cfg.Scheduler.StageTimeout, r.obs)
	if err != nil {
		return err
	}

	r.dlq = pipeline.NewDeadLetter(r.wal, r.queue, r.sink, r.policy, r.obs).
		WithReplayInterval(cfg.WAL.ReplayInterval)
	r.tick = pipeline.NewTick(r.collector, r.store, features.NewBuilder(cfg.State.TrendSamples),
		executor, r.sink, r.dlq, r.policy, r.obs)

	r.sched, err = scheduler.New(r.registry, r.tick.Run, r.policy, r.obs)
	return err
}

func newCollector(cfg *Config) (ports.Collector, error) {
	switch cfg.Source.Mode {
	case config.SourceOPCUA:
		return opcua.NewCollector(cfg.Source.OPCUA)
	case config.SourceReplay:
		return replay.Open(cfg.Source.ReplayPath)
	case config.SourceSimulator, "":
		return simulator.New(simulator.Config{
			Seed:        cfg.Source.Seed,
			AnomalyRate: cfg.Source.AnomalyRate,
		}), nil
	default:
		return nil, fmt.Errorf("source mode %q is not supported", cfg.Source.Mode)
	}
}

func (r *Runtime) newRegistry() (ports.MachineRegistry, error) {
	if r.cfg.Registry.Mode != config.RegistryPostgres {
		return scheduler.StaticRegistry(r.cfg.MachineIDs()), nil
	}
	db, err := sql.Open("postgres", r.cfg.Registry.ConnString)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, db.Close)
	return registry.NewPGRegistry(db, r.cfg.Registry.Table, r.obs), nil
}

func (r *Runtime) newSink() (ports.Sink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var sinks []ports.Sink
	for _, mode := range r.cfg.Sink.Modes {
		switch mode {
		case config.SinkTimescale:
			tc := r.cfg.Sink.Timescale
			db, err := sql.Open("postgres", tc.ConnString)
			if err != nil {
				return nil, err
			}
			r.closers = append(r.closers, db.Close)
			ts := sink.NewTimescaleSink(db, tc.Table)
			if tc.EnsureSchema {
				if err := ts.EnsureSchema(ctx); err != nil {
					return nil, fmt.Errorf("timescale schema: %w", err)
				}
			}
			sinks = append(sinks, ts)
		case config.SinkRedis:
			rs, err := sink.NewRedisSink(ctx, redisSinkConfig(r.cfg))
			if err != nil {
				return nil, err
			}
			r.closers = append(r.closers, rs.Close)
			sinks = append(sinks, rs)
		case config.SinkMemory:
			sinks = append(sinks, sink.NewMemorySink())
		default:
			return nil, fmt.Errorf("sink mode %q is not supported", mode)
		}
	}

	switch len(sinks) {
	case 0:
		return nil, fmt.Errorf("no sink configured")
	case 1:
		return sinks[0], nil
	default:
		return sink.NewMultiSink(sinks...), nil
	}
}

func (r *Runtime) loadModels() (Models, error) {
	mc := r.cfg.Models
	var client s3iface.S3API
	if mc.NeedsS3() {
		var err error
		if client, err = artifact.NewS3Client(mc.S3Region); err != nil {
			return Models{}, err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), modelLoadTimeout)
	defer cancel()
	set, err := onnx.Load(ctx, mc, artifact.NewFetcher(mc.CacheDir, client))
	if err != nil {
		return Models{}, err
	}
	r.closers = append(r.closers, set.Close)
	return Models{
		Detector:   set.Detector,
		Classifier: set.Classifier,
		Forecaster: set.Forecaster,
		Regressor:  set.Regressor,
	}, nil
}

// Start connects the collector, loads undelivered records from the WAL, and
// launches the replayer, the scheduler and the metrics server. It returns
// immediately; call Run to block on a context instead.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	if err := r.collector.Start(ctx); err != nil {
		return fmt.Errorf("start collector: %w", err)
	}
	if n, err := r.dlq.Recover(); err != nil {
		return err
	} else if n > 0 {
		r.obs.LogInfo("dead_letter_recovered", ports.Field{Key: "records", Value: n})
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.dlq.Run(runCtx)
	}()
	go func() {
		defer r.wg.Done()
		if err := r.sched.Run(runCtx); err != nil {
			r.obs.LogError("scheduler_exited", err)
		}
	}()

	r.startMetrics(runCtx)
	return nil
}

// Run starts the runtime, waits for ctx to end, then shuts down with a
// bounded grace period.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		_ = r.closeAll()
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Trigger fires one tick for every registered machine outside the schedule
// and waits for the results, keyed by machine id.
func (r *Runtime) Trigger(ctx context.Context) map[string]error {
	return r.sched.RunOnce(ctx)
}

// TriggerMachine runs one tick for a single machine on its scheduler lane and
// returns its record. It waits behind any tick already running for that machine.
func (r *Runtime) TriggerMachine(ctx context.Context, machineID string) (*PredictionRecord, error) {
	return r.sched.RunMachine(ctx, machineID)
}

// PendingDeadLetters is the number of records waiting for redelivery.
func (r *Runtime) PendingDeadLetters() int {
	return r.dlq.Pending()
}

// Shutdown stops the scheduler, replayer, collector, metrics server and every
// connection the runtime opened.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if r.cancel != nil {
		r.cancel()
	}
	done := make(chan struct{})
	go func() {
		if r.sched != nil {
			r.sched.Stop()
		}
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for in-flight ticks: %w", ctx.Err()))
	}

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if r.collector != nil {
		if err := r.collector.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Runtime) closeAll() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runtime) startMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.metricsSrv = &http.Server{
		Addr:              r.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server exited", "err", err)
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.recordResourceGauges(ctx, time.Second)
	}()
}

func (r *Runtime) recordResourceGauges(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := r.wal.Stats()
			r.obs.SetGauge("aegis_wal_size_bytes", float64(stats.SizeBytes))
			r.obs.SetGauge("aegis_dlq_queue_length", float64(r.queue.Len()))
		}
	}
}
