package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

// Models holds one handle per stage. All four are required.
type Models struct {
	Detector   ports.Model
	Classifier ports.Model
	Forecaster ports.Model
	Regressor  ports.Model
}

func (m Models) validate() error {
	switch {
	case m.Detector == nil:
		return errors.New("anomaly detector model is required")
	case m.Classifier == nil:
		return errors.New("anomaly classifier model is required")
	case m.Forecaster == nil:
		return errors.New("maintenance forecaster model is required")
	case m.Regressor == nil:
		return errors.New("health regressor model is required")
	}
	return nil
}

// Executor runs the four-stage chain for one machine tick.
type Executor struct {
	models       Models
	seqLen       int
	stageTimeout time.Duration
	obs          ports.Observability
}

// NewExecutor wires the chain. seqLen is the forecaster's training horizon.
func NewExecutor(models Models, seqLen int, stageTimeout time.Duration, obs ports.Observability) (*Executor, error) {
	if err := models.validate(); err != nil {
		return nil, err
	}
	if seqLen <= 0 {
		return nil, fmt.Errorf("sequence length must be > 0, got %d", seqLen)
	}
	if obs == nil {
		return nil, errors.New("observability is required")
	}
	return &Executor{models: models, seqLen: seqLen, stageTimeout: stageTimeout, obs: obs}, nil
}

// SequenceLength is the number of vectors the forecaster consumes.
func (e *Executor) SequenceLength() int { return e.seqLen }

// Execute runs detection, conditional classification, the forecast once the
// window is full, and the health score. A failing stage degrades only itself.
// The only error returned is cancellation of ctx, in which case no record is
// produced.
func (e *Executor) Execute(ctx context.Context, machineID string, ts time.Time, vec domain.FeatureVector, window []domain.FeatureVector) (*domain.PredictionRecord, error) {
	rec := &domain.PredictionRecord{
		MachineID:     machineID,
		Timestamp:     ts,
		AnomalyType:   domain.AnomalyTypeNone,
		Features:      vec,
		SchemaVersion: domain.FeatureSchemaVersion,
	}
	in := domain.ModelInput{MachineID: machineID, Vector: vec}

	// Stage 1: anomaly detection.
	out, err := e.invoke(ctx, domain.StageAnomalyDetection, e.models.Detector, in)
	if err := cancelled(ctx, err); err != nil {
		return nil, err
	}
	if err != nil {
		// the flag stays false, so the type stays "none"
		rec.Stages.Detection = domain.StatusDegraded
	} else {
		rec.Stages.Detection = domain.StatusOK
		rec.AnomalyFlag = out.Flag
		rec.AnomalyScore = out.Score
	}

	// Stage 2: classification, only for flagged vectors.
	switch {
	case rec.Stages.Detection == domain.StatusDegraded || !rec.AnomalyFlag:
		rec.Stages.Classification = domain.StatusSkipped
	default:
		out, err := e.invoke(ctx, domain.StageAnomalyClassification, e.models.Classifier, in)
		if err := cancelled(ctx, err); err != nil {
			return nil, err
		}
		if err == nil && out.Label == "" {
			err = e.fail(domain.StageAnomalyClassification, machineID, errors.New("empty label"))
		}
		if err != nil {
			rec.Stages.Classification = domain.StatusDegraded
			rec.AnomalyType = domain.AnomalyTypeUnknown
		} else {
			rec.Stages.Classification = domain.StatusOK
			rec.AnomalyType = out.Label
		}
	}

	// Stage 3: maintenance forecast over the sequence window.
	if len(window) < e.seqLen {
		rec.Stages.Forecast = domain.StatusInsufficientHistory
		e.obs.ObserveStage(domain.StageMaintenanceForecast, domain.StatusInsufficientHistory, 0)
	} else {
		seq := in
		seq.Window = window[len(window)-e.seqLen:]
		out, err := e.invoke(ctx, domain.StageMaintenanceForecast, e.models.Forecaster, seq)
		if err := cancelled(ctx, err); err != nil {
			return nil, err
		}
		if err != nil {
			rec.Stages.Forecast = domain.StatusDegraded
		} else {
			rec.Stages.Forecast = domain.StatusOK
			rec.MaintenanceDays = out.Value
		}
	}

	// Stage 4: health score, always invoked.
	out, err = e.invoke(ctx, domain.StageHealthScore, e.models.Regressor, in)
	if err := cancelled(ctx, err); err != nil {
		return nil, err
	}
	if err != nil {
		rec.Stages.Health = domain.StatusDegraded
	} else {
		rec.Stages.Health = domain.StatusOK
		rec.HealthScore = out.Value
	}

	return rec, nil
}

type result struct {
	out domain.ModelOutput
	err error
}

// invoke calls one model with the stage timeout, converting errors, panics and
// non-finite outputs into *domain.ModelInferenceError.
func (e *Executor) invoke(ctx context.Context, stage domain.Stage, m ports.Model, in domain.ModelInput) (domain.ModelOutput, error) {
	if err := ctx.Err(); err != nil {
		return domain.ModelOutput{}, err
	}

	callCtx := ctx
	if e.stageTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.stageTimeout)
		defer cancel()
	}

	start := time.Now()
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		out, err := m.Predict(callCtx, in)
		ch <- result{out: out, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-callCtx.Done():
		res = result{err: callCtx.Err()}
	}
	elapsed := time.Since(start).Seconds()

	if ctx.Err() != nil {
		return domain.ModelOutput{}, ctx.Err()
	}
	if res.err == nil {
		res.err = checkFinite(res.out)
	}
	if res.err != nil {
		err := e.fail(stage, in.MachineID, fmt.Errorf("%s: %w", m.Name(), res.err))
		e.obs.ObserveStage(stage, domain.StatusDegraded, elapsed)
		return domain.ModelOutput{}, err
	}
	e.obs.ObserveStage(stage, domain.StatusOK, elapsed)
	return res.out, nil
}

func (e *Executor) fail(stage domain.Stage, machineID string, cause error) error {
	err := &domain.ModelInferenceError{Stage: stage, MachineID: machineID, Cause: cause}
	e.obs.LogError("model_inference_failed", err,
		ports.Field{Key: "stage", Value: string(stage)},
		ports.Field{Key: "machine_id", Value: machineID})
	return err
}

// cancelled reports the tick's own cancellation; stage timeouts are not cancellation.
func cancelled(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return nil
	}
	return ctx.Err()
}

func checkFinite(out domain.ModelOutput) error {
	for _, v := range []float64{out.Score, out.Value} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite model output %v", v)
		}
	}
	return nil
}
