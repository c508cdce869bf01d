package onnx

import (
	"fmt"
	"math"
	"strconv"

	"github.com/ghalamif/AegisPredict/internal/domain"
)

// Kind selects how a model's input is shaped and its output interpreted.
type Kind string

const (
	KindDetector   Kind = "detector"
	KindClassifier Kind = "classifier"
	KindForecaster Kind = "forecaster"
	KindRegressor  Kind = "regressor"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDetector, KindClassifier, KindForecaster, KindRegressor:
		return true
	}
	return false
}

// tensorOutput is the first output tensor flattened to float64. integral is
// set when the tensor held integers (class labels).
type tensorOutput struct {
	values   []float64
	integral bool
}

type decoder struct {
	kind      Kind
	labels    []string
	threshold float64
}

func (d decoder) decode(out tensorOutput) (domain.ModelOutput, error) {
	if len(out.values) == 0 {
		return domain.ModelOutput{}, fmt.Errorf("%s: empty output", d.kind)
	}
	switch d.kind {
	case KindDetector:
		return d.detect(out), nil
	case KindClassifier:
		label, err := d.classify(out)
		if err != nil {
			return domain.ModelOutput{}, err
		}
		return domain.ModelOutput{Label: label}, nil
	default:
		return domain.ModelOutput{Value: out.values[0]}, nil
	}
}

// detect treats integer output as an isolation-forest prediction (-1 is an
// outlier) and float output as an anomaly score compared to the threshold.
func (d decoder) detect(out tensorOutput) domain.ModelOutput {
	v := out.values[0]
	if out.integral {
		if v == -1 {
			return domain.ModelOutput{Flag: true, Score: 1}
		}
		return domain.ModelOutput{Flag: false, Score: 0}
	}
	return domain.ModelOutput{Flag: v >= d.threshold, Score: v}
}

func (d decoder) classify(out tensorOutput) (string, error) {
	idx := 0
	switch {
	case out.integral || len(out.values) == 1:
		idx = int(math.Round(out.values[0]))
	default:
		for i, p := range out.values {
			if p > out.values[idx] {
				idx = i
			}
		}
	}
	if len(d.labels) == 0 {
		return strconv.Itoa(idx), nil
	}
	if idx < 0 || idx >= len(d.labels) {
		return "", fmt.Errorf("classifier: class index %d outside %d labels", idx, len(d.labels))
	}
	return d.labels[idx], nil
}

// flatten lays the model input out row-major as float32. Sequence models get
// the window, every other kind the current vector.
func flatten(in domain.ModelInput, kind Kind, scaler *RobustScaler) []float32 {
	if kind != KindForecaster {
		return scaler.Apply(in.Vector).Float32()
	}
	out := make([]float32, 0, len(in.Window)*domain.FeatureCount)
	for _, v := range in.Window {
		out = append(out, scaler.Apply(v).Float32()...)
	}
	return out
}
