package onnx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ghalamif/AegisPredict/internal/domain"
)

func TestDecodeDetector(t *testing.T) {
	d := decoder{kind: KindDetector, threshold: 0.5}

	out, err := d.decode(tensorOutput{values: []float64{-1}, integral: true})
	if err != nil || !out.Flag || out.Score != 1 {
		t.Fatalf("expected outlier label to flag, got %+v (%v)", out, err)
	}
	out, _ = d.decode(tensorOutput{values: []float64{1}, integral: true})
	if out.Flag {
		t.Fatalf("inlier label must not flag")
	}
	out, _ = d.decode(tensorOutput{values: []float64{0.73}})
	if !out.Flag || out.Score != 0.73 {
		t.Fatalf("expected score above threshold to flag, got %+v", out)
	}
	out, _ = d.decode(tensorOutput{values: []float64{0.2}})
	if out.Flag {
		t.Fatalf("expected score below threshold not to flag")
	}
}

func TestDecodeClassifier(t *testing.T) {
	d := decoder{kind: KindClassifier, labels: DefaultLabels}

	out, err := d.decode(tensorOutput{values: []float64{4}, integral: true})
	if err != nil || out.Label != "tool_wear" {
		t.Fatalf("expected tool_wear, got %+v (%v)", out, err)
	}
	out, err = d.decode(tensorOutput{values: []float64{0.1, 0.6, 0.1, 0.1, 0.1}})
	if err != nil || out.Label != "motor_overheating" {
		t.Fatalf("expected argmax label, got %+v (%v)", out, err)
	}
	if _, err := d.decode(tensorOutput{values: []float64{9}, integral: true}); err == nil {
		t.Fatalf("expected out-of-range class error")
	}

	bare := decoder{kind: KindClassifier}
	out, _ = bare.decode(tensorOutput{values: []float64{2}, integral: true})
	if out.Label != "2" {
		t.Fatalf("expected numeric label without label list, got %q", out.Label)
	}
}

func TestDecodeRegressorAndEmpty(t *testing.T) {
	out, err := decoder{kind: KindRegressor}.decode(tensorOutput{values: []float64{87.5}})
	if err != nil || out.Value != 87.5 {
		t.Fatalf("unexpected regressor output %+v (%v)", out, err)
	}
	if _, err := (decoder{kind: KindForecaster}).decode(tensorOutput{}); err == nil {
		t.Fatalf("expected empty output error")
	}
}

func TestFlattenShapes(t *testing.T) {
	var v domain.FeatureVector
	v[0] = 1
	in := domain.ModelInput{Vector: v, Window: []domain.FeatureVector{v, v, v}}

	if got := len(flatten(in, KindDetector, nil)); got != domain.FeatureCount {
		t.Fatalf("expected single vector input, got %d values", got)
	}
	if got := len(flatten(in, KindForecaster, nil)); got != 3*domain.FeatureCount {
		t.Fatalf("expected window input, got %d values", got)
	}
}

func TestRobustScaler(t *testing.T) {
	dir := t.TempDir()
	center := make([]string, domain.FeatureCount)
	scale := make([]string, domain.FeatureCount)
	for i := range center {
		center[i] = "1"
		scale[i] = "2"
	}
	scale[1] = "0"
	body := `{"center":[` + strings.Join(center, ",") + `],"scale":[` + strings.Join(scale, ",") + `]}`
	path := filepath.Join(dir, "scaler.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := LoadRobustScaler(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var v domain.FeatureVector
	v[0], v[1] = 5, 5
	got := s.Apply(v)
	if got[0] != 2 || got[1] != 4 || got[2] != -0.5 {
		t.Fatalf("unexpected scaled vector %v", got[:3])
	}

	bad := filepath.Join(dir, "bad.json")
	_ = os.WriteFile(bad, []byte(`{"center":[1],"scale":[1]}`), 0o644)
	if _, err := LoadRobustScaler(bad); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	cfg := Config{Detector: ModelConfig{Path: "s3://models/anomaly.onnx"}}
	cfg.ApplyDefaults()
	if cfg.Detector.Threshold != 0.5 || len(cfg.Classifier.Labels) != len(DefaultLabels) {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing model paths")
	}
	if !cfg.NeedsS3() {
		t.Fatalf("expected s3 detection")
	}
	if (Kind("svm")).Valid() {
		t.Fatalf("unexpected kind accepted")
	}
}
