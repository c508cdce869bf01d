package onnx

import (
	"context"
	"errors"
	"fmt"

	"github.com/ghalamif/AegisPredict/internal/adapters/artifact"
)

// ModelConfig locates one model artifact and how to read its output.
type ModelConfig struct {
	Path      string   `yaml:"path"`
	Scaler    string   `yaml:"scaler"`
	Labels    []string `yaml:"labels"`
	Threshold float64  `yaml:"threshold"`
}

type Config struct {
	LibraryPath string      `yaml:"library_path"`
	CacheDir    string      `yaml:"cache_dir"`
	S3Region    string      `yaml:"s3_region"`
	Detector    ModelConfig `yaml:"detector"`
	Classifier  ModelConfig `yaml:"classifier"`
	Forecaster  ModelConfig `yaml:"forecaster"`
	Regressor   ModelConfig `yaml:"regressor"`
}

// DefaultLabels are the anomaly classes of the shipped classifier.
var DefaultLabels = []string{"coolant_failure", "motor_overheating", "power_supply_issue", "tool_break", "tool_wear"}

func (c *Config) ApplyDefaults() {
	if c.Detector.Threshold == 0 {
		c.Detector.Threshold = 0.5
	}
	if len(c.Classifier.Labels) == 0 {
		c.Classifier.Labels = DefaultLabels
	}
}

func (c *Config) Validate() error {
	for kind, m := range c.byKind() {
		if m.Path == "" {
			return fmt.Errorf("models.%s.path is required", kind)
		}
	}
	return nil
}

// NeedsS3 reports whether any artifact lives in S3.
func (c *Config) NeedsS3() bool {
	for _, m := range c.byKind() {
		if artifact.IsRemote(m.Path) || artifact.IsRemote(m.Scaler) {
			return true
		}
	}
	return false
}

func (c *Config) byKind() map[Kind]ModelConfig {
	return map[Kind]ModelConfig{
		KindDetector:   c.Detector,
		KindClassifier: c.Classifier,
		KindForecaster: c.Forecaster,
		KindRegressor:  c.Regressor,
	}
}

// Set holds the four loaded model handles.
type Set struct {
	Detector   *Model
	Classifier *Model
	Forecaster *Model
	Regressor  *Model
}

func (s *Set) Close() error {
	var errs []error
	for _, m := range []*Model{s.Detector, s.Classifier, s.Forecaster, s.Regressor} {
		if m != nil {
			errs = append(errs, m.Close())
		}
	}
	return errors.Join(errs...)
}

// Load initializes the runtime and opens all four models. Any failure
// releases what was opened and is returned; callers treat it as fatal.
func Load(ctx context.Context, cfg Config, fetcher *artifact.Fetcher) (*Set, error) {
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	set := &Set{}
	slots := []struct {
		kind Kind
		cfg  ModelConfig
		dst  **Model
	}{
		{KindDetector, cfg.Detector, &set.Detector},
		{KindClassifier, cfg.Classifier, &set.Classifier},
		{KindForecaster, cfg.Forecaster, &set.Forecaster},
		{KindRegressor, cfg.Regressor, &set.Regressor},
	}
	for _, slot := range slots {
		m, err := loadOne(ctx, slot.kind, slot.cfg, fetcher)
		if err != nil {
			_ = set.Close()
			return nil, fmt.Errorf("load %s model: %w", slot.kind, err)
		}
		*slot.dst = m
	}
	return set, nil
}

func loadOne(ctx context.Context, kind Kind, mc ModelConfig, fetcher *artifact.Fetcher) (*Model, error) {
	path, err := fetcher.Resolve(ctx, mc.Path)
	if err != nil {
		return nil, err
	}
	var scaler *RobustScaler
	if mc.Scaler != "" {
		sp, err := fetcher.Resolve(ctx, mc.Scaler)
		if err != nil {
			return nil, err
		}
		if scaler, err = LoadRobustScaler(sp); err != nil {
			return nil, err
		}
	}
	var labels []string
	if kind == KindClassifier {
		labels = mc.Labels
	}
	return Open(string(kind), kind, path, scaler, labels, mc.Threshold)
}
