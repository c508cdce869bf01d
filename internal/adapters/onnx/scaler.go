package onnx

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ghalamif/AegisPredict/internal/domain"
)

// RobustScaler holds per-feature median and IQR as exported by sklearn's
// RobustScaler ({"center": [...], "scale": [...]}).
type RobustScaler struct {
	Center []float64 `json:"center"`
	Scale  []float64 `json:"scale"`
}

func LoadRobustScaler(path string) (*RobustScaler, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaler: %w", err)
	}
	var s RobustScaler
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse scaler %s: %w", path, err)
	}
	if len(s.Center) != domain.FeatureCount || len(s.Scale) != domain.FeatureCount {
		return nil, fmt.Errorf("scaler %s: expected %d center/scale values, got %d/%d",
			path, domain.FeatureCount, len(s.Center), len(s.Scale))
	}
	return &s, nil
}

// Apply scales v. A zero IQR only centers the feature.
func (s *RobustScaler) Apply(v domain.FeatureVector) domain.FeatureVector {
	if s == nil {
		return v
	}
	var out domain.FeatureVector
	for i, x := range v {
		if s.Scale[i] != 0 {
			out[i] = (x - s.Center[i]) / s.Scale[i]
		} else {
			out[i] = x - s.Center[i]
		}
	}
	return out
}
