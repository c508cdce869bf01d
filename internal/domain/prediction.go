package domain

import (
	"strconv"
	"time"
)

// Stage names one step of the model chain.
type Stage string

const (
	StageAnomalyDetection      Stage = "anomaly_detection"
	StageAnomalyClassification Stage = "anomaly_classification"
	StageMaintenanceForecast   Stage = "maintenance_forecast"
	StageHealthScore           Stage = "health_score"
)

// Stages lists the chain stages in execution order.
var Stages = []Stage{
	StageAnomalyDetection,
	StageAnomalyClassification,
	StageMaintenanceForecast,
	StageHealthScore,
}

// StageStatus is the outcome of one stage for one tick.
type StageStatus string

const (
	StatusOK                  StageStatus = "ok"
	StatusSkipped             StageStatus = "skipped"
	StatusInsufficientHistory StageStatus = "insufficient_history"
	StatusDegraded            StageStatus = "degraded"
)

// Sentinel anomaly types.
const (
	AnomalyTypeNone    = "none"
	AnomalyTypeUnknown = "unknown"
)

// StageReport records the status of each stage.
type StageReport struct {
	Detection      StageStatus `json:"detection"`
	Classification StageStatus `json:"classification"`
	Forecast       StageStatus `json:"forecast"`
	Health         StageStatus `json:"health"`
}

// Degraded reports whether any stage fell back to a degraded result.
func (s StageReport) Degraded() bool {
	return s.Detection == StatusDegraded ||
		s.Classification == StatusDegraded ||
		s.Forecast == StatusDegraded ||
		s.Health == StatusDegraded
}

// PredictionRecord is the chain output for one (machine, timestamp).
type PredictionRecord struct {
	MachineID       string        `json:"machine_id"`
	Timestamp       time.Time     `json:"ts"`
	AnomalyFlag     bool          `json:"anomaly_flag"`
	AnomalyScore    float64       `json:"anomaly_score"`
	AnomalyType     string        `json:"anomaly_type"`
	MaintenanceDays float64       `json:"maintenance_days"`
	HealthScore     float64       `json:"health_score"`
	Stages          StageReport   `json:"stages"`
	Features        FeatureVector `json:"features"`
	SchemaVersion   uint16        `json:"schema_version"`
}

// Key is the idempotency key of the record.
func (p PredictionRecord) Key() RecordKey {
	return RecordKey{MachineID: p.MachineID, Timestamp: p.Timestamp.UTC()}
}

// MaintenanceForecast renders the forecast or its sentinel.
func (p PredictionRecord) MaintenanceForecast() string {
	if p.Stages.Forecast != StatusOK {
		return string(p.Stages.Forecast)
	}
	return strconv.FormatFloat(p.MaintenanceDays, 'f', 2, 64)
}

// HasForecast reports whether MaintenanceDays carries a model value.
func (p PredictionRecord) HasForecast() bool {
	return p.Stages.Forecast == StatusOK
}

// RecordKey identifies at most one logical row in a result sink.
type RecordKey struct {
	MachineID string
	Timestamp time.Time
}

// ModelInput is what a stage hands to its model: the current vector, and the
// sequence window for sequence models.
type ModelInput struct {
	MachineID string
	Vector    FeatureVector
	Window    []FeatureVector
}

// ModelOutput is the union of what the four model kinds produce.
type ModelOutput struct {
	Flag  bool
	Score float64
	Label string
	Value float64
}
