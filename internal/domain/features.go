package domain

// FeatureSchemaVersion must be bumped together with a re-export of all four models
// whenever FeatureNames changes.
const FeatureSchemaVersion uint16 = 1

// FeatureCount is the fixed dimension of a FeatureVector.
const FeatureCount = 20

// Positions of the derived features. The first RawFieldCount slots hold the raw
// fields in Field order.
const (
	FeatVibrationTrend = RawFieldCount + iota
	FeatMotorTempTrend
	FeatPowerEfficiency
	FeatToolWearRate
	FeatVibrationStd24h
	FeatTempRateChange
	FeatCurrentStability
	FeatHour
	FeatDayOfWeek
	FeatMachineHoursToday
	FeatTotalMachineHours
)

// FeatureNames is the canonical, versioned order consumed by every model.
var FeatureNames = [FeatureCount]string{
	"vibration_rms",
	"motor_temp_C",
	"spindle_current_A",
	"rpm",
	"tool_usage_min",
	"coolant_temp_C",
	"cutting_force_N",
	"power_consumption_W",
	"acoustic_level_dB",
	"vibration_trend",
	"motor_temp_trend",
	"power_efficiency",
	"tool_wear_rate",
	"vibration_std_24h",
	"temp_rate_change",
	"current_stability",
	"hour",
	"day_of_week",
	"machine_hours_today",
	"total_machine_hours",
}

// FeatureVector is the fixed-order model input for one machine at one tick.
type FeatureVector [FeatureCount]float64

// Float32 converts the vector for tensor-based runtimes.
func (v FeatureVector) Float32() []float32 {
	out := make([]float32, FeatureCount)
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// Map returns the vector keyed by feature name.
func (v FeatureVector) Map() map[string]float64 {
	out := make(map[string]float64, FeatureCount)
	for i, name := range FeatureNames {
		out[name] = v[i]
	}
	return out
}

// FeatureVectorFromMap is the inverse of Map; missing names are zero.
func FeatureVectorFromMap(m map[string]float64) FeatureVector {
	var v FeatureVector
	for i, name := range FeatureNames {
		v[i] = m[name]
	}
	return v
}
