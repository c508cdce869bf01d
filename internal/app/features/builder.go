// Package features derives the canonical model input from a reading and the
// machine's RollingState. Nothing here depends on models or scheduling.
package features

import (
	"time"

	"github.com/ghalamif/AegisPredict/internal/app/state"
	"github.com/ghalamif/AegisPredict/internal/domain"
)

// Builder is a pure function holder; it is safe for concurrent use.
type Builder struct {
	trendSamples int
}

func NewBuilder(trendSamples int) *Builder {
	if trendSamples <= 0 {
		trendSamples = state.DefaultTrendSamples
	}
	return &Builder{trendSamples: trendSamples}
}

// Build emits the vector in domain.FeatureNames order. snap must already
// contain r as its latest reading.
func (b *Builder) Build(r domain.Reading, snap state.Snapshot) domain.FeatureVector {
	var v domain.FeatureVector
	for _, f := range domain.RawFields() {
		v[f] = r.Value(f)
	}

	local := r.Timestamp.In(snap.Location())

	v[domain.FeatVibrationTrend] = snap.Trend(domain.FieldVibrationRMS, b.trendSamples)
	v[domain.FeatMotorTempTrend] = snap.Trend(domain.FieldMotorTempC, b.trendSamples)
	v[domain.FeatPowerEfficiency] = PowerEfficiency(r.RPM, r.PowerConsumptionW)
	v[domain.FeatToolWearRate] = safeDiv(snap.ToolWearToday(), snap.MachineHoursToday())
	v[domain.FeatVibrationStd24h] = snap.Std(domain.FieldVibrationRMS)
	v[domain.FeatTempRateChange] = snap.RateOfChange(domain.FieldMotorTempC)
	v[domain.FeatCurrentStability] = CurrentStability(snap)
	v[domain.FeatHour] = float64(local.Hour())
	v[domain.FeatDayOfWeek] = float64(MondayFirst(local.Weekday()))
	v[domain.FeatMachineHoursToday] = snap.MachineHoursToday()
	v[domain.FeatTotalMachineHours] = snap.TotalMachineHours()
	return v
}

// PowerEfficiency is spindle speed per kilowatt drawn.
func PowerEfficiency(rpm, powerW float64) float64 {
	return safeDiv(rpm, powerW) * 1000
}

// CurrentStability maps the coefficient of variation of spindle current to
// (0, 1]: 1 for a perfectly steady current, falling as dispersion grows.
func CurrentStability(snap state.Snapshot) float64 {
	cv, ok := snap.CoefficientOfVariation(domain.FieldSpindleCurrentA)
	if !ok {
		return 0
	}
	return 1 / (1 + cv)
}

// MondayFirst converts Go's Sunday-first weekday to the Monday=0 convention
// the models were trained with.
func MondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
