package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidReading is returned when a reading is missing identity or carries non-finite values.
var ErrInvalidReading = errors.New("invalid reading")

// Field identifies one of the nine directly measured quantities of a Reading.
type Field int

const (
	FieldVibrationRMS Field = iota
	FieldMotorTempC
	FieldSpindleCurrentA
	FieldRPM
	FieldToolUsageMin
	FieldCoolantTempC
	FieldCuttingForceN
	FieldPowerConsumptionW
	FieldAcousticLevelDB

	RawFieldCount = 9
)

var rawFieldNames = [RawFieldCount]string{
	"vibration_rms",
	"motor_temp_C",
	"spindle_current_A",
	"rpm",
	"tool_usage_min",
	"coolant_temp_C",
	"cutting_force_N",
	"power_consumption_W",
	"acoustic_level_dB",
}

func (f Field) String() string {
	if f < 0 || int(f) >= RawFieldCount {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return rawFieldNames[f]
}

// RawFields lists the measured fields in canonical order.
func RawFields() []Field {
	out := make([]Field, RawFieldCount)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// ParseField resolves a field by its canonical name.
func ParseField(name string) (Field, bool) {
	for i, n := range rawFieldNames {
		if n == name {
			return Field(i), true
		}
	}
	return 0, false
}

// Reading is one raw sample of one CNC machine at one instant.
type Reading struct {
	MachineID         string    `json:"machine_id"`
	Timestamp         time.Time `json:"ts"`
	VibrationRMS      float64   `json:"vibration_rms"`
	MotorTempC        float64   `json:"motor_temp_C"`
	SpindleCurrentA   float64   `json:"spindle_current_A"`
	RPM               float64   `json:"rpm"`
	ToolUsageMin      float64   `json:"tool_usage_min"`
	CoolantTempC      float64   `json:"coolant_temp_C"`
	CuttingForceN     float64   `json:"cutting_force_N"`
	PowerConsumptionW float64   `json:"power_consumption_W"`
	AcousticLevelDB   float64   `json:"acoustic_level_dB"`
}

// Value returns the measured quantity for f.
func (r Reading) Value(f Field) float64 {
	switch f {
	case FieldVibrationRMS:
		return r.VibrationRMS
	case FieldMotorTempC:
		return r.MotorTempC
	case FieldSpindleCurrentA:
		return r.SpindleCurrentA
	case FieldRPM:
		return r.RPM
	case FieldToolUsageMin:
		return r.ToolUsageMin
	case FieldCoolantTempC:
		return r.CoolantTempC
	case FieldCuttingForceN:
		return r.CuttingForceN
	case FieldPowerConsumptionW:
		return r.PowerConsumptionW
	case FieldAcousticLevelDB:
		return r.AcousticLevelDB
	default:
		return 0
	}
}

// WithValue returns a copy of r with f set to v.
func (r Reading) WithValue(f Field, v float64) Reading {
	switch f {
	case FieldVibrationRMS:
		r.VibrationRMS = v
	case FieldMotorTempC:
		r.MotorTempC = v
	case FieldSpindleCurrentA:
		r.SpindleCurrentA = v
	case FieldRPM:
		r.RPM = v
	case FieldToolUsageMin:
		r.ToolUsageMin = v
	case FieldCoolantTempC:
		r.CoolantTempC = v
	case FieldCuttingForceN:
		r.CuttingForceN = v
	case FieldPowerConsumptionW:
		r.PowerConsumptionW = v
	case FieldAcousticLevelDB:
		r.AcousticLevelDB = v
	}
	return r
}

// Validate checks identity and that every measured field is a finite number.
func (r Reading) Validate() error {
	if r.MachineID == "" {
		return fmt.Errorf("%w: machine id is empty", ErrInvalidReading)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: machine %s: timestamp is zero", ErrInvalidReading, r.MachineID)
	}
	for _, f := range RawFields() {
		v := r.Value(f)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: machine %s: %s=%v", ErrInvalidReading, r.MachineID, f, v)
		}
	}
	return nil
}
