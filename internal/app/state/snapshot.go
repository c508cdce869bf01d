package state

import (
	"math"
	"time"

	"github.com/ghalamif/AegisPredict/internal/domain"
)

// Snapshot is a read-only view of one machine's RollingState.
type Snapshot struct {
	st  *machineState
	loc *time.Location
}

func (s Snapshot) MachineID() string {
	if s.st == nil {
		return ""
	}
	return s.st.machineID
}

// Len is the number of readings in the window.
func (s Snapshot) Len() int {
	if s.st == nil {
		return 0
	}
	return len(s.st.window)
}

// Readings returns a copy of the window, oldest first.
func (s Snapshot) Readings() []domain.Reading {
	if s.st == nil {
		return nil
	}
	out := make([]domain.Reading, len(s.st.window))
	copy(out, s.st.window)
	return out
}

// Last returns the most recent reading.
func (s Snapshot) Last() (domain.Reading, bool) {
	if s.Len() == 0 {
		return domain.Reading{}, false
	}
	return s.st.window[len(s.st.window)-1], true
}

// Span is the time covered by the window.
func (s Snapshot) Span() time.Duration {
	if s.Len() < 2 {
		return 0
	}
	return s.st.window[len(s.st.window)-1].Timestamp.Sub(s.st.window[0].Timestamp)
}

func (s Snapshot) Location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

func (s Snapshot) MachineHoursToday() float64 {
	if s.st == nil {
		return 0
	}
	return s.st.hoursToday
}

func (s Snapshot) TotalMachineHours() float64 {
	if s.st == nil {
		return 0
	}
	return s.st.totalHours
}

// ToolWearTotal is the cumulative positive change of tool_usage_min.
func (s Snapshot) ToolWearTotal() float64 {
	if s.st == nil {
		return 0
	}
	return s.st.toolWearTotal
}

func (s Snapshot) ToolWearToday() float64 {
	if s.st == nil {
		return 0
	}
	return s.st.toolWearToday
}

// Vectors returns the committed feature history, oldest first.
func (s Snapshot) Vectors() []domain.FeatureVector {
	if s.st == nil {
		return nil
	}
	out := make([]domain.FeatureVector, len(s.st.vectors))
	copy(out, s.st.vectors)
	return out
}

// SequenceWindow returns up to n vectors ending with current. The result is
// shorter than n during cold start.
func (s Snapshot) SequenceWindow(current domain.FeatureVector, n int) []domain.FeatureVector {
	if n <= 0 {
		return nil
	}
	var hist []domain.FeatureVector
	if s.st != nil {
		hist = s.st.vectors
	}
	if len(hist) > n-1 {
		hist = hist[len(hist)-(n-1):]
	}
	out := make([]domain.FeatureVector, 0, len(hist)+1)
	out = append(out, hist...)
	return append(out, current)
}

// Trend is the slope per hour of f over the last n samples (n <= 0 means the
// whole window): least squares for three or more points, a simple delta for two,
// zero otherwise.
func (s Snapshot) Trend(f domain.Field, n int) float64 {
	if s.st == nil {
		return 0
	}
	w := s.st.window
	if n > 0 && len(w) > n {
		w = w[len(w)-n:]
	}
	switch len(w) {
	case 0, 1:
		return 0
	case 2:
		return ratePerHour(w[0], w[1], f)
	}

	origin := w[0].Timestamp
	var meanX, meanY float64
	for _, r := range w {
		meanX += r.Timestamp.Sub(origin).Hours()
		meanY += r.Value(f)
	}
	k := float64(len(w))
	meanX /= k
	meanY /= k

	var num, den float64
	for _, r := range w {
		dx := r.Timestamp.Sub(origin).Hours() - meanX
		num += dx * (r.Value(f) - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// RateOfChange is the per-hour change of f between the last two readings.
func (s Snapshot) RateOfChange(f domain.Field) float64 {
	if s.Len() < 2 {
		return 0
	}
	w := s.st.window
	return ratePerHour(w[len(w)-2], w[len(w)-1], f)
}

// Mean of f over the window.
func (s Snapshot) Mean(f domain.Field) float64 {
	if s.Len() == 0 {
		return 0
	}
	var sum float64
	for _, r := range s.st.window {
		sum += r.Value(f)
	}
	return sum / float64(len(s.st.window))
}

// Std is the sample standard deviation of f over the window, zero below two samples.
func (s Snapshot) Std(f domain.Field) float64 {
	n := s.Len()
	if n < 2 {
		return 0
	}
	mean := s.Mean(f)
	var sum float64
	for _, r := range s.st.window {
		d := r.Value(f) - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}

// CoefficientOfVariation is std/|mean|. ok is false when the mean is zero.
func (s Snapshot) CoefficientOfVariation(f domain.Field) (cv float64, ok bool) {
	mean := math.Abs(s.Mean(f))
	if mean == 0 {
		return 0, false
	}
	return s.Std(f) / mean, true
}

func ratePerHour(a, b domain.Reading, f domain.Field) float64 {
	dt := b.Timestamp.Sub(a.Timestamp).Hours()
	if dt == 0 {
		return 0
	}
	return (b.Value(f) - a.Value(f)) / dt
}
