// Package reference generates the setpoint of a test cycle from elapsed time.
package reference

import (
	"math"
)

// CycleType selects the test input shape.
type CycleType int

const (
	None CycleType = iota
	Step
	Sine
)

func (c CycleType) String() string {
	switch c {
	case None:
		return "none"
	case Step:
		return "step"
	case Sine:
		return "sine"
	default:
		return "invalid"
	}
}

// Valid reports whether c is Step or Sine.
func (c CycleType) Valid() bool {
	return c == Step || c == Sine
}

// SelectCycleType rounds a calibration value to a cycle type. Out of range
// values become None.
func SelectCycleType(raw float64) CycleType {
	if math.IsNaN(raw) {
		return None
	}
	switch c := CycleType(math.Round(raw)); c {
	case Step, Sine:
		return c
	default:
		return None
	}
}

// Shape holds the cycle parameters sampled on a tick.
type Shape struct {
	Length     float64 // seconds
	Amplitude  float64
	StepOnPct  float64 // 0..100
	SineFreqHz float64
}

// Reference returns the desired setpoint at elapsed seconds into a cycle.
//
// Step is on while elapsed <= length*pct/100; the boundary counts as on.
// With length <= 0 the on-phase is empty for any elapsed > 0.
func Reference(c CycleType, elapsed float64, s Shape) float64 {
	switch c {
	case Step:
		if elapsed > s.Length*s.StepOnPct/100.0 {
			return 0
		}
		return s.Amplitude
	case Sine:
		return s.Amplitude * math.Sin(2*math.Pi*elapsed*s.SineFreqHz)
	default:
		return 0
	}
}
