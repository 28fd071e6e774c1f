package cycle

import (
	"github.com/relabs-tech/pid_testboard/internal/actuator"
	"github.com/relabs-tech/pid_testboard/internal/calibration"
	"github.com/relabs-tech/pid_testboard/internal/reference"
)

// Calibration names as shown on the tuning page and stored on disk.
const (
	NameControlMode = "Control Mode"
	NameCycleType   = "Cycle Type"
	NameCycleLength = "Cycle Length S"
	NameAmplitude   = "Cycle Amplititude"
	NameStepOnPct   = "Step Cycle On Pct"
	NameSineFreq    = "Sine Cycle Frequency Hz"

	NamePosP = "Gain Position P"
	NamePosI = "Gain Position I"
	NamePosD = "Gain Position D"
	NameSpdP = "Gain Speed P"
	NameSpdI = "Gain Speed I"
	NameSpdD = "Gain Speed D"
	NameSpdF = "Gain Speed F"
	NameCurP = "Gain Current P"
	NameCurI = "Gain Current I"
	NameCurD = "Gain Current D"
	NameCurF = "Gain Current F"
)

// Params are the calibration values the controller reads each tick.
type Params struct {
	ControlMode *calibration.Parameter
	CycleType   *calibration.Parameter
	CycleLength *calibration.Parameter
	Amplitude   *calibration.Parameter
	StepOnPct   *calibration.Parameter
	SineFreqHz  *calibration.Parameter

	PosP, PosI, PosD       *calibration.Parameter
	SpdP, SpdI, SpdD, SpdF *calibration.Parameter
	CurP, CurI, CurD, CurF *calibration.Parameter
}

// RegisterParams adds the test board parameters to set with their defaults.
func RegisterParams(set *calibration.Set) *Params {
	return &Params{
		ControlMode: set.Register(NameControlMode, 0, 0, 3),
		CycleType:   set.Register(NameCycleType, 0, 0, 2),
		CycleLength: set.Register(NameCycleLength, 5, 0, 15),
		Amplitude:   set.Register(NameAmplitude, 100, -3000, 3000),
		StepOnPct:   set.Register(NameStepOnPct, 75, 0, 100),
		SineFreqHz:  set.Register(NameSineFreq, 0.5, 0, 5),

		PosP: set.RegisterUnbounded(NamePosP, 0.8),
		PosI: set.RegisterUnbounded(NamePosI, 0),
		PosD: set.RegisterUnbounded(NamePosD, 50),

		SpdP: set.RegisterUnbounded(NameSpdP, 1.2),
		SpdI: set.RegisterUnbounded(NameSpdI, 0.005),
		SpdD: set.RegisterUnbounded(NameSpdD, 0.3),
		SpdF: set.RegisterUnbounded(NameSpdF, 0.08),

		CurP: set.RegisterUnbounded(NameCurP, 0),
		CurI: set.RegisterUnbounded(NameCurI, 0),
		CurD: set.RegisterUnbounded(NameCurD, 0),
		CurF: set.RegisterUnbounded(NameCurF, 0),
	}
}

func (p *Params) cycleType() reference.CycleType {
	return reference.SelectCycleType(p.CycleType.Get())
}

func (p *Params) shape() reference.Shape {
	return reference.Shape{
		Length:     p.CycleLength.Get(),
		Amplitude:  p.Amplitude.Get(),
		StepOnPct:  p.StepOnPct.Get(),
		SineFreqHz: p.SineFreqHz.Get(),
	}
}

// gainSource names the parameters behind one mode's gains. A nil term reads zero.
type gainSource struct {
	P, I, D, F *calibration.Parameter
}

func (g gainSource) read() actuator.GainSet {
	return actuator.GainSet{P: value(g.P), I: value(g.I), D: value(g.D), F: value(g.F)}
}

func value(p *calibration.Parameter) float64 {
	if p == nil {
		return 0
	}
	return p.Get()
}

// gainTable maps each closed-loop mode to its gain parameters. Modes not in
// the table get all-zero gains.
func (p *Params) gainTable() map[actuator.ControlMode]gainSource {
	return map[actuator.ControlMode]gainSource{
		actuator.Velocity: {P: p.SpdP, I: p.SpdI, D: p.SpdD, F: p.SpdF},
		actuator.Position: {P: p.PosP, I: p.PosI, D: p.PosD},
		actuator.Current:  {P: p.CurP, I: p.CurI, D: p.CurD, F: p.CurF},
	}
}
