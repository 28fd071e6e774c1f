package actuator

import (
	"math"
	"sync"
	"time"
)

// Plant constants of the simulated motor.
const (
	simSupplyVolts   = 12.0
	simFreeSpeedRPM  = 5000.0
	simTimeConstant  = 0.08 // seconds
	simRPMPerAmp     = 450.0
	simPositionGainK = 600.0 // RPM per rotation of error at P=1
	simIdleCurrent   = 0.15
)

// Sim is an in-process first-order motor model used on the bench without
// hardware and in tests.
type Sim struct {
	mu sync.Mutex

	now  func() time.Time
	last time.Time

	mode    ControlMode
	command float64
	gains   GainSet

	position float64 // rotations
	velocity float64 // RPM
	volts    float64
	amps     float64
}

// NewSim returns a simulated motor in open loop at rest.
func NewSim() *Sim {
	return NewSimWithClock(time.Now)
}

// NewSimWithClock is NewSim with an injected clock.
func NewSimWithClock(now func() time.Time) *Sim {
	return &Sim{now: now, last: now(), mode: OpenLoop}
}

func (s *Sim) SetControlMode(m ControlMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.mode = m
	return nil
}

func (s *Sim) SetCommand(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.command = v
	return nil
}

func (s *Sim) SetGains(g GainSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gains = g
	return nil
}

func (s *Sim) ResetPositionReference() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.position = 0
	return nil
}

func (s *Sim) MeasuredPosition() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.position
}

func (s *Sim) MeasuredVelocity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.velocity
}

func (s *Sim) OutputVoltage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.volts
}

func (s *Sim) OutputCurrent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.amps
}

// Mode returns the mode last set.
func (s *Sim) Mode() ControlMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// LastCommand returns the command last set.
func (s *Sim) LastCommand() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.command
}

// Gains returns the gains last set.
func (s *Sim) Gains() GainSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gains
}

func (s *Sim) Close() error { return nil }

// advance integrates the plant up to now. Caller holds mu.
func (s *Sim) advance() {
	t := s.now()
	dt := t.Sub(s.last).Seconds()
	s.last = t
	if dt <= 0 {
		return
	}
	if dt > 0.5 {
		dt = 0.5
	}

	target := s.targetVelocity()
	alpha := 1 - math.Exp(-dt/simTimeConstant)
	s.velocity += (target - s.velocity) * alpha
	s.position += s.velocity / 60.0 * dt

	s.volts = simSupplyVolts * s.velocity / simFreeSpeedRPM
	s.amps = math.Abs(target-s.velocity)/simRPMPerAmp + simIdleCurrent
	if s.velocity == 0 && target == 0 {
		s.amps = 0
	}
}

func (s *Sim) targetVelocity() float64 {
	var v float64
	switch s.mode {
	case OpenLoop:
		v = clampUnit(s.command) * simFreeSpeedRPM
	case Velocity:
		v = s.command
	case Position:
		p := s.gains.P
		if p == 0 {
			p = 1
		}
		v = (s.command - s.position) * simPositionGainK * p
	case Current:
		v = s.command * simRPMPerAmp
	default:
		v = 0
	}
	return math.Max(-simFreeSpeedRPM, math.Min(simFreeSpeedRPM, v))
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
