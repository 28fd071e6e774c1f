// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package cycle runs operator-triggered test cycles on one actuator.
//
// The Controller is driven by a single periodic caller through Tick. It owns
// the driver exclusively: while Idle it holds the motor at open-loop zero and
// keeps the gains of the last committed mode loaded; while Running it plays
// the configured reference in the mode latched at cycle start and emits one
// telemetry frame per tick.
package cycle

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relabs-tech/pid_testboard/internal/actuator"
	"github.com/relabs-tech/pid_testboard/internal/power"
	"github.com/relabs-tech/pid_testboard/internal/reference"
	"github.com/relabs-tech/pid_testboard/internal/telemetry"
)

// State of the test cycle.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// EndReason says why a session finished.
type EndReason string

const (
	EndTrigger  EndReason = "trigger"
	EndComplete EndReason = "complete"
	EndShutdown EndReason = "shutdown"
)

// Session is one cycle from start to stop.
type Session struct {
	ID            uuid.UUID            `json:"id"`
	Mode          actuator.ControlMode `json:"mode"`
	Start         float64              `json:"start"`
	Elapsed       float64              `json:"elapsed"`
	StartPosition float64              `json:"start_position"` // rotations, before the reference reset

	parked bool
}

// Listener is told about session boundaries. Calls happen on the tick and
// must return quickly.
type Listener interface {
	CycleStarted(s Session)
	CycleEnded(s Session, reason EndReason)
}

// Config wires a Controller to its collaborators. Driver and Params are
// required; the rest default to no-ops.
type Config struct {
	Driver    actuator.Driver
	Params    *Params
	Power     power.Source
	Sink      telemetry.Sink
	Listeners []Listener
	Log       *zap.SugaredLogger
}

// Controller is the test cycle state machine.
type Controller struct {
	driver    actuator.Driver
	params    *Params
	power     power.Source
	emitter   *telemetry.Emitter
	listeners []Listener
	log       *zap.SugaredLogger
	gains     map[actuator.ControlMode]gainSource

	state State
	// prevTrigger always holds the trigger sampled on the previous tick.
	prevTrigger bool
	// committed is the mode latched by the last Idle->Running transition.
	committed actuator.ControlMode
	session   *Session

	lastRef, lastCmd float64
	cycles           int
	lastEnd          EndReason
	failures         map[string]int

	statusMu sync.RWMutex
	status   Status
}

// New builds an idle controller. It panics when Driver or Params is missing.
func New(cfg Config) *Controller {
	if cfg.Driver == nil || cfg.Params == nil {
		panic("cycle: controller needs a driver and params")
	}
	if cfg.Power == nil {
		cfg.Power = power.None{}
	}
	if cfg.Sink == nil {
		cfg.Sink = telemetry.Fanout{}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	c := &Controller{
		driver:    cfg.Driver,
		params:    cfg.Params,
		power:     cfg.Power,
		emitter:   telemetry.NewEmitter(cfg.Sink),
		listeners: cfg.Listeners,
		log:       cfg.Log,
		gains:     cfg.Params.gainTable(),
		state:     Idle,
		committed: actuator.Disabled,
		failures:  make(map[string]int),
	}
	c.publishStatus()
	return c
}

// Tick advances the controller. now is a monotonic time in seconds and
// trigger the combined start/stop input sampled for this tick.
func (c *Controller) Tick(now float64, trigger bool) {
	edge := trigger && !c.prevTrigger
	defer func() {
		c.prevTrigger = trigger
		c.publishStatus()
	}()

	if edge {
		switch c.state {
		case Idle:
			c.start(now)
		case Running:
			c.stop(EndTrigger)
		}
	}

	if c.state == Running {
		c.run(now)
	}
	if c.state == Idle {
		c.idle()
	}
}

// Shutdown ends any running session and leaves the motor at open-loop zero.
func (c *Controller) Shutdown() {
	if c.state == Running {
		c.stop(EndShutdown)
	} else {
		c.safeStop()
	}
	c.publishStatus()
}

func (c *Controller) State() State { return c.state }

// Session returns the running session, if any.
func (c *Controller) Session() (Session, bool) {
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

func (c *Controller) start(now float64) {
	mode := actuator.SelectMode(c.params.ControlMode.Acknowledge())
	c.committed = mode
	c.check("set control mode", c.driver.SetControlMode(mode))
	c.check("set gains", c.driver.SetGains(c.gainsFor(mode)))

	c.session = &Session{
		ID:            uuid.New(),
		Mode:          mode,
		Start:         now,
		StartPosition: c.driver.MeasuredPosition(),
	}
	c.check("reset position", c.driver.ResetPositionReference())
	c.state = Running

	c.log.Infof("cycle %s started: mode=%s type=%s length=%.2fs amplitude=%.2f",
		c.session.ID, mode, c.params.cycleType(), c.params.CycleLength.Get(), c.params.Amplitude.Get())
	for _, l := range c.listeners {
		l.CycleStarted(*c.session)
	}
}

func (c *Controller) run(now float64) {
	s := c.session
	s.Elapsed = now - s.Start

	shape := c.params.shape()
	if s.Elapsed > shape.Length {
		c.stop(EndComplete)
		return
	}

	ct := c.params.cycleType()
	var ref, cmd float64
	if ct.Valid() {
		if s.parked {
			c.check("set control mode", c.driver.SetControlMode(s.Mode))
			s.parked = false
		}
		ref = reference.Reference(ct, s.Elapsed, shape)
		cmd = actuator.Command(s.Mode, ref)
		c.check("set command", c.driver.SetCommand(cmd))
	} else {
		c.safeStop()
		s.parked = true
	}
	c.lastRef, c.lastCmd = ref, cmd

	c.emitter.Emit(now, telemetry.Sample{
		Desired:      ref,
		SpeedActual:  c.driver.MeasuredVelocity(),
		PosActualDeg: c.driver.MeasuredPosition() * 360,
		MotorVolts:   c.driver.OutputVoltage(),
		MotorAmps:    c.driver.OutputCurrent(),
		SupplyVolts:  c.power.SupplyVoltage(),
		SupplyAmps:   c.power.SupplyCurrent(),
	})
}

func (c *Controller) stop(reason EndReason) {
	c.safeStop()

	ended := *c.session
	c.session = nil
	c.state = Idle
	c.lastRef, c.lastCmd = 0, 0
	c.cycles++
	c.lastEnd = reason

	c.log.Infof("cycle %s ended (%s) after %.2fs", ended.ID, reason, ended.Elapsed)
	for _, l := range c.listeners {
		l.CycleEnded(ended, reason)
	}
}

func (c *Controller) idle() {
	c.safeStop()
	c.check("set gains", c.driver.SetGains(c.gainsFor(c.committed)))
}

func (c *Controller) gainsFor(m actuator.ControlMode) actuator.GainSet {
	src, ok := c.gains[m]
	if !ok {
		return actuator.GainSet{}
	}
	return src.read()
}

func (c *Controller) safeStop() {
	c.check("safe stop", actuator.SafeStop(c.driver))
}

// check logs driver failures without stopping the tick. Repeated failures of
// the same operation are logged once per failureLogEvery ticks.
func (c *Controller) check(op string, err error) {
	if err == nil {
		if n := c.failures[op]; n > 0 {
			c.log.Infof("%s recovered after %d failures", op, n)
			delete(c.failures, op)
		}
		return
	}
	n := c.failures[op] + 1
	c.failures[op] = n
	if n == 1 || n%failureLogEvery == 0 {
		c.log.Warnf("%s: %v (%d consecutive)", op, err, n)
	}
}

const failureLogEvery = 250
