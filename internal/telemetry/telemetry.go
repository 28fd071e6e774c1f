// Package telemetry carries per-tick controller samples to plot and log
// transports. Sinks are fire-and-forget: they must not block the caller.
package telemetry

import (
	"strings"
	"sync"
)

// Signal names and units emitted on every running tick.
const (
	SpeedDesired = "Motor Speed Desired"
	SpeedActual  = "Motor Speed Actual"
	PosDesired   = "Motor Pos Desired"
	PosActual    = "Motor Pos Actual"
	MotorVoltage = "Motor Voltage"
	MotorCurrent = "Motor Current"
	PDPVoltage   = "PDP Voltage"
	PDPCurrent   = "PDP Current"
)

// Signal describes one plotted channel.
type Signal struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// Signals lists the channels in emission order.
var Signals = []Signal{
	{SpeedDesired, "RPM"},
	{SpeedActual, "RPM"},
	{PosDesired, "Deg"},
	{PosActual, "Deg"},
	{MotorVoltage, "V"},
	{MotorCurrent, "A"},
	{PDPVoltage, "V"},
	{PDPCurrent, "A"},
}

// Sink receives signal registrations once and samples every tick.
type Sink interface {
	RegisterSignal(name, unit string)
	AppendSample(name string, ts, value float64)
}

// Point is a single sample as sent over the wire.
type Point struct {
	Signal string  `json:"signal"`
	Unit   string  `json:"unit,omitempty"`
	T      float64 `json:"t"`
	V      float64 `json:"v"`
}

// Slug turns a signal name into a topic segment: "Motor Pos Actual" -> "motor_pos_actual".
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Fanout forwards to several sinks.
type Fanout []Sink

func (f Fanout) RegisterSignal(name, unit string) {
	for _, s := range f {
		s.RegisterSignal(name, unit)
	}
}

func (f Fanout) AppendSample(name string, ts, value float64) {
	for _, s := range f {
		s.AppendSample(name, ts, value)
	}
}

// units is a concurrency-safe name -> unit table shared by sinks.
type units struct {
	mu    sync.RWMutex
	order []Signal
	byKey map[string]string
}

func (u *units) add(name, unit string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.byKey == nil {
		u.byKey = make(map[string]string)
	}
	if _, ok := u.byKey[name]; ok {
		return
	}
	u.byKey[name] = unit
	u.order = append(u.order, Signal{Name: name, Unit: unit})
}

func (u *units) unit(name string) string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.byKey[name]
}

func (u *units) list() []Signal {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]Signal, len(u.order))
	copy(out, u.order)
	return out
}
