// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package actuator defines the motor controller contract and its transports.
package actuator

import "math"

// ControlMode is the regime the motor controller runs in.
type ControlMode int

const (
	// Disabled is the fallback for any mode value that is not defined.
	// It behaves like OpenLoop driven at zero.
	Disabled ControlMode = -1

	OpenLoop ControlMode = 0 // percent of supply voltage
	Velocity ControlMode = 1 // RPM
	Position ControlMode = 2 // rotations
	Current  ControlMode = 3 // amps
)

func (m ControlMode) String() string {
	switch m {
	case OpenLoop:
		return "open-loop"
	case Velocity:
		return "velocity"
	case Position:
		return "position"
	case Current:
		return "current"
	default:
		return "disabled"
	}
}

// Unit returns the unit of the cycle amplitude in this mode.
func (m ControlMode) Unit() string {
	switch m {
	case OpenLoop:
		return "%Vbus"
	case Velocity:
		return "RPM"
	case Position:
		return "Deg"
	case Current:
		return "A"
	default:
		return ""
	}
}

// SelectMode rounds a calibration value to a control mode. Anything outside
// 0..3, including NaN, becomes Disabled.
func SelectMode(raw float64) ControlMode {
	if math.IsNaN(raw) {
		return Disabled
	}
	switch m := ControlMode(math.Round(raw)); m {
	case OpenLoop, Velocity, Position, Current:
		return m
	default:
		return Disabled
	}
}

// GainSet holds the closed-loop coefficients of one mode.
type GainSet struct {
	P float64 `json:"p"`
	I float64 `json:"i"`
	D float64 `json:"d"`
	F float64 `json:"f"`
}

// Zero reports whether every term is zero.
func (g GainSet) Zero() bool {
	return g == GainSet{}
}
