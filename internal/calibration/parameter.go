// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration holds the operator-tunable values of the test board.
//
// A Parameter is written by the tuning surface (web API, websocket, file
// restore) and read by the control tick, so every accessor takes the lock.
package calibration

import (
	"math"
	"sync"
)

// Parameter is a named, bounded tunable value with change acknowledgement.
// Dirty is set by Set and cleared by Acknowledge, so a tuning client can tell
// when the controller has applied a new value.
type Parameter struct {
	mu sync.RWMutex

	name     string
	value    float64
	def      float64
	min, max float64
	dirty    bool
}

// New creates a parameter. When min and max are both zero the value is unbounded.
func New(name string, def, min, max float64) *Parameter {
	if min > max {
		min, max = max, min
	}
	p := &Parameter{name: name, def: def, min: min, max: max}
	p.value = p.clamp(def)
	return p
}

// Unbounded creates a parameter with no limits, used for gains.
func Unbounded(name string, def float64) *Parameter {
	return New(name, def, 0, 0)
}

func (p *Parameter) Name() string { return p.name }

// Default returns the value the parameter was created with.
func (p *Parameter) Default() float64 { return p.def }

// Bounds returns min and max. bounded is false for unrestricted parameters.
func (p *Parameter) Bounds() (min, max float64, bounded bool) {
	return p.min, p.max, !p.unbounded()
}

func (p *Parameter) Get() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Set clamps v into range, stores it, marks the parameter dirty and returns
// the stored value. NaN is ignored.
func (p *Parameter) Set(v float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if math.IsNaN(v) {
		return p.value
	}
	p.value = p.clamp(v)
	p.dirty = true
	return p.value
}

// Restore loads a persisted value without marking the parameter dirty.
func (p *Parameter) Restore(v float64) {
	if math.IsNaN(v) {
		return
	}
	p.mu.Lock()
	p.value = p.clamp(v)
	p.mu.Unlock()
}

// Reset puts the default back and marks the parameter dirty.
func (p *Parameter) Reset() {
	p.Set(p.def)
}

func (p *Parameter) Dirty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dirty
}

// Acknowledge clears the dirty flag and returns the value it acknowledged.
func (p *Parameter) Acknowledge() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = false
	return p.value
}

// Snapshot is a consistent copy of a parameter for the tuning surface.
type Snapshot struct {
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Default float64 `json:"default"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Bounded bool    `json:"bounded"`
	Dirty   bool    `json:"dirty"`
}

func (p *Parameter) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		Name:    p.name,
		Value:   p.value,
		Default: p.def,
		Min:     p.min,
		Max:     p.max,
		Bounded: !p.unbounded(),
		Dirty:   p.dirty,
	}
}

func (p *Parameter) unbounded() bool {
	return p.min == 0 && p.max == 0
}

func (p *Parameter) clamp(v float64) float64 {
	if p.unbounded() {
		return v
	}
	return math.Max(p.min, math.Min(p.max, v))
}
