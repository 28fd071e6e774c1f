// Package trigger provides the start/stop inputs of the test board.
//
// Every configured input is sampled once per tick and the results are OR'd,
// so the cycle can be started or stopped from the bench button or from the
// web page alike.
package trigger

import (
	"sync"
	"sync/atomic"
)

// Input is a boolean signal sampled once per controller tick.
type Input interface {
	Pressed() bool
}

// Any is the logical OR of its inputs. Every input is sampled on each call
// so that stateful inputs (debouncers, pulses) advance together.
type Any []Input

func (a Any) Pressed() bool {
	pressed := false
	for _, in := range a {
		if in.Pressed() {
			pressed = true
		}
	}
	return pressed
}

// Button is a software push button. Press latches a pulse that reads true on
// the next sample only; Hold keeps it true until released.
type Button struct {
	pulse atomic.Bool
	held  atomic.Bool
}

func (b *Button) Press() { b.pulse.Store(true) }

func (b *Button) Hold(on bool) { b.held.Store(on) }

func (b *Button) Pressed() bool {
	return b.pulse.Swap(false) || b.held.Load()
}

// Debounced only changes state once its input has read the same value for
// the required number of consecutive samples.
type Debounced struct {
	in      Input
	samples int

	mu     sync.Mutex
	state  bool
	streak int
}

// Debounce wraps in. samples <= 1 passes the input through.
func Debounce(in Input, samples int) *Debounced {
	if samples < 1 {
		samples = 1
	}
	return &Debounced{in: in, samples: samples}
}

func (d *Debounced) Pressed() bool {
	raw := d.in.Pressed()

	d.mu.Lock()
	defer d.mu.Unlock()
	if raw == d.state {
		d.streak = 0
		return d.state
	}
	d.streak++
	if d.streak >= d.samples {
		d.state = raw
		d.streak = 0
	}
	return d.state
}
