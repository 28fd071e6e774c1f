// Package power reports the supply rail the actuator draws from.
package power

// Source returns the latest supply measurement without blocking.
type Source interface {
	SupplyVoltage() float64 // volts
	SupplyCurrent() float64 // amps
}

// None is used when no monitor is fitted. It reads zero.
type None struct{}

func (None) SupplyVoltage() float64 { return 0 }
func (None) SupplyCurrent() float64 { return 0 }
