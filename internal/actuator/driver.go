package actuator

import "github.com/pkg/errors"

// Driver is a motor controller. Setters may fail on the transport; getters
// return the latest cached measurement and never block.
type Driver interface {
	SetControlMode(m ControlMode) error
	SetCommand(v float64) error
	SetGains(g GainSet) error
	ResetPositionReference() error

	MeasuredPosition() float64 // rotations
	MeasuredVelocity() float64 // RPM
	OutputVoltage() float64    // volts
	OutputCurrent() float64    // amps

	Close() error
}

// SafeStop puts d in open loop at zero output. Both calls are attempted.
func SafeStop(d Driver) error {
	modeErr := d.SetControlMode(OpenLoop)
	cmdErr := d.SetCommand(0)
	if modeErr != nil {
		return errors.Wrap(modeErr, "safe stop: set open loop")
	}
	if cmdErr != nil {
		return errors.Wrap(cmdErr, "safe stop: zero command")
	}
	return nil
}
