package actuator

// conversion turns a reference value into the driver's native command units.
type conversion func(ref float64) float64

func dutyCycle(ref float64) float64 { return ref }

func degreesToRotations(ref float64) float64 { return ref / 360.0 }

func setpoint(ref float64) float64 { return ref }

var conversions = map[ControlMode]conversion{
	OpenLoop: dutyCycle,
	Velocity: setpoint,
	Position: degreesToRotations,
	Current:  setpoint,
}

// Command converts a reference to the command sent in mode m.
// Modes without a conversion command zero.
func Command(m ControlMode, ref float64) float64 {
	conv, ok := conversions[m]
	if !ok {
		return 0
	}
	return conv(ref)
}
