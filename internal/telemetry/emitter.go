package telemetry

// Sample is everything measured on one running tick.
type Sample struct {
	Desired      float64 // reference in cycle units
	SpeedActual  float64 // RPM
	PosActualDeg float64 // degrees
	MotorVolts   float64
	MotorAmps    float64
	SupplyVolts  float64
	SupplyAmps   float64
}

// Emitter stamps a Sample and forwards every channel to a sink.
type Emitter struct {
	sink Sink
}

// NewEmitter registers the channels on sink.
func NewEmitter(sink Sink) *Emitter {
	for _, s := range Signals {
		sink.RegisterSignal(s.Name, s.Unit)
	}
	return &Emitter{sink: sink}
}

// Emit sends one value per channel, all with timestamp ts.
func (e *Emitter) Emit(ts float64, s Sample) {
	e.sink.AppendSample(SpeedDesired, ts, s.Desired)
	e.sink.AppendSample(SpeedActual, ts, s.SpeedActual)
	e.sink.AppendSample(PosDesired, ts, s.Desired)
	e.sink.AppendSample(PosActual, ts, s.PosActualDeg)
	e.sink.AppendSample(MotorVoltage, ts, s.MotorVolts)
	e.sink.AppendSample(MotorCurrent, ts, s.MotorAmps)
	e.sink.AppendSample(PDPVoltage, ts, s.SupplyVolts)
	e.sink.AppendSample(PDPCurrent, ts, s.SupplyAmps)
}
