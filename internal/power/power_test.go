package power

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ina219"
)

type fakeSensor struct {
	mu  sync.Mutex
	pm  ina219.PowerMonitor
	err error
}

func (f *fakeSensor) Sense() (ina219.PowerMonitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pm, f.err
}

func TestNoneReadsZero(t *testing.T) {
	var s Source = None{}
	assert.Zero(t, s.SupplyVoltage())
	assert.Zero(t, s.SupplyCurrent())
}

func TestINA219PollConvertsUnits(t *testing.T) {
	dev := &fakeSensor{pm: ina219.PowerMonitor{
		Voltage: 12 * physic.Volt,
		Current: 2500 * physic.MilliAmpere,
	}}
	m := newINA219(dev, time.Millisecond, zap.NewNop().Sugar())

	now := time.Now()
	require.NoError(t, m.poll(now))
	assert.InDelta(t, 12.0, m.SupplyVoltage(), 1e-9)
	assert.InDelta(t, 2.5, m.SupplyCurrent(), 1e-9)
	assert.Equal(t, now, m.LastReading())
}

func TestINA219KeepsLastGoodReading(t *testing.T) {
	dev := &fakeSensor{pm: ina219.PowerMonitor{Voltage: 11 * physic.Volt}}
	m := newINA219(dev, time.Millisecond, zap.NewNop().Sugar())
	require.NoError(t, m.poll(time.Now()))

	dev.mu.Lock()
	dev.err = errors.New("i2c nack")
	dev.mu.Unlock()
	assert.Error(t, m.poll(time.Now()))
	assert.InDelta(t, 11.0, m.SupplyVoltage(), 1e-9)
}

func TestINA219Run(t *testing.T) {
	dev := &fakeSensor{pm: ina219.PowerMonitor{Voltage: 5 * physic.Volt, Current: physic.Ampere}}
	m := newINA219(dev, time.Millisecond, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return m.SupplyCurrent() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.NoError(t, m.Close())
}
