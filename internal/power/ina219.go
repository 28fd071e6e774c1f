package power

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ina219"
	"periph.io/x/host/v3"
)

// sensor is the subset of the ina219 device the monitor polls.
type sensor interface {
	Sense() (ina219.PowerMonitor, error)
}

// INA219Config locates the monitor on the I2C bus.
type INA219Config struct {
	Bus      string // "" for the first bus
	Address  uint16
	Interval time.Duration
}

// INA219 polls an INA219 in the background and serves the cached reading.
type INA219 struct {
	dev      sensor
	bus      i2c.BusCloser
	interval time.Duration
	log      *zap.SugaredLogger

	mu    sync.RWMutex
	volts float64
	amps  float64
	at    time.Time
}

// OpenINA219 opens the bus and the device. Call Run to start polling.
func OpenINA219(cfg INA219Config, log *zap.SugaredLogger) (*INA219, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "periph host init")
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, errors.Wrapf(err, "open I2C bus %q", cfg.Bus)
	}

	opts := ina219.DefaultOpts
	if cfg.Address != 0 {
		opts.Address = int(cfg.Address)
	}
	dev, err := ina219.New(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, errors.Wrapf(err, "ina219 at 0x%02X", opts.Address)
	}
	log.Infof("power monitor: ina219 at 0x%02X", opts.Address)

	m := newINA219(dev, cfg.Interval, log)
	m.bus = bus
	return m, nil
}

func newINA219(dev sensor, interval time.Duration, log *zap.SugaredLogger) *INA219 {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &INA219{dev: dev, interval: interval, log: log}
}

// Run polls the sensor until ctx is done.
func (m *INA219) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if err := m.poll(t); err != nil {
				failures++
				if failures == 1 || failures%100 == 0 {
					m.log.Warnf("power monitor: %v (%d failures)", err, failures)
				}
				continue
			}
			failures = 0
		}
	}
}

func (m *INA219) poll(t time.Time) error {
	pm, err := m.dev.Sense()
	if err != nil {
		return errors.Wrap(err, "ina219 sense")
	}
	m.mu.Lock()
	m.volts = float64(pm.Voltage) / float64(physic.Volt)
	m.amps = float64(pm.Current) / float64(physic.Ampere)
	m.at = t
	m.mu.Unlock()
	return nil
}

func (m *INA219) SupplyVoltage() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.volts
}

func (m *INA219) SupplyCurrent() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.amps
}

// LastReading returns when the cache was last refreshed.
func (m *INA219) LastReading() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.at
}

func (m *INA219) Close() error {
	if m.bus == nil {
		return nil
	}
	return m.bus.Close()
}
