// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/handlers"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relabs-tech/pid_testboard/internal/actuator"
	"github.com/relabs-tech/pid_testboard/internal/calibration"
	"github.com/relabs-tech/pid_testboard/internal/config"
	"github.com/relabs-tech/pid_testboard/internal/cycle"
	"github.com/relabs-tech/pid_testboard/internal/power"
	"github.com/relabs-tech/pid_testboard/internal/report"
	"github.com/relabs-tech/pid_testboard/internal/telemetry"
	"github.com/relabs-tech/pid_testboard/internal/trigger"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttWriteTimeout   = time.Second
	httpShutdownWait   = 2 * time.Second
)

// RunTestbench runs the test board from config.Get until SIGINT or SIGTERM.
func RunTestbench(log *zap.SugaredLogger) error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Calibration
	set := calibration.NewSet()
	params := cycle.RegisterParams(set)
	store := calibration.NewFileStore(cfg.CalibrationFile, log.Named("calibration"))
	if err := store.LoadAll(set); err != nil {
		log.Warnf("calibration: %v, using defaults", err)
	}

	// Actuator, forced to the safe default before anything else runs
	drv, err := openDriver(ctx, cfg, log.Named("actuator"))
	if err != nil {
		return err
	}
	defer drv.Close()
	if err := actuator.SafeStop(drv); err != nil {
		log.Warnf("actuator: initial safe stop: %v", err)
	}

	button := &trigger.Button{}
	trig, err := buildTrigger(cfg, button)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	pwr, closePower, err := openPower(ctx, cfg, &wg, log.Named("power"))
	if err != nil {
		return err
	}
	defer closePower.Close()

	// MQTT, retried in the background when the broker is down
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDTestboard).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetWriteTimeout(mqttWriteTimeout)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(mqttConnectTimeout) {
		log.Warnf("mqtt: broker %s not reachable yet, retrying in background", cfg.MQTTBroker)
	} else if token.Error() != nil {
		return errors.Wrapf(token.Error(), "mqtt connect %s", cfg.MQTTBroker)
	} else {
		log.Infof("mqtt: connected to %s", cfg.MQTTBroker)
	}
	defer client.Disconnect(250)

	mqttSink := telemetry.NewMQTTSink(client, cfg.TopicTelemetryPrefix, 0, log.Named("telemetry"))
	hub := telemetry.NewHub(log.Named("plot"))
	rec := report.NewRecorder(cfg.ReportDir, 0, log.Named("report"))
	events := NewEventPublisher(client, cfg.TopicCycleEvents, log.Named("events"))

	wg.Add(1)
	go func() {
		defer wg.Done()
		mqttSink.Run(ctx)
	}()

	// Outlives ctx so the shutdown event still goes out.
	eventsCtx, stopEvents := context.WithCancel(context.Background())
	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		events.Run(eventsCtx)
	}()

	ctrl := cycle.New(cycle.Config{
		Driver:    drv,
		Params:    params,
		Power:     pwr,
		Sink:      telemetry.Fanout{mqttSink, hub, rec},
		Listeners: []cycle.Listener{rec, events},
		Log:       log.Named("cycle"),
	})

	tuning := &Tuning{
		Set:     set,
		Store:   store,
		Button:  button,
		Status:  ctrl,
		Reports: rec,
		Plot:    hub,
		WebDir:  "web",
		Log:     log.Named("tuning"),
	}
	httpLog := zap.NewStdLog(log.Named("http").Desugar())
	handler := handlers.LoggingHandler(httpLog.Writer(), tuning.Router())
	handler = handlers.RecoveryHandler(handlers.RecoveryLogger(httpLog))(handler)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("web server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("web server: %v", err)
		}
	}()

	if cfg.DisplayI2CAddr != 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			interval := time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond
			if err := RunDisplay(ctx, ctrl, cfg.DisplayI2CAddr, interval, log.Named("display")); err != nil {
				log.Warnf("display: %v", err)
			}
		}()
	}

	log.Infof("testboard ready: driver=%s tick=%s", cfg.ActuatorDriver, cfg.TickPeriod())
	runLoop(ctx, ctrl, trig, cfg.TickPeriod())

	log.Info("shutting down")
	ctrl.Shutdown()
	stopEvents()
	<-eventsDone
	if err := store.SaveAll(set); err != nil {
		log.Warnf("calibration: save on shutdown: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownWait)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("web server shutdown: %v", err)
	}
	rec.Wait()
	wg.Wait()
	return nil
}

// runLoop ticks the controller at period until ctx is done. Time is measured
// from loop start on the monotonic clock.
func runLoop(ctx context.Context, ctrl *cycle.Controller, trig trigger.Input, period time.Duration) {
	start := time.Now()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ctrl.Tick(time.Since(start).Seconds(), trig.Pressed())
		}
	}
}

func openDriver(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (actuator.Driver, error) {
	switch cfg.ActuatorDriver {
	case config.DriverCAN:
		d, err := actuator.DialCAN(ctx, actuator.CANConfig{
			Interface: cfg.CANInterface,
			NodeID:    cfg.CANNodeID,
			TxTimeout: actuator.DefaultCANTxTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.DriverSerial:
		d, err := actuator.OpenSerial(actuator.SerialConfig{
			Port:         cfg.SerialPort,
			BaudRate:     cfg.SerialBaudRate,
			WriteTimeout: actuator.DefaultSerialWriteTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	log.Info("using simulated actuator")
	return actuator.NewSim(), nil
}

// buildTrigger ORs the software button with the optional GPIO button.
func buildTrigger(cfg *config.Config, button *trigger.Button) (trigger.Input, error) {
	inputs := trigger.Any{button}
	if cfg.TriggerGPIOPin == "" {
		return inputs, nil
	}
	pin, err := trigger.OpenGPIO(cfg.TriggerGPIOPin)
	if err != nil {
		return nil, err
	}
	var in trigger.Input = pin
	if cfg.TriggerDebounceTicks > 1 {
		in = trigger.Debounce(pin, cfg.TriggerDebounceTicks)
	}
	return append(inputs, in), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openPower(ctx context.Context, cfg *config.Config, wg *sync.WaitGroup, log *zap.SugaredLogger) (power.Source, io.Closer, error) {
	if cfg.PowerMonitor != config.PowerINA219 {
		return power.None{}, nopCloser{}, nil
	}
	m, err := power.OpenINA219(power.INA219Config{
		Bus:      cfg.PowerI2CBus,
		Address:  cfg.PowerI2CAddr,
		Interval: time.Duration(cfg.PowerSampleInterval) * time.Millisecond,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Run(ctx)
	}()
	return m, m, nil
}
