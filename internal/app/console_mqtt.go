package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relabs-tech/pid_testboard/internal/config"
	"github.com/relabs-tech/pid_testboard/internal/telemetry"
)

// RunConsoleMQTT prints cycle events and telemetry from the broker until
// interrupted.
func RunConsoleMQTT(log *zap.SugaredLogger) error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "connect")
	}
	log.Infof("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	p := &consolePrinter{out: os.Stdout, log: log}

	eventsToken := client.Subscribe(cfg.TopicCycleEvents, 1, func(_ mqtt.Client, msg mqtt.Message) {
		p.event(msg.Payload())
	})
	eventsToken.Wait()
	if eventsToken.Error() != nil {
		return errors.Wrapf(eventsToken.Error(), "subscribe %s", cfg.TopicCycleEvents)
	}
	log.Infof("console: subscribed to %s", cfg.TopicCycleEvents)

	samples := cfg.TopicTelemetryPrefix + "/+"
	samplesToken := client.Subscribe(samples, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if msg.Topic() == cfg.TopicTelemetryPrefix+"/signals" {
			p.signals(msg.Payload())
			return
		}
		p.sample(msg.Payload())
	})
	samplesToken.Wait()
	if samplesToken.Error() != nil {
		return errors.Wrapf(samplesToken.Error(), "subscribe %s", samples)
	}
	log.Infof("console: subscribed to %s", samples)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("console: shutting down")
	client.Disconnect(250)
	return nil
}

type consolePrinter struct {
	out io.Writer
	log *zap.SugaredLogger
}

func (p *consolePrinter) event(payload []byte) {
	var ev CycleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		p.log.Warnf("console: event unmarshal error: %v", err)
		return
	}
	switch ev.Type {
	case "started":
		fmt.Fprintf(p.out, "[CYCLE] %s started  mode=%s start_pos=%.3frot\n",
			ev.SessionID, ev.Mode, ev.StartPosition)
	default:
		fmt.Fprintf(p.out, "[CYCLE] %s %-7s mode=%s elapsed=%.2fs reason=%s\n",
			ev.SessionID, ev.Type, ev.Mode, ev.Elapsed, ev.Reason)
	}
}

func (p *consolePrinter) signals(payload []byte) {
	var list []telemetry.Signal
	if err := json.Unmarshal(payload, &list); err != nil {
		p.log.Warnf("console: signals unmarshal error: %v", err)
		return
	}
	fmt.Fprintf(p.out, "[SIGS ] %d signals:", len(list))
	for _, s := range list {
		fmt.Fprintf(p.out, " %s(%s)", s.Name, s.Unit)
	}
	fmt.Fprintln(p.out)
}

func (p *consolePrinter) sample(payload []byte) {
	var pt telemetry.Point
	if err := json.Unmarshal(payload, &pt); err != nil {
		p.log.Warnf("console: sample unmarshal error: %v", err)
		return
	}
	fmt.Fprintf(p.out, "[%8.3f] %-20s %10.3f %s\n", pt.T, pt.Signal, pt.V, pt.Unit)
}
