package telemetry

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Publisher is the part of an MQTT client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

const (
	defaultQueueSize = 1024
	publishTimeout   = 2 * time.Second
	signalsTopicLeaf = "signals"
)

type outgoing struct {
	topic    string
	retained bool
	payload  []byte
}

// MQTTSink publishes each sample as JSON on <prefix>/<slug>. Samples are
// queued and published by Run; when the queue is full they are dropped.
type MQTTSink struct {
	pub    Publisher
	prefix string
	log    *zap.SugaredLogger

	units   units
	queue   chan outgoing
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewMQTTSink(pub Publisher, prefix string, queueSize int, log *zap.SugaredLogger) *MQTTSink {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &MQTTSink{
		pub:    pub,
		prefix: prefix,
		log:    log,
		queue:  make(chan outgoing, queueSize),
	}
}

// RegisterSignal publishes the retained signal list on <prefix>/signals.
func (s *MQTTSink) RegisterSignal(name, unit string) {
	s.units.add(name, unit)
	payload, err := json.Marshal(s.units.list())
	if err != nil {
		s.log.Warnf("mqtt: signals marshal error: %v", err)
		return
	}
	s.enqueue(outgoing{topic: s.prefix + "/" + signalsTopicLeaf, retained: true, payload: payload})
}

func (s *MQTTSink) AppendSample(name string, ts, value float64) {
	payload, err := json.Marshal(Point{Signal: name, Unit: s.units.unit(name), T: ts, V: value})
	if err != nil {
		s.log.Warnf("mqtt: sample marshal error: %v", err)
		return
	}
	s.enqueue(outgoing{topic: s.prefix + "/" + Slug(name), payload: payload})
}

// Dropped returns how many messages were discarded because the queue was full.
func (s *MQTTSink) Dropped() uint64 { return s.dropped.Load() }

// Failed returns how many publishes the broker did not acknowledge.
func (s *MQTTSink) Failed() uint64 { return s.failed.Load() }

func (s *MQTTSink) enqueue(m outgoing) {
	select {
	case s.queue <- m:
	default:
		if s.dropped.Add(1)%100 == 1 {
			s.log.Warnf("mqtt: telemetry queue full, %d samples dropped", s.dropped.Load())
		}
	}
}

// Run publishes queued messages until ctx is done.
func (s *MQTTSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.queue:
			token := s.pub.Publish(m.topic, 0, m.retained, m.payload)
			if !token.WaitTimeout(publishTimeout) {
				s.failed.Add(1)
				s.log.Debugf("mqtt: publish to %s timed out", m.topic)
				continue
			}
			if err := token.Error(); err != nil {
				s.failed.Add(1)
				s.log.Debugf("mqtt: publish to %s failed: %v", m.topic, err)
			}
		}
	}
}
