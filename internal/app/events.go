package app

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/pid_testboard/internal/cycle"
	"github.com/relabs-tech/pid_testboard/internal/telemetry"
)

// CycleEvent is published on TOPIC_CYCLE_EVENTS at each session boundary.
type CycleEvent struct {
	Type          string    `json:"type"` // started, ended
	SessionID     string    `json:"session_id"`
	Mode          string    `json:"mode"`
	Reason        string    `json:"reason,omitempty"`
	Start         float64   `json:"start"`
	Elapsed       float64   `json:"elapsed"`
	StartPosition float64   `json:"start_position"`
	Time          time.Time `json:"time"`
}

const (
	eventPublishTimeout = 2 * time.Second
	eventQueueSize      = 64
)

// EventPublisher is a cycle.Listener that reports sessions over MQTT.
// Events are queued and published by Run; a full queue drops them.
type EventPublisher struct {
	pub   telemetry.Publisher
	topic string
	log   *zap.SugaredLogger
	now   func() time.Time

	queue   chan CycleEvent
	dropped atomic.Uint64
}

func NewEventPublisher(pub telemetry.Publisher, topic string, log *zap.SugaredLogger) *EventPublisher {
	return &EventPublisher{
		pub:   pub,
		topic: topic,
		log:   log,
		now:   time.Now,
		queue: make(chan CycleEvent, eventQueueSize),
	}
}

func (e *EventPublisher) CycleStarted(s cycle.Session) {
	e.enqueue(e.event("started", s, ""))
}

func (e *EventPublisher) CycleEnded(s cycle.Session, reason cycle.EndReason) {
	e.enqueue(e.event("ended", s, string(reason)))
}

// Dropped returns how many events were discarded because the queue was full.
func (e *EventPublisher) Dropped() uint64 { return e.dropped.Load() }

func (e *EventPublisher) event(typ string, s cycle.Session, reason string) CycleEvent {
	return CycleEvent{
		Type:          typ,
		SessionID:     s.ID.String(),
		Mode:          s.Mode.String(),
		Reason:        reason,
		Start:         s.Start,
		Elapsed:       s.Elapsed,
		StartPosition: s.StartPosition,
		Time:          e.now(),
	}
}

func (e *EventPublisher) enqueue(ev CycleEvent) {
	select {
	case e.queue <- ev:
	default:
		e.dropped.Add(1)
		e.log.Warnf("events: queue full, %s %s dropped", ev.Type, ev.SessionID)
	}
}

// Run publishes queued events until ctx is done, then publishes whatever is
// still queued.
func (e *EventPublisher) Run(ctx context.Context) {
	for {
		select {
		case ev := <-e.queue:
			e.publish(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-e.queue:
					e.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (e *EventPublisher) publish(ev CycleEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.log.Warnf("events: marshal error: %v", err)
		return
	}
	token := e.pub.Publish(e.topic, 1, false, payload)
	if !token.WaitTimeout(eventPublishTimeout) {
		e.log.Warnf("events: publish %s %s timed out", ev.Type, ev.SessionID)
		return
	}
	if err := token.Error(); err != nil {
		e.log.Warnf("events: publish %s %s: %v", ev.Type, ev.SessionID, err)
	}
}
