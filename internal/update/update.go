// Package update implements the Agent's Update/Control component (spec
// §4.6): a single-writer sink serializing state transitions toward the
// client-side transport, plus the shared Control pubsub every pipeline
// component subscribes to for administrative commands.
package update

import (
	"context"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	gojson "github.com/goccy/go-json"

	"github.com/radical-cybertools/radical-pilot-agent/internal/bus"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// Message is one outgoing state notification (spec §4.6): {uid, etype,
// state, timestamp, optional details}.
type Message struct {
	UID       string    `json:"uid"`
	ETYPE     string    `json:"etype"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// Encode serializes m for a remote-mode transport queue.
func Encode(m Message) ([]byte, error) { return gojson.Marshal(m) }

// Decode is Encode's matching Decoder.
func Decode(b []byte) (Message, error) {
	var m Message
	err := gojson.Unmarshal(b, &m)
	return m, err
}

// Sink consumes task.Event notifications published by every other
// pipeline component and serializes them, in the order received, onto the
// client-side transport queue (spec §4.6).
type Sink struct {
	log logger.Logger

	events    *bus.PubSub[task.Event]
	transport *bus.Queue[Message]
}

// NewSink constructs a Sink. events is the shared state-events pubsub
// every pipeline component publishes task.Event onto; transport is the
// durable-at-most-once queue toward the client-side manager.
func NewSink(events *bus.PubSub[task.Event], transport *bus.Queue[Message]) *Sink {
	s := &Sink{events: events, transport: transport}
	config.InitLogger(&s.log, s)
	return s
}

// Run subscribes to events and forwards each one as a Message onto
// transport until ctx is canceled. Being the sole consumer running in a
// single goroutine is what gives same-task messages their emission-order
// guarantee; cross-task ordering is explicitly not promised (spec §4.6),
// so no further per-task sequencing is required here.
func (s *Sink) Run(ctx context.Context) error {
	incoming := s.events.Subscribe("", 256)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-incoming:
			if !ok {
				return nil
			}
			msg := Message{
				UID:       ev.UID,
				ETYPE:     "state",
				State:     string(ev.State),
				Timestamp: time.Now(),
			}
			if ev.Error != nil {
				msg.Details = ev.Error.Error()
			}
			if err := s.transport.Push(ctx, msg); err != nil {
				s.log.Error("pushing update for task %s: %v", ev.UID, err)
			}
		}
	}
}
