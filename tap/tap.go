// Package tap mirrors relay traffic onto external buses so a passive monitor
// can watch the chat without joining it as a node.
package tap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"lamportchat/wire"
)

// TopicPrefix starts every published topic, subject or channel name.
const TopicPrefix = "chat."

const publishTimeout = 2 * time.Second

// Event is one relayed line plus what the relay knows about it.
type Event struct {
	Line      string `msgpack:"line"`
	Sender    string `msgpack:"sender"`
	Remote    string `msgpack:"remote"`
	NodeID    string `msgpack:"node_id"`
	Time      uint64 `msgpack:"time"`
	RelayedAt int64  `msgpack:"relayed_at"`
}

// NewEvent builds an Event for line. NodeID and Time are filled in only when
// the line decodes as a chat message.
func NewEvent(line []byte, sender, remote string, at time.Time) Event {
	ev := Event{
		Line:      string(line),
		Sender:    sender,
		Remote:    remote,
		RelayedAt: at.UnixNano(),
	}
	if m, err := wire.Decode(line); err == nil {
		ev.NodeID = m.NodeID
		ev.Time = m.Time
	}
	return ev
}

// Topic is the routing key for ev.
func (ev Event) Topic() string {
	if ev.NodeID == "" {
		return TopicPrefix + "unknown"
	}
	return TopicPrefix + ev.NodeID
}

// Message returns the chat message carried by ev.
func (ev Event) Message() (wire.Message, error) {
	return wire.Decode([]byte(ev.Line))
}

func Encode(ev Event) ([]byte, error) {
	b, err := msgpack.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("tap: encode: %w", err)
	}
	return b, nil
}

func Decode(b []byte) (Event, error) {
	var ev Event
	if err := msgpack.Unmarshal(b, &ev); err != nil {
		return Event{}, fmt.Errorf("tap: decode: %w", err)
	}
	return ev, nil
}

// Sink is one external bus.
type Sink interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Tap fans an event out to every sink. A failing sink is logged and does
// not stop the others.
type Tap struct {
	sinks  []Sink
	logger *log.Logger
}

func New(logger *log.Logger, sinks ...Sink) *Tap {
	if logger == nil {
		logger = log.Default()
	}
	return &Tap{sinks: sinks, logger: logger}
}

// Len returns the number of sinks.
func (t *Tap) Len() int {
	if t == nil {
		return 0
	}
	return len(t.sinks)
}

// Mirror publishes ev on every sink and returns how many accepted it.
func (t *Tap) Mirror(ev Event) int {
	if t.Len() == 0 {
		return 0
	}
	payload, err := Encode(ev)
	if err != nil {
		t.logger.Printf("[TAP] %v", err)
		return 0
	}
	topic := ev.Topic()
	ok := 0
	for _, s := range t.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := s.Publish(ctx, topic, payload)
		cancel()
		if err != nil {
			t.logger.Printf("[TAP] publish %s: %v", topic, err)
			continue
		}
		ok++
	}
	return ok
}

func (t *Tap) Close() error {
	if t == nil {
		return nil
	}
	var errs []error
	for _, s := range t.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
