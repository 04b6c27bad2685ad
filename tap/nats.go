package tap

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes events as NATS messages, subject = topic.
type NATSSink struct {
	conn *nats.Conn
}

func NewNATSSink(url string) (*NATSSink, error) {
	opts := []nats.Option{
		nats.Name("lamportchat-relay"),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.MaxReconnects(-1),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("tap: nats connect %s: %w", url, err)
	}
	return &NATSSink{conn: conn}, nil
}

func (s *NATSSink) Publish(_ context.Context, topic string, payload []byte) error {
	return s.conn.Publish(topic, payload)
}

func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
