package tap

import (
	"context"
	"fmt"
	"sync"

	zmq "github.com/pebbe/zmq4"
)

// ZMQSink publishes multipart [topic, payload] frames on a PUB socket.
type ZMQSink struct {
	mu   sync.Mutex // zmq sockets are not goroutine safe
	sock *zmq.Socket
}

// NewZMQSink binds a PUB socket at endpoint, e.g. "tcp://*:5558".
func NewZMQSink(endpoint string) (*ZMQSink, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("tap: zmq pub: %w", err)
	}
	sock.SetLinger(0)
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("tap: zmq bind %s: %w", endpoint, err)
	}
	return &ZMQSink{sock: sock}, nil
}

func (s *ZMQSink) Publish(_ context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.sock.SendMessage(topic, payload)
	return err
}

func (s *ZMQSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock.Close()
}

// ZMQSource is the subscribing end used by the monitor.
type ZMQSource struct {
	sock *zmq.Socket
}

// NewZMQSource connects a SUB socket to endpoint and subscribes to every
// topic starting with prefix.
func NewZMQSource(endpoint, prefix string) (*ZMQSource, error) {
	sock, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("tap: zmq sub: %w", err)
	}
	sock.SetLinger(0)
	if err := sock.Connect(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("tap: zmq connect %s: %w", endpoint, err)
	}
	if err := sock.SetSubscribe(prefix); err != nil {
		sock.Close()
		return nil, fmt.Errorf("tap: zmq subscribe %q: %w", prefix, err)
	}
	return &ZMQSource{sock: sock}, nil
}

// Recv blocks for the next event.
func (s *ZMQSource) Recv() (Event, error) {
	parts, err := s.sock.RecvMessageBytes(0)
	if err != nil {
		return Event{}, err
	}
	if len(parts) < 2 {
		return Event{}, fmt.Errorf("tap: short message (%d frames)", len(parts))
	}
	return Decode(parts[1])
}

func (s *ZMQSource) Close() error {
	return s.sock.Close()
}
