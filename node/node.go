// Package node is the chat client. Each node stamps outgoing messages with
// its Lamport clock and merges the timestamps of the messages it receives.
package node

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"github.com/google/uuid"

	"lamportchat/clock"
	"lamportchat/wire"
)

// ErrNotConnected is returned by Say before Connect succeeded.
var ErrNotConnected = errors.New("node: not connected")

// Delivery is what a node reports for every accepted incoming message.
type Delivery struct {
	Content string
	From    string
	Time    uint64 // local clock after the merge
}

type Observer func(Delivery)

type Node struct {
	id      string
	clock   *clock.Clock
	observe Observer
	logger  *log.Logger

	sendMu sync.Mutex // keeps wire order equal to clock order

	mu   sync.Mutex
	conn net.Conn
}

type Option func(*Node)

func WithLogger(l *log.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithObserver replaces the default log line for deliveries.
func WithObserver(o Observer) Option {
	return func(n *Node) { n.observe = o }
}

// New returns a node with a zero clock. An empty id gets a random one.
func New(id string, opts ...Option) *Node {
	if id == "" {
		id = uuid.NewString()
	}
	n := &Node{
		id:     id,
		clock:  clock.New(),
		logger: log.Default(),
	}
	for _, o := range opts {
		o(n)
	}
	if n.observe == nil {
		n.observe = func(d Delivery) {
			n.logger.Printf("[NODE %s] received message: %s from %s at %d", n.id, d.Content, d.From, d.Time)
		}
	}
	return n
}

func (n *Node) ID() string { return n.id }

// Clock returns the node's current logical time.
func (n *Node) Clock() uint64 { return n.clock.Time() }

// Connect dials the relay. There is no retry; callers treat an error as
// fatal.
func (n *Node) Connect(addr string) (net.Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("node %s: connect %s: %w", n.id, addr, err)
	}
	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()
	n.logger.Printf("[NODE %s] connected to relay %s", n.id, addr)
	return conn, nil
}

// Run receives on conn in its own goroutine and blocks until the stream
// ends.
func (n *Node) Run(conn net.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Receive(conn)
	}()
	<-done
}

// ConnectAndRun is Connect followed by Run.
func (n *Node) ConnectAndRun(addr string) error {
	conn, err := n.Connect(addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	n.Run(conn)
	return nil
}

// Receive reads lines from r until it fails or ends. Lines that do not
// decode as a Message are skipped.
func (n *Node) Receive(r io.Reader) {
	lr := wire.NewLineReader(r)
	for {
		line, err := lr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				n.logger.Printf("[NODE %s] relay closed the connection", n.id)
			} else {
				n.logger.Printf("[NODE %s] failed to receive message: %v", n.id, err)
			}
			return
		}
		m, err := wire.Decode(line)
		if err != nil {
			continue
		}
		t := n.clock.Merge(m.Time)
		n.observe(Delivery{Content: m.Content, From: m.NodeID, Time: t})
	}
}

// Send ticks the clock once and writes the stamped message to w. A write
// failure is logged and returned; it is not retried.
func (n *Node) Send(w io.Writer, content string) (wire.Message, error) {
	n.sendMu.Lock()
	defer n.sendMu.Unlock()
	m := wire.Message{
		Content: content,
		NodeID:  n.id,
		Time:    n.clock.Tick(),
	}
	if err := wire.WriteMessage(w, m); err != nil {
		n.logger.Printf("[NODE %s] failed to send message: %v", n.id, err)
		return m, err
	}
	return m, nil
}

// Say sends content on the connection opened by Connect.
func (n *Node) Say(content string) (wire.Message, error) {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		return wire.Message{}, ErrNotConnected
	}
	return n.Send(conn, content)
}
