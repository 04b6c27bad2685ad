// Package relay accepts node connections and rebroadcasts every line a node
// sends to all other connected nodes.
package relay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"lamportchat/tap"
	"lamportchat/wire"
)

// Relay owns the peer registry and the accept loop.
type Relay struct {
	reg    *Registry
	tap    *tap.Tap
	logger *log.Logger
	now    func() time.Time

	mu        sync.Mutex
	listeners []net.Listener
}

type Option func(*Relay)

func WithLogger(l *log.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithTap mirrors every broadcast line to t.
func WithTap(t *tap.Tap) Option {
	return func(r *Relay) { r.tap = t }
}

func New(opts ...Option) *Relay {
	r := &Relay{
		reg:    NewRegistry(),
		logger: log.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Relay) Registry() *Registry { return r.reg }

// Listen binds addr. Callers treat a failure as fatal.
func (r *Relay) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("relay: bind %s: %w", addr, err)
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, ln)
	r.mu.Unlock()
	r.logger.Printf("[RELAY] listening on %s", ln.Addr())
	return ln, nil
}

// Serve accepts connections until ln is closed. Accept errors other than a
// closed listener are logged and the loop keeps going.
func (r *Relay) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			r.logger.Printf("[RELAY] accept: %v", err)
			time.Sleep(5 * time.Millisecond)
			continue
		}
		r.Attach(conn)
	}
}

// Attach registers conn and starts its reader goroutine.
func (r *Relay) Attach(conn net.Conn) *Handle {
	h := NewHandle(conn.RemoteAddr().String(), newStreamWriter(conn))
	r.reg.Register(h)
	r.logger.Printf("[RELAY] new connection %s (%s), peers=%d", h.Remote, h.ID, r.reg.Len())
	go r.serve(h, conn)
	return h
}

// serve reads lines from one peer until the stream ends.
func (r *Relay) serve(h *Handle, conn net.Conn) {
	defer r.detach(h)
	lr := wire.NewLineReader(conn)
	for {
		line, err := lr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.logger.Printf("[RELAY] %s disconnected", h.Remote)
			} else {
				r.logger.Printf("[RELAY] read %s: %v", h.Remote, err)
			}
			return
		}
		r.handleLine(h, line)
	}
}

// handleLine broadcasts line when it is a JSON value. Blank lines are
// ignored; anything else is logged and dropped.
func (r *Relay) handleLine(h *Handle, line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	if !wire.Valid(line) {
		r.logger.Printf("[RELAY] dropping non-json line from %s: %.80s", h.Remote, line)
		return
	}
	r.logger.Printf("[RELAY] received from %s: %.200s", h.Remote, line)
	r.Broadcast(line, h.ID)
}

// detach drops h from the registry and closes it.
func (r *Relay) detach(h *Handle) {
	if r.reg.Unregister(h.ID) {
		h.Close()
		r.logger.Printf("[RELAY] removed %s, peers=%d", h.Remote, r.reg.Len())
	}
}

// Broadcast writes line to every registered handle except senderID and
// returns how many writes succeeded. A failed write is logged, its handle
// is dropped, and the remaining handles are still served.
func (r *Relay) Broadcast(line []byte, senderID string) int {
	var (
		sent   int
		remote string
		dead   []*Handle
	)
	for _, h := range r.reg.Snapshot() {
		if h.ID == senderID {
			remote = h.Remote
			continue
		}
		if err := h.WriteLine(line); err != nil {
			r.logger.Printf("[RELAY] failed to send to %s: %v", h.Remote, err)
			dead = append(dead, h)
			continue
		}
		sent++
	}
	for _, h := range dead {
		r.detach(h)
	}
	if r.tap.Len() > 0 {
		r.tap.Mirror(tap.NewEvent(line, senderID, remote, r.now()))
	}
	return sent
}

// Close stops every listener opened by Listen. Existing connections keep
// running until their peers go away.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, ln := range r.listeners {
		errs = append(errs, ln.Close())
	}
	r.listeners = nil
	return errors.Join(errs...)
}
