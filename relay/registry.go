package relay

import (
	"bufio"
	"io"
	"sync"

	"github.com/google/uuid"

	"lamportchat/wire"
)

// LineWriter delivers one line to a peer.
type LineWriter interface {
	WriteLine(line []byte) error
	Close() error
}

// Handle is the relay's outbound side of one peer connection.
type Handle struct {
	ID     string
	Remote string

	mu sync.Mutex // serializes concurrent broadcasts to the same peer
	w  LineWriter
}

// NewHandle wraps w under a fresh id.
func NewHandle(remote string, w LineWriter) *Handle {
	return &Handle{ID: uuid.NewString(), Remote: remote, w: w}
}

func (h *Handle) WriteLine(line []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.w.WriteLine(line)
}

func (h *Handle) Close() error {
	return h.w.Close()
}

// streamWriter writes lines to a byte stream such as a TCP connection.
type streamWriter struct {
	c  io.WriteCloser
	bw *bufio.Writer
}

func newStreamWriter(c io.WriteCloser) *streamWriter {
	return &streamWriter{c: c, bw: bufio.NewWriter(c)}
}

func (s *streamWriter) WriteLine(line []byte) error {
	return wire.WriteLine(s.bw, line)
}

func (s *streamWriter) Close() error {
	return s.c.Close()
}

// Registry is the ordered set of connected peers. All access goes through
// one mutex; callers iterate over a Snapshot so no lock is held during I/O.
type Registry struct {
	mu      sync.Mutex
	handles []*Handle
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(h *Handle) {
	r.mu.Lock()
	r.handles = append(r.handles, h)
	r.mu.Unlock()
}

// Unregister removes the handle with id and reports whether it was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, h := range r.handles {
		if h.ID == id {
			copy(r.handles[i:], r.handles[i+1:])
			r.handles[len(r.handles)-1] = nil
			r.handles = r.handles[:len(r.handles)-1]
			return true
		}
	}
	return false
}

// Snapshot returns the handles in registration order.
func (r *Registry) Snapshot() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, len(r.handles))
	copy(out, r.handles)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
