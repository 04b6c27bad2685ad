package relay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"lamportchat/tap"
)

var quiet = log.New(io.Discard, "", 0)

type bufWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	err    error
	closed bool
}

func (b *bufWriter) WriteLine(line []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.buf.Write(line)
	b.buf.WriteByte('\n')
	return nil
}

func (b *bufWriter) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *bufWriter) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	r := New(WithLogger(quiet))
	sender, c1, c2 := &bufWriter{}, &bufWriter{}, &bufWriter{}
	s := NewHandle("127.0.0.1:8080", sender)
	r.reg.Register(s)
	r.reg.Register(NewHandle("127.0.0.1:8081", c1))
	r.reg.Register(NewHandle("127.0.0.1:8082", c2))

	const msg = `{"content":"Hello World!","node_id":"S","time":1}`
	if n := r.Broadcast([]byte(msg), s.ID); n != 2 {
		t.Errorf("Broadcast() = %d, want 2", n)
	}
	if sender.String() != "" {
		t.Errorf("sender received its own message: %q", sender.String())
	}
	for i, c := range []*bufWriter{c1, c2} {
		if c.String() != msg+"\n" {
			t.Errorf("client %d got %q", i, c.String())
		}
	}
}

func TestBroadcastFanOut(t *testing.T) {
	r := New(WithLogger(quiet))
	var clients []*bufWriter
	for i := 0; i < 16; i++ {
		w := &bufWriter{}
		clients = append(clients, w)
		r.reg.Register(NewHandle("peer", w))
	}
	line := []byte(`{"content":"ünïcode ✓","node_id":"x","time":7}`)
	if n := r.Broadcast(line, "nobody"); n != len(clients) {
		t.Errorf("Broadcast() = %d, want %d", n, len(clients))
	}
	for i, c := range clients {
		if !bytes.Equal([]byte(c.String()), append(line, '\n')) {
			t.Errorf("client %d got %q", i, c.String())
		}
	}
}

func TestBroadcastSkipsFailedWrite(t *testing.T) {
	r := New(WithLogger(quiet))
	broken := &bufWriter{err: errors.New("broken pipe")}
	good := &bufWriter{}
	r.reg.Register(NewHandle("broken", broken))
	r.reg.Register(NewHandle("good", good))

	if n := r.Broadcast([]byte(`{}`), ""); n != 1 {
		t.Errorf("Broadcast() = %d, want 1", n)
	}
	if good.String() != "{}\n" {
		t.Errorf("good peer got %q", good.String())
	}
	if r.reg.Len() != 1 || !broken.closed {
		t.Errorf("failed handle not dropped: len=%d closed=%v", r.reg.Len(), broken.closed)
	}
}

type recordSink struct {
	mu     sync.Mutex
	topics []string
}

func (s *recordSink) Publish(_ context.Context, topic string, _ []byte) error {
	s.mu.Lock()
	s.topics = append(s.topics, topic)
	s.mu.Unlock()
	return nil
}

func (s *recordSink) Close() error { return nil }

func TestBroadcastMirrorsToTap(t *testing.T) {
	sink := &recordSink{}
	r := New(WithLogger(quiet), WithTap(tap.New(quiet, sink)))
	s := NewHandle("a", &bufWriter{})
	r.reg.Register(s)
	r.Broadcast([]byte(`{"content":"hi","node_id":"A","time":1}`), s.ID)
	if len(sink.topics) != 1 || sink.topics[0] != "chat.A" {
		t.Errorf("tap topics = %v", sink.topics)
	}
}

func startRelay(t *testing.T) (*Relay, string) {
	t.Helper()
	r := New(WithLogger(quiet))
	ln, err := r.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go r.Serve(ln)
	t.Cleanup(func() { r.Close() })
	return r, ln.Addr().String()
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c, bufio.NewReader(c)
}

func readLine(t *testing.T, c net.Conn, rd *bufio.Reader) string {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return line
}

func TestRelayOverTCP(t *testing.T) {
	r, addr := startRelay(t)
	a, aRd := dial(t, addr)
	b, bRd := dial(t, addr)
	waitFor(t, "two peers", func() bool { return r.reg.Len() == 2 })

	valid := `{"content":"hello","node_id":"A","time":1}`
	if _, err := io.WriteString(a, "\nnot json\n"+valid+"\n"); err != nil {
		t.Fatal(err)
	}
	if got := readLine(t, b, bRd); got != valid+"\n" {
		t.Errorf("B got %q", got)
	}

	reply := `{"content":"hi A","node_id":"B","time":3}`
	if _, err := io.WriteString(b, reply+"\n"); err != nil {
		t.Fatal(err)
	}
	if got := readLine(t, a, aRd); got != reply+"\n" {
		t.Errorf("A got %q", got)
	}
}

func TestRelayForwardsLongLine(t *testing.T) {
	r, addr := startRelay(t)
	a, _ := dial(t, addr)
	b, bRd := dial(t, addr)
	waitFor(t, "two peers", func() bool { return r.reg.Len() == 2 })

	long := `{"content":"` + strings.Repeat("z", 2<<20) + `","node_id":"A","time":1}`
	short := `{"content":"after","node_id":"A","time":2}`
	go io.WriteString(a, long+"\n"+short+"\n")

	if got := readLine(t, b, bRd); got != long+"\n" {
		t.Errorf("B got %d bytes, want %d", len(got), len(long)+1)
	}
	if got := readLine(t, b, bRd); got != short+"\n" {
		t.Errorf("B got %q after the long line", got)
	}
	if r.reg.Len() != 2 {
		t.Errorf("sender dropped: peers=%d", r.reg.Len())
	}
}

func TestDropsNonJSONWithLog(t *testing.T) {
	var logs bytes.Buffer
	r := New(WithLogger(log.New(&logs, "", 0)))
	s := NewHandle("10.0.0.9:1234", &bufWriter{})
	c := &bufWriter{}
	r.reg.Register(s)
	r.reg.Register(NewHandle("peer", c))

	r.handleLine(s, []byte(""))
	r.handleLine(s, []byte("not json"))
	if c.String() != "" {
		t.Errorf("peer got %q", c.String())
	}
	if strings.Count(logs.String(), "dropping non-json line from 10.0.0.9:1234") != 1 {
		t.Errorf("log = %q", logs.String())
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	r, addr := startRelay(t)
	c, _ := dial(t, addr)
	waitFor(t, "registration", func() bool { return r.reg.Len() == 1 })
	c.Close()
	waitFor(t, "unregistration", func() bool { return r.reg.Len() == 0 })
}

func TestServeStopsOnClose(t *testing.T) {
	r := New(WithLogger(quiet))
	ln, err := r.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- r.Serve(ln) }()
	r.Close()
	select {
	case err := <-done:
		if !errors.Is(err, net.ErrClosed) {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestListenAddressInUse(t *testing.T) {
	r, addr := startRelay(t)
	if _, err := r.Listen(addr); err == nil {
		t.Error("expected bind error")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a := NewHandle("a", &bufWriter{})
	b := NewHandle("b", &bufWriter{})
	c := NewHandle("c", &bufWriter{})
	reg.Register(a)
	reg.Register(b)
	reg.Register(c)

	if !reg.Unregister(b.ID) || reg.Unregister(b.ID) {
		t.Error("Unregister should succeed exactly once")
	}
	snap := reg.Snapshot()
	if len(snap) != 2 || snap[0] != a || snap[1] != c {
		t.Errorf("order not preserved: %v", snap)
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}
}
