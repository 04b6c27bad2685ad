package relay

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway lets websocket clients join the relay as ordinary peers. Each text
// frame carries one or more JSON lines.
type Gateway struct {
	relay  *Relay
	router *mux.Router
}

// PeerInfo is one entry of GET /peers.
type PeerInfo struct {
	ID     string `json:"id"`
	Remote string `json:"remote"`
}

func NewGateway(r *Relay) *Gateway {
	g := &Gateway{relay: r, router: mux.NewRouter()}
	g.router.HandleFunc("/ws", g.serveWS).Methods(http.MethodGet)
	g.router.HandleFunc("/peers", g.listPeers).Methods(http.MethodGet)
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	g.router.ServeHTTP(w, req)
}

func (g *Gateway) listPeers(w http.ResponseWriter, _ *http.Request) {
	handles := g.relay.reg.Snapshot()
	out := make([]PeerInfo, 0, len(handles))
	for _, h := range handles {
		out = append(out, PeerInfo{ID: h.ID, Remote: h.Remote})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		g.relay.logger.Printf("[GATEWAY] peers: %v", err)
	}
}

func (g *Gateway) serveWS(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		g.relay.logger.Printf("[GATEWAY] upgrade: %v", err)
		return
	}
	r := g.relay
	h := NewHandle(ws.RemoteAddr().String(), wsWriter{ws})
	r.reg.Register(h)
	r.logger.Printf("[GATEWAY] new websocket peer %s (%s), peers=%d", h.Remote, h.ID, r.reg.Len())

	defer r.detach(h)
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			r.logger.Printf("[GATEWAY] %s disconnected: %v", h.Remote, err)
			return
		}
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			r.handleLine(h, line)
		}
	}
}

type wsWriter struct {
	ws *websocket.Conn
}

func (w wsWriter) WriteLine(line []byte) error {
	return w.ws.WriteMessage(websocket.TextMessage, line)
}

func (w wsWriter) Close() error {
	return w.ws.Close()
}
